package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/atlas-desktop/signal-backtest/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EquityCurveBuilder derives a time-ordered equity curve from a symbol's
// persisted trade history. Additive mode sums percentage returns from a
// zero base (fixed notional); compounded mode multiplies a notional base
// of 1.0 by (1 + return/100) per trade.
type EquityCurveBuilder struct {
	logger *zap.Logger
	repo   PerformanceRepository
}

// NewEquityCurveBuilder creates an equity curve builder.
func NewEquityCurveBuilder(logger *zap.Logger, repo PerformanceRepository) *EquityCurveBuilder {
	return &EquityCurveBuilder{logger: logger, repo: repo}
}

// BuildCurve produces one point per persisted trade, ordered by entry date,
// optionally filtered to a date range.
func (b *EquityCurveBuilder) BuildCurve(ctx context.Context, symbol string, start, end *time.Time, compounded bool) ([]types.EquityCurvePoint, error) {
	rows, err := b.load(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	points := make([]types.EquityCurvePoint, 0, len(rows))
	equity := initialEquity(compounded)
	for _, row := range rows {
		equity = applyReturn(equity, row.ActualReturn, compounded)
		points = append(points, types.EquityCurvePoint{
			Date:   utils.DayOf(row.EntryDate),
			Equity: equity,
		})
	}
	return points, nil
}

// BuildDailyCurve produces one point per calendar day in [start, end],
// holding the last known equity value flat between trade events. Intended
// for charting.
func (b *EquityCurveBuilder) BuildDailyCurve(ctx context.Context, symbol string, start, end time.Time, compounded bool) ([]types.EquityCurvePoint, error) {
	startDay := utils.DayOf(start)
	endDay := utils.DayOf(end)
	if endDay.Before(startDay) {
		return nil, types.NewValidationError("startDate", "must not be after endDate")
	}

	rows, err := b.load(ctx, symbol, &startDay, &endDay)
	if err != nil {
		return nil, err
	}

	points := make([]types.EquityCurvePoint, 0, utils.DaysBetween(startDay, endDay)+1)
	equity := initialEquity(compounded)
	next := 0
	for day := startDay; !day.After(endDay); day = utils.AddDays(day, 1) {
		for next < len(rows) && !utils.DayOf(rows[next].EntryDate).After(day) {
			equity = applyReturn(equity, rows[next].ActualReturn, compounded)
			next++
		}
		points = append(points, types.EquityCurvePoint{Date: day, Equity: equity})
	}
	return points, nil
}

func (b *EquityCurveBuilder) load(ctx context.Context, symbol string, start, end *time.Time) ([]types.SignalPerformance, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, types.NewValidationError("symbol", "must not be empty")
	}

	rows, err := b.repo.ByEntryDateRange(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade history for %s: %w", symbol, err)
	}
	return rows, nil
}

func initialEquity(compounded bool) decimal.Decimal {
	if compounded {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

func applyReturn(equity, returnPercent decimal.Decimal, compounded bool) decimal.Decimal {
	if compounded {
		return equity.Mul(decimal.NewFromInt(1).Add(returnPercent.Div(oneHundred)))
	}
	return equity.Add(returnPercent)
}
