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

// SummaryAggregator computes roll-up statistics over a symbol's full
// persisted history, not limited to one run. Re-running the summary without
// a new backtest run yields identical values.
type SummaryAggregator struct {
	logger  *zap.Logger
	signals SignalSource
	repo    PerformanceRepository
}

// NewSummaryAggregator creates a summary aggregator.
func NewSummaryAggregator(logger *zap.Logger, signals SignalSource, repo PerformanceRepository) *SummaryAggregator {
	return &SummaryAggregator{logger: logger, signals: signals, repo: repo}
}

// Summarize builds the summary for a symbol from all persisted rows.
func (a *SummaryAggregator) Summarize(ctx context.Context, symbol string) (*types.BacktestSummary, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, types.NewValidationError("symbol", "must not be empty")
	}

	totalSignals, err := a.signals.CountSignals(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to count signals for %s: %w", symbol, err)
	}

	rows, err := a.repo.BySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance history for %s: %w", symbol, err)
	}

	summary := &types.BacktestSummary{
		Symbol:           symbol,
		TotalSignals:     totalSignals,
		EvaluatedSignals: len(rows),
		AverageReturn:    decimal.Zero,
		CumulativeReturn: decimal.Zero,
		WinRate:          decimal.Zero,
		MaxDrawdown:      decimal.Zero,
	}

	if len(rows) == 0 {
		return summary, nil
	}

	wins := 0
	sum := decimal.Zero
	var lastEvaluated time.Time
	for _, row := range rows {
		sum = sum.Add(row.ActualReturn)
		if row.WasProfitable {
			wins++
		}
		if row.MaxDrawdown.GreaterThan(summary.MaxDrawdown) {
			summary.MaxDrawdown = row.MaxDrawdown
		}
		if row.EvaluatedAt.After(lastEvaluated) {
			lastEvaluated = row.EvaluatedAt
		}
	}

	count := decimal.NewFromInt(int64(len(rows)))
	summary.CumulativeReturn = sum
	summary.AverageReturn = sum.Div(count)
	summary.WinRate = decimal.NewFromInt(int64(wins)).Div(count).Mul(oneHundred)
	summary.LastEvaluatedAt = &lastEvaluated

	return summary, nil
}
