// Package backtester evaluates previously generated trading signals against
// historical daily price data and aggregates the resulting trade outcomes.
package backtester

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/atlas-desktop/signal-backtest/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SkipError reports that a signal could not be evaluated. It is recoverable:
// the runner logs it and excludes the signal from aggregation without
// aborting the run.
type SkipError struct {
	SignalID string
	Reason   string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("signal %s skipped: %s", e.SignalID, e.Reason)
}

// EvalParams carries the per-run parameters for one signal evaluation.
// WindowEnd bounds the evaluation window; the planned exit never extends
// past it.
type EvalParams struct {
	HoldingPeriodDays int
	StopLossPercent   *decimal.Decimal
	TakeProfitPercent *decimal.Decimal
	WindowEnd         time.Time
}

// Evaluator determines the outcome of acting on a single signal given the
// price bars spanning its evaluation window. Implementations must be pure:
// no I/O, no shared mutable state, so evaluations can run in parallel.
type Evaluator interface {
	Evaluate(signal types.Signal, bars []types.PriceBar, params EvalParams) (*types.Trade, error)
}

// HoldToExitEvaluator is the default evaluator: enter at the first bar on or
// after the signal date, exit on a stop-loss/take-profit close or at the end
// of the holding period. Triggers consult closing prices only; intraday
// high/low values are never used.
type HoldToExitEvaluator struct {
	logger *zap.Logger
}

// NewHoldToExitEvaluator creates the default evaluator.
func NewHoldToExitEvaluator(logger *zap.Logger) *HoldToExitEvaluator {
	return &HoldToExitEvaluator{logger: logger}
}

var oneHundred = decimal.NewFromInt(100)

// Evaluate runs one signal through its evaluation window. It returns a
// *SkipError for missing-data and zero-price conditions; it never returns
// any other error kind.
func (ev *HoldToExitEvaluator) Evaluate(signal types.Signal, bars []types.PriceBar, params EvalParams) (*types.Trade, error) {
	signalDay := utils.DayOf(signal.GeneratedAt)

	entryIdx := -1
	for i, bar := range bars {
		if !utils.DayOf(bar.Date).Before(signalDay) {
			entryIdx = i
			break
		}
	}
	if entryIdx < 0 {
		return nil, &SkipError{SignalID: signal.ID, Reason: "no price bar on or after signal date"}
	}

	entry := bars[entryIdx]
	if entry.Close.IsZero() {
		return nil, &SkipError{SignalID: signal.ID, Reason: "entry bar has zero close price"}
	}

	plannedExit := utils.MinDate(utils.AddDays(signalDay, params.HoldingPeriodDays), utils.DayOf(params.WindowEnd))

	window := bars[entryIdx:]
	for i, bar := range window {
		if utils.DayOf(bar.Date).After(plannedExit) {
			window = window[:i]
			break
		}
	}
	if len(window) == 0 {
		return nil, &SkipError{SignalID: signal.ID, Reason: "no price bars inside evaluation window"}
	}

	exitIdx := len(window) - 1
	exitReason := types.ExitReasonHoldingPeriodEnd

	// Trigger scan over bars strictly after entry. Take-profit is checked
	// before stop-loss, so take-profit wins when both cross on the same bar.
	for i := 1; i < len(window); i++ {
		change := utils.PercentChange(entry.Close, window[i].Close)

		if params.TakeProfitPercent != nil && change.GreaterThanOrEqual(*params.TakeProfitPercent) {
			exitIdx = i
			exitReason = types.ExitReasonTrigger
			break
		}
		if params.StopLossPercent != nil && change.LessThanOrEqual(params.StopLossPercent.Abs().Neg()) {
			exitIdx = i
			exitReason = types.ExitReasonTrigger
			break
		}
	}

	exit := window[exitIdx]
	returnPercent := utils.PercentChange(entry.Close, exit.Close)

	// Running-peak drawdown from entry through the exit bar inclusive,
	// reported as a positive magnitude.
	peak := entry.Close
	maxDrawdown := decimal.Zero
	for i := 0; i <= exitIdx; i++ {
		close := window[i].Close
		if close.GreaterThan(peak) {
			peak = close
		}
		drawdown := close.Sub(peak).Div(peak).Mul(oneHundred)
		if drawdown.LessThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}

	daysHeld := utils.DaysBetween(entry.Date, exit.Date)
	if daysHeld < 1 {
		daysHeld = 1
	}

	return &types.Trade{
		SignalID:           signal.ID,
		Symbol:             signal.Symbol,
		EntryDate:          utils.DayOf(entry.Date),
		EntryPrice:         entry.Close,
		ExitDate:           utils.DayOf(exit.Date),
		ExitPrice:          exit.Close,
		ReturnPercent:      returnPercent,
		MaxDrawdownPercent: maxDrawdown.Abs(),
		DaysHeld:           daysHeld,
		Profitable:         returnPercent.GreaterThanOrEqual(decimal.Zero),
		ExitReason:         exitReason,
	}, nil
}
