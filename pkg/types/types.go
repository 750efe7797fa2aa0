// Package types provides shared type definitions for the backtesting service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalDirection represents the direction of a trading signal
type SignalDirection string

const (
	SignalBuy  SignalDirection = "buy"
	SignalSell SignalDirection = "sell"
	SignalHold SignalDirection = "hold"
)

// Valid reports whether the direction is one of the known values.
func (d SignalDirection) Valid() bool {
	switch d {
	case SignalBuy, SignalSell, SignalHold:
		return true
	}
	return false
}

// ExitReason describes why a simulated trade was closed
type ExitReason string

const (
	ExitReasonTrigger          ExitReason = "trigger"
	ExitReasonHoldingPeriodEnd ExitReason = "holding_period_end"
)

// PriceBar represents a single daily OHLCV bar.
// Bars for a symbol are ordered ascending by date with no duplicates.
type PriceBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Signal represents a directional trading recommendation produced outside
// the engine. The engine only ever reads signals.
type Signal struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   SignalDirection `json:"direction"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// Trade is the simulated outcome of acting on one signal for a bounded
// holding window. It lives only for the duration of one evaluation.
type Trade struct {
	SignalID           string          `json:"signalId"`
	Symbol             string          `json:"symbol"`
	EntryDate          time.Time       `json:"entryDate"`
	EntryPrice         decimal.Decimal `json:"entryPrice"`
	ExitDate           time.Time       `json:"exitDate"`
	ExitPrice          decimal.Decimal `json:"exitPrice"`
	ReturnPercent      decimal.Decimal `json:"returnPercent"`
	MaxDrawdownPercent decimal.Decimal `json:"maxDrawdownPercent"`
	DaysHeld           int             `json:"daysHeld"`
	Profitable         bool            `json:"profitable"`
	ExitReason         ExitReason      `json:"exitReason"`
}

// SignalPerformance is the persisted projection of a Trade. Rows are
// append-only: re-evaluating the same signal in a later run creates a new
// row rather than updating the old one.
type SignalPerformance struct {
	ID              string          `json:"id"`
	SignalID        string          `json:"signalId"`
	Symbol          string          `json:"symbol"`
	EvaluatedAt     time.Time       `json:"evaluatedAt"`
	EntryDate       time.Time       `json:"entryDate"`
	ActualReturn    decimal.Decimal `json:"actualReturn"`
	BenchmarkReturn decimal.Decimal `json:"benchmarkReturn"`
	WasProfitable   bool            `json:"wasProfitable"`
	DaysHeld        int             `json:"daysHeld"`
	EntryPrice      decimal.Decimal `json:"entryPrice"`
	ExitPrice       decimal.Decimal `json:"exitPrice"`
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"`
	Notes           string          `json:"notes,omitempty"`
}

// BacktestResult aggregates all trades produced by one backtest run.
// CumulativeReturn is the additive sum of per-trade percentage returns,
// not a compounded product.
type BacktestResult struct {
	Trades           []Trade         `json:"trades"`
	TotalTrades      int             `json:"totalTrades"`
	WinningTrades    int             `json:"winningTrades"`
	LosingTrades     int             `json:"losingTrades"`
	SkippedSignals   int             `json:"skippedSignals"`
	AverageReturn    decimal.Decimal `json:"averageReturn"`
	CumulativeReturn decimal.Decimal `json:"cumulativeReturn"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
}

// BacktestSummary is the roll-up over a symbol's full persisted history,
// independent of any single run.
type BacktestSummary struct {
	Symbol           string          `json:"symbol"`
	TotalSignals     int             `json:"totalSignals"`
	EvaluatedSignals int             `json:"evaluatedSignals"`
	AverageReturn    decimal.Decimal `json:"averageReturn"`
	CumulativeReturn decimal.Decimal `json:"cumulativeReturn"`
	WinRate          decimal.Decimal `json:"winRate"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	LastEvaluatedAt  *time.Time      `json:"lastEvaluatedAt,omitempty"`
}

// EquityCurvePoint represents a point on the equity curve
type EquityCurvePoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}
