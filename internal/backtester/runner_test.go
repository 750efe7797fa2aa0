// Package backtester_test provides tests for the backtest runner.
package backtester_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/internal/workers"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// In-memory fixtures for the collaborator interfaces.

type fakePrices struct {
	bars []types.PriceBar
	err  error
}

func (f *fakePrices) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.PriceBar, 0, len(f.bars))
	for _, bar := range f.bars {
		if !bar.Date.Before(start) && !bar.Date.After(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

type fakeSignals struct {
	signals []types.Signal
	err     error
}

func (f *fakeSignals) GetSignals(ctx context.Context, symbol string, start, end time.Time) ([]types.Signal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.signals, nil
}

func (f *fakeSignals) CountSignals(ctx context.Context, symbol string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(f.signals), nil
}

type fakeRepo struct {
	rows    []types.SignalPerformance
	saveErr error
}

func (f *fakeRepo) SaveAll(ctx context.Context, rows []types.SignalPerformance) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeRepo) BySymbol(ctx context.Context, symbol string) ([]types.SignalPerformance, error) {
	return f.rows, nil
}

func (f *fakeRepo) Recent(ctx context.Context, symbol string, take int) ([]types.SignalPerformance, error) {
	if take > len(f.rows) {
		take = len(f.rows)
	}
	return f.rows[len(f.rows)-take:], nil
}

func (f *fakeRepo) ByEntryDateRange(ctx context.Context, symbol string, start, end *time.Time) ([]types.SignalPerformance, error) {
	out := make([]types.SignalPerformance, 0, len(f.rows))
	for _, row := range f.rows {
		if start != nil && row.EntryDate.Before(*start) {
			continue
		}
		if end != nil && row.EntryDate.After(*end) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func newRunner(t *testing.T, prices *fakePrices, signals *fakeSignals, repo *fakeRepo) *backtester.Runner {
	t.Helper()
	logger := zap.NewNop()
	return backtester.NewRunner(
		logger,
		prices,
		signals,
		repo,
		backtester.NewRegistry(logger),
		workers.NewPool(logger, 2),
	)
}

func baseRequest() types.BacktestRequest {
	return types.BacktestRequest{
		Symbol:            "aapl",
		StartDate:         day0,
		EndDate:           day0.AddDate(0, 0, 30),
		HoldingPeriodDays: 5,
	}
}

func TestRunPersistsOutcomes(t *testing.T) {
	prices := &fakePrices{bars: dailyBars(100, 102, 104, 106, 108, 110, 112, 114)}
	signals := &fakeSignals{signals: []types.Signal{
		{ID: "s1", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
		{ID: "s2", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0.AddDate(0, 0, 1)},
	}}
	repo := &fakeRepo{}

	runner := newRunner(t, prices, signals, repo)
	runner.SetClock(func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) })

	result, err := runner.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalTrades != 2 {
		t.Fatalf("Expected 2 trades, got %d", result.TotalTrades)
	}
	if len(repo.rows) != 2 {
		t.Fatalf("Expected 2 persisted rows, got %d", len(repo.rows))
	}

	for _, row := range repo.rows {
		if row.ID == "" {
			t.Error("Persisted row missing id")
		}
		if row.Symbol != "AAPL" {
			t.Errorf("Symbol not normalized: %s", row.Symbol)
		}
		if !row.BenchmarkReturn.IsZero() {
			t.Errorf("Benchmark return placeholder must be zero, got %s", row.BenchmarkReturn)
		}
		if !row.EvaluatedAt.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("EvaluatedAt not stamped from clock: %s", row.EvaluatedAt)
		}
	}
}

func TestRunEmptySignalsReturnsEmptyResult(t *testing.T) {
	prices := &fakePrices{bars: dailyBars(100, 101)}
	repo := &fakeRepo{}
	runner := newRunner(t, prices, &fakeSignals{}, repo)

	result, err := runner.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalTrades != 0 || len(result.Trades) != 0 {
		t.Errorf("Expected empty result, got %d trades", result.TotalTrades)
	}
	if !result.CumulativeReturn.IsZero() || !result.AverageReturn.IsZero() {
		t.Error("Empty result must have zero aggregates")
	}
	if len(repo.rows) != 0 {
		t.Error("Nothing should be persisted for an empty run")
	}
}

func TestRunValidation(t *testing.T) {
	runner := newRunner(t, &fakePrices{}, &fakeSignals{}, &fakeRepo{})

	req := baseRequest()
	req.Symbol = "   "
	if _, err := runner.Run(context.Background(), req); err == nil {
		t.Error("Expected validation error for blank symbol")
	} else {
		var vErr *types.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("Expected ValidationError, got %T", err)
		}
	}

	req = baseRequest()
	req.EndDate = req.StartDate
	if _, err := runner.Run(context.Background(), req); err == nil {
		t.Error("Expected validation error for startDate == endDate")
	}

	req = baseRequest()
	req.StartDate, req.EndDate = req.EndDate, req.StartDate
	if _, err := runner.Run(context.Background(), req); err == nil {
		t.Error("Expected validation error for startDate after endDate")
	}
}

func TestRunSkipsUnevaluableSignals(t *testing.T) {
	prices := &fakePrices{bars: dailyBars(100, 102, 104)}
	signals := &fakeSignals{signals: []types.Signal{
		{ID: "ok", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
		{ID: "hold", Symbol: "AAPL", Direction: types.SignalHold, GeneratedAt: day0},
		{ID: "late", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0.AddDate(0, 0, 20)},
	}}
	repo := &fakeRepo{}

	runner := newRunner(t, prices, signals, repo)
	result, err := runner.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalTrades != 1 {
		t.Errorf("Expected 1 trade, got %d", result.TotalTrades)
	}
	if result.SkippedSignals != 2 {
		t.Errorf("Expected 2 skipped signals, got %d", result.SkippedSignals)
	}
	if len(repo.rows) != 1 {
		t.Errorf("Skipped signals must not be persisted, got %d rows", len(repo.rows))
	}
}

func TestRunAdditiveAggregation(t *testing.T) {
	// Three trades with returns +10, -5, +7 sum to +12, not the
	// compounded ~+11.715.
	logger := zap.NewNop()
	registry := backtester.NewRegistry(logger)
	registry.Register("fixed", &presetEvaluator{returns: map[string]float64{
		"s1": 10, "s2": -5, "s3": 7,
	}})

	signals := &fakeSignals{signals: []types.Signal{
		{ID: "s1", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
		{ID: "s2", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0.AddDate(0, 0, 1)},
		{ID: "s3", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0.AddDate(0, 0, 2)},
	}}
	repo := &fakeRepo{}
	runner := backtester.NewRunner(logger, &fakePrices{bars: dailyBars(100, 100, 100)}, signals, repo, registry, nil)

	req := baseRequest()
	req.Strategy = "fixed"
	result, err := runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.CumulativeReturn.Equal(decimal.NewFromInt(12)) {
		t.Errorf("Expected cumulative +12.00, got %s", result.CumulativeReturn)
	}
	if !result.AverageReturn.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected average +4.00, got %s", result.AverageReturn)
	}
	if result.WinningTrades != 2 || result.LosingTrades != 1 {
		t.Errorf("Expected 2 winners and 1 loser, got %d/%d", result.WinningTrades, result.LosingTrades)
	}
}

func TestRunPersistenceFailureIsDistinct(t *testing.T) {
	prices := &fakePrices{bars: dailyBars(100, 102, 104)}
	signals := &fakeSignals{signals: []types.Signal{
		{ID: "s1", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
	}}
	repo := &fakeRepo{saveErr: errors.New("disk full")}

	runner := newRunner(t, prices, signals, repo)
	_, err := runner.Run(context.Background(), baseRequest())

	var pErr *backtester.PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("Expected PersistenceError, got %v", err)
	}
}

func TestRunCollaboratorFailurePropagates(t *testing.T) {
	signals := &fakeSignals{signals: []types.Signal{
		{ID: "s1", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
	}}
	prices := &fakePrices{err: errors.New("provider down")}
	repo := &fakeRepo{}

	runner := newRunner(t, prices, signals, repo)
	if _, err := runner.Run(context.Background(), baseRequest()); err == nil {
		t.Fatal("Expected price accessor failure to fail the run")
	}
	if len(repo.rows) != 0 {
		t.Error("Failed run must not partially persist")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	prices := &fakePrices{bars: dailyBars(100, 102, 104)}
	signals := &fakeSignals{signals: []types.Signal{
		{ID: "s1", Symbol: "AAPL", Direction: types.SignalBuy, GeneratedAt: day0},
	}}
	repo := &fakeRepo{}
	runner := newRunner(t, prices, signals, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, baseRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(repo.rows) != 0 {
		t.Error("Cancelled run must not persist")
	}
}

// presetEvaluator returns a fixed percentage return per signal id.
type presetEvaluator struct {
	returns map[string]float64
}

func (p *presetEvaluator) Evaluate(signal types.Signal, bars []types.PriceBar, params backtester.EvalParams) (*types.Trade, error) {
	ret := decimal.NewFromFloat(p.returns[signal.ID])
	return &types.Trade{
		SignalID:      signal.ID,
		Symbol:        signal.Symbol,
		EntryDate:     signal.GeneratedAt,
		EntryPrice:    decimal.NewFromInt(100),
		ExitDate:      signal.GeneratedAt.AddDate(0, 0, 1),
		ExitPrice:     decimal.NewFromInt(100).Add(ret),
		ReturnPercent: ret,
		DaysHeld:      1,
		Profitable:    ret.GreaterThanOrEqual(decimal.Zero),
		ExitReason:    types.ExitReasonHoldingPeriodEnd,
	}, nil
}
