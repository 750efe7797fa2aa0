package backtester

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/workers"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/atlas-desktop/signal-backtest/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSeriesAccessor supplies ordered daily price bars for a symbol.
type PriceSeriesAccessor interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error)
}

// SignalSource supplies previously generated signals for a symbol.
type SignalSource interface {
	GetSignals(ctx context.Context, symbol string, start, end time.Time) ([]types.Signal, error)
	CountSignals(ctx context.Context, symbol string) (int, error)
}

// PerformanceRepository is the durable store of evaluated trade outcomes.
// Rows are append-only; SaveAll must be all-or-nothing for one run.
type PerformanceRepository interface {
	SaveAll(ctx context.Context, rows []types.SignalPerformance) error
	BySymbol(ctx context.Context, symbol string) ([]types.SignalPerformance, error)
	Recent(ctx context.Context, symbol string, take int) ([]types.SignalPerformance, error)
	ByEntryDateRange(ctx context.Context, symbol string, start, end *time.Time) ([]types.SignalPerformance, error)
}

// PersistenceError reports a run whose computation succeeded but whose
// results could not be durably recorded. Callers can retry the save rather
// than re-running the whole simulation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("backtest computed but not durably recorded: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Runner orchestrates a backtest run: it loads signals and prices, fans out
// per-signal evaluation, persists the outcomes in one batch and returns the
// run-level aggregate.
type Runner struct {
	logger     *zap.Logger
	prices     PriceSeriesAccessor
	signals    SignalSource
	repo       PerformanceRepository
	strategies *Registry
	pool       *workers.Pool
	now        func() time.Time
}

// NewRunner creates a backtest runner. A nil pool evaluates signals
// sequentially.
func NewRunner(
	logger *zap.Logger,
	prices PriceSeriesAccessor,
	signals SignalSource,
	repo PerformanceRepository,
	strategies *Registry,
	pool *workers.Pool,
) *Runner {
	return &Runner{
		logger:     logger,
		prices:     prices,
		signals:    signals,
		repo:       repo,
		strategies: strategies,
		pool:       pool,
		now:        time.Now,
	}
}

// SetClock overrides the evaluation timestamp source. Intended for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Run executes one backtest request end to end.
func (r *Runner) Run(ctx context.Context, req types.BacktestRequest) (*types.BacktestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbol := utils.NormalizeSymbol(req.Symbol)
	startDay := utils.DayOf(req.StartDate)
	endDay := utils.DayOf(req.EndDate)

	signals, bars, err := r.fetchInputs(ctx, symbol, startDay, endDay)
	if err != nil {
		return nil, err
	}

	if len(signals) == 0 {
		r.logger.Info("No signals in range, returning empty result",
			zap.String("symbol", symbol),
			zap.String("start", utils.FormatDate(startDay)),
			zap.String("end", utils.FormatDate(endDay)),
		)
		return emptyResult(), nil
	}

	evaluator := r.strategies.Resolve(req.Strategy)
	trades, skipped, err := r.evaluateAll(ctx, evaluator, signals, bars, req, endDay)
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, symbol, trades); err != nil {
		return nil, err
	}

	result := aggregate(trades)
	result.SkippedSignals = skipped

	r.logger.Info("Backtest completed",
		zap.String("symbol", symbol),
		zap.Int("signals", len(signals)),
		zap.Int("trades", result.TotalTrades),
		zap.Int("skipped", skipped),
		zap.String("cumulativeReturn", result.CumulativeReturn.String()),
	)

	return result, nil
}

// fetchInputs loads signals and price bars concurrently; both are
// independent reads. The price window is padded by one day on each side to
// guard against bar-alignment effects at the boundaries.
func (r *Runner) fetchInputs(ctx context.Context, symbol string, start, end time.Time) ([]types.Signal, []types.PriceBar, error) {
	var (
		wg        sync.WaitGroup
		signals   []types.Signal
		bars      []types.PriceBar
		sigErr    error
		priceErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		signals, sigErr = r.signals.GetSignals(ctx, symbol, start, end)
	}()
	go func() {
		defer wg.Done()
		bars, priceErr = r.prices.GetBars(ctx, symbol, utils.AddDays(start, -1), utils.AddDays(end, 1))
	}()
	wg.Wait()

	if sigErr != nil {
		return nil, nil, fmt.Errorf("failed to load signals for %s: %w", symbol, sigErr)
	}
	if priceErr != nil {
		return nil, nil, fmt.Errorf("failed to load price bars for %s: %w", symbol, priceErr)
	}
	return signals, bars, nil
}

// evaluateAll fans per-signal evaluation out over the worker pool. Each
// task only reads its own signal and the shared read-only bar slice, and
// writes to its own result slot, so no synchronization is needed.
func (r *Runner) evaluateAll(
	ctx context.Context,
	evaluator Evaluator,
	signals []types.Signal,
	bars []types.PriceBar,
	req types.BacktestRequest,
	endDay time.Time,
) ([]types.Trade, int, error) {
	results := make([]*types.Trade, len(signals))
	skips := make([]*SkipError, len(signals))

	tasks := make([]workers.Task, len(signals))
	for i := range signals {
		i := i
		tasks[i] = workers.TaskFunc(func(taskCtx context.Context) error {
			if err := taskCtx.Err(); err != nil {
				return err
			}

			signal := signals[i]
			if signal.Direction == types.SignalHold {
				skips[i] = &SkipError{SignalID: signal.ID, Reason: "hold signal, nothing to act on"}
				return nil
			}

			params := EvalParams{
				HoldingPeriodDays: req.HoldingPeriodDays,
				StopLossPercent:   req.StopLossPercent,
				TakeProfitPercent: req.TakeProfitPercent,
				WindowEnd:         endDay,
			}

			trade, err := evaluator.Evaluate(signal, bars, params)
			if err != nil {
				var skip *SkipError
				if errors.As(err, &skip) {
					skips[i] = skip
					return nil
				}
				return err
			}
			results[i] = trade
			return nil
		})
	}

	if r.pool != nil {
		if err := r.pool.Map(ctx, tasks); err != nil {
			return nil, 0, err
		}
	} else {
		for _, task := range tasks {
			if err := task.Execute(ctx); err != nil {
				return nil, 0, err
			}
		}
	}

	trades := make([]types.Trade, 0, len(signals))
	skipped := 0
	for i := range signals {
		if skips[i] != nil {
			skipped++
			r.logger.Warn("Signal skipped",
				zap.String("signalId", skips[i].SignalID),
				zap.String("reason", skips[i].Reason),
			)
			continue
		}
		if results[i] != nil {
			trades = append(trades, *results[i])
		}
	}

	// Signal order does not affect correctness, but a deterministic trade
	// order keeps run output stable.
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].EntryDate.Before(trades[j].EntryDate)
	})

	return trades, skipped, nil
}

// persist writes one SignalPerformance row per trade in a single batch.
func (r *Runner) persist(ctx context.Context, symbol string, trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	evaluatedAt := r.now().UTC()
	rows := make([]types.SignalPerformance, len(trades))
	for i, trade := range trades {
		rows[i] = types.SignalPerformance{
			ID:              uuid.New().String(),
			SignalID:        trade.SignalID,
			Symbol:          symbol,
			EvaluatedAt:     evaluatedAt,
			EntryDate:       trade.EntryDate,
			ActualReturn:    trade.ReturnPercent,
			BenchmarkReturn: decimal.Zero,
			WasProfitable:   trade.Profitable,
			DaysHeld:        trade.DaysHeld,
			EntryPrice:      trade.EntryPrice,
			ExitPrice:       trade.ExitPrice,
			MaxDrawdown:     trade.MaxDrawdownPercent,
			Notes:           fmt.Sprintf("exit=%s", trade.ExitReason),
		}
	}

	if err := r.repo.SaveAll(ctx, rows); err != nil {
		return &PersistenceError{Err: err}
	}
	return nil
}

func emptyResult() *types.BacktestResult {
	return &types.BacktestResult{
		Trades:           []types.Trade{},
		AverageReturn:    decimal.Zero,
		CumulativeReturn: decimal.Zero,
		MaxDrawdown:      decimal.Zero,
	}
}

// aggregate computes the run-level result. Cumulative return is the
// additive sum of percentage returns; compounding is exposed only through
// the equity curve builder.
func aggregate(trades []types.Trade) *types.BacktestResult {
	result := emptyResult()
	result.Trades = trades
	result.TotalTrades = len(trades)

	if len(trades) == 0 {
		return result
	}

	sum := decimal.Zero
	for _, trade := range trades {
		sum = sum.Add(trade.ReturnPercent)
		if trade.ReturnPercent.GreaterThanOrEqual(decimal.Zero) {
			result.WinningTrades++
		}
		if trade.MaxDrawdownPercent.GreaterThan(result.MaxDrawdown) {
			result.MaxDrawdown = trade.MaxDrawdownPercent
		}
	}

	result.LosingTrades = result.TotalTrades - result.WinningTrades
	result.CumulativeReturn = sum
	result.AverageReturn = sum.Div(decimal.NewFromInt(int64(result.TotalTrades)))
	return result
}
