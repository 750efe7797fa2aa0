package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/atlas-desktop/signal-backtest/pkg/utils"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultRecentTake = 20

// runRequest is the wire shape of a backtest run. Dates arrive as
// YYYY-MM-DD strings.
type runRequest struct {
	Symbol            string           `json:"symbol"`
	StartDate         string           `json:"startDate"`
	EndDate           string           `json:"endDate"`
	HoldingPeriodDays int              `json:"holdingPeriodDays"`
	StopLossPercent   *decimal.Decimal `json:"stopLossPercent,omitempty"`
	TakeProfitPercent *decimal.Decimal `json:"takeProfitPercent,omitempty"`
	Strategy          string           `json:"strategy"`
}

type signalRequest struct {
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

// writeRunError maps the error taxonomy onto HTTP responses. Validation
// is the caller's fault; a persistence failure is reported with its own
// kind so callers know the computation itself succeeded.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "validation", validationErr.Error())
		return
	}

	var persistErr *backtester.PersistenceError
	if errors.As(err, &persistErr) {
		s.logger.Error("Backtest computed but not recorded", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "persistence", persistErr.Error())
		return
	}

	s.logger.Error("Backtest failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

// handleRunBacktest executes a backtest run synchronously and returns
// its aggregate result.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if body.StartDate == "" || body.EndDate == "" {
		writeError(w, http.StatusBadRequest, "validation", "startDate and endDate are required")
		return
	}

	start, err := utils.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid startDate: "+body.StartDate)
		return
	}
	end, err := utils.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid endDate: "+body.EndDate)
		return
	}

	req := types.BacktestRequest{
		Symbol:            body.Symbol,
		StartDate:         start,
		EndDate:           end,
		HoldingPeriodDays: body.HoldingPeriodDays,
		StopLossPercent:   body.StopLossPercent,
		TakeProfitPercent: body.TakeProfitPercent,
		Strategy:          body.Strategy,
	}

	result, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	s.hub.BroadcastBacktestComplete(utils.NormalizeSymbol(body.Symbol), result)
	writeJSON(w, http.StatusOK, result)
}

// handleSummary returns roll-up stats over the symbol's full persisted
// history.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	summary, err := s.summaries.Summarize(r.Context(), symbol)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRecent returns the most recently evaluated performance rows.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	take := parseTake(r.URL.Query().Get("take"))

	rows, err := s.perfs.Recent(r.Context(), symbol, take)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if rows == nil {
		rows = []types.SignalPerformance{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleDashboard returns the summary and recent rows in one shot,
// fetched concurrently.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	take := parseTake(r.URL.Query().Get("recent"))

	var (
		wg         sync.WaitGroup
		summary    *types.BacktestSummary
		recent     []types.SignalPerformance
		summaryErr error
		recentErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, summaryErr = s.summaries.Summarize(r.Context(), symbol)
	}()
	go func() {
		defer wg.Done()
		recent, recentErr = s.perfs.Recent(r.Context(), symbol, take)
	}()
	wg.Wait()

	if summaryErr != nil {
		s.writeRunError(w, summaryErr)
		return
	}
	if recentErr != nil {
		s.writeRunError(w, recentErr)
		return
	}
	if recent == nil {
		recent = []types.SignalPerformance{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":            summary,
		"recentPerformances": recent,
	})
}

// handleEquityCurve returns one equity point per recorded trade,
// optionally bounded by entry date.
func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start, end, ok := s.parseOptionalDates(w, r)
	if !ok {
		return
	}
	compounded := r.URL.Query().Get("compounded") == "true"

	points, err := s.curves.BuildCurve(r.Context(), symbol, start, end, compounded)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if points == nil {
		points = []types.EquityCurvePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// handleDailyEquityCurve returns a daily-resolution step-function curve.
// Both dates are required here.
func (s *Server) handleDailyEquityCurve(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	startStr := r.URL.Query().Get("startDate")
	endStr := r.URL.Query().Get("endDate")
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "validation", "startDate and endDate are required")
		return
	}

	start, err := utils.ParseDate(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid startDate: "+startStr)
		return
	}
	end, err := utils.ParseDate(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid endDate: "+endStr)
		return
	}
	compounded := r.URL.Query().Get("compounded") == "true"

	points, err := s.curves.BuildDailyCurve(r.Context(), symbol, start, end, compounded)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleCreateSignal records one externally generated signal.
func (s *Server) handleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var body signalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if body.Symbol == "" {
		writeError(w, http.StatusBadRequest, "validation", "symbol is required")
		return
	}

	direction := types.SignalDirection(body.Direction)
	if !direction.Valid() {
		writeError(w, http.StatusBadRequest, "validation", "unknown direction: "+body.Direction)
		return
	}

	generatedAt := body.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	signal := &types.Signal{
		Symbol:      body.Symbol,
		Direction:   direction,
		GeneratedAt: generatedAt,
	}
	if err := s.signals.SaveSignal(r.Context(), signal); err != nil {
		s.writeRunError(w, err)
		return
	}

	s.hub.BroadcastSignalRecorded(signal)
	writeJSON(w, http.StatusCreated, signal)
}

// handleGetSignals lists a symbol's signals, defaulting to the last
// year when no range is given.
func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start, end, ok := s.parseOptionalDates(w, r)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if start == nil {
		t := now.AddDate(-1, 0, 0)
		start = &t
	}
	if end == nil {
		end = &now
	}

	signals, err := s.signals.GetSignals(r.Context(), symbol, *start, *end)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if signals == nil {
		signals = []types.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

// handleGetPrices returns daily bars, defaulting to the last three
// months when no range is given.
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start, end, ok := s.parseOptionalDates(w, r)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if start == nil {
		t := now.AddDate(0, -3, 0)
		start = &t
	}
	if end == nil {
		end = &now
	}

	bars, err := s.priceStore.GetBars(r.Context(), symbol, *start, *end)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": utils.NormalizeSymbol(symbol),
		"bars":   bars,
		"count":  len(bars),
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"clients": s.hub.ClientCount(),
	})
}

// parseOptionalDates reads startDate/endDate query params. A missing
// param yields nil; a malformed one writes a 400 and returns ok=false.
func (s *Server) parseOptionalDates(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	var start, end *time.Time

	if v := r.URL.Query().Get("startDate"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid startDate: "+v)
			return nil, nil, false
		}
		start = &t
	}
	if v := r.URL.Query().Get("endDate"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid endDate: "+v)
			return nil, nil, false
		}
		end = &t
	}
	return start, end, true
}

func parseTake(raw string) int {
	take, err := strconv.Atoi(raw)
	if err != nil || take <= 0 {
		return defaultRecentTake
	}
	return take
}
