// Package backtester_test provides tests for the equity curve builder.
package backtester_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func curveRepo() *fakeRepo {
	evalTime := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	return &fakeRepo{rows: []types.SignalPerformance{
		perfRow("s1", day0, evalTime, 10, 0),
		perfRow("s2", day0.AddDate(0, 0, 2), evalTime, -5, 5),
		perfRow("s3", day0.AddDate(0, 0, 4), evalTime, 7, 0),
	}}
}

func TestAdditiveCurve(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), curveRepo())

	points, err := builder.BuildCurve(context.Background(), "AAPL", nil, nil, false)
	if err != nil {
		t.Fatalf("BuildCurve failed: %v", err)
	}

	if len(points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(points))
	}

	expected := []int64{10, 5, 12}
	for i, want := range expected {
		if !points[i].Equity.Equal(decimal.NewFromInt(want)) {
			t.Errorf("Point %d: expected %d, got %s", i, want, points[i].Equity)
		}
	}
}

func TestCompoundedCurve(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), curveRepo())

	points, err := builder.BuildCurve(context.Background(), "AAPL", nil, nil, true)
	if err != nil {
		t.Fatalf("BuildCurve failed: %v", err)
	}

	if len(points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(points))
	}

	// 1.0 * 1.10 * 0.95 * 1.07 = 1.11815
	final := points[2].Equity
	expected := decimal.NewFromFloat(1.11815)
	if final.Sub(expected).Abs().GreaterThan(decimal.NewFromFloat(0.00001)) {
		t.Errorf("Expected final equity ~1.11815, got %s", final)
	}

	// The compounded end value diverges from the additive +12%.
	if final.Equal(decimal.NewFromFloat(1.12)) {
		t.Error("Compounded curve must not equal the additive sum")
	}
}

func TestCurveDateFilter(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), curveRepo())

	start := day0.AddDate(0, 0, 1)
	end := day0.AddDate(0, 0, 3)
	points, err := builder.BuildCurve(context.Background(), "AAPL", &start, &end, false)
	if err != nil {
		t.Fatalf("BuildCurve failed: %v", err)
	}

	if len(points) != 1 {
		t.Fatalf("Expected 1 point inside range, got %d", len(points))
	}
	if !points[0].Equity.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("Expected -5, got %s", points[0].Equity)
	}
}

func TestDailyCurveStepFunction(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), curveRepo())

	points, err := builder.BuildDailyCurve(context.Background(), "AAPL", day0, day0.AddDate(0, 0, 5), false)
	if err != nil {
		t.Fatalf("BuildDailyCurve failed: %v", err)
	}

	if len(points) != 6 {
		t.Fatalf("Expected 6 daily points, got %d", len(points))
	}

	// Trades land on days 0, 2 and 4; equity holds flat in between.
	expected := []int64{10, 10, 5, 5, 12, 12}
	for i, want := range expected {
		if !points[i].Equity.Equal(decimal.NewFromInt(want)) {
			t.Errorf("Day %d: expected %d, got %s", i, want, points[i].Equity)
		}
		if !points[i].Date.Equal(day0.AddDate(0, 0, i)) {
			t.Errorf("Day %d: unexpected date %s", i, points[i].Date)
		}
	}
}

func TestDailyCurveRejectsInvertedRange(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), curveRepo())

	_, err := builder.BuildDailyCurve(context.Background(), "AAPL", day0.AddDate(0, 0, 5), day0, false)
	if err == nil {
		t.Error("Expected validation error for inverted date range")
	}
}

func TestCurveEmptyHistory(t *testing.T) {
	builder := backtester.NewEquityCurveBuilder(zap.NewNop(), &fakeRepo{})

	points, err := builder.BuildCurve(context.Background(), "AAPL", nil, nil, false)
	if err != nil {
		t.Fatalf("BuildCurve failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Expected empty curve, got %d points", len(points))
	}
}
