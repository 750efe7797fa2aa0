// Package data_test provides tests for the price store.
package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/data"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func TestStoreAndRetrieveBars(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	bars := []types.PriceBar{
		{Date: day(0), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100), Volume: 1000},
		{Date: day(1), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(103), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(102), Volume: 1100},
		{Date: day(2), Open: decimal.NewFromInt(102), High: decimal.NewFromInt(105), Low: decimal.NewFromInt(101), Close: decimal.NewFromInt(104), Volume: 1200},
	}

	if err := store.StoreBars("tsla", bars); err != nil {
		t.Fatalf("StoreBars failed: %v", err)
	}

	got, err := store.GetBars(context.Background(), "TSLA", day(0), day(2))
	if err != nil {
		t.Fatalf("GetBars failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(got))
	}
	if !got[1].Close.Equal(decimal.NewFromInt(102)) {
		t.Errorf("Unexpected close on bar 1: %s", got[1].Close)
	}
}

func TestGetBarsFiltersRange(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	bars := make([]types.PriceBar, 10)
	for i := range bars {
		bars[i] = types.PriceBar{Date: day(i), Close: decimal.NewFromInt(int64(100 + i))}
	}
	if err := store.StoreBars("TSLA", bars); err != nil {
		t.Fatalf("StoreBars failed: %v", err)
	}

	got, err := store.GetBars(context.Background(), "TSLA", day(3), day(6))
	if err != nil {
		t.Fatalf("GetBars failed: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("Expected 4 bars in range, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Date.Before(got[i].Date) {
			t.Error("Bars must be ascending by date")
		}
	}
}

func TestSampleDataIsDeterministic(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	first, err := store.GetBars(context.Background(), "NVDA", day(0), day(30))
	if err != nil {
		t.Fatalf("GetBars failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("Expected generated sample bars")
	}

	second, err := store.GetBars(context.Background(), "NVDA", day(0), day(30))
	if err != nil {
		t.Fatalf("GetBars failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Sample generation not stable: %d vs %d bars", len(first), len(second))
	}
	for i := range first {
		if !first[i].Close.Equal(second[i].Close) {
			t.Fatalf("Sample bar %d differs between loads", i)
		}
	}

	for _, bar := range first {
		wd := bar.Date.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			t.Errorf("Sample data contains weekend bar: %s", bar.Date)
		}
		if bar.Close.IsZero() || bar.Close.IsNegative() {
			t.Errorf("Sample close must be positive: %s", bar.Close)
		}
	}
}

func TestGetSymbols(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.StoreBars("MSFT", []types.PriceBar{{Date: day(0), Close: decimal.NewFromInt(100)}}); err != nil {
		t.Fatalf("StoreBars failed: %v", err)
	}

	symbols := store.GetSymbols()
	if len(symbols) != 1 || symbols[0] != "MSFT" {
		t.Errorf("Expected [MSFT], got %v", symbols)
	}
}
