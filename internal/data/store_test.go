// Package data_test provides tests for the data store.
package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/pkg/types"
)

func hourBars(base time.Time, n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromInt(int64(100 + i)),
			High:      decimal.NewFromInt(int64(105 + i)),
			Low:       decimal.NewFromInt(int64(95 + i)),
			Close:     decimal.NewFromInt(int64(102 + i)),
			Volume:    decimal.NewFromInt(int64(1000 * (i + 1))),
		}
	}
	return bars
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := hourBars(base, 5)
	if err := store.SaveOHLCV("TEST/USDT", types.Timeframe1h, bars); err != nil {
		t.Fatalf("SaveOHLCV: %v", err)
	}

	got, err := store.FetchOHLCV(context.Background(), "TEST/USDT", types.Timeframe1h,
		base.Add(-time.Hour), base.Add(10*time.Hour), 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(got) != len(bars) {
		t.Fatalf("got %d bars, want %d", len(got), len(bars))
	}
	for i := range got {
		if !got[i].Close.Equal(bars[i].Close) {
			t.Errorf("bar %d close = %s, want %s", i, got[i].Close, bars[i].Close)
		}
	}
}

func TestStoreTimeRangeFiltering(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SaveOHLCV("RANGE/USDT", types.Timeframe1h, hourBars(base, 10)); err != nil {
		t.Fatalf("SaveOHLCV: %v", err)
	}

	start := base.Add(3 * time.Hour)
	end := base.Add(6 * time.Hour)
	got, err := store.FetchOHLCV(context.Background(), "RANGE/USDT", types.Timeframe1h, start, end, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d bars in range, want 4", len(got))
	}
	if !got[0].Timestamp.Equal(start) {
		t.Errorf("first bar at %v, want %v", got[0].Timestamp, start)
	}
}

func TestStoreRejectsMalformedBars(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bad := []types.Bar{{
		Timestamp: base,
		Open:      decimal.NewFromInt(100),
		High:      decimal.NewFromInt(99), // high below open
		Low:       decimal.NewFromInt(95),
		Close:     decimal.NewFromInt(98),
		Volume:    decimal.NewFromInt(1000),
	}}
	if err := store.SaveOHLCV("BAD/USDT", types.Timeframe1h, bad); err == nil {
		t.Error("SaveOHLCV accepted a bar with high below open")
	}

	unordered := hourBars(base, 3)
	unordered[2].Timestamp = unordered[1].Timestamp
	if err := store.SaveOHLCV("BAD/USDT", types.Timeframe1h, unordered); err == nil {
		t.Error("SaveOHLCV accepted non-increasing timestamps")
	}
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	src := data.NewSyntheticSource()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(99 * time.Hour)

	a, err := src.FetchOHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, start, end, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	b, err := src.FetchOHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, start, end, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}

	if len(a) != 100 {
		t.Fatalf("got %d bars, want 100", len(a))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) || !a[i].Timestamp.Equal(b[i].Timestamp) {
			t.Fatalf("synthetic bars differ between identical calls at %d", i)
		}
	}
	if err := types.ValidateBars(a); err != nil {
		t.Errorf("synthetic bars invalid: %v", err)
	}
}

func TestStoreFallsBackToSynthetic(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.FetchOHLCV(context.Background(), "NOFILE/USDT", types.Timeframe1h,
		start, start.Add(49*time.Hour), 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("got %d fallback bars, want 50", len(got))
	}
}

func TestStoreMetadataPersistence(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	store1, err := data.NewStore(zap.NewNop(), dir, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store1.SaveOHLCV("PERSIST/USDT", types.Timeframe1h, hourBars(base, 4)); err != nil {
		t.Fatalf("SaveOHLCV: %v", err)
	}

	store2, err := data.NewStore(zap.NewNop(), dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	start, end, err := store2.DataRange("PERSIST/USDT")
	if err != nil {
		t.Fatalf("DataRange: %v", err)
	}
	if !start.Equal(base) || !end.Equal(base.Add(3*time.Hour)) {
		t.Errorf("DataRange = (%v, %v), want (%v, %v)", start, end, base, base.Add(3*time.Hour))
	}
}
