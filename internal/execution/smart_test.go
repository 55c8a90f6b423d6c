package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// scriptedVenue fills every chunk at a fixed price, failing the attempt
// numbers listed in failOn.
type scriptedVenue struct {
	price    decimal.Decimal
	attempts int
	failOn   map[int]error
	chunks   []ChunkOrder
}

func (v *scriptedVenue) Name() string { return "scripted" }

func (v *scriptedVenue) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return v.price, nil
}

func (v *scriptedVenue) Submit(ctx context.Context, chunk ChunkOrder) (Fill, error) {
	v.attempts++
	if err, ok := v.failOn[v.attempts]; ok {
		return Fill{}, err
	}
	v.chunks = append(v.chunks, chunk)
	return Fill{
		Price:     v.price,
		Size:      chunk.Size,
		Timestamp: time.Now(),
	}, nil
}

func testConfig() Config {
	return Config{
		ChunkTimeout:   time.Second,
		OverallTimeout: 5 * time.Second,
		MaxRetries:     3,
		RetryMin:       time.Millisecond,
		RetryMax:       2 * time.Millisecond,
	}
}

func TestImmediateSingleChunk(t *testing.T) {
	venue := &scriptedVenue{price: decimal.NewFromInt(100)}
	ex := NewSmartExecutor(zap.NewNop(), testConfig())

	rep, err := ex.Execute(context.Background(), venue, Order{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
		Size:      decimal.NewFromInt(2),
		Algorithm: AlgoImmediate,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rep.Status != StatusFilled {
		t.Errorf("status = %s, want filled", rep.Status)
	}
	if len(venue.chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(venue.chunks))
	}
	if !rep.AvgPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("avg price = %s, want 100", rep.AvgPrice)
	}
}

func TestTWAPChunkSizesSumToParent(t *testing.T) {
	venue := &scriptedVenue{price: decimal.NewFromInt(100)}
	ex := NewSmartExecutor(zap.NewNop(), testConfig())

	rep, err := ex.Execute(context.Background(), venue, Order{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
		Size:      decimal.NewFromInt(10),
		Algorithm: AlgoTWAP,
		Slices:    4,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(venue.chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(venue.chunks))
	}
	total := decimal.Zero
	for _, c := range venue.chunks {
		total = total.Add(c.Size)
	}
	if !total.Equal(decimal.NewFromInt(10)) {
		t.Errorf("chunk sizes sum to %s, want 10", total)
	}
	if rep.Status != StatusFilled {
		t.Errorf("status = %s, want filled", rep.Status)
	}
}

func TestVWAPWeightsOpenAndCloseHeavier(t *testing.T) {
	chunks := vwapChunks(decimal.NewFromInt(100), 6)
	total := decimal.Zero
	for _, c := range chunks {
		total = total.Add(c)
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("chunks sum to %s, want 100", total)
	}
	if !chunks[0].GreaterThan(chunks[2]) {
		t.Errorf("open slice %s not heavier than mid slice %s", chunks[0], chunks[2])
	}
}

func TestIcebergClipCount(t *testing.T) {
	venue := &scriptedVenue{price: decimal.NewFromInt(100)}
	ex := NewSmartExecutor(zap.NewNop(), testConfig())

	_, err := ex.Execute(context.Background(), venue, Order{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionShort,
		Size:      decimal.NewFromInt(10),
		Algorithm: AlgoIceberg,
		ClipSize:  decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// 3 + 3 + 3 + 1.
	if len(venue.chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(venue.chunks))
	}
	if !venue.chunks[3].Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("final clip = %s, want 1", venue.chunks[3].Size)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	venue := &scriptedVenue{
		price:  decimal.NewFromInt(100),
		failOn: map[int]error{1: errors.New("venue busy"), 2: errors.New("venue busy")},
	}
	ex := NewSmartExecutor(zap.NewNop(), testConfig())

	rep, err := ex.Execute(context.Background(), venue, Order{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
		Size:      decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rep.Status != StatusFilled {
		t.Errorf("status = %s after retries, want filled", rep.Status)
	}
	if venue.attempts != 3 {
		t.Errorf("attempts = %d, want 3", venue.attempts)
	}
}

func TestPartialFillIsReportNotError(t *testing.T) {
	// Second chunk fails through all 3 retries (attempts 2, 3, 4).
	venue := &scriptedVenue{
		price: decimal.NewFromInt(100),
		failOn: map[int]error{
			2: errors.New("down"), 3: errors.New("down"), 4: errors.New("down"),
		},
	}
	ex := NewSmartExecutor(zap.NewNop(), testConfig())

	rep, err := ex.Execute(context.Background(), venue, Order{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
		Size:      decimal.NewFromInt(10),
		Algorithm: AlgoTWAP,
		Slices:    2,
	})
	if err != nil {
		t.Fatalf("partial fill surfaced as error: %v", err)
	}
	if rep.Status != StatusPartial {
		t.Errorf("status = %s, want partial", rep.Status)
	}
	if !rep.Filled.Equal(decimal.NewFromInt(5)) {
		t.Errorf("filled = %s, want 5", rep.Filled)
	}
	if rep.Reason == "" {
		t.Error("partial report carries no reason")
	}
}

func TestInvalidOrderIsError(t *testing.T) {
	ex := NewSmartExecutor(zap.NewNop(), testConfig())
	venue := &scriptedVenue{price: decimal.NewFromInt(100)}

	if _, err := ex.Execute(context.Background(), venue, Order{Symbol: "", Size: decimal.NewFromInt(1)}); err == nil {
		t.Error("missing symbol accepted")
	}
	if _, err := ex.Execute(context.Background(), venue, Order{Symbol: "BTC/USDT", Size: decimal.Zero}); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := ex.Execute(context.Background(), venue, Order{
		Symbol: "BTC/USDT", Size: decimal.NewFromInt(1), Algorithm: Algorithm("pov"),
	}); err == nil {
		t.Error("unknown algorithm accepted")
	}
}
