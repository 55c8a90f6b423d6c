// Package execution splits parent orders into child chunks and works them
// against a venue with retries and timeouts.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// Algorithm selects how a parent order is sliced.
type Algorithm string

const (
	AlgoImmediate Algorithm = "immediate"
	AlgoTWAP      Algorithm = "twap"
	AlgoVWAP      Algorithm = "vwap"
	AlgoIceberg   Algorithm = "iceberg"
)

// Status of a worked order. Partial completion is an outcome, not an
// error; callers decide what to do with the unfilled remainder.
type Status string

const (
	StatusFilled   Status = "filled"
	StatusPartial  Status = "partial"
	StatusRejected Status = "rejected"
)

// Order is a parent order handed to the executor.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction types.Direction `json:"direction"`
	Size      decimal.Decimal `json:"size"`
	Algorithm Algorithm       `json:"algorithm"`
	Slices    int             `json:"slices,omitempty"`    // twap, vwap
	Interval  time.Duration   `json:"interval,omitempty"`  // pause between slices
	ClipSize  decimal.Decimal `json:"clip_size,omitempty"` // iceberg visible quantity
}

// ChunkOrder is one child slice sent to the venue.
type ChunkOrder struct {
	ParentID  string          `json:"parent_id"`
	Symbol    string          `json:"symbol"`
	Direction types.Direction `json:"direction"`
	Size      decimal.Decimal `json:"size"`
}

// Fill is the venue's response to one chunk.
type Fill struct {
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Report summarizes how a parent order was worked.
type Report struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Status     Status          `json:"status"`
	Requested  decimal.Decimal `json:"requested"`
	Filled     decimal.Decimal `json:"filled"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Commission decimal.Decimal `json:"commission"`
	Fills      []Fill          `json:"fills"`
	Latency    time.Duration   `json:"latency"`
	Reason     string          `json:"reason,omitempty"`
}

// Venue is the destination orders are worked against. The paper venue
// fills against market data; a live venue would wrap an exchange client.
type Venue interface {
	Name() string
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
	Submit(ctx context.Context, chunk ChunkOrder) (Fill, error)
}

// Config bounds how hard the executor works an order.
type Config struct {
	ChunkTimeout   time.Duration `json:"chunkTimeout"`
	OverallTimeout time.Duration `json:"overallTimeout"`
	MaxRetries     int           `json:"maxRetries"`
	RetryMin       time.Duration `json:"retryMin"`
	RetryMax       time.Duration `json:"retryMax"`
}

// DefaultConfig returns the standard execution bounds.
func DefaultConfig() Config {
	return Config{
		ChunkTimeout:   10 * time.Second,
		OverallTimeout: 5 * time.Minute,
		MaxRetries:     3,
		RetryMin:       100 * time.Millisecond,
		RetryMax:       2 * time.Second,
	}
}

// SmartExecutor slices parent orders and works the chunks with bounded
// retries. A chunk that keeps failing is abandoned and surfaces as a
// partial report.
type SmartExecutor struct {
	logger *zap.Logger
	cfg    Config
}

// NewSmartExecutor creates an executor.
func NewSmartExecutor(logger *zap.Logger, cfg Config) *SmartExecutor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &SmartExecutor{logger: logger, cfg: cfg}
}

// Execute works the order against the venue and always returns a report
// when the order itself is valid. Chunk failures and timeouts degrade the
// status, they do not turn into errors.
func (e *SmartExecutor) Execute(ctx context.Context, venue Venue, order Order) (*Report, error) {
	if order.Symbol == "" {
		return nil, errors.New("order symbol is required")
	}
	if order.Size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order size must be positive, got %s", order.Size)
	}
	if order.ID == "" {
		order.ID = utils.GenerateID("ord")
	}

	chunks, err := e.slice(order)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if e.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.OverallTimeout)
		defer cancel()
	}

	report := &Report{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Requested: order.Size,
	}

	for i, size := range chunks {
		if i > 0 && order.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(order.Interval):
			}
		}
		if ctx.Err() != nil {
			report.Reason = "overall timeout before all chunks were worked"
			break
		}

		chunk := ChunkOrder{
			ParentID:  order.ID,
			Symbol:    order.Symbol,
			Direction: order.Direction,
			Size:      size,
		}
		fill, err := e.submitWithRetry(ctx, venue, chunk)
		if err != nil {
			report.Reason = fmt.Sprintf("chunk %d/%d failed: %v", i+1, len(chunks), err)
			e.logger.Warn("chunk abandoned",
				zap.String("order_id", order.ID),
				zap.Int("chunk", i+1),
				zap.Error(err))
			continue
		}
		report.Fills = append(report.Fills, fill)
		report.Filled = report.Filled.Add(fill.Size)
		report.Commission = report.Commission.Add(fill.Commission)
	}

	report.Latency = time.Since(start)
	report.AvgPrice = avgFillPrice(report.Fills)
	switch {
	case report.Filled.Equal(order.Size):
		report.Status = StatusFilled
	case report.Filled.IsPositive():
		report.Status = StatusPartial
	default:
		report.Status = StatusRejected
	}

	e.logger.Info("order worked",
		zap.String("order_id", order.ID),
		zap.String("venue", venue.Name()),
		zap.String("algorithm", string(order.Algorithm)),
		zap.String("status", string(report.Status)),
		zap.String("filled", report.Filled.String()),
		zap.Duration("latency", report.Latency))
	return report, nil
}

// slice computes the child chunk sizes for the chosen algorithm. Sizes
// always sum exactly to the parent size; the last chunk absorbs rounding.
func (e *SmartExecutor) slice(order Order) ([]decimal.Decimal, error) {
	switch order.Algorithm {
	case AlgoImmediate, "":
		return []decimal.Decimal{order.Size}, nil

	case AlgoTWAP:
		n := order.Slices
		if n < 2 {
			n = 4
		}
		per := order.Size.Div(decimal.NewFromInt(int64(n))).Round(8)
		chunks := make([]decimal.Decimal, n)
		rest := order.Size
		for i := 0; i < n-1; i++ {
			chunks[i] = per
			rest = rest.Sub(per)
		}
		chunks[n-1] = rest
		return chunks, nil

	case AlgoVWAP:
		n := order.Slices
		if n < 2 {
			n = 6
		}
		return vwapChunks(order.Size, n), nil

	case AlgoIceberg:
		clip := order.ClipSize
		if clip.LessThanOrEqual(decimal.Zero) {
			clip = order.Size.Div(decimal.NewFromInt(10)).Round(8)
		}
		if clip.GreaterThanOrEqual(order.Size) {
			return []decimal.Decimal{order.Size}, nil
		}
		var chunks []decimal.Decimal
		rest := order.Size
		for rest.GreaterThan(clip) {
			chunks = append(chunks, clip)
			rest = rest.Sub(clip)
		}
		if rest.IsPositive() {
			chunks = append(chunks, rest)
		}
		return chunks, nil

	default:
		return nil, fmt.Errorf("unknown execution algorithm %q", order.Algorithm)
	}
}

// vwapChunks weights slices with a U-shaped intraday volume profile:
// heavier at the open and close, lighter in the middle.
func vwapChunks(size decimal.Decimal, n int) []decimal.Decimal {
	weights := make([]decimal.Decimal, n)
	totalWeight := decimal.Zero
	mid := float64(n-1) / 2
	for i := 0; i < n; i++ {
		dist := (float64(i) - mid) / mid
		w := decimal.NewFromFloat(1 + dist*dist)
		weights[i] = w
		totalWeight = totalWeight.Add(w)
	}

	chunks := make([]decimal.Decimal, n)
	rest := size
	for i := 0; i < n-1; i++ {
		chunks[i] = size.Mul(weights[i]).Div(totalWeight).Round(8)
		rest = rest.Sub(chunks[i])
	}
	chunks[n-1] = rest
	return chunks
}

// submitWithRetry works one chunk with exponential backoff between
// attempts, bounded by the per-chunk timeout.
func (e *SmartExecutor) submitWithRetry(ctx context.Context, venue Venue, chunk ChunkOrder) (Fill, error) {
	b := &backoff.Backoff{
		Min:    e.cfg.RetryMin,
		Max:    e.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Fill{}, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		chunkCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.cfg.ChunkTimeout > 0 {
			chunkCtx, cancel = context.WithTimeout(ctx, e.cfg.ChunkTimeout)
		}

		fill, err := venue.Submit(chunkCtx, chunk)
		cancel()
		if err == nil {
			return fill, nil
		}
		lastErr = err
	}
	return Fill{}, fmt.Errorf("after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}

func avgFillPrice(fills []Fill) decimal.Decimal {
	notional := decimal.Zero
	size := decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Size))
		size = size.Add(f.Size)
	}
	if size.IsZero() {
		return decimal.Zero
	}
	return notional.Div(size)
}
