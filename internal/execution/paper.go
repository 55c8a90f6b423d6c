package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/pkg/types"
)

// PaperVenue fills chunks against the market data layer: the quote is the
// latest close, slippage is always adverse and commission is charged on
// the filled notional.
type PaperVenue struct {
	logger         *zap.Logger
	source         data.Source
	timeframe      types.Timeframe
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal
}

// NewPaperVenue creates a paper venue backed by the given data source.
func NewPaperVenue(logger *zap.Logger, source data.Source, commissionRate, slippageRate decimal.Decimal) *PaperVenue {
	return &PaperVenue{
		logger:         logger,
		source:         source,
		timeframe:      types.Timeframe1m,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
	}
}

// Name identifies the venue in reports and logs.
func (v *PaperVenue) Name() string { return "paper" }

// Quote returns the latest close for the symbol.
func (v *PaperVenue) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	now := time.Now().UTC()
	bars, err := v.source.FetchOHLCV(ctx, symbol, v.timeframe, now.Add(-time.Hour), now, 0)
	if err != nil {
		return decimal.Zero, err
	}
	if len(bars) == 0 {
		return decimal.Zero, fmt.Errorf("no quote available for %s", symbol)
	}
	return bars[len(bars)-1].Close, nil
}

// Submit fills the chunk at the quote with adverse slippage applied.
func (v *PaperVenue) Submit(ctx context.Context, chunk ChunkOrder) (Fill, error) {
	quote, err := v.Quote(ctx, chunk.Symbol)
	if err != nil {
		return Fill{}, err
	}

	slip := quote.Mul(v.slippageRate)
	price := quote
	if chunk.Direction == types.DirectionLong {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}

	fill := Fill{
		Price:      price,
		Size:       chunk.Size,
		Commission: price.Mul(chunk.Size).Mul(v.commissionRate),
		Timestamp:  time.Now().UTC(),
	}
	v.logger.Debug("paper fill",
		zap.String("symbol", chunk.Symbol),
		zap.String("price", price.String()),
		zap.String("size", chunk.Size.String()))
	return fill, nil
}
