package data

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// BinanceSource fetches historical klines from Binance spot.
type BinanceSource struct {
	client *binance.Client
	logger *zap.Logger
}

// NewBinanceSource creates a Binance-backed data source. Key and secret may
// be empty for public kline endpoints.
func NewBinanceSource(logger *zap.Logger, apiKey, apiSecret string) *BinanceSource {
	return &BinanceSource{
		client: binance.NewClient(apiKey, apiSecret),
		logger: logger,
	}
}

// FetchOHLCV fetches klines, paging until the window or limit is exhausted.
func (b *BinanceSource) FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time, limit int) ([]types.Bar, error) {
	base, quote := utils.ParseSymbol(symbol)
	exchangeSymbol := base + quote

	const pageSize = 1000
	var bars []types.Bar
	cursor := start

	for cursor.Before(end) {
		want := pageSize
		if limit > 0 && limit-len(bars) < want {
			want = limit - len(bars)
		}
		if want <= 0 {
			break
		}

		klines, err := b.client.NewKlinesService().
			Symbol(exchangeSymbol).
			Interval(string(timeframe)).
			StartTime(cursor.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(want).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching klines for %s: %w", exchangeSymbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := klineToBar(k)
			if err != nil {
				return nil, fmt.Errorf("parsing kline: %w", err)
			}
			bars = append(bars, bar)
		}

		last := klines[len(klines)-1]
		next := time.UnixMilli(last.CloseTime).Add(time.Millisecond)
		if !next.After(cursor) {
			break
		}
		cursor = next

		if len(klines) < want {
			break
		}
	}

	b.logger.Debug("fetched klines",
		zap.String("symbol", exchangeSymbol),
		zap.Int("bars", len(bars)))
	return bars, nil
}

func klineToBar(k *binance.Kline) (types.Bar, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return types.Bar{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return types.Bar{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return types.Bar{}, err
	}
	closeP, err := decimal.NewFromString(k.Close)
	if err != nil {
		return types.Bar{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return types.Bar{}, err
	}
	return types.Bar{
		Timestamp: time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}, nil
}
