package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// Store provides access to historical market data. Bars are loaded from
// JSON files under dataDir, falling back to the synthetic source when no
// file exists, and cached in memory per symbol/timeframe.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	fallback Source
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the available data range for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// NewStore creates a data store rooted at dataDir. fallback may be nil, in
// which case a deterministic synthetic source is used.
func NewStore(logger *zap.Logger, dataDir string, fallback Source) (*Store, error) {
	if fallback == nil {
		fallback = NewSyntheticSource()
	}
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		fallback: fallback,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// FetchOHLCV returns validated bars for the symbol and window. Malformed
// bars are a fatal input error; the run must not start on bad data.
func (s *Store) FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time, limit int) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cacheKey := cacheKeyFor(symbol, timeframe)
	if cached, ok := s.cache[cacheKey]; ok {
		return filterByTimeRange(cached, start, end, limit), nil
	}

	filename := filepath.Join(s.dataDir, fileNameFor(symbol, timeframe))
	raw, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading data file: %w", err)
		}
		s.logger.Info("no data file, using fallback source",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)))
		bars, err := s.fallback.FetchOHLCV(ctx, symbol, timeframe, start, end, limit)
		if err != nil {
			return nil, fmt.Errorf("fallback source: %w", err)
		}
		if err := types.ValidateBars(bars); err != nil {
			return nil, fmt.Errorf("fallback data invalid: %w", err)
		}
		s.cache[cacheKey] = bars
		return bars, nil
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parsing data file %s: %w", filename, err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	if err := types.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("data file %s: %w", filename, err)
	}

	s.cache[cacheKey] = bars
	return filterByTimeRange(bars, start, end, limit), nil
}

// SaveOHLCV persists bars to disk and refreshes cache and metadata.
func (s *Store) SaveOHLCV(symbol string, timeframe types.Timeframe, bars []types.Bar) error {
	if err := types.ValidateBars(bars); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filename := filepath.Join(s.dataDir, fileNameFor(symbol, timeframe))
	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bars: %w", err)
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("writing data file: %w", err)
	}

	s.cache[cacheKeyFor(symbol, timeframe)] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
			Timeframe: string(timeframe),
		}
	}
	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("failed to save metadata", zap.Error(err))
	}
	return nil
}

// AvailableSymbols returns the symbols with known metadata.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// DataRange returns the stored data range for a symbol.
func (s *Store) DataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// ClearCache drops the in-memory bar cache.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Bar)
}

func cacheKeyFor(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}

func fileNameFor(symbol string, timeframe types.Timeframe) string {
	safe := strings.ReplaceAll(symbol, "/", "-")
	return fmt.Sprintf("%s_%s.json", safe, timeframe)
}

func filterByTimeRange(bars []types.Bar, start, end time.Time, limit int) []types.Bar {
	var filtered []types.Bar
	for _, bar := range bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(raw, &s.metadata)
}

func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), raw, 0644)
}
