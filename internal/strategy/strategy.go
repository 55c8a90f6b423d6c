// Package strategy provides trading strategy implementations.
package strategy

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/indicator"
	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// Strategy is the interface all strategies implement. Generate is pure: the
// same bars and snapshot always produce the same signals, and no strategy
// touches the wall clock.
type Strategy interface {
	Name() string
	Description() string
	MinBars() int
	Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal
}

// Registry manages available strategies behind factory functions.
type Registry struct {
	logger    *zap.Logger
	factories map[string]func() Strategy
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]func() Strategy),
	}

	r.Register("momentum_punch", func() Strategy { return NewMomentumPunch(logger) })
	r.Register("value_punch", func() Strategy { return NewValuePunch(logger) })
	r.Register("breakout_punch", func() Strategy { return NewBreakoutPunch(logger) })
	r.Register("trend_punch", func() Strategy { return NewTrendPunch(logger) })

	return r
}

// Register registers a strategy factory under a name.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a strategy by name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns all registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// minRiskReward is the floor below which a proposal is not worth taking.
const minRiskReward = 1.5

func decimalFromInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// buildSignal assembles a signal from a scored rule evaluation. Returns nil
// when the achieved risk/reward falls under the floor or the stop distance
// is degenerate.
func buildSignal(name, symbol string, bars []types.Bar, dir types.Direction,
	score, maxScore int, atr float64, reasoning string, indicatorsUsed []string) *types.Signal {

	last := bars[len(bars)-1]
	entry := last.Close
	stopDist := decimal.NewFromFloat(atr * 2.0)
	if stopDist.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var stop decimal.Decimal
	if dir == types.DirectionLong {
		stop = entry.Sub(stopDist)
	} else {
		stop = entry.Add(stopDist)
	}
	if stop.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	risk := entry.Sub(stop).Abs()
	rrs := []float64{1.5, 2.5, 4.0}
	targets := make([]decimal.Decimal, 0, len(rrs))
	for _, rr := range rrs {
		reward := risk.Mul(decimal.NewFromFloat(rr))
		if dir == types.DirectionLong {
			targets = append(targets, entry.Add(reward))
		} else {
			targets = append(targets, entry.Sub(reward))
		}
	}

	rr := targets[0].Sub(entry).Abs().Div(risk)
	if rr.LessThan(decimal.NewFromFloat(minRiskReward)) {
		return nil
	}

	confidence := decimal.NewFromInt(int64(score)).Div(decimal.NewFromInt(int64(maxScore)))
	return &types.Signal{
		ID:               utils.GenerateSignalID(),
		Symbol:           symbol,
		Strategy:         name,
		Direction:        dir,
		Confidence:       confidence,
		Strength:         confidence.Mul(decimal.NewFromInt(100)),
		EntryPrice:       entry,
		StopLoss:         stop,
		TakeProfitLevels: targets,
		RiskReward:       rr,
		Reasoning:        reasoning,
		IndicatorsUsed:   indicatorsUsed,
		GeneratedAt:      last.Timestamp,
	}
}
