// Package safety monitors running bots against safety rules and operates
// the emergency kill switches.
package safety

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

var interventionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_interventions_total",
	Help: "Safety rule and kill switch activations, by action.",
}, []string{"action"})

// Action is what a rule does when it triggers.
type Action string

const (
	ActionAlert Action = "alert"
	ActionPause Action = "pause"
	ActionStop  Action = "stop"
)

// KillSwitch is an emergency control. Once activated it latches until an
// explicit Reset.
type KillSwitch string

const (
	KillSwitchPauseAll     KillSwitch = "pause_all"
	KillSwitchStopAll      KillSwitch = "stop_all"
	KillSwitchLiquidateAll KillSwitch = "liquidate_all"
)

// Rule is one monitored safety condition evaluated over the registered
// bots.
type Rule struct {
	Name          string
	Enabled       bool
	Threshold     decimal.Decimal
	Action        Action
	Cooldown      time.Duration
	lastTriggered time.Time
}

// BotControl is the surface the safety manager needs from a bot. The
// manager holds bot ids and resolves them through a lookup, never owning
// the bots themselves.
type BotControl interface {
	ID() string
	Status() types.BotStatus
	Pause()
	Stop()
	Liquidate()
	TotalPnL() decimal.Decimal
	DrawdownPct() decimal.Decimal
	DailyLossPct() decimal.Decimal
	ConsecutiveLosses() int
	LargestPositionPct() decimal.Decimal
}

// LookupFunc resolves a bot id to its control surface.
type LookupFunc func(id string) (BotControl, bool)

// AlertHandler receives safety alerts (websocket hub, telegram, log).
type AlertHandler interface {
	HandleAlert(alert types.Alert)
}

const (
	monitorInterval = 10 * time.Second
	alertRingSize   = 100
)

// Manager evaluates safety rules on a ticker and operates the kill
// switches.
type Manager struct {
	logger *zap.Logger
	lookup LookupFunc

	mu       sync.RWMutex
	rules    map[string]*Rule
	botIDs   map[string]struct{}
	alerts   []types.Alert
	handlers []AlertHandler

	killSwitchActive KillSwitch
	killSwitchReason string

	aggregateLossLimit decimal.Decimal // absolute loss across all bots
}

// NewManager creates a safety manager with the default rule set.
func NewManager(logger *zap.Logger, lookup LookupFunc) *Manager {
	m := &Manager{
		logger:             logger,
		lookup:             lookup,
		rules:              make(map[string]*Rule),
		botIDs:             make(map[string]struct{}),
		aggregateLossLimit: decimal.NewFromInt(2500),
	}

	m.rules["max_drawdown"] = &Rule{
		Name:      "max_drawdown",
		Enabled:   true,
		Threshold: decimal.NewFromFloat(0.15),
		Action:    ActionPause,
		Cooldown:  time.Hour,
	}
	m.rules["daily_loss_limit"] = &Rule{
		Name:      "daily_loss_limit",
		Enabled:   true,
		Threshold: decimal.NewFromFloat(0.05),
		Action:    ActionPause,
		Cooldown:  time.Hour,
	}
	m.rules["consecutive_losses"] = &Rule{
		Name:      "consecutive_losses",
		Enabled:   true,
		Threshold: decimal.NewFromInt(5),
		Action:    ActionPause,
		Cooldown:  30 * time.Minute,
	}
	m.rules["large_position"] = &Rule{
		Name:      "large_position",
		Enabled:   true,
		Threshold: decimal.NewFromFloat(0.25),
		Action:    ActionAlert,
		Cooldown:  30 * time.Minute,
	}
	return m
}

// RegisterBot adds a bot id to monitoring.
func (m *Manager) RegisterBot(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botIDs[id] = struct{}{}
	m.logger.Info("bot registered with safety manager", zap.String("bot_id", id))
}

// UnregisterBot removes a bot id from monitoring.
func (m *Manager) UnregisterBot(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.botIDs, id)
}

// AddHandler subscribes an alert handler.
func (m *Manager) AddHandler(h AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// SetRule installs or replaces a rule.
func (m *Manager) SetRule(r *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Name] = r
}

// Rules returns a snapshot of the configured rules.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out
}

// Start runs the monitoring loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	m.logger.Info("safety monitoring started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("safety monitoring stopped")
			return
		case <-ticker.C:
			m.Check(time.Now())
		}
	}
}

// Check evaluates every rule and the automatic kill switch trigger once.
// Exposed for tests; the monitoring loop calls it on each tick.
func (m *Manager) Check(now time.Time) {
	bots := m.controlledBots()

	aggregatePnL := decimal.Zero
	for _, bot := range bots {
		aggregatePnL = aggregatePnL.Add(bot.TotalPnL())
	}

	// Automatic catastrophic-loss kill switch.
	if m.Active() == "" && aggregatePnL.IsNegative() &&
		aggregatePnL.Abs().GreaterThanOrEqual(m.aggregateLossLimit) {
		m.ActivateKillSwitch(KillSwitchStopAll, "aggregate loss limit breached")
		return
	}

	// Evaluate and stamp cooldowns under the lock; apply actions after
	// releasing it, since applyAction re-enters the manager via emitAlert.
	type firing struct {
		rule Rule
		bot  BotControl
	}
	var triggered []firing
	m.mu.Lock()
	for _, rule := range m.rules {
		if !rule.Enabled || now.Sub(rule.lastTriggered) < rule.Cooldown {
			continue
		}
		for _, bot := range bots {
			if !m.ruleBreached(rule, bot) {
				continue
			}
			rule.lastTriggered = now
			triggered = append(triggered, firing{rule: *rule, bot: bot})
			break
		}
	}
	m.mu.Unlock()

	for _, f := range triggered {
		m.applyAction(&f.rule, f.bot)
	}
}

func (m *Manager) ruleBreached(rule *Rule, bot BotControl) bool {
	switch rule.Name {
	case "max_drawdown":
		return bot.DrawdownPct().GreaterThanOrEqual(rule.Threshold)
	case "daily_loss_limit":
		return bot.DailyLossPct().GreaterThanOrEqual(rule.Threshold)
	case "consecutive_losses":
		return decimal.NewFromInt(int64(bot.ConsecutiveLosses())).GreaterThanOrEqual(rule.Threshold)
	case "large_position":
		return bot.LargestPositionPct().GreaterThanOrEqual(rule.Threshold)
	default:
		return false
	}
}

func (m *Manager) applyAction(rule *Rule, bot BotControl) {
	interventionCounter.WithLabelValues(string(rule.Action)).Inc()
	m.logger.Warn("safety rule triggered",
		zap.String("rule", rule.Name),
		zap.String("bot_id", bot.ID()),
		zap.String("action", string(rule.Action)))

	switch rule.Action {
	case ActionPause:
		bot.Pause()
	case ActionStop:
		bot.Stop()
	}
	m.emitAlert("warning", rule.Name, "safety rule triggered: "+rule.Name, bot.ID())
}

// ActivateKillSwitch latches the switch and applies it to every registered
// bot. Activating while another switch is latched replaces it.
func (m *Manager) ActivateKillSwitch(sw KillSwitch, reason string) {
	m.mu.Lock()
	m.killSwitchActive = sw
	m.killSwitchReason = reason
	m.mu.Unlock()

	interventionCounter.WithLabelValues(string(sw)).Inc()
	m.logger.Error("kill switch activated",
		zap.String("switch", string(sw)),
		zap.String("reason", reason))

	for _, bot := range m.controlledBots() {
		switch sw {
		case KillSwitchPauseAll:
			bot.Pause()
		case KillSwitchStopAll:
			bot.Stop()
		case KillSwitchLiquidateAll:
			bot.Liquidate()
			bot.Stop()
		}
	}
	m.emitAlert("critical", string(sw), "kill switch activated: "+reason, "")
}

// Active returns the latched kill switch, empty when none.
func (m *Manager) Active() KillSwitch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitchActive
}

// Reset clears the latched kill switch. Bots stay in whatever state the
// switch left them; restarting them is an explicit operator action.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchActive = ""
	m.killSwitchReason = ""
	m.logger.Info("kill switch reset")
}

// Alerts returns the retained alerts, newest last.
func (m *Manager) Alerts() []types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

func (m *Manager) controlledBots() []BotControl {
	m.mu.RLock()
	ids := make([]string, 0, len(m.botIDs))
	for id := range m.botIDs {
		ids = append(ids, id)
	}
	lookup := m.lookup
	m.mu.RUnlock()

	if lookup == nil {
		return nil
	}
	bots := make([]BotControl, 0, len(ids))
	for _, id := range ids {
		if bot, ok := lookup(id); ok {
			bots = append(bots, bot)
		}
	}
	return bots
}

func (m *Manager) emitAlert(level, source, message, botID string) {
	alert := types.Alert{
		ID:        utils.GenerateID("alert"),
		Level:     level,
		Source:    source,
		Message:   message,
		BotID:     botID,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertRingSize {
		m.alerts = m.alerts[len(m.alerts)-alertRingSize:]
	}
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h.HandleAlert(alert)
	}
}
