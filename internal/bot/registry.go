package bot

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the live bots. It is the single source of truth for which
// bots exist; the safety manager only holds ids and resolves them here.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger
	bots   map[string]*Bot
}

// NewRegistry creates an empty bot registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		bots:   make(map[string]*Bot),
	}
}

// Register adds a bot. Duplicate ids are an error.
func (r *Registry) Register(b *Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[b.ID()]; exists {
		return fmt.Errorf("bot %s already registered", b.ID())
	}
	r.bots[b.ID()] = b
	return nil
}

// Unregister removes a bot without stopping it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, id)
}

// Get returns the bot for an id.
func (r *Registry) Get(id string) (*Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	return b, ok
}

// List returns all bots ordered by id.
func (r *Registry) List() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ShutdownAll stops every bot and empties the registry. Each Stop
// liquidates before the bot is released.
func (r *Registry) ShutdownAll() {
	for _, b := range r.List() {
		b.Stop()
	}
	r.mu.Lock()
	r.bots = make(map[string]*Bot)
	r.mu.Unlock()
	r.logger.Info("all bots shut down")
}
