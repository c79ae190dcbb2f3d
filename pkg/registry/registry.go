// Package registry holds the set of known agents and routes a capability to
// one of them through a pluggable selection Policy.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// Registry is the AgentRegistry. Registrations are persisted so that
// RegisteredAt survives restarts. A nil store keeps the registry in memory.
type Registry struct {
	store  *store.Store
	policy Policy
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]protocol.Agent

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Registry. A nil policy selects uniformly at random.
func New(st *store.Store, policy Policy, logger *zap.Logger) *Registry {
	if policy == nil {
		policy = NewRandomPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:   st,
		policy:  policy,
		logger:  logger.Named("registry"),
		agents:  make(map[string]protocol.Agent),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.nowFunc = fn
}

// Load reads persisted agents into memory.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	agents, err := r.store.LoadAgents(ctx)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		r.agents[a.Name] = a
	}
	return nil
}

// Register adds an agent or refreshes an existing one. An existing agent
// keeps its RegisteredAt; role, capabilities, endpoint and LastSeen are
// replaced.
func (r *Registry) Register(ctx context.Context, name, role string, capabilities []string, endpoint string) (protocol.Agent, error) {
	if name == "" {
		return protocol.Agent{}, fmt.Errorf("register agent: name is required: %w", protocol.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc().UTC()
	a := protocol.Agent{
		Name:         name,
		Role:         role,
		Capabilities: dedupe(capabilities),
		Endpoint:     endpoint,
		RegisteredAt: now,
		LastSeen:     now,
	}
	if prev, ok := r.agents[name]; ok {
		a.RegisteredAt = prev.RegisteredAt
	}

	if r.store != nil {
		if err := r.store.UpsertAgent(ctx, a); err != nil {
			return protocol.Agent{}, fmt.Errorf("register agent %s: %w", name, err)
		}
	}
	r.agents[name] = a

	r.logger.Info("agent registered",
		zap.String("agent", name),
		zap.String("role", role),
		zap.Strings("capabilities", a.Capabilities))
	return cloneAgent(a), nil
}

// Heartbeat refreshes LastSeen. It fails with UnknownAgentError, and
// changes nothing, when name was never registered.
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[name]
	if !ok {
		return &protocol.UnknownAgentError{Name: name}
	}
	a.LastSeen = r.nowFunc().UTC()
	if r.store != nil {
		if err := r.store.TouchAgent(ctx, name, a.LastSeen); err != nil {
			return fmt.Errorf("heartbeat %s: %w", name, err)
		}
	}
	r.agents[name] = a
	return nil
}

// Touch is Heartbeat for internal callers: unknown agents are ignored.
func (r *Registry) Touch(ctx context.Context, name string) {
	if err := r.Heartbeat(ctx, name); err != nil {
		r.logger.Debug("touch skipped", zap.String("agent", name), zap.Error(err))
	}
}

// Get returns the agent called name.
func (r *Registry) Get(name string) (protocol.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return cloneAgent(a), ok
}

// FindByCapability returns every agent advertising capability, sorted by
// name.
func (r *Registry) FindByCapability(capability string) []protocol.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []protocol.Agent
	for _, a := range r.agents {
		if a.HasCapability(capability) {
			out = append(out, cloneAgent(a))
		}
	}
	sortByName(out)
	return out
}

// Select resolves capability to exactly one agent via the policy. It
// reports false when no agent has the capability.
func (r *Registry) Select(capability string) (protocol.Agent, bool) {
	candidates := r.FindByCapability(capability)
	if len(candidates) == 0 {
		return protocol.Agent{}, false
	}
	return r.policy.Pick(capability, candidates), true
}

// List returns all agents sorted by name.
func (r *Registry) List() []protocol.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	sortByName(out)
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Stale returns agents whose LastSeen is older than maxAge.
func (r *Registry) Stale(maxAge time.Duration) []protocol.Agent {
	cutoff := r.nowFunc().Add(-maxAge)
	var out []protocol.Agent
	for _, a := range r.List() {
		if a.LastSeen.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func sortByName(agents []protocol.Agent) {
	slices.SortFunc(agents, func(a, b protocol.Agent) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func cloneAgent(a protocol.Agent) protocol.Agent {
	a.Capabilities = slices.Clone(a.Capabilities)
	return a
}

func dedupe(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
