package registry

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"ag3/pkg/config"
	"ag3/pkg/protocol"
)

// Policy picks one agent among capable candidates. candidates is never
// empty and is sorted by name.
type Policy interface {
	Pick(capability string, candidates []protocol.Agent) protocol.Agent
}

// RandomPolicy picks uniformly at random.
type RandomPolicy struct {
	intN func(n int) int
}

// NewRandomPolicy returns a RandomPolicy backed by math/rand/v2.
func NewRandomPolicy() *RandomPolicy {
	return &RandomPolicy{intN: rand.IntN}
}

// Pick implements Policy.
func (p *RandomPolicy) Pick(_ string, candidates []protocol.Agent) protocol.Agent {
	return candidates[p.intN(len(candidates))]
}

// RoundRobinPolicy rotates through the candidates of each capability.
type RoundRobinPolicy struct {
	mu   sync.Mutex
	next map[string]int
}

// NewRoundRobinPolicy returns an empty RoundRobinPolicy.
func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{next: make(map[string]int)}
}

// Pick implements Policy.
func (p *RoundRobinPolicy) Pick(capability string, candidates []protocol.Agent) protocol.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.next[capability] % len(candidates)
	p.next[capability] = i + 1
	return candidates[i]
}

// PolicyByName resolves a registry.policy config value.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", config.PolicyRandom:
		return NewRandomPolicy(), nil
	case config.PolicyRoundRobin:
		return NewRoundRobinPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}
