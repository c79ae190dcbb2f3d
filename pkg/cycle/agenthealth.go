package cycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"ag3/pkg/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxHealthChecks bounds concurrent /health requests per run.
const maxHealthChecks = 8

// AgentSource lists agents and records their liveness.
type AgentSource interface {
	List() []protocol.Agent
	Heartbeat(ctx context.Context, name string) error
}

// AgentHealth polls GET /health on every agent with an endpoint and counts a
// 2xx answer as a heartbeat. Agents without an endpoint are skipped; they
// only stay fresh by heartbeating themselves.
type AgentHealth struct {
	interval time.Duration
	timeout  time.Duration
	agents   AgentSource
	client   *http.Client
	logger   *zap.Logger
}

// NewAgentHealth creates the agent-health cycle. A nil client uses
// http.DefaultClient.
func NewAgentHealth(interval, timeout time.Duration, agents AgentSource, client *http.Client, logger *zap.Logger) *AgentHealth {
	if interval == 0 {
		interval = time.Minute
	}
	if timeout == 0 {
		timeout = 1500 * time.Millisecond
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHealth{
		interval: interval,
		timeout:  timeout,
		agents:   agents,
		client:   client,
		logger:   logger.Named("agent-health"),
	}
}

func (h *AgentHealth) Kind() protocol.CycleKind { return protocol.CycleAgentHealth }

func (h *AgentHealth) Interval() time.Duration { return h.interval }

// RunOnce counts healthy agents as Actions. An unhealthy agent is logged,
// not returned as an error.
func (h *AgentHealth) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	var (
		mu        sync.Mutex
		checked   int
		healthy   int
		unhealthy []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHealthChecks)
	for _, a := range h.agents.List() {
		if a.Endpoint == "" {
			continue
		}
		checked++
		g.Go(func() error {
			err := h.check(gctx, a)
			if err == nil {
				err = h.agents.Heartbeat(gctx, a.Name)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unhealthy = append(unhealthy, a.Name)
				h.logger.Warn("agent unhealthy", zap.String("agent", a.Name), zap.Error(err))
				return nil
			}
			healthy++
			return nil
		})
	}
	_ = g.Wait()

	if checked == 0 {
		return protocol.CycleResult{Skipped: "no agent endpoints"}, nil
	}
	return protocol.CycleResult{
		Actions: healthy,
		Detail:  fmt.Sprintf("%d/%d healthy", healthy, checked),
	}, nil
}

func (h *AgentHealth) check(ctx context.Context, a protocol.Agent) error {
	target, err := HealthURL(a.Endpoint)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health returned %s", resp.Status)
	}
	return nil
}

// HealthURL maps a mission endpoint to the agent's /health URL on the same
// host.
func HealthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", endpoint)
	}
	u.Path = "/health"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
