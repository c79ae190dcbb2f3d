// Package orchestrator owns every ag3 component and wires them together.
//
// State is the single owner of the queue, dispatcher, registry, launch
// machine and cycle runner; nothing is held in package-level variables.
// It implements the request surface used by the socket server and the
// inbox watcher.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"ag3/pkg/config"
	"ag3/pkg/cycle"
	"ag3/pkg/dispatcher"
	"ag3/pkg/inbox"
	"ag3/pkg/ingest"
	"ag3/pkg/launch"
	"ag3/pkg/mail"
	"ag3/pkg/protocol"
	"ag3/pkg/registry"
	"ag3/pkg/server"
	"ag3/pkg/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options carries process-level wiring that is not part of the config
// file. Zero values disable the corresponding component.
type Options struct {
	// SocketPath enables the socket server.
	SocketPath string
	// InboxDir is used when the config does not name an inbox directory.
	InboxDir string
	// MailDir is used when the config does not name a maildir.
	MailDir string

	// Overrides, mainly for tests.
	Invoker    dispatcher.Invoker
	MailSource mail.Source
	Leads      cycle.LeadSource
}

// State is the OrchestratorState.
type State struct {
	cfg    config.Config
	store  *store.Store
	logger *zap.Logger

	registry   *registry.Registry
	queue      *dispatcher.Queue
	dispatcher *dispatcher.Dispatcher
	ingestor   *ingest.Ingestor
	machine    *launch.Machine
	runner     *cycle.Runner
	server     *server.Server
	inbox      *inbox.Watcher

	dispatching atomic.Bool
}

// New builds the orchestrator: it loads and registers the fleet, restores
// persisted missions and constructs every enabled cycle. Nothing runs until
// Run is called.
func New(ctx context.Context, cfg config.Config, st *store.Store, opts Options, logger *zap.Logger) (*State, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &State{cfg: cfg, store: st, logger: logger}

	policy, err := registry.PolicyByName(cfg.Registry.Policy)
	if err != nil {
		return nil, err
	}
	s.registry = registry.New(st, policy, logger)
	if err := s.registry.Load(ctx); err != nil {
		return nil, err
	}
	for _, a := range cfg.Fleet {
		if _, err := s.registry.Register(ctx, a.Name, a.Role, a.Capabilities, a.Endpoint); err != nil {
			return nil, err
		}
	}

	inv := opts.Invoker
	if inv == nil {
		inv = newInvoker(cfg.Dispatch)
	}
	s.queue = dispatcher.NewQueue(st)
	s.dispatcher = dispatcher.New(dispatcher.Config{
		Timeout:              cfg.Dispatch.Timeout.Std(),
		FallbackPollInterval: cfg.Dispatch.FallbackPoll.Std(),
	}, s.queue, s.registry, inv, st, logger)
	if err := s.dispatcher.Restore(ctx); err != nil {
		return nil, err
	}

	s.ingestor = ingest.New(st, ingest.DefaultTable().WithConfig(cfg.Events), s.queue, logger)
	s.machine = launch.NewMachine(st, logger)

	if opts.SocketPath != "" {
		s.server = server.New(opts.SocketPath, s, logger)
	}
	if dir := firstNonEmpty(cfg.Inbox.Dir, opts.InboxDir); dir != "" && !cfg.Inbox.Disabled {
		s.inbox = inbox.New(dir, s, cfg.Inbox.FallbackPoll.Std(), logger)
	}

	cycles, err := s.buildCycles(opts)
	if err != nil {
		return nil, err
	}
	s.runner = cycle.NewRunner(st, logger, cycles...)
	return s, nil
}

func newInvoker(cfg config.DispatchConfig) dispatcher.Invoker {
	if cfg.Invoker == config.InvokerHTTP {
		return dispatcher.NewHTTPInvoker(&http.Client{}, cfg.Token)
	}
	return dispatcher.NewLocalInvoker()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// auditor builds the launch checklist probes over live components.
func (s *State) auditor() *launch.Auditor {
	webhookLive := func() bool { return s.server != nil && s.server.Listening() }
	return launch.NewAuditor([]launch.Probe{
		launch.OnlineProbe(),
		launch.FuncProbe(launch.ProbeSingleCommander, "dispatcher not running", s.dispatching.Load),
		launch.FuncProbe(launch.ProbeWebhookLive, "socket not listening", webhookLive),
		launch.PaymentProbe(s.store, s.cfg.Launch.PaymentVerified),
	}, s.cfg.Launch.Checks)
}

func (s *State) buildCycles(opts Options) ([]cycle.Cycle, error) {
	cc := s.cfg.Cycles
	var out []cycle.Cycle

	if !cc.Growth.Disabled {
		out = append(out, cycle.NewGrowth(cycle.GrowthConfig{
			Interval:       cc.Growth.Interval.Std(),
			MaxSubscribers: cc.Growth.MaxSubscribers,
			InviteCount:    cc.Growth.InviteCount,
		}, s.store, s.machine, s.queue, s.logger))
	}
	if !cc.LaunchAudit.Disabled {
		out = append(out, cycle.NewLaunchAudit(cc.LaunchAudit.Interval.Std(), s.machine, s.auditor()))
	}
	if !cc.Outbound.Disabled {
		out = append(out, cycle.NewOutbound(cycle.OutboundConfig{
			Interval: cc.Outbound.Interval.Std(),
			DailyCap: cc.Outbound.DailyCap,
			Batch:    cc.Outbound.Batch,
			Pillar:   cc.Outbound.Pillar,
		}, s.store, opts.Leads, s.queue, s.logger))
	}
	if !cc.ReplyCheck.Disabled {
		src := opts.MailSource
		if src == nil {
			if dir := firstNonEmpty(cc.ReplyCheck.Maildir, opts.MailDir); dir != "" {
				src = mail.NewDirSource(dir)
			}
		}
		if src != nil {
			out = append(out, cycle.NewReplyCheck(cc.ReplyCheck.Interval.Std(), src, s.store, s.queue, s.logger))
		} else {
			s.logger.Info("reply-check disabled: no mail source")
		}
	}
	if cc.Autopilot.Enabled {
		ap, err := cycle.NewAutopilot(cc.Autopilot.Interval.Std(), cc.Autopilot.Programs, s.machine, s.queue, s.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, ap)
	}
	if !cc.PillarDeploy.Disabled {
		out = append(out, cycle.NewPillarDeploy(cc.PillarDeploy.Interval.Std(), pillars(s.cfg.Pillars), s.store, s.queue, s.logger))
	}
	if cc.AgentHealth.Enabled {
		out = append(out, cycle.NewAgentHealth(cc.AgentHealth.Interval.Std(), cc.AgentHealth.Timeout.Std(), s.registry, &http.Client{}, s.logger))
	}
	if !s.cfg.Retention.Disabled {
		out = append(out, cycle.NewRetention(s.cfg.Retention.Interval.Std(), s.cfg.Retention.SeenEvents.Std(), s.store))
	}
	return out, nil
}

func pillars(cfg []config.PillarConfig) []cycle.Pillar {
	out := make([]cycle.Pillar, len(cfg))
	for i, p := range cfg {
		out[i] = cycle.Pillar{
			ID:          p.ID,
			Type:        p.Type,
			Name:        p.Name,
			Offer:       p.Offer,
			Price:       p.Price,
			Currency:    p.Currency,
			Marketing:   p.Marketing,
			Fulfillment: p.Fulfillment,
			QA:          p.QA,
		}
	}
	return out
}

// Run starts the server, dispatcher, cycle runner and inbox watcher and
// blocks until ctx is cancelled or one of them fails.
func (s *State) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.server != nil {
		g.Go(func() error { return s.server.Serve(gctx) })
	}
	// Set before the first launch audit can run.
	s.dispatching.Store(true)
	g.Go(func() error {
		defer s.dispatching.Store(false)
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error { return s.runner.Run(gctx) })
	if s.inbox != nil {
		g.Go(func() error { return s.inbox.Run(gctx) })
	}

	s.logger.Info("ag3 running",
		zap.Int("agents", s.registry.Count()),
		zap.Int("queued", s.queue.Depth()),
		zap.Int("cycles", len(s.runner.Kinds())))
	err := g.Wait()
	s.logger.Info("ag3 stopped")
	return err
}

// Accessors.

func (s *State) Registry() *registry.Registry       { return s.registry }
func (s *State) Queue() *dispatcher.Queue           { return s.queue }
func (s *State) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }
func (s *State) Launch() *launch.Machine            { return s.machine }
func (s *State) Runner() *cycle.Runner              { return s.runner }

// --- request surface ---

// HandleEvent consumes an event whose authenticity the caller verified.
func (s *State) HandleEvent(ctx context.Context, ev protocol.Event) (protocol.IngestResult, error) {
	return s.ingestor.Consume(ctx, ev)
}

// Enqueue creates a mission directly. Unroutable reports that no registered
// agent serves the capability yet; the mission is still queued.
func (s *State) Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.EnqueueResult, error) {
	if spec.Source == "" {
		spec.Source = "api"
	}
	m, err := s.queue.Enqueue(ctx, spec)
	if err != nil {
		return protocol.EnqueueResult{}, err
	}
	return protocol.EnqueueResult{
		Mission:    m,
		Unroutable: len(s.registry.FindByCapability(spec.RequiredCapability)) == 0,
	}, nil
}

// PollNext hands a pending mission to a pulling agent.
func (s *State) PollNext(ctx context.Context, agent string, capabilities []string) (*protocol.Mission, error) {
	return s.dispatcher.PollNext(ctx, agent, capabilities)
}

// Report records a pulling agent's result.
func (s *State) Report(ctx context.Context, id string, status protocol.MissionStatus, output protocol.Output) (protocol.Mission, error) {
	return s.dispatcher.ReportResult(ctx, id, status, output)
}

// Register adds or refreshes an agent and requeues parked missions it can
// now serve.
func (s *State) Register(ctx context.Context, p protocol.RegisterPayload) (protocol.Agent, error) {
	a, err := s.registry.Register(ctx, p.Name, p.Role, p.Capabilities, p.Endpoint)
	if err != nil {
		return a, err
	}
	s.dispatcher.Unpark(a.Capabilities)
	return a, nil
}

// Heartbeat refreshes an agent's last-seen time.
func (s *State) Heartbeat(ctx context.Context, name string) error {
	return s.registry.Heartbeat(ctx, name)
}

// TriggerCycle runs one cycle now.
func (s *State) TriggerCycle(ctx context.Context, kind protocol.CycleKind) (protocol.CycleResult, error) {
	return s.runner.Trigger(ctx, kind)
}

// Health returns the read-only introspection snapshot.
func (s *State) Health(ctx context.Context) (protocol.Health, error) {
	h := protocol.Health{
		QueueDepth: s.queue.Depth(),
		Parked:     s.queue.Parked(),
		InFlight:   s.dispatcher.InFlight(),
		Agents:     s.registry.Count(),
		Time:       time.Now().UTC(),
	}
	for _, a := range s.registry.Stale(s.cfg.Registry.StaleAfter.Std()) {
		h.StaleAgents = append(h.StaleAgents, a.Name)
	}

	ls, err := s.machine.State(ctx)
	if err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	h.LaunchStatus = ls.Status

	if h.Cycles, err = s.runner.States(ctx); err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	if h.SeenEvents, err = s.store.CountSeenEvents(ctx, ""); err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	return h, nil
}
