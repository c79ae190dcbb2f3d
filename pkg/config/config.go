// Package config loads the ag3 orchestrator configuration from YAML or TOML.
//
// Every field has a usable default, so a missing config file yields a
// working single-commander setup. Load applies defaults, then environment
// overrides, then Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Invoker modes.
const (
	InvokerLocal = "local"
	InvokerHTTP  = "http"
)

// Registry selection policies.
const (
	PolicyRandom     = "random"
	PolicyRoundRobin = "round-robin"
)

// EnvAgentToken overrides Dispatch.Token when set.
const EnvAgentToken = "AG3_AGENT_TOKEN"

// DefaultCapabilities are the capabilities of the default commander.
var DefaultCapabilities = []string{
	"route", "analysis", "marketing", "content", "monitor",
	"parse", "fs", "deploy", "rollback", "optimize",
}

// Config is the full orchestrator configuration.
type Config struct {
	Fleet     []AgentConfig   `yaml:"fleet" toml:"fleet"`
	Pillars   []PillarConfig  `yaml:"pillars" toml:"pillars"`
	Events    []EventTemplate `yaml:"events" toml:"events"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Dispatch  DispatchConfig  `yaml:"dispatch" toml:"dispatch"`
	Cycles    CyclesConfig    `yaml:"cycles" toml:"cycles"`
	Retention RetentionConfig `yaml:"retention" toml:"retention"`
	Launch    LaunchConfig    `yaml:"launch" toml:"launch"`
	Inbox     InboxConfig     `yaml:"inbox" toml:"inbox"`
}

// AgentConfig declares one agent registered at startup.
type AgentConfig struct {
	Name         string   `yaml:"name" toml:"name"`
	Role         string   `yaml:"role" toml:"role"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`
	Endpoint     string   `yaml:"endpoint" toml:"endpoint"`
}

// Pillar types.
const (
	PillarRevenue      = "revenue"
	PillarBrand        = "brand"
	PillarExperimental = "experimental"
)

// PillarConfig declares one business pillar in the catalog.
type PillarConfig struct {
	ID          string   `yaml:"id" toml:"id"`
	Type        string   `yaml:"type" toml:"type"`
	Name        string   `yaml:"name" toml:"name"`
	Offer       string   `yaml:"offer" toml:"offer"`
	Price       float64  `yaml:"price" toml:"price"`
	Currency    string   `yaml:"currency" toml:"currency"`
	Marketing   []string `yaml:"marketing" toml:"marketing"`
	Fulfillment string   `yaml:"fulfillment" toml:"fulfillment"`
	QA          bool     `yaml:"qa" toml:"qa"`
}

// DefaultPillars is the built-in catalog used when the config names none.
func DefaultPillars() []PillarConfig {
	return []PillarConfig{
		{
			ID:          "automation_agency",
			Type:        PillarRevenue,
			Name:        "Infinity Automation Agency",
			Offer:       "Done-for-you business automation and AI ops",
			Price:       499,
			Currency:    "USD",
			Marketing:   []string{"cold_email", "direct_outreach"},
			Fulfillment: "automation_setup",
			QA:          true,
		},
		{
			ID:          "infinity_mastery",
			Type:        PillarBrand,
			Name:        "Infinity Mastery",
			Offer:       "Elite AI mastery, systems thinking, and execution training",
			Price:       49,
			Currency:    "USD",
			Marketing:   []string{"content_seeding"},
			Fulfillment: "content_delivery",
			QA:          true,
		},
		{
			ID:          "concierge_experimental",
			Type:        PillarExperimental,
			Name:        "Infinity Concierge",
			Offer:       "High-touch AI concierge for founders and executives",
			Price:       999,
			Currency:    "USD",
			Marketing:   []string{"invite_only"},
			Fulfillment: "concierge_ops",
			QA:          true,
		},
	}
}

// EventTemplate maps an event type onto a mission. Fields lists the keys
// copied into the mission payload; empty copies the whole event object.
type EventTemplate struct {
	Type        string   `yaml:"type" toml:"type"`
	MissionType string   `yaml:"mission_type" toml:"mission_type"`
	Capability  string   `yaml:"capability" toml:"capability"`
	Fields      []string `yaml:"fields" toml:"fields"`
}

// RegistryConfig configures agent selection.
type RegistryConfig struct {
	Policy     string   `yaml:"policy" toml:"policy"`
	StaleAfter Duration `yaml:"stale_after" toml:"stale_after"`
}

// DispatchConfig configures the commander dispatcher and its invoker.
type DispatchConfig struct {
	Invoker      string   `yaml:"invoker" toml:"invoker"`
	Token        string   `yaml:"token" toml:"token"`
	Timeout      Duration `yaml:"timeout" toml:"timeout"`
	FallbackPoll Duration `yaml:"fallback_poll" toml:"fallback_poll"`
}

// CycleConfig is shared by all scheduled cycles.
type CycleConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Disabled bool     `yaml:"disabled" toml:"disabled"`
}

// GrowthConfig configures the growth cycle.
type GrowthConfig struct {
	CycleConfig    `yaml:",inline"`
	MaxSubscribers int `yaml:"max_subscribers" toml:"max_subscribers"`
	InviteCount    int `yaml:"invite_count" toml:"invite_count"`
}

// OutboundConfig configures the outbound-lead cycle.
type OutboundConfig struct {
	CycleConfig `yaml:",inline"`
	DailyCap    int    `yaml:"daily_cap" toml:"daily_cap"`
	Batch       int    `yaml:"batch" toml:"batch"` // 0 = all remaining
	Pillar      string `yaml:"pillar" toml:"pillar"`
}

// ReplyConfig configures the reply-check cycle.
type ReplyConfig struct {
	CycleConfig `yaml:",inline"`
	Maildir     string `yaml:"maildir" toml:"maildir"`
}

// AutopilotConfig configures the autopilot programs. Unlike the other
// cycles it is off unless Enabled is set.
type AutopilotConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Programs []string `yaml:"programs" toml:"programs"`
}

// AgentHealthConfig configures active /health checks against agent
// endpoints. Like autopilot it is off unless Enabled is set.
type AgentHealthConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
}

// CyclesConfig groups the scheduled cycles. PillarDeploy runs once at
// startup unless it is given an interval.
type CyclesConfig struct {
	Growth       GrowthConfig      `yaml:"growth" toml:"growth"`
	LaunchAudit  CycleConfig       `yaml:"launch_audit" toml:"launch_audit"`
	Outbound     OutboundConfig    `yaml:"outbound" toml:"outbound"`
	ReplyCheck   ReplyConfig       `yaml:"reply_check" toml:"reply_check"`
	Autopilot    AutopilotConfig   `yaml:"autopilot" toml:"autopilot"`
	PillarDeploy CycleConfig       `yaml:"pillar_deploy" toml:"pillar_deploy"`
	AgentHealth  AgentHealthConfig `yaml:"agent_health" toml:"agent_health"`
}

// RetentionConfig bounds the seen-event set. With Disabled set, ids are
// kept forever.
type RetentionConfig struct {
	SeenEvents Duration `yaml:"seen_events" toml:"seen_events"`
	Interval   Duration `yaml:"interval" toml:"interval"`
	Disabled   bool     `yaml:"disabled" toml:"disabled"`
}

// LaunchConfig feeds the launch auditor.
type LaunchConfig struct {
	// Checks are static pass/fail entries appended to the probe results.
	Checks map[string]bool `yaml:"checks" toml:"checks"`
	// PaymentVerified forces payment_flow_verified to pass.
	PaymentVerified bool `yaml:"payment_verified" toml:"payment_verified"`
}

// InboxConfig configures the drop directory watcher.
type InboxConfig struct {
	Dir          string   `yaml:"dir" toml:"dir"`
	Disabled     bool     `yaml:"disabled" toml:"disabled"`
	FallbackPoll Duration `yaml:"fallback_poll" toml:"fallback_poll"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	return c.withDefaults()
}

func (c *Config) withDefaults() Config {
	out := *c
	if len(out.Fleet) == 0 {
		out.Fleet = []AgentConfig{{
			Name:         "ag4",
			Role:         "commander",
			Capabilities: append([]string(nil), DefaultCapabilities...),
		}}
	}
	if len(out.Pillars) == 0 {
		out.Pillars = DefaultPillars()
	}
	if out.Registry.Policy == "" {
		out.Registry.Policy = PolicyRandom
	}
	if out.Registry.StaleAfter == 0 {
		out.Registry.StaleAfter = Duration(5 * time.Minute)
	}
	if out.Dispatch.Invoker == "" {
		out.Dispatch.Invoker = InvokerLocal
	}
	if out.Dispatch.Timeout == 0 {
		out.Dispatch.Timeout = Duration(30 * time.Second)
	}
	if out.Dispatch.FallbackPoll == 0 {
		out.Dispatch.FallbackPoll = Duration(10 * time.Second)
	}
	if out.Cycles.Growth.Interval == 0 {
		out.Cycles.Growth.Interval = Duration(24 * time.Hour)
	}
	if out.Cycles.Growth.MaxSubscribers == 0 {
		out.Cycles.Growth.MaxSubscribers = 10
	}
	if out.Cycles.Growth.InviteCount == 0 {
		out.Cycles.Growth.InviteCount = 3
	}
	if out.Cycles.LaunchAudit.Interval == 0 {
		out.Cycles.LaunchAudit.Interval = Duration(10 * time.Minute)
	}
	if out.Cycles.Outbound.Interval == 0 {
		out.Cycles.Outbound.Interval = Duration(24 * time.Hour)
	}
	if out.Cycles.Outbound.DailyCap == 0 {
		out.Cycles.Outbound.DailyCap = 5
	}
	if out.Cycles.Outbound.Pillar == "" {
		out.Cycles.Outbound.Pillar = out.Pillars[0].ID
	}
	if out.Cycles.ReplyCheck.Interval == 0 {
		out.Cycles.ReplyCheck.Interval = Duration(10 * time.Minute)
	}
	if out.Cycles.Autopilot.Interval == 0 {
		out.Cycles.Autopilot.Interval = Duration(time.Hour)
	}
	if len(out.Cycles.Autopilot.Programs) == 0 {
		out.Cycles.Autopilot.Programs = []string{"expansion", "marketing", "revenue"}
	}
	if out.Cycles.AgentHealth.Interval == 0 {
		out.Cycles.AgentHealth.Interval = Duration(time.Minute)
	}
	if out.Cycles.AgentHealth.Timeout == 0 {
		out.Cycles.AgentHealth.Timeout = Duration(1500 * time.Millisecond)
	}
	if out.Retention.SeenEvents == 0 {
		out.Retention.SeenEvents = Duration(30 * 24 * time.Hour)
	}
	if out.Retention.Interval == 0 {
		out.Retention.Interval = Duration(24 * time.Hour)
	}
	if out.Inbox.FallbackPoll == 0 {
		out.Inbox.FallbackPoll = Duration(30 * time.Second)
	}
	return out
}

// Load reads the config file at path. The decoder is chosen by extension:
// .toml uses TOML, anything else YAML. A missing file is not an error and
// yields Default(). Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		//nolint:gosec // path comes from the operator
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, data, &c); err != nil {
				return Config{}, err
			}
		}
	}

	out := c.withDefaults()
	out.applyEnv()
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

func decode(path string, data []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAgentToken); v != "" {
		c.Dispatch.Token = v
	}
}

// Validate reports the first invalid setting. An invalid config is the only
// startup-fatal condition.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Fleet))
	for i, a := range c.Fleet {
		if a.Name == "" {
			return fmt.Errorf("fleet[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("fleet[%d]: duplicate agent %q", i, a.Name)
		}
		seen[a.Name] = true
		if len(a.Capabilities) == 0 {
			return fmt.Errorf("fleet[%d] %s: at least one capability is required", i, a.Name)
		}
		if c.Dispatch.Invoker == InvokerHTTP && a.Endpoint == "" {
			return fmt.Errorf("fleet[%d] %s: endpoint is required with the http invoker", i, a.Name)
		}
	}

	pillars := make(map[string]bool, len(c.Pillars))
	for i, p := range c.Pillars {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("pillars[%d]: id and name are required", i)
		}
		if pillars[p.ID] {
			return fmt.Errorf("pillars[%d]: duplicate pillar %q", i, p.ID)
		}
		pillars[p.ID] = true
		switch p.Type {
		case PillarRevenue, PillarBrand, PillarExperimental:
		default:
			return fmt.Errorf("pillars[%d] %s: unknown type %q", i, p.ID, p.Type)
		}
		if p.Price < 0 {
			return fmt.Errorf("pillars[%d] %s: price must not be negative", i, p.ID)
		}
	}

	types := make(map[string]bool, len(c.Events))
	for i, e := range c.Events {
		if e.Type == "" || e.MissionType == "" || e.Capability == "" {
			return fmt.Errorf("events[%d]: type, mission_type and capability are required", i)
		}
		if types[e.Type] {
			return fmt.Errorf("events[%d]: duplicate event type %q", i, e.Type)
		}
		types[e.Type] = true
	}

	switch c.Registry.Policy {
	case PolicyRandom, PolicyRoundRobin:
	default:
		return fmt.Errorf("registry.policy: unknown policy %q", c.Registry.Policy)
	}

	switch c.Dispatch.Invoker {
	case InvokerLocal:
	case InvokerHTTP:
		if c.Dispatch.Token == "" {
			return fmt.Errorf("dispatch.token: required with the http invoker (or set %s)", EnvAgentToken)
		}
	default:
		return fmt.Errorf("dispatch.invoker: unknown invoker %q", c.Dispatch.Invoker)
	}

	if c.Cycles.Outbound.DailyCap < 0 {
		return fmt.Errorf("cycles.outbound.daily_cap: must not be negative")
	}
	if c.Cycles.Outbound.Batch < 0 {
		return fmt.Errorf("cycles.outbound.batch: must not be negative")
	}
	if !pillars[c.Cycles.Outbound.Pillar] {
		return fmt.Errorf("cycles.outbound.pillar: unknown pillar %q", c.Cycles.Outbound.Pillar)
	}
	if c.Cycles.AgentHealth.Timeout < 0 {
		return fmt.Errorf("cycles.agent_health.timeout: must not be negative")
	}
	if c.Retention.SeenEvents < 0 {
		return fmt.Errorf("retention.seen_events: must not be negative")
	}

	for _, p := range c.Cycles.Autopilot.Programs {
		if !KnownProgram(p) {
			return fmt.Errorf("cycles.autopilot.programs: unknown program %q", p)
		}
	}
	return nil
}

// KnownProgram reports whether name is a built-in autopilot program.
func KnownProgram(name string) bool {
	switch name {
	case "expansion", "marketing", "revenue":
		return true
	}
	return false
}
