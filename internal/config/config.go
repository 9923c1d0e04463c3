package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
	"github.com/danielpatrickdp/magi/go-controller/internal/gate"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// DefaultTimeoutSeconds applies to any backend without a positive timeout.
const DefaultTimeoutSeconds = 600

// dockerEnvPath marks a process running inside a Docker container.
var dockerEnvPath = "/.dockerenv"

// #region types

// Config is the complete controller configuration.
type Config struct {
	Backends  BackendsConfig  `mapstructure:"backends"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Battle    BattleConfig    `mapstructure:"battle"`
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BackendsConfig holds the three generator endpoints.
type BackendsConfig struct {
	// DefaultTimeoutSeconds is used by backends whose own timeout is not positive
	DefaultTimeoutSeconds float64       `mapstructure:"default_timeout_seconds"`
	Codex                 BackendConfig `mapstructure:"codex"`
	Claude                BackendConfig `mapstructure:"claude"`
	Gemini                BackendConfig `mapstructure:"gemini"`
}

// BackendConfig is one generator endpoint.
type BackendConfig struct {
	// URL is http(s)://host:port for a wrapper or grpc://host:port; empty runs Command locally
	URL string `mapstructure:"url"`
	// Command is the CLI invocation, split on whitespace
	Command        string  `mapstructure:"command"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

// ConsensusConfig controls vote aggregation.
type ConsensusConfig struct {
	Weights                 WeightsConfig `mapstructure:"weights"`
	ConditionalWeight       float64       `mapstructure:"conditional_weight"`
	ApproveThreshold        float64       `mapstructure:"approve_threshold"`
	SafetyOverrideThreshold float64       `mapstructure:"safety_override_threshold"`
	ConditionalCeiling      float64       `mapstructure:"conditional_ceiling"`
	// DefaultCriticality is CRITICAL, NORMAL or LOW; anything else reads as NORMAL
	DefaultCriticality string `mapstructure:"default_criticality"`
	VerboseDefault     bool   `mapstructure:"verbose_default"`
}

// WeightsConfig holds per-persona vote weights.
type WeightsConfig struct {
	Melchior  float64 `mapstructure:"melchior"`
	Balthasar float64 `mapstructure:"balthasar"`
	Caspar    float64 `mapstructure:"caspar"`
}

// BattleConfig controls the proposal-battle pipeline.
type BattleConfig struct {
	// FallbackPolicy is strict or lenient; anything else reads as lenient
	FallbackPolicy string `mapstructure:"fallback_policy"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr                   string `mapstructure:"addr"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	// Driver is memory or sqlite
	Driver string `mapstructure:"driver"`
	// DSN is the sqlite path; empty keeps the database in memory
	DSN string `mapstructure:"dsn"`
}

// AuditConfig controls the decision trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// DSN is the sqlite path; empty shares the sqlite session store or stays in memory
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// #endregion

// #region defaults

// Default returns the built-in configuration.
func Default() *Config {
	host := wrapperHost()
	return &Config{
		Backends: BackendsConfig{
			DefaultTimeoutSeconds: DefaultTimeoutSeconds,
			Codex:                 BackendConfig{URL: fmt.Sprintf("http://%s:9001", host), Command: "codex exec --skip-git-repo-check"},
			Claude:                BackendConfig{URL: fmt.Sprintf("http://%s:9002", host), Command: "claude generate"},
			Gemini:                BackendConfig{URL: fmt.Sprintf("http://%s:9003", host), Command: "gemini generate"},
		},
		Consensus: ConsensusConfig{
			Weights:                 WeightsConfig{Melchior: 0.4, Balthasar: 0.35, Caspar: 0.25},
			ConditionalWeight:       0.3,
			ApproveThreshold:        0.3,
			SafetyOverrideThreshold: 0.7,
			ConditionalCeiling:      0.8,
			DefaultCriticality:      string(gate.Normal),
		},
		Battle:  BattleConfig{FallbackPolicy: string(battle.Lenient)},
		Server:  ServerConfig{Addr: "127.0.0.1:8787", ShutdownTimeoutSeconds: 10},
		Session: SessionConfig{Driver: "memory"},
		Audit:   AuditConfig{Enabled: true},
		Logging: LoggingConfig{Level: "INFO", Format: "json"},
	}
}

// wrapperHost is host.docker.internal inside a container, loopback otherwise.
func wrapperHost() string {
	if _, err := os.Stat(dockerEnvPath); err == nil {
		return "host.docker.internal"
	}
	return "127.0.0.1"
}

// legacyEnv maps config keys to the environment names older deployments used.
var legacyEnv = map[string][]string{
	"backends.codex.url":               {"CODEX_WRAPPER_URL"},
	"backends.claude.url":              {"CLAUDE_WRAPPER_URL"},
	"backends.gemini.url":              {"GEMINI_WRAPPER_URL"},
	"backends.codex.command":           {"CODEX_COMMAND"},
	"backends.claude.command":          {"CLAUDE_COMMAND"},
	"backends.gemini.command":          {"GEMINI_COMMAND"},
	"backends.codex.timeout_seconds":   {"CODEX_TIMEOUT"},
	"backends.claude.timeout_seconds":  {"CLAUDE_TIMEOUT"},
	"backends.gemini.timeout_seconds":  {"GEMINI_TIMEOUT"},
	"backends.default_timeout_seconds": {"MAGI_TIMEOUT_DEFAULT", "LLM_TIMEOUT"},
	"battle.fallback_policy":           {"MAGI_FALLBACK_POLICY"},
	"consensus.verbose_default":        {"MAGI_VERBOSE_DEFAULT"},
	"consensus.default_criticality":    {"MAGI_DEFAULT_CRITICALITY"},
}

// SetDefaults registers every default and environment binding on v.
// Environment variables use the MAGI_ prefix with dots as underscores,
// e.g. MAGI_CONSENSUS_WEIGHTS_MELCHIOR; the legacy names above still apply.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("backends.default_timeout_seconds", d.Backends.DefaultTimeoutSeconds)
	for name, b := range map[string]BackendConfig{"codex": d.Backends.Codex, "claude": d.Backends.Claude, "gemini": d.Backends.Gemini} {
		v.SetDefault("backends."+name+".url", b.URL)
		v.SetDefault("backends."+name+".command", b.Command)
		v.SetDefault("backends."+name+".timeout_seconds", b.TimeoutSeconds)
	}

	v.SetDefault("consensus.weights.melchior", d.Consensus.Weights.Melchior)
	v.SetDefault("consensus.weights.balthasar", d.Consensus.Weights.Balthasar)
	v.SetDefault("consensus.weights.caspar", d.Consensus.Weights.Caspar)
	v.SetDefault("consensus.conditional_weight", d.Consensus.ConditionalWeight)
	v.SetDefault("consensus.approve_threshold", d.Consensus.ApproveThreshold)
	v.SetDefault("consensus.safety_override_threshold", d.Consensus.SafetyOverrideThreshold)
	v.SetDefault("consensus.conditional_ceiling", d.Consensus.ConditionalCeiling)
	v.SetDefault("consensus.default_criticality", d.Consensus.DefaultCriticality)
	v.SetDefault("consensus.verbose_default", d.Consensus.VerboseDefault)

	v.SetDefault("battle.fallback_policy", d.Battle.FallbackPolicy)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout_seconds", d.Server.ShutdownTimeoutSeconds)

	v.SetDefault("session.driver", d.Session.Driver)
	v.SetDefault("session.dsn", d.Session.DSN)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.dsn", d.Audit.DSN)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix("MAGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{"MAGI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// #endregion

// #region load

// New returns a viper instance with defaults and, when path is non-empty,
// the YAML file at path.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// Load unmarshals v, normalizes policy, criticality and timeouts, then validates.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Battle.FallbackPolicy = string(battle.ParsePolicy(c.Battle.FallbackPolicy))
	c.Consensus.DefaultCriticality = string(gate.ParseCriticality(c.Consensus.DefaultCriticality))
	if c.Backends.DefaultTimeoutSeconds <= 0 {
		c.Backends.DefaultTimeoutSeconds = DefaultTimeoutSeconds
	}
	for _, b := range []*BackendConfig{&c.Backends.Codex, &c.Backends.Claude, &c.Backends.Gemini} {
		if b.TimeoutSeconds <= 0 {
			b.TimeoutSeconds = c.Backends.DefaultTimeoutSeconds
		}
		b.URL = strings.TrimSpace(b.URL)
	}
	c.Session.Driver = strings.ToLower(strings.TrimSpace(c.Session.Driver))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Watch re-reads the config file on every change and hands the result to
// onChange. A file that fails to load is reported with a nil config.
func Watch(v *viper.Viper, onChange func(*Config, error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		onChange(Load(v))
	})
	v.WatchConfig()
}

// #endregion

// #region accessors

// Backend returns the settings of one backend.
func (c *Config) Backend(id generator.BackendID) BackendConfig {
	switch id {
	case generator.Codex:
		return c.Backends.Codex
	case generator.Claude:
		return c.Backends.Claude
	case generator.Gemini:
		return c.Backends.Gemini
	}
	return BackendConfig{}
}

// Endpoints resolves every backend into a generator endpoint.
func (c *Config) Endpoints() map[generator.BackendID]generator.Endpoint {
	eps := make(map[generator.BackendID]generator.Endpoint, len(generator.Canonical))
	for _, id := range generator.Canonical {
		b := c.Backend(id)
		eps[id] = generator.Endpoint{
			URL:     b.URL,
			Command: strings.Fields(b.Command),
			Timeout: seconds(b.TimeoutSeconds),
		}
	}
	return eps
}

// GateConfig returns the aggregation weights and thresholds.
func (c *Config) GateConfig() gate.GateConfig {
	return gate.GateConfig{
		Weights: map[prompts.Persona]float64{
			prompts.Melchior:  c.Consensus.Weights.Melchior,
			prompts.Balthasar: c.Consensus.Weights.Balthasar,
			prompts.Caspar:    c.Consensus.Weights.Caspar,
		},
		ConditionalWeight:       c.Consensus.ConditionalWeight,
		ApproveThreshold:        c.Consensus.ApproveThreshold,
		SafetyOverrideThreshold: c.Consensus.SafetyOverrideThreshold,
		ConditionalCeiling:      c.Consensus.ConditionalCeiling,
	}
}

// Policy returns the normalized battle failure policy.
func (c *Config) Policy() battle.Policy { return battle.ParsePolicy(c.Battle.FallbackPolicy) }

// Criticality returns the normalized default criticality.
func (c *Config) Criticality() gate.Criticality {
	return gate.ParseCriticality(c.Consensus.DefaultCriticality)
}

// ShutdownTimeout returns the server drain deadline.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// #endregion
