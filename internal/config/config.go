// Package config loads the buildctl control file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/idempotency"
	"voxelbuild.ai/internal/verifier"
)

const (
	DefaultWorldURL         = "ws://127.0.0.1:8765/v1/world"
	DefaultMaxCommandLength = compiler.DefaultMaxCommandLength
	DefaultMaxDuration      = 3600 * time.Second
	DefaultMaxCommands      = 50000
	DefaultMaxChangedBlocks = 5_000_000
	DefaultBuildRounds      = 3

	// shorter limits cannot fit a single /setblock with coordinates
	minCommandLength = 32
)

type Config struct {
	World       WorldConfig       `yaml:"world"`
	Compiler    CompilerConfig    `yaml:"compiler"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Journal     JournalConfig     `yaml:"journal"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Build       BuildConfig       `yaml:"build"`
}

type WorldConfig struct {
	URL string `yaml:"url"`
	// Registry is an optional JSON list of block states to preload so state
	// ids stay stable across runs.
	Registry string `yaml:"registry,omitempty"`
}

type CompilerConfig struct {
	MaxCommandLength int `yaml:"max_command_length"`
}

type ExecutorConfig struct {
	Sequential bool                 `yaml:"sequential"`
	Budgets    executor.Budgets     `yaml:"budgets"`
	Zone       *geom.BBox           `yaml:"zone,omitempty"`
	Allowlist  []string             `yaml:"allowlist,omitempty"`
	Diffs      executor.DiffOptions `yaml:"diffs"`
}

type VerifierConfig struct {
	Threshold float64         `yaml:"threshold"`
	Policy    verifier.Policy `yaml:"policy"`
}

type JournalConfig struct {
	// Dir is empty to disable the journal.
	Dir string `yaml:"dir,omitempty"`
}

type IdempotencyConfig struct {
	// DB is a SQLite path; empty keeps results in memory only.
	DB  string        `yaml:"db,omitempty"`
	TTL time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	// Listen is empty to disable the /metrics endpoint.
	Listen string `yaml:"listen,omitempty"`
}

type BuildConfig struct {
	Rounds int `yaml:"rounds"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		World:    WorldConfig{URL: DefaultWorldURL},
		Compiler: CompilerConfig{MaxCommandLength: DefaultMaxCommandLength},
		Executor: ExecutorConfig{
			Budgets: executor.Budgets{
				MaxDuration:      DefaultMaxDuration,
				MaxCommands:      DefaultMaxCommands,
				MaxChangedBlocks: DefaultMaxChangedBlocks,
			},
			Diffs: executor.DiffOptions{Encoding: executor.EncodingCountsHash},
		},
		Verifier: VerifierConfig{
			Threshold: verifier.DefaultThreshold,
			Policy:    verifier.DefaultPolicy(),
		},
		Idempotency: IdempotencyConfig{TTL: idempotency.DefaultTTL},
		Build:       BuildConfig{Rounds: DefaultBuildRounds},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.World.URL = strings.TrimSpace(c.World.URL)
	if c.World.URL == "" {
		c.World.URL = DefaultWorldURL
	}
	if c.Compiler.MaxCommandLength == 0 {
		c.Compiler.MaxCommandLength = DefaultMaxCommandLength
	}
	if c.Verifier.Threshold == 0 {
		c.Verifier.Threshold = verifier.DefaultThreshold
	}
	if c.Executor.Diffs.Mode != executor.DiffNone && c.Executor.Diffs.Encoding == "" {
		c.Executor.Diffs.Encoding = executor.EncodingCountsHash
	}
	if c.Executor.Zone != nil {
		z := c.Executor.Zone.Normalize()
		c.Executor.Zone = &z
	}
	seen := map[string]bool{}
	allow := c.Executor.Allowlist[:0]
	for _, name := range c.Executor.Allowlist {
		name = blocks.CanonicalName(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		allow = append(allow, name)
	}
	c.Executor.Allowlist = allow
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = idempotency.DefaultTTL
	}
	if c.Build.Rounds == 0 {
		c.Build.Rounds = DefaultBuildRounds
	}
}

func (c Config) Validate() error {
	if c.Compiler.MaxCommandLength < minCommandLength {
		return fmt.Errorf("compiler.max_command_length must be >= %d", minCommandLength)
	}
	b := c.Executor.Budgets
	if b.MaxDuration < 0 || b.MaxCommands < 0 || b.MaxChangedBlocks < 0 {
		return fmt.Errorf("executor.budgets must be >= 0")
	}
	switch c.Executor.Diffs.Mode {
	case executor.DiffNone, executor.DiffPerStep, executor.DiffPerBBox:
	default:
		return fmt.Errorf("executor.diffs.mode %q must be per-step or per-bbox", c.Executor.Diffs.Mode)
	}
	switch c.Executor.Diffs.Encoding {
	case "", executor.EncodingCountsHash, executor.EncodingHash:
	default:
		return fmt.Errorf("executor.diffs.encoding %q must be counts+hash or hash", c.Executor.Diffs.Encoding)
	}
	if c.Verifier.Threshold <= 0 || c.Verifier.Threshold > 1 {
		return fmt.Errorf("verifier.threshold must be in (0, 1]")
	}
	if err := c.Verifier.Policy.Validate(); err != nil {
		return fmt.Errorf("verifier.policy: %w", err)
	}
	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("idempotency.ttl must be >= 0")
	}
	if c.Build.Rounds < 1 {
		return fmt.Errorf("build.rounds must be >= 1")
	}
	return nil
}

// Snapshot returns a deep copy. Callers keep using a snapshot unchanged while
// the watcher swaps in newer configs.
func (c Config) Snapshot() Config {
	out := c
	if c.Executor.Zone != nil {
		z := *c.Executor.Zone
		out.Executor.Zone = &z
	}
	if c.Executor.Allowlist != nil {
		out.Executor.Allowlist = append([]string(nil), c.Executor.Allowlist...)
	}
	return out
}

func (c Config) CompilerOptions() compiler.Options {
	return compiler.Options{MaxCommandLength: c.Compiler.MaxCommandLength}
}

// ExecutorOptions builds per-call options; key may be empty.
func (c Config) ExecutorOptions(key string) executor.Options {
	s := c.Snapshot()
	return executor.Options{
		Budgets:        s.Executor.Budgets,
		Safety:         executor.Safety{Zone: s.Executor.Zone, Allowlist: s.Executor.Allowlist},
		Diffs:          s.Executor.Diffs,
		Sequential:     s.Executor.Sequential,
		IdempotencyKey: key,
	}
}
