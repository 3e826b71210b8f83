// Package config loads basejit.yaml.
package config

import (
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"basejit/pkg/heap"
	"basejit/pkg/jit"
	"basejit/pkg/vm"
)

// Mode selects the executor.
type Mode string

const (
	ModeJIT         Mode = "jit"
	ModeInterpreter Mode = "interpreter"
)

// ModeEnv overrides the configured mode when set to "interpreter".
const ModeEnv = "BASEJIT_MODE"

// Size is a byte count written as "16MiB", "256m" or a plain integer.
type Size int64

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: size must be a scalar", n.Line)
	}
	b, err := units.RAMInBytes(n.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	*s = Size(b)
	return nil
}

func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

func (s Size) String() string { return units.BytesSize(float64(s)) }

// Tier configures the tier-up counters.
type Tier struct {
	Enabled        bool  `yaml:"enabled"`
	Threshold      int32 `yaml:"threshold"`
	LoopIncrement  int32 `yaml:"loop_increment"`
	EntryIncrement int32 `yaml:"entry_increment"`
}

// IC configures inline caches.
type IC struct {
	// RepatchAfter is the miss count after which a site goes megamorphic.
	RepatchAfter uint32 `yaml:"repatch_after"`
}

type Config struct {
	Mode           Mode   `yaml:"mode"`
	CodeSize       Size   `yaml:"code_size"`
	HeapSize       Size   `yaml:"heap_size"`
	TypeLogEntries int    `yaml:"type_log_entries"`
	Tier           Tier   `yaml:"tier"`
	IC             IC     `yaml:"ic"`
	CompileWorkers int    `yaml:"compile_workers"`
	ProfileDB      string `yaml:"profile_db,omitempty"`
	Verbose        bool   `yaml:"verbose"`
}

func Default() *Config {
	return &Config{
		Mode:           ModeJIT,
		CodeSize:       jit.DefaultCodeSize,
		HeapSize:       heap.DefaultHeapSize,
		TypeLogEntries: vm.DefaultTypeLogCapacity,
		Tier: Tier{
			Enabled:        true,
			Threshold:      vm.DefaultTierUpThreshold,
			LoopIncrement:  jit.DefaultLoopIncrement,
			EntryIncrement: jit.DefaultEntryIncrement,
		},
		IC:             IC{RepatchAfter: jit.DefaultRepatchAfter},
		CompileWorkers: 4,
	}
}

// Load reads path over the defaults and applies the environment override.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data, path)
}

// Parse decodes data over the defaults. path is only used in messages.
func Parse(data []byte, path string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	cfg.ApplyEnv()
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv forces interpreter mode when BASEJIT_MODE=interpreter.
func (c *Config) ApplyEnv() {
	if Mode(os.Getenv(ModeEnv)) == ModeInterpreter {
		c.Mode = ModeInterpreter
	}
}

func (c *Config) validate(path string) error {
	switch c.Mode {
	case ModeJIT, ModeInterpreter:
	default:
		return errors.Newf("%s: unknown mode %q", path, c.Mode)
	}
	if c.CodeSize < 0 || c.HeapSize < 0 {
		return errors.Newf("%s: sizes must not be negative", path)
	}
	if c.Tier.Threshold < 0 || c.Tier.LoopIncrement < 0 || c.Tier.EntryIncrement < 0 {
		return errors.Newf("%s: tier counters must not be negative", path)
	}
	if c.CompileWorkers < 0 {
		return errors.Newf("%s: compile_workers must not be negative", path)
	}
	return nil
}

// VMOptions returns the VM settings of c.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		Heap:            heap.Options{Size: int(c.HeapSize)},
		TypeLogCapacity: c.TypeLogEntries,
		TierUpThreshold: c.Tier.Threshold,
	}
}

// RuntimeOptions returns the baseline runtime settings of c. logger
// receives runtime events when verbose is set.
func (c *Config) RuntimeOptions(logger *log.Logger) jit.RuntimeOptions {
	opts := jit.RuntimeOptions{
		Options: jit.Options{
			TierUp:         c.Tier.Enabled,
			LoopIncrement:  c.Tier.LoopIncrement,
			EntryIncrement: c.Tier.EntryIncrement,
		},
		CodeSize:     int(c.CodeSize),
		Workers:      c.CompileWorkers,
		RepatchAfter: c.IC.RepatchAfter,
	}
	if c.Verbose {
		opts.Verbose = logger
	}
	return opts
}
