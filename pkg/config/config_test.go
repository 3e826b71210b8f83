package config

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestParseOverridesDefaults(t *testing.T) {
	t.Setenv(ModeEnv, "")
	cfg, err := Parse([]byte(`
mode: interpreter
code_size: 4MiB
heap_size: 64m
tier:
  threshold: 200
  enabled: false
ic:
  repatch_after: 8
verbose: true
`), "test.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := Default()
	want.Mode = ModeInterpreter
	want.CodeSize = 4 << 20
	want.HeapSize = 64 << 20
	want.Tier.Threshold = 200
	want.Tier.Enabled = false
	want.IC.RepatchAfter = 8
	want.Verbose = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}

	opts := cfg.RuntimeOptions(log.Default())
	if opts.TierUp || opts.CodeSize != 4<<20 || opts.RepatchAfter != 8 || opts.Verbose == nil {
		t.Errorf("runtime options = %+v", opts)
	}
	if v := cfg.VMOptions(); v.Heap.Size != 64<<20 || v.TierUpThreshold != 200 {
		t.Errorf("vm options = %+v", v)
	}
}

func TestParseErrors(t *testing.T) {
	t.Setenv(ModeEnv, "")
	cases := map[string]string{
		"unknown mode": "mode: turbo\n",
		"bad size":     "code_size: lots\n",
		"negative":     "tier:\n  threshold: -1\n",
		"not yaml":     "mode: [\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src), name); err == nil {
			t.Errorf("%s: Parse succeeded", name)
		}
	}
}

func TestModeFromEnvironment(t *testing.T) {
	t.Setenv(ModeEnv, "interpreter")
	cfg, err := Parse([]byte("mode: jit\n"), "env.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeInterpreter {
		t.Errorf("mode = %s, want interpreter", cfg.Mode)
	}
}

func TestLoadAndMarshal(t *testing.T) {
	t.Setenv(ModeEnv, "")
	path := filepath.Join(t.TempDir(), "basejit.yaml")
	data, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("round trip through %s (-want +got):\n%s", data, diff)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}
