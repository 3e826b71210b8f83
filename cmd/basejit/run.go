package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"basejit/pkg/bytecode"
	"basejit/pkg/config"
	"basejit/pkg/interp"
	"basejit/pkg/jit"
	"basejit/pkg/profilestore"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	mode := fs.String("mode", "", "Executor: jit or interpreter (overrides the config)")
	disasm := fs.Bool("disasm", false, "Dump the generated x86 code of every compiled unit")
	profileDB := fs.String("profile-db", "", "Directory of the profile database (overrides the config)")
	verbose := fs.Bool("v", false, "Log compilation, inline cache and tier-up events")
	fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	cfg.ApplyEnv()
	if *profileDB != "" {
		cfg.ProfileDB = *profileDB
	}
	if *verbose {
		cfg.Verbose = true
	}

	runID := uuid.New()
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", runID.String()[:8]), log.LstdFlags|log.Lmicroseconds)

	p := assembleFile(fs.Arg(0))
	opts := cfg.VMOptions()
	opts.Logger = logger
	v, err := vm.New(opts)
	if err != nil {
		log.Fatalf("Failed to create VM: %v", err)
	}
	defer v.Close()
	base, err := v.Link(p)
	if err != nil {
		log.Fatalf("Failed to link %s: %v", fs.Arg(0), err)
	}
	units := make([]*bytecode.Unit, len(p.Units))
	for i := range p.Units {
		units[i], _ = v.Unit(uint32(base + i))
	}
	entry := units[p.Main]

	var store *profilestore.Store
	if cfg.ProfileDB != "" {
		if store, err = profilestore.Open(cfg.ProfileDB); err != nil {
			log.Fatalf("Failed to open profile store: %v", err)
		}
		defer store.Close()
		loaded := 0
		for _, u := range units {
			ok, err := store.Load(u)
			if err != nil {
				logger.Printf("Ignoring stored profile of %s: %v", u.Name, err)
			}
			if ok {
				loaded++
			}
		}
		logger.Printf("Loaded %d of %d profiles from %s", loaded, len(units), cfg.ProfileDB)
	}

	in := interp.New(v)
	var (
		exec vm.Executor = in
		rt   *jit.Runtime
	)
	switch {
	case cfg.Mode == config.ModeInterpreter:
		logger.Printf("Using interpreter")
	case !jit.Supported:
		logger.Printf("Baseline JIT unavailable on this platform, using interpreter")
	default:
		ropts := cfg.RuntimeOptions(logger)
		ropts.Fallback = in
		if rt, err = jit.NewRuntime(v, ropts); err != nil {
			log.Fatalf("Failed to create JIT runtime: %v", err)
		}
		defer rt.Close()
		if cfg.Tier.Enabled {
			v.Tierer = interp.NewOSRTier(in)
		}
		exec = rt
	}
	v.Executor = exec

	callArgs, err := parseArgs(v, fs.Args()[1:])
	if err != nil {
		log.Fatalf("Invalid argument: %v", err)
	}
	r, err := exec.Execute(entry, value.Undefined, value.Undefined, callArgs)
	if err != nil {
		log.Fatalf("%s: %v", entry.Name, err)
	}
	fmt.Println(v.Display(r))

	if rt != nil {
		s := rt.Stats()
		logger.Printf("JIT: %d units compiled (%d of %d bytes), %d entries, %d generic calls, %d repatches, %d tier-up transfers",
			s.Compiled, rt.CodeUsed(), rt.CodeCapacity(), s.Entries, s.TotalCalls(), s.Repatches, s.OSRTransfers)
		if cfg.Verbose {
			for _, op := range s.Operations() {
				logger.Printf("  %-32s %d", op, s.Calls[op])
			}
		}
		if *disasm {
			dumpCode(os.Stdout, rt, units)
		}
	}

	if store != nil {
		if err := store.Save(units...); err != nil {
			log.Fatalf("Failed to save profiles: %v", err)
		}
	}
}

// parseArgs turns command line words into numbers where they parse as
// numbers and strings otherwise.
func parseArgs(v *vm.VM, words []string) ([]value.Value, error) {
	args := make([]value.Value, 0, len(words))
	for _, w := range words {
		if d, err := strconv.ParseFloat(w, 64); err == nil {
			args = append(args, value.FromNumber(d))
			continue
		}
		s, err := v.NewString(w)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	return args, nil
}

const (
	colorHeader = "\x1b[1;36m"
	colorReset  = "\x1b[0m"
)

func dumpCode(w *os.File, rt *jit.Runtime, units []*bytecode.Unit) {
	color := isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
	for _, u := range units {
		code, ok := rt.Code(u)
		if !ok {
			continue
		}
		var sb strings.Builder
		if err := rt.DumpInstalled(&sb, code); err != nil {
			log.Fatalf("Failed to disassemble %s: %v", u.Name, err)
		}
		if err := writeListing(w, sb.String(), color); err != nil {
			log.Fatalf("Failed to write listing: %v", err)
		}
	}
}

// writeListing copies a disassembly, highlighting label lines when color
// is set.
func writeListing(w io.Writer, listing string, color bool) error {
	bw := bufio.NewWriter(w)
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		line := sc.Text()
		if color && strings.HasSuffix(line, ":") {
			line = colorHeader + line + colorReset
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}
