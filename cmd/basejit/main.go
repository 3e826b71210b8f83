package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"basejit/pkg/bytecode"
	"basejit/pkg/profilestore"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  basejit run [-config f] [-mode jit|interpreter] [-disasm] [-profile-db dir] [-v] file.bc [args...]
  basejit disasm file.bc
  basejit profiles -profile-db dir
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if len(os.Args) < 2 {
		usage()
	}
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		runCommand(args)
	case "disasm":
		disasmCommand(args)
	case "profiles":
		profilesCommand(args)
	default:
		usage()
	}
}

func assembleFile(path string) *bytecode.Program {
	src, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	p, err := bytecode.Assemble(string(src))
	if err != nil {
		log.Fatalf("Failed to assemble %s: %v", path, err)
	}
	return p
}

func disasmCommand(args []string) {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}
	p := assembleFile(fs.Arg(0))
	if err := bytecode.DisassembleProgram(os.Stdout, p); err != nil {
		log.Fatalf("Failed to write listing: %v", err)
	}
}

func profilesCommand(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	dir := fs.String("profile-db", "", "Path to the profile database")
	fs.Parse(args)
	if *dir == "" {
		log.Fatal("Error: -profile-db flag is required")
	}
	store, err := profilestore.Open(*dir)
	if err != nil {
		log.Fatalf("Failed to open profile store: %v", err)
	}
	defer store.Close()
	entries, err := store.List()
	if err != nil {
		log.Fatalf("Failed to list profiles: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s %s\n", e.Fingerprint, e.Name)
	}
}
