package main

import (
	"strings"
	"testing"

	"basejit/pkg/value"
	"basejit/pkg/vm"
)

func TestParseArgs(t *testing.T) {
	v, err := vm.New(vm.Options{})
	if err != nil {
		t.Fatalf("Failed to create VM: %v", err)
	}
	defer v.Close()

	args, err := parseArgs(v, []string{"7", "-1.5", "x"})
	if err != nil {
		t.Fatal(err)
	}
	if args[0] != value.FromInt32(7) {
		t.Errorf("7 parsed as %s", v.Display(args[0]))
	}
	if args[1] != value.FromDouble(-1.5) {
		t.Errorf("-1.5 parsed as %s", v.Display(args[1]))
	}
	if !v.IsString(args[2]) || v.StringOf(args[2]) != "x" {
		t.Errorf("x parsed as %s", v.Display(args[2]))
	}
}

func TestWriteListingColorsHeaders(t *testing.T) {
	listing := "main: 12 bytes\nentry:\n0x0000: c3               ret\n"
	var plain, colored strings.Builder
	if err := writeListing(&plain, listing, false); err != nil {
		t.Fatal(err)
	}
	if plain.String() != listing {
		t.Errorf("plain listing changed:\n%s", plain.String())
	}
	if err := writeListing(&colored, listing, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(colored.String(), colorHeader+"entry:"+colorReset) {
		t.Errorf("header not highlighted:\n%q", colored.String())
	}
	if strings.Contains(colored.String(), colorHeader+"0x0000") {
		t.Errorf("instruction line highlighted:\n%q", colored.String())
	}
}
