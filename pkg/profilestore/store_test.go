package profilestore

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"basejit/pkg/bytecode"
)

const source = `
function main params=2 locals=2
    mov r0, 0
loop:
    profile_control_flow
    profile_type r0
    add r0, r0, a1
    has_indexed_property r1, a1, 0
    jless r0, 10, loop
    ret r0
end`

func assemble(t *testing.T, src string) *bytecode.Unit {
	t.Helper()
	p, err := bytecode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return p.Units[p.Main]
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t)

	u := assemble(t, source)
	u.ResultProfiles[0].Set(bytecode.NegZeroDouble | bytecode.LHSNonNumber)
	u.ArrayProfiles[0].ObserveShape(4)
	u.TypeLocations[0].Seen = bytecode.TypeAnyInt | bytecode.TypeNumber
	u.BasicBlocks[0].ExecutionCount = 12
	u.ExecuteCounter = -20
	if err := s.Save(u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh := assemble(t, source)
	fresh.ExecuteCounter = -1000
	ok, err := s.Load(fresh)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v; want true", ok, err)
	}
	if diff := cmp.Diff(Take(u), Take(fresh)); diff != "" {
		t.Errorf("restored profiles (-saved +loaded):\n%s", diff)
	}

	// Loading again accumulates counts but never lowers the counter.
	if _, err := s.Load(fresh); err != nil {
		t.Fatal(err)
	}
	if got := fresh.BasicBlocks[0].Count(); got != 24 {
		t.Errorf("block count after two loads = %d, want 24", got)
	}
	if fresh.ExecuteCounter != -20 {
		t.Errorf("execute counter = %d, want -20", fresh.ExecuteCounter)
	}
}

func TestLoadMissing(t *testing.T) {
	s := openStore(t)
	u := assemble(t, source)
	if err := s.Save(u); err != nil {
		t.Fatal(err)
	}

	other := assemble(t, `
function main params=1 locals=1
    mov r0, 1
    ret r0
end`)
	ok, err := s.Load(other)
	if err != nil || ok {
		t.Errorf("Load of an unknown unit = %v, %v; want false, nil", ok, err)
	}
}

func TestListAndDelete(t *testing.T) {
	s := openStore(t)
	p, err := bytecode.Assemble(source + `

function helper params=1 locals=1
    mov r0, 2
    ret r0
end`)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(p.Units...); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("%d entries, want 2", len(entries))
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["main"] || !names["helper"] {
		t.Errorf("entries = %v, want main and helper", entries)
	}

	if err := s.Delete(bytecode.FingerprintOf(p.Units[0])); err != nil {
		t.Fatal(err)
	}
	if entries, _ := s.List(); len(entries) != 1 {
		t.Errorf("%d entries after delete, want 1", len(entries))
	}
}

func TestApplyRejectsOtherLayout(t *testing.T) {
	snap := Take(assemble(t, source))
	other := assemble(t, `
function main params=1 locals=1
    ret 0
end`)
	if err := snap.Apply(other); err == nil {
		t.Errorf("Apply to a unit with a different layout succeeded")
	}
}
