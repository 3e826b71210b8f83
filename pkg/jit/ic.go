//go:build linux && amd64

package jit

import (
	"fortio.org/safecast"
	"github.com/cockroachdb/errors"

	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// Inline cache stubs. A stub is generated into executable memory next to the
// unit it serves and reached through the unit's patchable jump. It either
// produces the result in RAX and jumps to the site's Done offset, or jumps
// to the site's slow path.

type stubFixup struct {
	at     int
	target uintptr
}

// stubBuilder assembles code whose jumps leave the stub for absolute
// addresses known before installation.
type stubBuilder struct {
	asm    *Assembler
	fixups []stubFixup
}

func newStubBuilder() *stubBuilder {
	return &stubBuilder{asm: NewAssembler(64)}
}

func (b *stubBuilder) jmpTo(target uintptr) {
	b.fixups = append(b.fixups, stubFixup{at: b.asm.JmpRel32(0), target: target})
}

func (b *stubBuilder) jccTo(cond Cond, target uintptr) {
	b.fixups = append(b.fixups, stubFixup{at: b.asm.Jcc(cond, 0), target: target})
}

// install copies the stub into mem, resolving its jumps against the final
// address.
func (b *stubBuilder) install(mem *ExecutableMemory) (uintptr, error) {
	code := b.asm.Bytes()
	addr, buf, err := mem.Allocate(len(code))
	if err != nil {
		return 0, err
	}
	for _, f := range b.fixups {
		rel, err := safecast.Convert[int32](int64(f.target) - int64(addr+uintptr(f.at)+4))
		if err != nil {
			return 0, errors.Wrapf(err, "stub jump to %#x out of range", f.target)
		}
		b.asm.PutInt32(f.at, rel)
	}
	copy(buf, b.asm.Bytes())
	return addr, nil
}

// retarget points the patchable jump of p at target with a single aligned
// store.
func (rt *Runtime) retarget(code *Code, p *PatchableSite, target uintptr) error {
	at := code.AddressOf(p.Displacement)
	rel, err := safecast.Convert[int32](int64(target) - int64(at+4))
	if err != nil {
		return errors.Wrapf(err, "%s@%d: patch target out of range", code.Unit.Name, p.Index)
	}
	return rt.mem.Repatch32(at, rel)
}

// genericOperation is the routine a megamorphic site falls back to.
func (k PatchKind) genericOperation() OperationID {
	if k == PatchInstanceOf {
		return OperationInstanceOfGeneric
	}
	return OperationHasIndexedPropertyGeneric
}

func (k PatchKind) String() string {
	if k == PatchInstanceOf {
		return "instanceof"
	}
	return "has_indexed_property"
}

// updateIC moves the site behind the current exit one step along its life
// cycle for a case identified by key. gen emits the specialized stub.
func (rt *Runtime) updateIC(a *activation, key [2]uint64, gen func(b *stubBuilder, slow, done uintptr) error) {
	if a.site.Patch < 0 || a.site.Patch >= len(a.code.Patches) {
		return
	}
	code := a.code
	p := code.Patches[a.site.Patch]

	rt.icMu.Lock()
	defer rt.icMu.Unlock()

	switch p.State() {
	case ICMegamorphic:
		return
	case ICMonomorphic:
		if p.key == key {
			// The stub covers this case and bailed for another reason.
			return
		}
		if n := p.misses.Add(1); n >= rt.opts.RepatchAfter {
			if err := rt.retarget(code, p, code.AddressOf(p.Slow)); err != nil {
				rt.logf("%s@%d: %v", code.Unit.Name, p.Index, err)
				return
			}
			code.Sites[p.Site].Retarget(p.Kind.genericOperation())
			p.setState(ICMegamorphic)
			rt.stats.repatches.Add(1)
			rt.logf("%s@%d: %s megamorphic after %d misses", code.Unit.Name, p.Index, p.Kind, n)
			return
		}
	}

	b := newStubBuilder()
	if err := gen(b, code.AddressOf(p.Slow), code.AddressOf(p.Done)); err != nil {
		rt.logf("%s@%d: %s stub: %v", code.Unit.Name, p.Index, p.Kind, err)
		return
	}
	stub, err := b.install(rt.mem)
	if err == nil {
		err = rt.retarget(code, p, stub)
	}
	if err != nil {
		rt.logf("%s@%d: %s stub: %v", code.Unit.Name, p.Index, p.Kind, err)
		return
	}
	p.key = key
	p.setState(ICMonomorphic)
	rt.stats.repatches.Add(1)
	rt.logf("%s@%d: %s stub for %#x/%#x at %#x", code.Unit.Name, p.Index, p.Kind, key[0], key[1], stub)
}

// updateInstanceOfIC caches the answer for objects of v's structure against
// proto. Prototype chains hang off structures, so the pair decides the
// result.
func (rt *Runtime) updateInstanceOfIC(a *activation, v, proto value.Value, result bool) {
	if !a.vm.IsObject(v) {
		return
	}
	sid := a.vm.Heap.StructureID(v.AsCell())
	key := [2]uint64{uint64(sid), proto.Bits()}
	rt.updateIC(a, key, func(b *stubBuilder, slow, done uintptr) error {
		id, err := safecast.Convert[int32](sid)
		if err != nil {
			return err
		}
		asm := b.asm
		asm.CmpMem32Imm(RAX, heap.CellStructureIDOffset, id)
		b.jccTo(CondNE, slow)
		asm.MovRegImm64(regScratch, proto.Bits())
		asm.CmpRegReg(RSI, regScratch)
		b.jccTo(CondNE, slow)
		asm.MovRegImm32(RAX, uint32(value.FromBool(result)))
		b.jmpTo(done)
		return nil
	})
}

// updateHasIndexedIC installs an in-bounds element check for base's
// structure and indexing shape. Holes and out-of-bounds indices take the
// slow path without counting as misses.
func (rt *Runtime) updateHasIndexedIC(a *activation, base value.Value) {
	shape, ok := isIndexableObject(a.vm, base)
	if !ok {
		return
	}
	sid := a.vm.Heap.StructureID(base.AsCell())
	key := [2]uint64{uint64(sid), uint64(shape)}
	rt.updateIC(a, key, func(b *stubBuilder, slow, done uintptr) error {
		id, err := safecast.Convert[int32](sid)
		if err != nil {
			return err
		}
		asm := b.asm
		// RAX base, RSI boxed int32 index, RCX structure ID.
		asm.CmpReg32Imm(RCX, id)
		b.jccTo(CondNE, slow)
		asm.MovRegMem8(RDX, RAX, heap.CellIndexingTypeOffset)
		asm.AndRegImm32(RDX, int32(heap.IndexingShapeMask))
		asm.CmpRegImm32(RDX, int32(shape))
		b.jccTo(CondNE, slow)
		asm.MovRegMem64(RDX, RAX, heap.ObjectButterflyOffset)
		asm.TestRegReg(RDX, RDX)
		b.jccTo(CondE, slow)
		asm.CmpRegMem32(RSI, RDX, heap.ButterflyPublicLengthOffset)
		b.jccTo(CondAE, slow)
		asm.MovRegReg32(RSI, RSI)
		asm.MovRegMemIdx64(RDX, RDX, RSI, 0)
		asm.TestRegReg(RDX, RDX)
		b.jccTo(CondE, slow)
		asm.MovRegImm32(RAX, uint32(value.True))
		b.jmpTo(done)
		return nil
	})
}
