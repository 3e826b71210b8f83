package jit

import (
	"fortio.org/safecast"

	jiterrors "basejit/pkg/errors"
)

// Label is a handle into the compiler's label table. Jumps name labels, never
// raw offsets; every label is bound exactly once.
type Label int

const unbound = -1

// jumpRecord is a rel32 displacement at offset at waiting for label.
type jumpRecord struct {
	at    int
	label Label
}

// slowCase is a fast-path failure of instruction index. at is the offset of
// the rel32 displacement that must reach the instruction's slow path.
type slowCase struct {
	index int
	at    int
}

func (c *Compiler) newLabel() Label {
	c.labels = append(c.labels, unbound)
	return Label(len(c.labels) - 1)
}

// bind pins l to the current offset.
func (c *Compiler) bind(l Label) {
	if c.labels[l] != unbound {
		c.fail("label %d bound twice", l)
		return
	}
	c.labels[l] = c.asm.Offset()
}

func (c *Compiler) offsetOf(l Label) int { return c.labels[l] }

// jmp emits an unconditional jump to l.
func (c *Compiler) jmp(l Label) {
	at := c.asm.JmpRel32(0)
	c.jumps = append(c.jumps, jumpRecord{at: at, label: l})
}

// jcc emits a conditional jump to l.
func (c *Compiler) jcc(cond Cond, l Label) {
	at := c.asm.Jcc(cond, 0)
	c.jumps = append(c.jumps, jumpRecord{at: at, label: l})
}

// jumpTo targets the code of bytecode instruction target.
func (c *Compiler) jumpTo(target int) { c.jmp(c.instructionLabels[target]) }

func (c *Compiler) jccTo(cond Cond, target int) { c.jcc(cond, c.instructionLabels[target]) }

// slow records a fast-path failure of the current instruction.
func (c *Compiler) slow(cond Cond) {
	at := c.asm.Jcc(cond, 0)
	c.slowCases = append(c.slowCases, slowCase{index: c.index, at: at})
}

// slowJmp records an unconditional transfer to the slow path.
func (c *Compiler) slowJmp() {
	at := c.asm.JmpRel32(0)
	c.slowCases = append(c.slowCases, slowCase{index: c.index, at: at})
}

// link resolves every jump record. Any label left unbound aborts the compile.
func (c *Compiler) link() error {
	for _, j := range c.jumps {
		target := c.labels[j.label]
		if target == unbound {
			return jiterrors.CompileErrorf(c.unit.Name, -1, "jump at %#x to unbound label %d", j.at, j.label)
		}
		rel, err := safecast.Convert[int32](target - (j.at + 4))
		if err != nil {
			return jiterrors.WrapCompileError(err, c.unit.Name, -1, "jump displacement out of range")
		}
		c.asm.PutInt32(j.at, rel)
	}
	c.jumps = c.jumps[:0]
	return nil
}

// bindSlowCases points every pending slow case of instruction index at the
// current offset. Slow cases are consumed in the order they were recorded,
// which is instruction order.
func (c *Compiler) bindSlowCases(index int) int {
	n := 0
	for c.nextSlowCase < len(c.slowCases) && c.slowCases[c.nextSlowCase].index == index {
		sc := c.slowCases[c.nextSlowCase]
		c.asm.PutInt32(sc.at, int32(c.asm.Offset()-(sc.at+4)))
		c.nextSlowCase++
		n++
	}
	return n
}
