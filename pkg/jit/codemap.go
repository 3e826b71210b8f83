package jit

import (
	"github.com/google/btree"
)

// codeRange says that code from offset on belongs to bytecode instruction
// index, either its hot path or its slow path.
type codeRange struct {
	offset int
	index  int
	slow   bool
}

// CodeMap maps machine code offsets back to bytecode indices. It backs
// disassembly annotation and the lookup of a faulting return address.
type CodeMap struct {
	ranges *btree.BTreeG[codeRange]
}

func NewCodeMap() *CodeMap {
	return &CodeMap{
		ranges: btree.NewG[codeRange](8, func(a, b codeRange) bool {
			return a.offset < b.offset
		}),
	}
}

// Add starts a range at offset. A later Add at the same offset (an
// instruction that emitted no code) replaces the earlier one.
func (m *CodeMap) Add(offset, index int, slow bool) {
	m.ranges.ReplaceOrInsert(codeRange{offset: offset, index: index, slow: slow})
}

// Lookup returns the instruction owning code offset off and whether off is
// in its slow path.
func (m *CodeMap) Lookup(off int) (index int, slow bool, ok bool) {
	m.ranges.DescendLessOrEqual(codeRange{offset: off}, func(r codeRange) bool {
		index, slow, ok = r.index, r.slow, true
		return false
	})
	return index, slow, ok
}

// Len is the number of ranges.
func (m *CodeMap) Len() int { return m.ranges.Len() }
