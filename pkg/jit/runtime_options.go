package jit

import (
	"log"
	"sort"

	"basejit/pkg/vm"
)

// DefaultCodeSize is the executable region mapped when none is configured.
const DefaultCodeSize = 16 * 1024 * 1024

// DefaultRepatchAfter is how many differing cases a monomorphic inline
// cache absorbs before it gives up on stubs.
const DefaultRepatchAfter = 4

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	Options

	// CodeSize is the size of the executable region; 0 means DefaultCodeSize.
	CodeSize int
	// Workers bounds concurrent compilations in CompileAll.
	Workers int
	// RepatchAfter is the miss count that turns an inline cache megamorphic.
	RepatchAfter uint32
	// Verbose receives compile, repatch and tier-up events when set.
	Verbose *log.Logger
	// Fallback runs units that fail to compile. Without it the compile
	// error is returned to the caller.
	Fallback vm.Executor
}

func (o RuntimeOptions) withDefaults() RuntimeOptions {
	o.Options = o.Options.withDefaults()
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RepatchAfter == 0 {
		o.RepatchAfter = DefaultRepatchAfter
	}
	return o
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Compiled     uint64
	Entries      uint64
	Exits        uint64
	OSRTransfers uint64
	Repatches    uint64
	// Calls counts exits per generic operation.
	Calls map[OperationID]uint64
}

// TotalCalls is the number of generic operations run on behalf of
// generated code.
func (s Stats) TotalCalls() uint64 {
	var n uint64
	for _, c := range s.Calls {
		n += c
	}
	return n
}

// Operations lists the operations with at least one call, most frequent
// first.
func (s Stats) Operations() []OperationID {
	ops := make([]OperationID, 0, len(s.Calls))
	for op := range s.Calls {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if s.Calls[ops[i]] != s.Calls[ops[j]] {
			return s.Calls[ops[i]] > s.Calls[ops[j]]
		}
		return ops[i] < ops[j]
	})
	return ops
}
