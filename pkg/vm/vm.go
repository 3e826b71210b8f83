package vm

import (
	"io"
	"log"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

const (
	DefaultMaxCallDepth    = 1000
	DefaultTypeLogCapacity = 256
	DefaultTierUpThreshold = 1000
)

// Options configures a VM.
type Options struct {
	Heap            heap.Options
	MaxCallDepth    int
	TypeLogCapacity int
	// TierUpThreshold is the counter value a unit starts from (negated).
	TierUpThreshold int32
	Output          io.Writer
	Logger          *log.Logger
}

// State is the part of the VM generated code reads and writes directly.
// The VM keeps it at a fixed address for its lifetime.
type State struct {
	// Exception holds the pending exception cell, or zero.
	Exception uint64
	// NeedTrap is non-zero when check_traps must call out.
	NeedTrap uint32
	_        uint32
}

// VM owns the heap, the linked units and the generic runtime.
type VM struct {
	Heap  *heap.Heap
	State *State

	// Executor runs bytecode functions reached through calls.
	Executor Executor
	// Tierer is asked for a higher-tier continuation when a counter trips.
	Tierer Tierer
	// DebugHook, when set, is called by the debug instruction.
	DebugHook func(u *bytecode.Unit, index int, code int32)

	opts   Options
	log    *log.Logger
	output io.Writer

	unitsMu sync.RWMutex
	units   []*bytecode.Unit

	global   uintptr
	globalID uint32

	ObjectPrototype   value.Value
	FunctionPrototype value.Value
	ArrayPrototype    value.Value
	ErrorPrototype    value.Value
	StringPrototype   value.Value
	NumberPrototype   value.Value
	BooleanPrototype  value.Value
	SymbolPrototype   value.Value
	RegExpPrototype   value.Value

	objectStructures  map[structureKey]*heap.Structure
	arrayStructure    *heap.Structure
	functionStructure *heap.Structure
	hostStructure     *heap.Structure
	regexpStructure   *heap.Structure
	regexps           map[uintptr]*regexp.Regexp
	structuresMu      sync.Mutex

	hostFuncs      []hostFunction
	builtinObjects map[uintptr]bool
	builtinRoots   []value.Value
	symbols        []uintptr
	wellKnown      map[string]value.Value
	special        [numSpecialPointers]value.Value
	typeLog        *TypeProfilerLog
	terminating    atomic.Bool

	depth  int
	frames []*Frame
}

type structureKey struct {
	proto    value.Value
	capacity int
}

// New creates a VM with its heap, global object and built-in prototypes.
func New(opts Options) (*VM, error) {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.TypeLogCapacity <= 0 {
		opts.TypeLogCapacity = DefaultTypeLogCapacity
	}
	if opts.TierUpThreshold <= 0 {
		opts.TierUpThreshold = DefaultTierUpThreshold
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	h, err := heap.New(opts.Heap)
	if err != nil {
		return nil, errors.Wrap(err, "create heap")
	}
	vm := &VM{
		Heap:             h,
		State:            new(State),
		opts:             opts,
		log:              opts.Logger,
		output:           opts.Output,
		objectStructures: make(map[structureKey]*heap.Structure),
		regexps:          make(map[uintptr]*regexp.Regexp),
		wellKnown:        make(map[string]value.Value),
		builtinObjects:   make(map[uintptr]bool),
	}
	vm.typeLog = newTypeProfilerLog(opts.TypeLogCapacity)
	if err := vm.initBuiltins(); err != nil {
		h.Close()
		return nil, errors.Wrap(err, "initialize builtins")
	}
	return vm, nil
}

// Close releases the heap. Values of this VM must not be used afterwards.
func (vm *VM) Close() error { return vm.Heap.Close() }

func (vm *VM) Logger() *log.Logger { return vm.log }

func (vm *VM) Output() io.Writer { return vm.output }

func (vm *VM) TierUpThreshold() int32 { return vm.opts.TierUpThreshold }

// ExceptionAddress is the address of the pending-exception slot.
func (vm *VM) ExceptionAddress() uintptr { return uintptr(unsafe.Pointer(&vm.State.Exception)) }

// TrapAddress is the address of the trap flag tested by check_traps.
func (vm *VM) TrapAddress() uintptr { return uintptr(unsafe.Pointer(&vm.State.NeedTrap)) }

func (vm *VM) GlobalObject() value.Value { return value.FromCell(vm.global) }

func (vm *VM) GlobalObjectID() uint32 { return vm.globalID }

// Link materializes the constants and allocation profiles of every unit in
// p and makes them callable. It returns the index of the first unit.
func (vm *VM) Link(p *bytecode.Program) (int, error) {
	vm.unitsMu.Lock()
	base := len(vm.units)
	vm.unitsMu.Unlock()

	for _, u := range p.Units {
		if err := vm.linkUnit(u, base, len(p.Units)); err != nil {
			return 0, errors.Wrapf(err, "link %s", u.Name)
		}
	}

	vm.unitsMu.Lock()
	for i, u := range p.Units {
		u.Index = uint32(base + i)
		vm.units = append(vm.units, u)
	}
	vm.unitsMu.Unlock()
	return base, nil
}

func (vm *VM) linkUnit(u *bytecode.Unit, base, count int) error {
	values := make([]value.Value, len(u.Constants))
	for i, c := range u.Constants {
		if v, ok := c.Immediate(); ok {
			values[i] = v
			continue
		}
		switch c.Kind {
		case bytecode.ConstString:
			v, err := vm.NewString(c.Str)
			if err != nil {
				return err
			}
			values[i] = v
		case bytecode.ConstWellKnownSymbol:
			v, ok := vm.wellKnown[c.Str]
			if !ok {
				return errors.Newf("unknown well-known symbol @%s", c.Str)
			}
			values[i] = v
		default:
			return errors.Newf("constant %d has unknown kind %d", i, c.Kind)
		}
	}
	u.Values = values

	for _, ins := range u.Instructions {
		switch ins.Op {
		case bytecode.OpNewObject:
			s, err := vm.ObjectStructure(vm.ObjectPrototype, ins.Int(1))
			if err != nil {
				return err
			}
			p := &u.AllocationProfiles[ins.Args[2]]
			p.StructureID = s.ID
			p.InlineCapacity = uint32(s.InlineCapacity)
			if a := vm.Heap.AllocatorFor(heap.ObjectSize(s.InlineCapacity)); a != nil {
				p.Allocator = uint64(a.Address())
			}
		}
	}
	// Function indices are program-relative until linked.
	for i := range u.Instructions {
		ins := &u.Instructions[i]
		if ins.Op == bytecode.OpNewFunc || ins.Op == bytecode.OpNewFuncExp {
			if k := ins.Int(1); k < 0 || k >= count {
				return errors.Newf("@%d: function index %d out of range", i, k)
			}
			ins.Args[1] += int32(base)
		}
	}
	for i := range u.TypeLocations {
		vm.typeLog.register(&u.TypeLocations[i])
	}
	u.ExecuteCounter = -vm.opts.TierUpThreshold
	return nil
}

// Unit returns a linked unit by its VM-wide index.
func (vm *VM) Unit(index uint32) (*bytecode.Unit, bool) {
	vm.unitsMu.RLock()
	defer vm.unitsMu.RUnlock()
	if int(index) >= len(vm.units) {
		return nil, false
	}
	return vm.units[index], true
}

// Units returns a snapshot of every linked unit.
func (vm *VM) Units() []*bytecode.Unit {
	vm.unitsMu.RLock()
	defer vm.unitsMu.RUnlock()
	return append([]*bytecode.Unit(nil), vm.units...)
}

// ObjectStructure returns the shared root structure for plain objects with
// the given prototype and inline capacity.
func (vm *VM) ObjectStructure(proto value.Value, inlineCapacity int) (*heap.Structure, error) {
	if inlineCapacity < 0 {
		inlineCapacity = 0
	}
	if inlineCapacity > heap.MaxInlineCapacity {
		inlineCapacity = heap.MaxInlineCapacity
	}
	key := structureKey{proto: proto, capacity: inlineCapacity}
	vm.structuresMu.Lock()
	defer vm.structuresMu.Unlock()
	if s, ok := vm.objectStructures[key]; ok {
		return s, nil
	}
	s, err := vm.Heap.NewStructure(heap.FinalObjectType, 0, heap.NoIndexingShape, inlineCapacity, proto, vm.globalID)
	if err != nil {
		return nil, err
	}
	vm.objectStructures[key] = s
	return s, nil
}

// pushFrame makes f visible to the collector until the matching popFrame.
func (vm *VM) pushFrame(f *Frame) { vm.frames = append(vm.frames, f) }

func (vm *VM) popFrame() { vm.frames = vm.frames[:len(vm.frames)-1] }

// EnterFrame registers a frame for the duration of an execution. Executors
// call it around every activation they run.
func (vm *VM) EnterFrame(f *Frame) func() {
	vm.pushFrame(f)
	return vm.popFrame
}

// Safepoint notifies the collector. Every generic runtime call ends here.
func (vm *VM) Safepoint() {
	vm.Heap.Safepoint(func(visit func(*value.Value)) {
		for _, f := range vm.frames {
			for i := range f.Slots {
				visit(&f.Slots[i])
			}
		}
		for i := range vm.builtinRoots {
			visit(&vm.builtinRoots[i])
		}
		for i := range vm.special {
			visit(&vm.special[i])
		}
	})
}

// RequestTermination makes the next check_traps throw an uncatchable
// termination exception.
func (vm *VM) RequestTermination() {
	vm.terminating.Store(true)
	atomic.StoreUint32(&vm.State.NeedTrap, 1)
}

// HandleTraps services a pending trap request.
func (vm *VM) HandleTraps() error {
	if atomic.SwapUint32(&vm.State.NeedTrap, 0) == 0 {
		return nil
	}
	if vm.terminating.CompareAndSwap(true, false) {
		return vm.uncatchable(ErrorKindTermination, "execution terminated")
	}
	return nil
}

// Debug runs the debug hook.
func (vm *VM) Debug(u *bytecode.Unit, index int, code int32) {
	if vm.DebugHook != nil {
		vm.DebugHook(u, index, code)
	}
}

// SetPendingException stores the cell of e in the pending-exception slot.
func (vm *VM) SetPendingException(e *Exception) {
	atomic.StoreUint64(&vm.State.Exception, uint64(e.Cell))
}

// TakePendingException clears the pending slot and returns what it held.
func (vm *VM) TakePendingException() *Exception {
	cell := uintptr(atomic.SwapUint64(&vm.State.Exception, 0))
	if cell == 0 {
		return nil
	}
	return vm.exceptionFromCell(cell)
}

// PendingException reports the pending exception without clearing it.
func (vm *VM) PendingException() *Exception {
	cell := uintptr(atomic.LoadUint64(&vm.State.Exception))
	if cell == 0 {
		return nil
	}
	return vm.exceptionFromCell(cell)
}
