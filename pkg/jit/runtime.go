//go:build linux && amd64

package jit

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"basejit/pkg/bytecode"
	jiterrors "basejit/pkg/errors"
	"basejit/pkg/jit/asm"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Supported reports whether generated code can run on this platform.
const Supported = true

// unitSlot publishes the installed code of one unit.
type unitSlot struct {
	mu   sync.Mutex
	code atomic.Pointer[Code]
}

type runtimeStats struct {
	compiled     atomic.Uint64
	entries      atomic.Uint64
	exits        atomic.Uint64
	osrTransfers atomic.Uint64
	repatches    atomic.Uint64
	calls        [numOperations]atomic.Uint64
}

// Runtime compiles units on first use and runs them. It implements
// vm.Executor.
type Runtime struct {
	ID uuid.UUID

	vm   *vm.VM
	opts RuntimeOptions
	mem  *ExecutableMemory

	mu    sync.Mutex
	slots map[*bytecode.Unit]*unitSlot

	icMu     sync.Mutex
	contexts sync.Pool
	stats    runtimeStats
}

// NewRuntime maps the executable region and makes the runtime v's executor.
func NewRuntime(v *vm.VM, opts RuntimeOptions) (*Runtime, error) {
	opts = opts.withDefaults()
	mem, err := NewExecutableMemory(opts.CodeSize)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		ID:    uuid.New(),
		vm:    v,
		opts:  opts,
		mem:   mem,
		slots: make(map[*bytecode.Unit]*unitSlot),
	}
	rt.contexts.New = func() any { return new(Context) }
	v.Executor = rt
	return rt, nil
}

// Close releases the executable region. No code may be running.
func (rt *Runtime) Close() error { return rt.mem.Free() }

func (rt *Runtime) logf(format string, args ...any) {
	if rt.opts.Verbose != nil {
		rt.opts.Verbose.Printf("jit %s: "+format, append([]any{rt.ID.String()[:8]}, args...)...)
	}
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() Stats {
	s := Stats{
		Compiled:     rt.stats.compiled.Load(),
		Entries:      rt.stats.entries.Load(),
		Exits:        rt.stats.exits.Load(),
		OSRTransfers: rt.stats.osrTransfers.Load(),
		Repatches:    rt.stats.repatches.Load(),
		Calls:        make(map[OperationID]uint64),
	}
	for op := range rt.stats.calls {
		if n := rt.stats.calls[op].Load(); n > 0 {
			s.Calls[OperationID(op)] = n
		}
	}
	return s
}

// CodeUsed is the number of executable bytes handed out so far.
func (rt *Runtime) CodeUsed() int { return rt.mem.Used() }

// CodeCapacity is the size of the executable region.
func (rt *Runtime) CodeCapacity() int { return rt.mem.Capacity() }

// DumpInstalled disassembles code as it currently sits in executable
// memory, so repatched jumps show their present targets.
func (rt *Runtime) DumpInstalled(w io.Writer, code *Code) error {
	b := rt.mem.Read(code.Address, code.Size())
	if b == nil {
		return errors.Newf("%s is not installed in this runtime", code.Unit.Name)
	}
	return code.dump(w, b)
}

func (rt *Runtime) slot(u *bytecode.Unit) *unitSlot {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.slots[u]
	if !ok {
		s = &unitSlot{}
		rt.slots[u] = s
	}
	return s
}

// Code returns the installed code of u, if any.
func (rt *Runtime) Code(u *bytecode.Unit) (*Code, bool) {
	c := rt.slot(u).code.Load()
	return c, c != nil
}

// Compile compiles and installs u unless it already has code.
func (rt *Runtime) Compile(u *bytecode.Unit) (*Code, error) {
	s := rt.slot(u)
	if c := s.code.Load(); c != nil {
		return c, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.code.Load(); c != nil {
		return c, nil
	}
	code, err := Compile(rt.vm, u, rt.opts.Options)
	if err != nil {
		return nil, err
	}
	if err := rt.install(code); err != nil {
		return nil, err
	}
	s.code.Store(code)
	return code, nil
}

// install copies code into executable memory and fills the native address
// tables of its switches. The code is not reachable until the caller
// publishes it.
func (rt *Runtime) install(code *Code) error {
	addr, err := rt.mem.Install(code.Bytes)
	if err != nil {
		return errors.Wrapf(err, "installing %s", code.Unit.Name)
	}
	code.Address = addr
	fillJumpTables(code)
	rt.stats.compiled.Add(1)
	rt.logf("compiled %s: %d bytes at %#x, %d slow cases, %d call sites",
		code.Unit.Name, code.Size(), addr, code.SlowCases, len(code.Sites))
	return nil
}

func fillJumpTables(code *Code) {
	u := code.Unit
	at := func(target int32) uintptr {
		return code.AddressOf(code.InstructionOffsets[target])
	}
	for _, ins := range u.Instructions {
		switch ins.Op {
		case bytecode.OpSwitchImm, bytecode.OpSwitchChar:
			t := &u.SwitchTables[ins.Args[0]]
			t.EnsureCTITable()
			def := at(ins.Args[1])
			for i, b := range t.Branches {
				if b < 0 {
					t.CTI[i] = def
				} else {
					t.CTI[i] = at(b)
				}
			}
			t.CTI[len(t.Branches)] = def
		case bytecode.OpSwitchString:
			t := &u.StringSwitchTables[ins.Args[0]]
			t.EnsureCTITable()
			for i, c := range t.Cases {
				t.CTI[i] = at(c.Target)
			}
			t.CTI[len(t.Cases)] = at(ins.Args[1])
		}
	}
}

// CompileAll compiles units concurrently, at most Workers at a time.
func (rt *Runtime) CompileAll(ctx context.Context, units []*bytecode.Unit) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rt.opts.Workers)
	for _, u := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := rt.Compile(u)
			return err
		})
	}
	return g.Wait()
}

// Execute implements vm.Executor.
func (rt *Runtime) Execute(u *bytecode.Unit, callee, this value.Value, args []value.Value) (value.Value, error) {
	code, err := rt.Compile(u)
	if err != nil {
		if rt.opts.Fallback != nil && jiterrors.IsCompileError(err) {
			rt.logf("%v; falling back", err)
			return rt.opts.Fallback.Execute(u, callee, this, args)
		}
		return value.Empty, err
	}
	f := vm.NewFrame(u, callee, this, args)
	defer rt.vm.EnterFrame(f)()
	return rt.run(code, f)
}

// run drives generated code for frame f until it returns, throws past
// this activation or transfers to a higher tier.
func (rt *Runtime) run(code *Code, f *vm.Frame) (value.Value, error) {
	argc, err := safecast.Convert[uint32](f.ArgumentCount)
	if err != nil {
		return value.Empty, errors.Wrap(err, "argument count")
	}
	ctx := rt.contexts.Get().(*Context)
	defer rt.contexts.Put(ctx)
	*ctx = Context{
		Frame:         f.Base(),
		Resume:        code.AddressOf(code.InstructionOffsets[0]),
		ArgumentCount: argc,
		CalleeSaves:   [3]uint64{uint64(f.Base()), value.NumberTag, value.NotCellMask},
	}
	a := &activation{rt: rt, vm: rt.vm, code: code, frame: f, ctx: ctx}
	rt.stats.entries.Add(1)

	for {
		exit := asm.CallJITCode(code.Address, uintptr(unsafe.Pointer(ctx)))
		rt.stats.exits.Add(1)
		switch uint32(exit) {
		case exitReturn:
			return value.Value(ctx.Ret), nil

		case exitCall:
			if int(ctx.Site) >= len(code.Sites) {
				return value.Empty, errors.AssertionFailedf("%s: exit from unknown call site %d", code.Unit.Name, ctx.Site)
			}
			a.site = code.Sites[ctx.Site]
			a.index = a.site.Index
			r, err := a.call()
			rt.vm.Safepoint()
			if err != nil {
				target, err := a.unwind(err)
				if err != nil {
					return value.Empty, err
				}
				ctx.Resume = target
				continue
			}
			ctx.Ret = uint64(r)
			ctx.Resume = code.AddressOf(a.site.Continuation)

		case exitThrow:
			e := rt.vm.PendingException()
			if e == nil {
				return value.Empty, errors.AssertionFailedf("%s@%d: throw exit without a pending exception", code.Unit.Name, a.index)
			}
			if !e.Uncatchable {
				if h, ok := code.Unit.HandlerFor(a.index); ok {
					ctx.Resume = code.AddressOf(code.InstructionOffsets[h.Target])
					continue
				}
			}
			return value.Empty, rt.vm.TakePendingException()

		case exitOSR:
			cont := a.cont
			if cont == nil {
				return value.Empty, errors.AssertionFailedf("%s@%d: osr exit without a continuation", code.Unit.Name, a.index)
			}
			a.cont = nil
			return cont.Enter(cont)

		default:
			return value.Empty, errors.AssertionFailedf("%s: unknown exit %s (%d)", code.Unit.Name, exitName(exit), exit)
		}
	}
}
