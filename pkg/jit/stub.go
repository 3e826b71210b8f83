//go:build !linux || !amd64

package jit

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Supported reports whether generated code can run on this platform.
const Supported = false

// ErrUnsupported is returned by NewRuntime where generated code cannot run.
var ErrUnsupported = errors.New("jit: generated code needs linux/amd64")

// Runtime is unavailable on this platform; code can still be compiled and
// disassembled with Compile.
type Runtime struct{}

func NewRuntime(*vm.VM, RuntimeOptions) (*Runtime, error) { return nil, ErrUnsupported }

func (*Runtime) Close() error { return nil }

func (*Runtime) Stats() Stats { return Stats{} }

func (*Runtime) CodeUsed() int { return 0 }

func (*Runtime) CodeCapacity() int { return 0 }

func (*Runtime) DumpInstalled(io.Writer, *Code) error { return ErrUnsupported }

func (*Runtime) Code(*bytecode.Unit) (*Code, bool) { return nil, false }

func (*Runtime) Compile(*bytecode.Unit) (*Code, error) { return nil, ErrUnsupported }

func (*Runtime) CompileAll(context.Context, []*bytecode.Unit) error { return ErrUnsupported }

func (*Runtime) Execute(*bytecode.Unit, value.Value, value.Value, []value.Value) (value.Value, error) {
	return value.Empty, ErrUnsupported
}
