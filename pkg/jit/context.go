package jit

import (
	"unsafe"

	"basejit/pkg/value"
)

// Exit codes returned in RAX by the exit stub.
const (
	exitReturn uint32 = iota
	exitCall
	exitThrow
	exitOSR
)

func exitName(code uint64) string {
	switch code {
	case uint64(exitReturn):
		return "return"
	case uint64(exitCall):
		return "call"
	case uint64(exitThrow):
		return "throw"
	case uint64(exitOSR):
		return "osr"
	}
	return "unknown"
}

// Context is shared between the driver and generated code. RDI points at it
// for the whole time generated code runs.
type Context struct {
	Frame         uintptr   // +0 frame base of the running activation
	Resume        uintptr   // +8 address the entry stub jumps to
	Ret           uint64    // +16 result of the last exit
	Args          [3]uint64 // +24 operands spilled by a slow path
	Site          uint32    // +48 call site id of the last exitCall
	ArgumentCount uint32    // +52 arguments passed, this included
	CalleeSaves   [3]uint64 // +56 frame base, number tag, not-cell mask
}

const (
	ctxFrameOffset         = 0
	ctxResumeOffset        = 8
	ctxRetOffset           = 16
	ctxArgsOffset          = 24
	ctxSiteOffset          = 48
	ctxArgumentCountOffset = 52
	ctxCalleeSavesOffset   = 56
)

// The layout above is part of the code generator's contract.
var _ = [1]struct{}{}[unsafe.Offsetof(Context{}.CalleeSaves)-ctxCalleeSavesOffset]
var _ = [1]struct{}{}[unsafe.Offsetof(Context{}.Site)-ctxSiteOffset]

func (c *Context) arg(i int) value.Value { return value.Value(c.Args[i]) }

// Register assignment.
const (
	regContext      = RDI
	regFrame        = RBX
	regNumberTag    = R14
	regNotCellMask  = R15
	regScratch      = R11
	regT0           = RAX
	regT1           = RSI
	regT2           = RDX
	regT3           = RCX
	regT4           = R8
	regT5           = R10
	regReturnValue  = RAX
	regFloatScratch = XMM2
)

// argumentRegisters are the registers a slow path spills into Context.Args.
var argumentRegisters = [3]Reg{regT0, regT1, regT2}
