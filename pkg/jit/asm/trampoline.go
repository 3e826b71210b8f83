//go:build linux && amd64

// Package asm holds the Go assembly routine that enters generated code.
// It lives in its own package so the JIT package stays free of assembly.
package asm

// CallJITCode calls the entry stub at entry with the context pointer in RDI.
// Generated code returns its exit code in RAX.
func CallJITCode(entry uintptr, ctx uintptr) (exit uint64)
