package jit

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code one instruction per line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	disassemble(&sb, code, nil)
	return sb.String()
}

// Dump writes the disassembly of code, with a header line for every bytecode
// instruction's hot and slow path.
func (code *Code) Dump(w io.Writer) error {
	return code.dump(w, code.Bytes)
}

func (code *Code) dump(w io.Writer, b []byte) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d bytes, %d call sites, %d slow cases\n",
		code.Unit.Name, code.Size(), len(code.Sites), code.SlowCases)
	headers := make(map[int]string)
	headers[0] = "entry"
	headers[code.ExitOffset] = "exit"
	headers[code.ExceptionOffset] = "exception"
	for i, ins := range code.Unit.Instructions {
		if _, taken := headers[code.InstructionOffsets[i]]; !taken {
			headers[code.InstructionOffsets[i]] = fmt.Sprintf("[%4d] %s", i, ins.Format(code.Unit))
		}
	}
	code.Map.ranges.Ascend(func(r codeRange) bool {
		if r.slow {
			headers[r.offset] = fmt.Sprintf("[%4d] slow %s", r.index, code.Unit.Instructions[r.index].Op)
		}
		return true
	})
	disassemble(&sb, b, headers)
	_, err := io.WriteString(w, sb.String())
	return err
}

func disassemble(sb *strings.Builder, code []byte, headers map[int]string) {
	offset := 0
	for offset < len(code) {
		if h, ok := headers[offset]; ok {
			fmt.Fprintf(sb, "%s:\n", h)
		}
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			fmt.Fprintf(sb, "0x%04x: db 0x%02x\n", offset, code[offset])
			offset++
			continue
		}
		hexBytes := make([]string, 0, inst.Len)
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		fmt.Fprintf(sb, "0x%04x: %-16s %s\n", offset, strings.Join(hexBytes, " "), inst.String())
		offset += inst.Len
	}
}
