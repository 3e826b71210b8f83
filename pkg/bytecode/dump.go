package bytecode

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Disassemble writes u in the form Assemble accepts. Every jump target gets
// a label named after its instruction index.
func Disassemble(w io.Writer, u *Unit, p *Program) error {
	targets := make(map[int]bool)
	mark := func(t int32) {
		if t >= 0 {
			targets[int(t)] = true
		}
	}
	for _, ins := range u.Instructions {
		for i, k := range ins.Op.Operands() {
			if k == OperandTarget {
				mark(ins.Args[i])
			}
		}
	}
	for _, t := range u.SwitchTables {
		for _, b := range t.Branches {
			mark(b)
		}
	}
	for i := range u.StringSwitchTables {
		for _, c := range u.StringSwitchTables[i].Cases {
			mark(c.Target)
		}
	}
	for _, h := range u.Handlers {
		mark(h.Start)
		mark(h.End)
		mark(h.Target)
	}
	label := func(t int32) string { return "L" + strconv.Itoa(int(t)) }

	var b strings.Builder
	fmt.Fprintf(&b, "function %s params=%d locals=%d\n", u.Name, u.NumParams, u.NumLocals)
	for i, t := range u.SwitchTables {
		labels := make([]string, len(t.Branches))
		for j, br := range t.Branches {
			labels[j] = "-"
			if br >= 0 {
				labels[j] = label(br)
			}
		}
		fmt.Fprintf(&b, "    .jumptable t%d min=%d %s\n", i, t.Min, strings.Join(labels, ", "))
	}
	for i := range u.StringSwitchTables {
		t := &u.StringSwitchTables[i]
		cases := make([]string, len(t.Cases))
		for j, c := range t.Cases {
			cases[j] = strconv.Quote(c.Key) + " " + label(c.Target)
		}
		fmt.Fprintf(&b, "    .stringtable s%d %s\n", i, strings.Join(cases, ", "))
	}
	for _, h := range u.Handlers {
		fmt.Fprintf(&b, "    .handler %s %s %s\n", label(h.Start), label(h.End), label(h.Target))
	}
	for i, ins := range u.Instructions {
		if targets[i] {
			fmt.Fprintf(&b, "%s:\n", label(int32(i)))
		}
		b.WriteString("    ")
		b.WriteString(ins.Op.String())
		sep := " "
		for j, k := range ins.Op.Operands() {
			if k.IsSideTable() {
				continue
			}
			b.WriteString(sep)
			sep = ", "
			a := ins.Args[j]
			switch k {
			case OperandSrc:
				r := VirtualRegister(a)
				if r.IsConstant() {
					b.WriteString(u.Constants[r.ToConstantIndex()].String())
				} else {
					b.WriteString(r.String())
				}
			case OperandDst, OperandReg:
				b.WriteString(VirtualRegister(a).String())
			case OperandTarget:
				b.WriteString(label(a))
			case OperandSwitchTable:
				fmt.Fprintf(&b, "t%d", a)
			case OperandStringSwitchTable:
				fmt.Fprintf(&b, "s%d", a)
			case OperandImm:
				if (ins.Op == OpNewFunc || ins.Op == OpNewFuncExp) && j == 1 && p != nil && int(a) < len(p.Units) {
					b.WriteString(p.Units[a].Name)
				} else {
					b.WriteString(strconv.Itoa(int(a)))
				}
			}
		}
		b.WriteByte('\n')
	}
	if targets[len(u.Instructions)] {
		fmt.Fprintf(&b, "%s:\n", label(int32(len(u.Instructions))))
	}
	b.WriteString("end\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// DisassembleProgram writes every unit of p, main first.
func DisassembleProgram(w io.Writer, p *Program) error {
	order := make([]int, len(p.Units))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a] == p.Main && order[b] != p.Main })
	for n, i := range order {
		if n > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := Disassemble(w, p.Units[i], p); err != nil {
			return err
		}
	}
	return nil
}
