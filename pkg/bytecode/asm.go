package bytecode

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Assemble parses the text form of a program:
//
//	function main params=1 locals=2
//	    mov r0, 0
//	loop:
//	    add r0, r0, 1
//	    jless r0, 10, loop
//	    ret r0
//	end
//
// Side-table operands are allocated automatically and never written. Switch
// tables and handlers are declared with .jumptable, .stringtable and
// .handler directives anywhere inside the function.
func Assemble(src string) (*Program, error) {
	var (
		prog    Program
		current *functionText
		funcs   []*functionText
	)
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch {
		case fields[0] == "function":
			if current != nil {
				return nil, fmt.Errorf("line %d: function %s is not closed", lineNo, current.name)
			}
			f, err := parseFunctionHeader(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = f
		case fields[0] == "end" && len(fields) == 1:
			if current == nil {
				return nil, fmt.Errorf("line %d: end outside function", lineNo)
			}
			funcs = append(funcs, current)
			current = nil
		default:
			if current == nil {
				return nil, fmt.Errorf("line %d: %q outside function", lineNo, line)
			}
			current.lines = append(current.lines, sourceLine{no: lineNo, text: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("function %s is not closed", current.name)
	}

	index := make(map[string]int, len(funcs))
	for i, f := range funcs {
		if _, dup := index[f.name]; dup {
			return nil, fmt.Errorf("function %s defined twice", f.name)
		}
		index[f.name] = i
	}
	for _, f := range funcs {
		u, err := f.assemble(index)
		if err != nil {
			return nil, err
		}
		prog.Units = append(prog.Units, u)
	}
	main, ok := index["main"]
	if !ok && len(funcs) > 0 {
		main = 0
	}
	prog.Main = main
	return &prog, nil
}

type sourceLine struct {
	no   int
	text string
}

type functionText struct {
	name      string
	params    int
	locals    int
	lines     []sourceLine
	tableIDs  map[string]int32
	stringIDs map[string]int32
}

func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case (c == '#' && !inString && (i+1 >= len(line) || !isNumberStart(line[i+1]))) || (c == ';' && !inString):
			return strings.TrimSpace(line[:i])
		}
	}
	return strings.TrimSpace(line)
}

func isNumberStart(c byte) bool { return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9') }

func parseFunctionHeader(fields []string) (*functionText, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("function needs a name")
	}
	f := &functionText{name: fields[1], params: 1}
	for _, attr := range fields[2:] {
		key, val, ok := strings.Cut(attr, "=")
		if !ok {
			return nil, fmt.Errorf("malformed attribute %q", attr)
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("attribute %s: bad count %q", key, val)
		}
		switch key {
		case "params":
			f.params = n
		case "locals":
			f.locals = n
		default:
			return nil, fmt.Errorf("unknown attribute %q", key)
		}
	}
	return f, nil
}

func (f *functionText) assemble(funcs map[string]int) (*Unit, error) {
	b := NewBuilder(f.name, f.params, f.locals)
	f.tableIDs = make(map[string]int32)
	f.stringIDs = make(map[string]int32)

	// Directives first, so tables may be referenced before their declaration.
	for _, l := range f.lines {
		if !strings.HasPrefix(l.text, ".") {
			continue
		}
		if err := f.directive(b, l.text); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.name, l.no, err)
		}
	}
	for _, l := range f.lines {
		text := l.text
		if strings.HasPrefix(text, ".") {
			continue
		}
		for {
			name, rest, ok := cutLabel(text)
			if !ok {
				break
			}
			b.Label(name)
			text = rest
		}
		if text == "" {
			continue
		}
		if err := f.instruction(b, text, funcs); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.name, l.no, err)
		}
	}
	return b.Finish()
}

func cutLabel(text string) (string, string, bool) {
	i := strings.IndexByte(text, ':')
	if i <= 0 || !isIdentifier(text[:i]) {
		return "", text, false
	}
	return text[:i], strings.TrimSpace(text[i+1:]), true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '.' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func (f *functionText) directive(b *Builder, text string) error {
	name, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case ".jumptable":
		id, rest, _ := strings.Cut(rest, " ")
		minText, rest, _ := strings.Cut(strings.TrimSpace(rest), " ")
		minVal, ok := strings.CutPrefix(minText, "min=")
		if !ok {
			return fmt.Errorf(".jumptable %s: expected min=N", id)
		}
		min, err := strconv.ParseInt(minVal, 10, 32)
		if err != nil {
			return fmt.Errorf(".jumptable %s: %w", id, err)
		}
		var labels []string
		for _, l := range splitOperands(rest) {
			if l == "-" {
				l = ""
			}
			labels = append(labels, l)
		}
		f.tableIDs[id] = b.SwitchTable(int32(min), labels)
	case ".stringtable":
		id, rest, _ := strings.Cut(rest, " ")
		var keys, labels []string
		for _, c := range splitOperands(rest) {
			i := strings.LastIndexByte(c, ' ')
			if i < 0 {
				return fmt.Errorf(".stringtable %s: case %q needs a label", id, c)
			}
			key, err := strconv.Unquote(strings.TrimSpace(c[:i]))
			if err != nil {
				return fmt.Errorf(".stringtable %s: key %s: %w", id, c[:i], err)
			}
			keys = append(keys, key)
			labels = append(labels, strings.TrimSpace(c[i+1:]))
		}
		f.stringIDs[id] = b.StringSwitchTable(keys, labels)
	case ".handler":
		parts := strings.Fields(rest)
		if len(parts) != 3 {
			return fmt.Errorf(".handler needs start, end and target labels")
		}
		b.Handler(parts[0], parts[1], parts[2])
	default:
		return fmt.Errorf("unknown directive %s", name)
	}
	return nil
}

// splitOperands splits on commas outside string literals.
func splitOperands(s string) []string {
	var out []string
	start, inString := 0, false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case ',':
			if !inString {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(out) > 0 {
		out = append(out, last)
	}
	return out
}

func (f *functionText) instruction(b *Builder, text string, funcs map[string]int) error {
	mnemonic, rest, _ := strings.Cut(text, " ")
	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return fmt.Errorf("unknown instruction %q", mnemonic)
	}
	operands := splitOperands(strings.TrimSpace(rest))
	var args []int32
	i := 0
	for _, k := range op.Operands() {
		if k.IsSideTable() {
			continue
		}
		if i >= len(operands) {
			return fmt.Errorf("%s: too few operands", op)
		}
		a, err := f.operand(b, k, operands[i], funcs)
		if err != nil {
			return fmt.Errorf("%s operand %d: %w", op, i, err)
		}
		args = append(args, a)
		i++
	}
	if i != len(operands) {
		return fmt.Errorf("%s: %d operands, want %d", op, len(operands), i)
	}
	b.Emit(op, args...)
	return nil
}

func (f *functionText) operand(b *Builder, k OperandKind, s string, funcs map[string]int) (int32, error) {
	switch k {
	case OperandDst, OperandReg:
		r, ok := parseRegister(s)
		if !ok {
			return 0, fmt.Errorf("expected register, got %q", s)
		}
		return int32(r), nil
	case OperandSrc:
		if r, ok := parseRegister(s); ok {
			return int32(r), nil
		}
		c, err := parseConstant(s)
		if err != nil {
			return 0, err
		}
		return int32(b.Constant(c)), nil
	case OperandImm:
		if n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 0, 32); err == nil {
			return int32(n), nil
		}
		if i, ok := funcs[s]; ok {
			return int32(i), nil
		}
		return 0, fmt.Errorf("expected immediate or function name, got %q", s)
	case OperandTarget:
		if !isIdentifier(s) {
			return 0, fmt.Errorf("expected label, got %q", s)
		}
		return b.Ref(s), nil
	case OperandSwitchTable:
		if id, ok := f.tableIDs[s]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("unknown jump table %q", s)
	case OperandStringSwitchTable:
		if id, ok := f.stringIDs[s]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("unknown string table %q", s)
	}
	return 0, fmt.Errorf("operand kind %d has no text form", k)
}

func parseRegister(s string) (VirtualRegister, bool) {
	if s == "this" {
		return ThisRegister, true
	}
	if len(s) < 2 || (s[0] != 'r' && s[0] != 'a') {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	if s[0] == 'a' {
		return Argument(n), true
	}
	if VirtualRegister(n) >= FirstConstantIndex {
		return 0, false
	}
	return Local(n), true
}

func parseConstant(s string) (Constant, error) {
	switch s {
	case "undefined":
		return Constant{Kind: ConstUndefined}, nil
	case "null":
		return Constant{Kind: ConstNull}, nil
	case "true":
		return Constant{Kind: ConstTrue}, nil
	case "false":
		return Constant{Kind: ConstFalse}, nil
	case "empty":
		return Constant{Kind: ConstEmpty}, nil
	case "NaN":
		return DoubleConstant(math.NaN()), nil
	case "Infinity":
		return DoubleConstant(math.Inf(1)), nil
	case "-Infinity":
		return DoubleConstant(math.Inf(-1)), nil
	}
	if strings.HasPrefix(s, "\"") {
		str, err := strconv.Unquote(s)
		if err != nil {
			return Constant{}, fmt.Errorf("bad string literal %s: %w", s, err)
		}
		return StringConstant(str), nil
	}
	if name, ok := strings.CutPrefix(s, "@"); ok && isIdentifier(name) {
		return Constant{Kind: ConstWellKnownSymbol, Str: name}, nil
	}
	num := strings.TrimPrefix(s, "#")
	if !strings.ContainsAny(num, ".eE") {
		if n, err := strconv.ParseInt(num, 0, 64); err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return IntConstant(int32(n)), nil
			}
			return DoubleConstant(float64(n)), nil
		}
	}
	d, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Constant{}, fmt.Errorf("bad constant %q", s)
	}
	return DoubleConstant(d), nil
}
