package linear

import (
	"bufio"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Bit-Atto/txsc/errors"
)

var (
	ErrBadToken = errors.New("bad token")
	ErrSyntax   = errors.New("syntax error")
)

// FuncDef is a function that calls are inlined from.
type FuncDef struct {
	Name   string
	Params []string
	Body   Instructions
}

func (f FuncDef) String() string {
	head := "func(" + strings.Join(append([]string{f.Name}, f.Params...), ", ") + ")"
	if len(f.Body) == 0 {
		return head + " { }"
	}
	return head + " { " + f.Body.String() + " }"
}

// Unit is a parsed compilation unit.
type Unit struct {
	// Stack names the items on the initial stack, bottom first.
	Stack []string
	Funcs []FuncDef
	Ops   Instructions
}

func (u *Unit) String() string {
	var lines []string
	if len(u.Stack) > 0 {
		lines = append(lines, "stack("+strings.Join(u.Stack, ", ")+")")
	}
	for _, f := range u.Funcs {
		lines = append(lines, f.String())
	}
	if len(u.Ops) > 0 {
		lines = append(lines, u.Ops.String())
	}
	return strings.Join(lines, "\n")
}

// Parse reads a compilation unit in the text form of the
// linear representation:
//
//	stack(sig, pubkey)            initial stack, bottom first
//	func(name, p1, p2) { ... }    function definition
//	call(name) { arg } { arg }    function call
//	assume(x) assign(x) var(x)    named references
//	[ ... ]                       inner script
//	OP_DUP, DUP, 5, 0x0102, 'ab'  opcodes and literals
//
// A # starts a comment that runs to the end of the line.
func Parse(src string) (*Unit, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, unit: new(Unit)}
	ops, err := p.seq("", true)
	if err != nil {
		return nil, err
	}
	p.unit.Ops = ops
	return p.unit, nil
}

// Assemble parses a plain instruction list, without
// stack or function declarations.
func Assemble(src string) (Instructions, error) {
	u, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if len(u.Stack) > 0 || len(u.Funcs) > 0 {
		return nil, errors.WithDetail(ErrSyntax, "declarations are not allowed here")
	}
	return u.Ops, nil
}

// MustAssemble is like Assemble but panics on error.
// It is intended for tests and fixed programs.
func MustAssemble(src string) Instructions {
	ins, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return ins
}

type parser struct {
	toks []string
	pos  int
	unit *Unit
}

func (p *parser) next() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	tok := p.toks[p.pos]
	p.pos++
	return tok, true
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

// seq parses instructions up to the closing token end,
// or to the end of input if end is empty.
func (p *parser) seq(end string, top bool) (Instructions, error) {
	var ins Instructions
	for {
		tok, ok := p.next()
		if !ok {
			if end != "" {
				return nil, errors.WithDetailf(ErrSyntax, "missing %q", end)
			}
			return ins, nil
		}
		switch {
		case tok == end:
			return ins, nil
		case tok == "]" || tok == "}":
			return nil, errors.WithDetailf(ErrSyntax, "unexpected %q", tok)
		case tok == "{":
			return nil, errors.WithDetail(ErrSyntax, "unexpected \"{\" outside call or func")
		case tok == "[":
			body, err := p.seq("]", false)
			if err != nil {
				return nil, err
			}
			ins = append(ins, NewInnerScript(body))
		default:
			kw, args, isForm := splitForm(tok)
			switch {
			case isForm && kw == "call":
				call, err := p.call(args)
				if err != nil {
					return nil, err
				}
				ins = append(ins, call)
			case isForm && (kw == "func" || kw == "stack"):
				if !top {
					return nil, errors.WithDetailf(ErrSyntax, "%s(...) must be at top level", kw)
				}
				if err := p.decl(kw, args); err != nil {
					return nil, err
				}
			default:
				in, err := atom(tok)
				if err != nil {
					return nil, err
				}
				ins = append(ins, in)
			}
		}
	}
}

func (p *parser) call(args []string) (*FunctionCall, error) {
	if len(args) != 1 || !isIdent(args[0]) {
		return nil, errors.WithDetailf(ErrBadToken, "call(%s)", strings.Join(args, ", "))
	}
	call := NewFunctionCall(args[0])
	for p.peek() == "{" {
		p.pos++
		arg, err := p.seq("}", false)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}

func (p *parser) decl(kw string, args []string) error {
	for _, a := range args {
		if !isIdent(a) {
			return errors.WithDetailf(ErrBadToken, "%s(%s)", kw, strings.Join(args, ", "))
		}
	}
	if kw == "stack" {
		p.unit.Stack = append(p.unit.Stack, args...)
		return nil
	}
	if len(args) == 0 {
		return errors.WithDetail(ErrSyntax, "func() needs a name")
	}
	if p.peek() != "{" {
		return errors.WithDetailf(ErrSyntax, "func(%s) needs a body", args[0])
	}
	p.pos++
	body, err := p.seq("}", false)
	if err != nil {
		return err
	}
	p.unit.Funcs = append(p.unit.Funcs, FuncDef{Name: args[0], Params: args[1:], Body: body})
	return nil
}

func atom(tok string) (Instruction, error) {
	if kw, args, ok := splitForm(tok); ok {
		if len(args) != 1 || !isIdent(args[0]) {
			return nil, errors.WithDetail(ErrBadToken, tok)
		}
		switch kw {
		case "assume":
			return NewAssumption(args[0]), nil
		case "assign":
			return NewAssignment(args[0]), nil
		case "var":
			return NewVariable(args[0]), nil
		}
		return nil, errors.WithDetail(ErrBadToken, tok)
	}
	if strings.HasPrefix(tok, "0x") {
		data, err := hex.DecodeString(tok[2:])
		if err != nil {
			return nil, errors.WithDetail(errors.Sub(ErrBadToken, err), tok)
		}
		return NewPush(data), nil
	}
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		data := make([]byte, 0, len(tok)-2)
		for i := 1; i < len(tok)-1; i++ {
			if tok[i] == '\\' {
				i++
			}
			data = append(data, tok[i])
		}
		return NewPush(data), nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return IntOp(n), nil
	}
	if info, ok := ByName(tok); ok {
		return NewOp(info.Code), nil
	}
	return nil, errors.WithDetail(ErrBadToken, tok)
}

// splitForm splits "kw(a, b)" into kw and its arguments.
func splitForm(tok string) (kw string, args []string, ok bool) {
	i := strings.IndexByte(tok, '(')
	if i <= 0 || !strings.HasSuffix(tok, ")") {
		return "", nil, false
	}
	kw = tok[:i]
	inner := strings.TrimSpace(tok[i+1 : len(tok)-1])
	if inner == "" {
		return kw, nil, true
	}
	for _, a := range strings.Split(inner, ",") {
		args = append(args, strings.TrimSpace(a))
	}
	return kw, args, true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func tokenize(src string) ([]string, error) {
	var toks []string
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Split(split)
	for scanner.Scan() {
		toks = append(toks, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return toks, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isBracket(c byte) bool {
	return c == '[' || c == ']' || c == '{' || c == '}'
}

// split is a bufio.SplitFunc for the text form. Brackets are
// tokens of their own, quoted strings and parenthesized
// forms may contain spaces, and comments are skipped.
func split(inp []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(inp) {
		if isSpace(inp[start]) {
			start++
			continue
		}
		if inp[start] == '#' {
			nl := strings.IndexByte(string(inp[start:]), '\n')
			if nl < 0 {
				if atEOF {
					return len(inp), nil, nil
				}
				return start, nil, nil
			}
			start += nl + 1
			continue
		}
		break
	}
	if start == len(inp) {
		return start, nil, nil
	}
	if isBracket(inp[start]) {
		return start + 1, inp[start : start+1], nil
	}

	if inp[start] == '\'' {
		var escape bool
		for i := start + 1; i < len(inp); i++ {
			if escape {
				escape = false
				continue
			}
			switch inp[i] {
			case '\'':
				return i + 1, inp[start : i+1], nil
			case '\\':
				escape = true
			}
		}
		if atEOF {
			return 0, nil, errors.WithDetail(ErrBadToken, "unterminated string")
		}
		return start, nil, nil
	}

	depth := 0
	for i := start; i < len(inp); i++ {
		c := inp[i]
		switch {
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && (isSpace(c) || isBracket(c)):
			return i, inp[start:i], nil
		}
	}
	if !atEOF {
		return start, nil, nil
	}
	if depth != 0 {
		return 0, nil, errors.WithDetail(ErrBadToken, "unterminated parenthesis")
	}
	return len(inp), inp[start:], nil
}
