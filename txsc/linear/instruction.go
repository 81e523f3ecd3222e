// Package linear defines the linear intermediate representation:
// a flat list of opcodes, literal pushes and named-value references
// that the inliner lowers to positional stack operations.
package linear

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Instruction is one element of a linear program.
// The concrete types are *Op, *Push, *Assumption, *Assignment,
// *Variable, *FunctionCall and *InnerScript.
type Instruction interface {
	// Index is the position assigned by the last contextualization.
	Index() int
	SetIndex(int)

	// Delta is the net change in stack height when the
	// instruction executes.
	Delta() int
	SetDelta(int)

	String() string

	sealed()
}

type base struct {
	idx   int
	delta int
}

func (b *base) Index() int     { return b.idx }
func (b *base) SetIndex(i int) { b.idx = i }
func (b *base) Delta() int     { return b.delta }
func (b *base) SetDelta(d int) { b.delta = d }
func (b *base) sealed()        {}

// Op is an opcode, including small-integer pushes and
// conditional markers.
type Op struct {
	base
	Code byte

	// Args overrides the registry signature once the
	// contextualizer resolves a data-dependent opcode.
	Args []int

	// NumSigs and NumPubKeys are set on CHECKMULTISIG
	// and CHECKMULTISIGVERIFY when they can be determined.
	NumSigs    int
	NumPubKeys int
}

// NewOp returns an Op for code. It panics if the compiler
// does not support code.
func NewOp(code byte) *Op {
	info := MustLookup(code)
	op := &Op{Code: code, NumSigs: -1, NumPubKeys: -1}
	op.delta = info.Delta
	op.Args = append([]int(nil), info.Args...)
	return op
}

// Info returns the registry entry for op's code.
func (op *Op) Info() Info { return MustLookup(op.Code) }

// Is reports whether op has one of the given codes.
func (op *Op) Is(codes ...byte) bool {
	for _, c := range codes {
		if op.Code == c {
			return true
		}
	}
	return false
}

func (op *Op) String() string { return op.Info().Name }

// Push pushes literal data.
type Push struct {
	base
	Data []byte
}

func NewPush(data []byte) *Push {
	p := &Push{Data: data}
	p.delta = 1
	return p
}

func (p *Push) String() string {
	if len(p.Data) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(p.Data)
}

// Assumption refers to a named value on the initial stack.
type Assumption struct {
	base
	Name string
}

func NewAssumption(name string) *Assumption {
	a := &Assumption{Name: name}
	a.delta = 1
	return a
}

func (a *Assumption) String() string { return "assume(" + a.Name + ")" }

// Assignment binds the top stack item to Name.
// The first assignment to a name declares it.
type Assignment struct {
	base
	Name string
}

func NewAssignment(name string) *Assignment {
	return &Assignment{Name: name}
}

func (a *Assignment) String() string { return "assign(" + a.Name + ")" }

// Variable refers to an assigned name, a function
// parameter or an assumption.
type Variable struct {
	base
	Name string
}

func NewVariable(name string) *Variable {
	v := &Variable{Name: name}
	v.delta = 1
	return v
}

func (v *Variable) String() string { return "var(" + v.Name + ")" }

// FunctionCall is replaced by the body of the named function,
// with Args bound to its parameters in order.
type FunctionCall struct {
	base
	Name string
	Args []Instructions
}

func NewFunctionCall(name string, args ...Instructions) *FunctionCall {
	return &FunctionCall{Name: name, Args: args}
}

func (c *FunctionCall) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "call(%s)", c.Name)
	for _, arg := range c.Args {
		b.WriteString(" {")
		if len(arg) > 0 {
			b.WriteString(" " + arg.String())
		}
		b.WriteString(" }")
	}
	return b.String()
}

// InnerScript is a nested program, serialized and pushed as data.
// Its references are resolved in their own scope.
type InnerScript struct {
	base
	Ops Instructions
}

func NewInnerScript(ops Instructions) *InnerScript {
	s := &InnerScript{Ops: ops}
	s.delta = 1
	return s
}

func (s *InnerScript) String() string {
	if len(s.Ops) == 0 {
		return "[ ]"
	}
	return "[ " + s.Ops.String() + " ]"
}

// IsReference reports whether in names a value that
// must be resolved before emission.
func IsReference(in Instruction) bool {
	switch in.(type) {
	case *Assumption, *Assignment, *Variable, *FunctionCall:
		return true
	}
	return false
}

// RefName returns the name referenced by in, if any.
func RefName(in Instruction) (string, bool) {
	switch in := in.(type) {
	case *Assumption:
		return in.Name, true
	case *Assignment:
		return in.Name, true
	case *Variable:
		return in.Name, true
	}
	return "", false
}

// Code returns the opcode of in, if in is an Op.
func Code(in Instruction) (byte, bool) {
	if op, ok := in.(*Op); ok {
		return op.Code, true
	}
	return 0, false
}

// HasCode reports whether in is an Op with one of the given codes.
func HasCode(in Instruction, codes ...byte) bool {
	op, ok := in.(*Op)
	return ok && op.Is(codes...)
}

// ToInt returns the integer that in pushes, if in is a
// small-integer opcode or a push of at most MaxNumLen bytes.
func ToInt(in Instruction) (int64, bool) {
	switch in := in.(type) {
	case *Op:
		return SmallInt(in.Code)
	case *Push:
		n, err := ParseNum(in.Data, false, MaxNumLen)
		if err != nil {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// IntOp returns the shortest instruction that pushes n.
func IntOp(n int64) Instruction {
	if code, ok := SmallIntOp(n); ok {
		return NewOp(code)
	}
	return NewPush(Num(n).Bytes())
}

// Literal returns the bytes that in pushes, if in is a
// literal push or a small-integer opcode.
func Literal(in Instruction) ([]byte, bool) {
	switch in := in.(type) {
	case *Push:
		return in.Data, true
	case *Op:
		if n, ok := SmallInt(in.Code); ok {
			return Num(n).Bytes(), true
		}
	}
	return nil, false
}

// Equal reports whether a and b are the same instruction,
// ignoring indices and deltas.
func Equal(a, b Instruction) bool {
	switch a := a.(type) {
	case *Op:
		b, ok := b.(*Op)
		return ok && a.Code == b.Code
	case *Push:
		b, ok := b.(*Push)
		return ok && bytes.Equal(a.Data, b.Data)
	case *Assumption:
		b, ok := b.(*Assumption)
		return ok && a.Name == b.Name
	case *Assignment:
		b, ok := b.(*Assignment)
		return ok && a.Name == b.Name
	case *Variable:
		b, ok := b.(*Variable)
		return ok && a.Name == b.Name
	case *FunctionCall:
		b, ok := b.(*FunctionCall)
		if !ok || a.Name != b.Name || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !a.Args[i].Equal(b.Args[i]) {
				return false
			}
		}
		return true
	case *InnerScript:
		b, ok := b.(*InnerScript)
		return ok && a.Ops.Equal(b.Ops)
	}
	panic(fmt.Sprintf("linear: unknown instruction %T", a))
}

// Clone returns a deep copy of in.
func Clone(in Instruction) Instruction {
	switch in := in.(type) {
	case *Op:
		c := *in
		c.Args = append([]int(nil), in.Args...)
		return &c
	case *Push:
		c := *in
		c.Data = append([]byte(nil), in.Data...)
		return &c
	case *Assumption:
		c := *in
		return &c
	case *Assignment:
		c := *in
		return &c
	case *Variable:
		c := *in
		return &c
	case *FunctionCall:
		c := *in
		c.Args = make([]Instructions, len(in.Args))
		for i, arg := range in.Args {
			c.Args[i] = arg.Copy()
		}
		return &c
	case *InnerScript:
		c := *in
		c.Ops = in.Ops.Copy()
		return &c
	}
	panic(fmt.Sprintf("linear: unknown instruction %T", in))
}
