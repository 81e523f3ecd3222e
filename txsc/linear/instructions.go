package linear

import "strings"

// Instructions is a linear program.
type Instructions []Instruction

func (ins Instructions) String() string {
	s := make([]string, len(ins))
	for i, in := range ins {
		s[i] = in.String()
	}
	return strings.Join(s, " ")
}

// Copy returns a deep copy of ins.
func (ins Instructions) Copy() Instructions {
	if ins == nil {
		return nil
	}
	c := make(Instructions, len(ins))
	for i, in := range ins {
		c[i] = Clone(in)
	}
	return c
}

// Equal reports whether ins and other hold equal instructions.
func (ins Instructions) Equal(other Instructions) bool {
	if len(ins) != len(other) {
		return false
	}
	for i := range ins {
		if !Equal(ins[i], other[i]) {
			return false
		}
	}
	return true
}

// ReplaceSlice replaces ins[start:end] with values.
func (ins *Instructions) ReplaceSlice(start, end int, values ...Instruction) {
	s := *ins
	out := make(Instructions, 0, len(s)-(end-start)+len(values))
	out = append(out, s[:start]...)
	out = append(out, values...)
	out = append(out, s[end:]...)
	*ins = out
}

// Insert inserts values before index i.
func (ins *Instructions) Insert(i int, values ...Instruction) {
	ins.ReplaceSlice(i, i, values...)
}

// A Matcher reports whether an instruction fits one
// position of a Template. A nil Matcher matches anything.
type Matcher func(Instruction) bool

// A Template is a pattern over consecutive instructions.
type Template []Matcher

// Is matches instructions equal to in.
func Is(in Instruction) Matcher {
	return func(x Instruction) bool { return Equal(in, x) }
}

// IsOp matches an Op with the given code.
func IsOp(code byte) Matcher {
	return func(x Instruction) bool { return HasCode(x, code) }
}

// Ops returns a template matching the given opcodes in order.
func Ops(codes ...byte) Template {
	t := make(Template, len(codes))
	for i, c := range codes {
		t[i] = IsOp(c)
	}
	return t
}

// AnySmallInt matches any small-integer opcode.
func AnySmallInt(x Instruction) bool {
	op, ok := x.(*Op)
	if !ok {
		return false
	}
	_, ok = SmallInt(op.Code)
	return ok
}

// AnyPush matches any literal data push.
func AnyPush(x Instruction) bool {
	_, ok := x.(*Push)
	return ok
}

// AnyAssumption matches any assumption.
func AnyAssumption(x Instruction) bool {
	_, ok := x.(*Assumption)
	return ok
}

// MatchesTemplate reports whether the instructions
// starting at index match t.
func (ins Instructions) MatchesTemplate(t Template, index int) bool {
	if index < 0 || index+len(t) > len(ins) {
		return false
	}
	for i, m := range t {
		if m != nil && !m(ins[index+i]) {
			return false
		}
	}
	return true
}

// ReplaceTemplate calls fn with every run of instructions matching t
// and replaces the run with the result. Scanning resumes after
// the replacement. It reports whether anything was replaced.
func (ins *Instructions) ReplaceTemplate(t Template, fn func(Instructions) Instructions) bool {
	changed := false
	for i := 0; i < len(*ins); {
		if !ins.MatchesTemplate(t, i) {
			i++
			continue
		}
		matched := append(Instructions(nil), (*ins)[i:i+len(t)]...)
		repl := fn(matched)
		if !repl.Equal(matched) {
			changed = true
		}
		ins.ReplaceSlice(i, i+len(t), repl...)
		i += len(repl)
		if len(repl) == 0 && i > 0 {
			// Removal can join a new match across the gap.
			i--
		}
	}
	return changed
}

// Find returns the indices of every instruction m matches.
func (ins Instructions) Find(m Matcher) []int {
	var found []int
	for i, in := range ins {
		if m(in) {
			found = append(found, i)
		}
	}
	return found
}
