// Package runtime simulates the effect of linear
// instructions on the main and alt stacks, so that
// named values can be located while they are resolved.
package runtime

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/Bit-Atto/txsc/txsc/linear"
)

// Item is one simulated stack item.
type Item struct {
	// Name is the assumption or variable the item holds,
	// or empty for an anonymous value.
	Name string

	// Copy is set on items produced by copying a named item.
	Copy bool

	// Num is the item's value when IsNum is set.
	Num   int64
	IsNum bool
}

func (it Item) String() string {
	switch {
	case it.Name != "" && it.Copy:
		return it.Name + "'"
	case it.Name != "":
		return it.Name
	case it.IsNum:
		return fmt.Sprint(it.Num)
	}
	return "_"
}

type frame struct {
	entry  []Item // main stack when the conditional was entered
	arm    []Item // main stack at the end of the true arm
	alt    []Item
	inElse bool
}

// StackState tracks the main and alt stacks through a
// sequence of instructions. The main stack starts with the
// initial stack assumptions, bottom first.
//
// Stack underflow is not an error here. Missing operands
// are treated as anonymous items below the known stack.
type StackState struct {
	assumptions []string

	main   []Item
	alt    []Item
	frames []frame
}

func NewStackState() *StackState {
	return new(StackState)
}

// Clear resets both stacks. The initial stack assumptions
// are kept, and placed back on the main stack, unless
// clearAssumptions is set.
func (s *StackState) Clear(clearAssumptions bool) {
	if clearAssumptions {
		s.assumptions = nil
	}
	s.main = s.main[:0]
	s.alt = s.alt[:0]
	s.frames = s.frames[:0]
	for _, name := range s.assumptions {
		s.main = append(s.main, Item{Name: name})
	}
}

// AddStackAssumptions sets the initial stack, bottom first,
// and resets the simulation to it.
func (s *StackState) AddStackAssumptions(names []string) {
	s.assumptions = append([]string(nil), names...)
	s.Clear(false)
}

// Len returns the height of the main stack.
func (s *StackState) Len() int { return len(s.main) }

// AltLen returns the height of the alt stack.
func (s *StackState) AltLen() int { return len(s.alt) }

// Items returns a copy of the main stack, bottom first.
func (s *StackState) Items() []Item {
	return append([]Item(nil), s.main...)
}

// AltItems returns a copy of the alt stack, bottom first.
func (s *StackState) AltItems() []Item {
	return append([]Item(nil), s.alt...)
}

// Locate returns the position, counted from the bottom,
// of the item that holds name and is not a copy.
func (s *StackState) Locate(name string) (int, bool) {
	for i := len(s.main) - 1; i >= 0; i-- {
		if it := s.main[i]; it.Name == name && !it.Copy {
			return i, true
		}
	}
	return 0, false
}

// GetHighestAssumption returns the highest item holding
// name, copy or not, and its position from the bottom.
func (s *StackState) GetHighestAssumption(name string) (Item, int, bool) {
	for i := len(s.main) - 1; i >= 0; i-- {
		if s.main[i].Name == name {
			return s.main[i], i, true
		}
	}
	return Item{}, 0, false
}

// ProcessInstructions applies each instruction in order.
func (s *StackState) ProcessInstructions(ins linear.Instructions) {
	for _, in := range ins {
		s.Process(in)
	}
}

// Process applies the effect of in to the simulated stacks.
func (s *StackState) Process(in linear.Instruction) {
	switch in := in.(type) {
	case *linear.Op:
		s.op(in)
	case *linear.Push:
		if n, ok := linear.ToInt(in); ok {
			s.push(Item{Num: n, IsNum: true})
		} else {
			s.push(Item{})
		}
	case *linear.InnerScript:
		s.push(Item{})
	case *linear.Assignment:
		s.assign(in.Name)
	case *linear.Assumption:
		s.push(Item{Name: in.Name, Copy: true})
	case *linear.Variable:
		s.push(Item{Name: in.Name, Copy: true})
	case *linear.FunctionCall:
		// Calls are expanded before they are executed.
	default:
		panic(fmt.Sprintf("runtime: unknown instruction %T", in))
	}
}

func (s *StackState) push(items ...Item) {
	s.main = append(s.main, items...)
}

func (s *StackState) pop() Item {
	if len(s.main) == 0 {
		return Item{}
	}
	it := s.main[len(s.main)-1]
	s.main = s.main[:len(s.main)-1]
	return it
}

// peek returns the item n positions from the top.
func (s *StackState) peek(n int) Item {
	i := len(s.main) - 1 - n
	if i < 0 {
		return Item{}
	}
	return s.main[i]
}

// remove takes out the item n positions from the top.
func (s *StackState) remove(n int) Item {
	i := len(s.main) - 1 - n
	if i < 0 {
		return Item{}
	}
	it := s.main[i]
	s.main = append(s.main[:i], s.main[i+1:]...)
	return it
}

func copyOf(it Item) Item {
	if it.Name != "" {
		it.Copy = true
	}
	return it
}

func (s *StackState) assign(name string) {
	for i := range s.main {
		if s.main[i].Name == name {
			s.main[i].Name = ""
			s.main[i].Copy = false
		}
	}
	if len(s.main) == 0 {
		s.main = append(s.main, Item{})
	}
	top := &s.main[len(s.main)-1]
	top.Name = name
	top.Copy = false
}

func (s *StackState) op(op *linear.Op) {
	if n, ok := linear.SmallInt(op.Code); ok {
		s.push(Item{Num: n, IsNum: true})
		return
	}
	switch op.Code {
	case txscript.OP_IF, txscript.OP_NOTIF:
		s.pop()
		s.frames = append(s.frames, frame{
			entry: append([]Item(nil), s.main...),
			alt:   append([]Item(nil), s.alt...),
		})
	case txscript.OP_ELSE:
		if len(s.frames) == 0 {
			return
		}
		f := &s.frames[len(s.frames)-1]
		f.arm = s.main
		f.inElse = true
		s.main = append([]Item(nil), f.entry...)
		s.alt = append([]Item(nil), f.alt...)
	case txscript.OP_ENDIF:
		if len(s.frames) == 0 {
			return
		}
		f := s.frames[len(s.frames)-1]
		s.frames = s.frames[:len(s.frames)-1]
		if f.inElse {
			s.main = merge(f.arm, s.main)
		} else {
			s.main = merge(s.main, f.entry)
		}
	case txscript.OP_TOALTSTACK:
		s.alt = append(s.alt, s.pop())
	case txscript.OP_FROMALTSTACK:
		if len(s.alt) == 0 {
			s.push(Item{})
			return
		}
		it := s.alt[len(s.alt)-1]
		s.alt = s.alt[:len(s.alt)-1]
		s.push(it)
	case txscript.OP_IFDUP:
		top := s.peek(0)
		if top.IsNum && top.Num != 0 || !top.IsNum && op.Delta() == 1 {
			s.push(copyOf(top))
		}
	case txscript.OP_DEPTH:
		s.push(Item{Num: int64(len(s.main)), IsNum: true})
	case txscript.OP_DROP:
		s.pop()
	case txscript.OP_2DROP:
		s.pop()
		s.pop()
	case txscript.OP_DUP:
		s.push(copyOf(s.peek(0)))
	case txscript.OP_2DUP:
		s.push(copyOf(s.peek(1)), copyOf(s.peek(0)))
	case txscript.OP_3DUP:
		s.push(copyOf(s.peek(2)), copyOf(s.peek(1)), copyOf(s.peek(0)))
	case txscript.OP_NIP:
		s.remove(1)
	case txscript.OP_OVER:
		s.push(copyOf(s.peek(1)))
	case txscript.OP_2OVER:
		s.push(copyOf(s.peek(3)), copyOf(s.peek(2)))
	case txscript.OP_PICK:
		n := s.pop()
		if !n.IsNum {
			s.push(Item{})
			return
		}
		s.push(copyOf(s.peek(int(n.Num))))
	case txscript.OP_ROLL:
		n := s.pop()
		if !n.IsNum {
			return
		}
		s.push(s.remove(int(n.Num)))
	case txscript.OP_ROT:
		s.push(s.remove(2))
	case txscript.OP_2ROT:
		a := s.remove(5)
		b := s.remove(4)
		s.push(a, b)
	case txscript.OP_SWAP:
		s.push(s.remove(1))
	case txscript.OP_2SWAP:
		a := s.remove(3)
		b := s.remove(2)
		s.push(a, b)
	case txscript.OP_TUCK:
		top := s.peek(0)
		i := len(s.main) - 2
		if i < 0 {
			i = 0
		}
		s.main = append(s.main[:i], append([]Item{copyOf(top)}, s.main[i:]...)...)
	case txscript.OP_SIZE:
		s.push(Item{})
	default:
		s.generic(op)
	}
}

// generic pops the opcode's arguments and pushes
// anonymous results.
func (s *StackState) generic(op *linear.Op) {
	nargs := len(op.Args)
	for i := 0; i < nargs; i++ {
		s.pop()
	}
	for i := 0; i < nargs+op.Delta(); i++ {
		s.push(Item{})
	}
}

// merge joins the main stacks left by the true and false
// arms of a conditional. Items the arms agree on are kept.
// If the arms leave different heights the true arm wins.
func merge(t, f []Item) []Item {
	if len(t) != len(f) {
		return t
	}
	out := make([]Item, len(t))
	for i := range t {
		if t[i] == f[i] {
			out[i] = t[i]
		}
	}
	return out
}
