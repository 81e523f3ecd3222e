package runtime

import (
	"sort"

	"github.com/btcsuite/btcd/txscript"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
)

// ErrAltStack is returned when a routed value is not
// where the alt stack layout says it should be.
var ErrAltStack = errors.New("alt stack out of sync")

// AltStackSet names the values that must be kept on the
// alt stack because their main stack position cannot be
// determined statically.
type AltStackSet struct {
	// Assumptions maps each routed initial stack item
	// to its depth in the initial stack.
	Assumptions map[string]int

	// Variables are routed assigned names, in order of declaration.
	Variables []string
}

// Empty reports whether nothing is routed.
func (s AltStackSet) Empty() bool {
	return len(s.Assumptions) == 0 && len(s.Variables) == 0
}

// AltStackManager keeps routed values in fixed slots at the
// bottom of the alt stack and produces the instructions that
// read and write them.
//
// It reads the simulated alt stack height from the StackState
// it was made with. Callers replay the program up to the
// point of each Get or Set first.
type AltStackManager struct {
	opts  linear.Options
	state *StackState

	// slots are the routed names, bottom of the alt stack first.
	slots []string
}

func NewAltStackManager(opts linear.Options, state *StackState) *AltStackManager {
	return &AltStackManager{opts: opts, state: state}
}

// Clear forgets every slot.
func (m *AltStackManager) Clear() {
	m.slots = nil
}

// Routed reports whether name has an alt stack slot.
func (m *AltStackManager) Routed(name string) bool {
	return m.slot(name) >= 0
}

// Slots returns the routed names, bottom of the alt stack first.
func (m *AltStackManager) Slots() []string {
	return append([]string(nil), m.slots...)
}

func (m *AltStackManager) slot(name string) int {
	for i, s := range m.slots {
		if s == name {
			return i
		}
	}
	return -1
}

// Analyze assigns a slot to each name in set and returns the
// instructions that must run first to fill the slots.
// Assumptions are moved off the main stack, deepest first,
// and each variable gets a placeholder that its declaration
// replaces. If routing is disabled, assumptions are not
// given slots.
func (m *AltStackManager) Analyze(ins linear.Instructions, set AltStackSet) linear.Instructions {
	m.Clear()
	var setup linear.Instructions

	if m.opts.UseAltStackForAssumptions && len(set.Assumptions) > 0 {
		names := make([]string, 0, len(set.Assumptions))
		for name := range set.Assumptions {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			di, dj := set.Assumptions[names[i]], set.Assumptions[names[j]]
			if di != dj {
				return di > dj
			}
			return names[i] < names[j]
		})
		// Taking out the deepest item first leaves
		// the depths of the others unchanged.
		for _, name := range names {
			setup = append(setup,
				linear.IntOp(int64(set.Assumptions[name])),
				linear.NewOp(txscript.OP_ROLL),
				linear.NewOp(txscript.OP_TOALTSTACK),
			)
			m.slots = append(m.slots, name)
		}
	}

	for _, name := range set.Variables {
		if m.slot(name) >= 0 || !assigns(ins, name) {
			continue
		}
		setup = append(setup, linear.IntOp(0), linear.NewOp(txscript.OP_TOALTSTACK))
		m.slots = append(m.slots, name)
	}
	return setup
}

func assigns(ins linear.Instructions, name string) bool {
	for _, in := range ins {
		if a, ok := in.(*linear.Assignment); ok && a.Name == name {
			return true
		}
	}
	return false
}

// valuesAfter returns the number of alt stack items
// above the slot at index i.
func (m *AltStackManager) valuesAfter(name string, i int) (int, error) {
	n := m.state.AltLen() - 1 - i
	if n < 0 {
		return 0, errors.WithData(ErrAltStack, "name", name, "slot", i, "altlen", m.state.AltLen())
	}
	return n, nil
}

func repeat(n int, codes ...byte) linear.Instructions {
	var ins linear.Instructions
	for i := 0; i < n; i++ {
		for _, c := range codes {
			ins = append(ins, linear.NewOp(c))
		}
	}
	return ins
}

// Get returns the instructions that bring the value of name to
// the top of the main stack. The value keeps its slot unless
// last is set. The second result is false if name is not routed.
func (m *AltStackManager) Get(name string, last bool) (linear.Instructions, bool, error) {
	i := m.slot(name)
	if i < 0 {
		return nil, false, nil
	}
	after, err := m.valuesAfter(name, i)
	if err != nil {
		return nil, true, err
	}

	ins := repeat(after, txscript.OP_FROMALTSTACK)
	ins = append(ins, linear.NewOp(txscript.OP_FROMALTSTACK))
	if last {
		ins = append(ins, repeat(after, txscript.OP_SWAP, txscript.OP_TOALTSTACK)...)
		m.slots = append(m.slots[:i], m.slots[i+1:]...)
		return ins, true, nil
	}
	ins = append(ins, linear.NewOp(txscript.OP_DUP), linear.NewOp(txscript.OP_TOALTSTACK))
	ins = append(ins, repeat(after, txscript.OP_SWAP, txscript.OP_TOALTSTACK)...)
	return ins, true, nil
}

// Set returns the instructions that move the top of the main
// stack into the slot of name, replacing its value.
// The second result is false if name is not routed.
func (m *AltStackManager) Set(name string) (linear.Instructions, bool, error) {
	i := m.slot(name)
	if i < 0 {
		return nil, false, nil
	}
	after, err := m.valuesAfter(name, i)
	if err != nil {
		return nil, true, err
	}

	ins := repeat(after, txscript.OP_FROMALTSTACK)
	ins = append(ins,
		linear.NewOp(txscript.OP_FROMALTSTACK),
		linear.NewOp(txscript.OP_DROP),
		linear.IntOp(int64(after)),
		linear.NewOp(txscript.OP_ROLL),
		linear.NewOp(txscript.OP_TOALTSTACK),
	)
	ins = append(ins, repeat(after, txscript.OP_TOALTSTACK)...)
	return ins, true, nil
}
