// Package inline resolves named stack values in the linear
// representation. A Contextualizer derives per-program
// metadata: occurrence lists, conditional branches and
// branch-aware stack heights. An Inliner uses it to replace
// every named reference with positional stack operations.
package inline

import (
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

// Contextualizer computes a Context for a program.
type Contextualizer struct {
	table *symbols.Table
	opts  linear.Options
}

func NewContextualizer(table *symbols.Table, opts linear.Options) *Contextualizer {
	return &Contextualizer{table: table, opts: opts}
}

// Context is the metadata of one program at one point in time.
// Any change to the program invalidates it.
type Context struct {
	Ins      linear.Instructions
	Branches Branches

	// Occurrence indices by name, in program order.
	// A variable that names an initial stack item
	// counts as an assumption.
	Assumptions map[string][]int
	Assignments map[string][]int
	Variables   map[string][]int

	// StackNames is the initial stack, bottom first.
	StackNames []string

	table *symbols.Table
	opts  linear.Options
}

// Contextualize assigns each instruction its index and returns the
// program's metadata. It resolves the arguments of PICK, ROLL, IFDUP
// and CHECKMULTISIG where preceding literals allow, and rejects
// unbalanced conditionals, undeclared assumptions and, unless
// allowed, hash comparisons against literals of the wrong length.
func (c *Contextualizer) Contextualize(ins linear.Instructions) (*Context, error) {
	ctx := &Context{
		Ins:         ins,
		Assumptions: make(map[string][]int),
		Assignments: make(map[string][]int),
		Variables:   make(map[string][]int),
		StackNames:  c.table.StackAssumptions(),
		table:       c.table,
		opts:        c.opts,
	}

	var open []int
	for i, in := range ins {
		in.SetIndex(i)
		switch in := in.(type) {
		case *linear.Op:
			switch in.Code {
			case txscript.OP_IF, txscript.OP_NOTIF:
				ctx.Branches = append(ctx.Branches, Branch{
					IsTrue:    true,
					Start:     i + 1,
					End:       -1,
					NestLevel: len(open) + 1,
					Sibling:   -1,
					Marker:    i,
					EndIf:     -1,
				})
				open = append(open, len(ctx.Branches)-1)
			case txscript.OP_ELSE:
				if len(open) == 0 || !ctx.Branches[open[len(open)-1]].IsTrue {
					return nil, unbalanced(i, in)
				}
				cur := open[len(open)-1]
				ctx.Branches[cur].End = i
				ctx.Branches = append(ctx.Branches, Branch{
					IsTrue:    false,
					Start:     i + 1,
					End:       -1,
					NestLevel: ctx.Branches[cur].NestLevel,
					Sibling:   cur,
					Marker:    i,
					EndIf:     -1,
				})
				ctx.Branches[cur].Sibling = len(ctx.Branches) - 1
				open[len(open)-1] = len(ctx.Branches) - 1
			case txscript.OP_ENDIF:
				if len(open) == 0 {
					return nil, unbalanced(i, in)
				}
				cur := open[len(open)-1]
				open = open[:len(open)-1]
				ctx.Branches[cur].End = i
				ctx.Branches[cur].EndIf = i
				if sib := ctx.Branches[cur].Sibling; sib >= 0 {
					ctx.Branches[sib].EndIf = i
				}
			case txscript.OP_PICK, txscript.OP_ROLL:
				if n, ok := ctx.intAt(i - 1); ok {
					in.Args = []int{1, int(n) + 2}
				}
			case txscript.OP_IFDUP:
				if n, ok := ctx.intAt(i - 1); ok {
					if n != 0 {
						in.SetDelta(1)
					} else {
						in.SetDelta(0)
					}
				}
			case txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY:
				ctx.multisig(in)
			}
		case *linear.Push, *linear.InnerScript, *linear.FunctionCall:
		case *linear.Assumption:
			ctx.Assumptions[in.Name] = append(ctx.Assumptions[in.Name], i)
		case *linear.Assignment:
			ctx.Assignments[in.Name] = append(ctx.Assignments[in.Name], i)
		case *linear.Variable:
			if sym, err := c.table.Lookup(in.Name); err == nil && sym.Kind == symbols.StackItem {
				ctx.Assumptions[in.Name] = append(ctx.Assumptions[in.Name], i)
			} else {
				ctx.Variables[in.Name] = append(ctx.Variables[in.Name], i)
			}
		}
	}
	if len(open) > 0 {
		b := ctx.Branches[open[len(open)-1]]
		return nil, unbalanced(b.Marker, ins[b.Marker])
	}

	for name, occ := range ctx.Assumptions {
		if _, ok := c.table.StackValue(name); !ok {
			return nil, errors.WithData(ErrUndeclaredAssumption, "name", name, "index", occ[0])
		}
	}

	if !c.opts.AllowInvalidComparisons {
		if err := ctx.checkComparisons(); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

func unbalanced(i int, in linear.Instruction) error {
	return errors.WithData(ErrUnbalancedConditional, "index", i, "opcode", in.String())
}

func (ctx *Context) intAt(i int) (int64, bool) {
	if i < 0 || i >= len(ctx.Ins) {
		return 0, false
	}
	return linear.ToInt(ctx.Ins[i])
}

// multisig counts the arguments of a CHECKMULTISIG from the
// literal key and signature counts before it. The count
// includes the extra item the opcode pops.
func (ctx *Context) multisig(op *linear.Op) {
	i := op.Index()
	npub, ok := ctx.intAt(i - 1)
	if !ok || npub < 0 {
		return
	}
	nsigs, ok := ctx.intAt(i - 2 - int(npub))
	if !ok || nsigs < 0 {
		return
	}
	nargs := 3 + int(npub) + int(nsigs)
	op.NumPubKeys = int(npub)
	op.NumSigs = int(nsigs)
	op.Args = make([]int, nargs)
	for j := range op.Args {
		op.Args[j] = j + 1
	}
	if op.Code == txscript.OP_CHECKMULTISIGVERIFY {
		op.SetDelta(-nargs)
	} else {
		op.SetDelta(1 - nargs)
	}
}

var hashLen = map[byte]int{
	txscript.OP_RIPEMD160: 20,
	txscript.OP_SHA1:      20,
	txscript.OP_HASH160:   20,
	txscript.OP_SHA256:    32,
	txscript.OP_HASH256:   32,
}

// checkComparisons rejects "hash literal EQUAL" sequences
// where the literal cannot equal the hash.
func (ctx *Context) checkComparisons() error {
	for i := 0; i+2 < len(ctx.Ins); i++ {
		code, ok := linear.Code(ctx.Ins[i])
		if !ok {
			continue
		}
		want, ok := hashLen[code]
		if !ok {
			continue
		}
		data, ok := linear.Literal(ctx.Ins[i+1])
		if !ok || !linear.HasCode(ctx.Ins[i+2], txscript.OP_EQUAL, txscript.OP_EQUALVERIFY) {
			continue
		}
		if len(data) != want {
			return errors.WithData(ErrInvalidComparison,
				"index", i, "opcode", ctx.Ins[i].String(), "size", len(data), "want", want)
		}
	}
	return nil
}

// counts reports whether the instruction at i contributes to the
// stack height at idx. It does unless i is in an arm that idx is
// not in, except that the true arm of a conditional stands in for
// the whole conditional once idx is past it.
func (ctx *Context) counts(i, idx int) bool {
	for _, b := range ctx.Branches {
		if !b.Contains(i) || b.Contains(idx) {
			continue
		}
		if !b.IsTrue {
			return false
		}
		if b.Sibling >= 0 && ctx.Branches[b.Sibling].Contains(idx) {
			return false
		}
	}
	return true
}

// TotalDelta returns the stack height just before the instruction
// at idx: the initial stack plus the deltas of the instructions
// before idx that are on the path to it.
func (ctx *Context) TotalDelta(idx int) int {
	total := len(ctx.StackNames)
	for i := 0; i < idx && i < len(ctx.Ins); i++ {
		if ctx.counts(i, idx) {
			total += ctx.Ins[i].Delta()
		}
	}
	return total
}

// ArmDelta returns the net stack change of the arm at arena index b.
// Nested conditionals contribute their true arm.
func (ctx *Context) ArmDelta(b int) int {
	br := ctx.Branches[b]
	total := 0
	for i := br.Start; i < br.End; i++ {
		inner := true
		for _, nb := range ctx.Branches {
			if nb.NestLevel > br.NestLevel && nb.Contains(i) && !nb.IsTrue {
				inner = false
				break
			}
		}
		if inner {
			total += ctx.Ins[i].Delta()
		}
	}
	return total
}

// NestLevel returns the number of conditionals enclosing idx.
func (ctx *Context) NestLevel(idx int) int {
	return ctx.Branches.NestLevel(idx)
}

// Next returns the instruction after in, or nil.
func (ctx *Context) Next(in linear.Instruction) linear.Instruction {
	i := in.Index() + 1
	if i < 0 || i >= len(ctx.Ins) {
		return nil
	}
	return ctx.Ins[i]
}

// FollowingOccurrences returns the number of occurrences of
// the assumption name after idx, in program order.
func (ctx *Context) FollowingOccurrences(name string, idx int) int {
	return countAfter(ctx.Assumptions[name], idx)
}

// FollowingUses returns the number of reads of the variable
// name after idx and before it is next assigned.
func (ctx *Context) FollowingUses(name string, idx int) int {
	limit := len(ctx.Ins)
	for _, a := range ctx.Assignments[name] {
		if a > idx {
			limit = a
			break
		}
	}
	n := 0
	for _, v := range ctx.Variables[name] {
		if v > idx && v < limit {
			n++
		}
	}
	return n
}

func countAfter(occ []int, idx int) int {
	n := 0
	for _, o := range occ {
		if o > idx {
			n++
		}
	}
	return n
}

// conditional is a closed conditional seen from its true arm.
type conditional struct {
	trueArm  int
	falseArm int // -1 if there is no ELSE
	endIf    int
}

func (ctx *Context) conditionals() []conditional {
	var out []conditional
	for i, b := range ctx.Branches {
		if b.IsTrue && b.Closed() {
			out = append(out, conditional{trueArm: i, falseArm: b.Sibling, endIf: b.EndIf})
		}
	}
	return out
}

// uneven reports whether the arms of c leave different
// stack heights. A missing ELSE counts as an empty arm.
func (ctx *Context) uneven(c conditional) bool {
	f := 0
	if c.falseArm >= 0 {
		f = ctx.ArmDelta(c.falseArm)
	}
	return ctx.ArmDelta(c.trueArm) != f
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dump returns a readable rendering of the metadata.
func (ctx *Context) Dump() string {
	return spew.Sdump(struct {
		Program     string
		Branches    Branches
		Assumptions map[string][]int
		Assignments map[string][]int
		Variables   map[string][]int
		StackNames  []string
	}{
		ctx.Ins.String(),
		ctx.Branches,
		ctx.Assumptions,
		ctx.Assignments,
		ctx.Variables,
		ctx.StackNames,
	})
}
