package inline

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/metrics"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/runtime"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

var (
	passCount    = metrics.Counter("txsc.inline.pass")
	replaceCount = metrics.Counter("txsc.inline.replace")
)

// Optimizer simplifies a program in place without
// adding or removing named references.
type Optimizer interface {
	Optimize(*linear.Instructions)
}

// Inliner replaces named references with stack operations.
type Inliner struct {
	table *symbols.Table
	opts  linear.Options
	ctxr  *Contextualizer
	state *runtime.StackState
	alt   *runtime.AltStackManager

	opt     Optimizer
	dups    map[linear.Instruction]Duplicate
	calling map[string]bool

	// Replacements is the number of rewrites made by the last Inline.
	Replacements int
}

func NewInliner(table *symbols.Table, opts linear.Options) *Inliner {
	state := runtime.NewStackState()
	return &Inliner{
		table: table,
		opts:  opts,
		ctxr:  NewContextualizer(table, opts),
		state: state,
		alt:   runtime.NewAltStackManager(opts, state),
	}
}

// Inline rewrites ins until it holds no assumptions, assignments,
// variables or function calls. Each pass runs opt, if it is not nil,
// recomputes the context and replaces the first reference it can.
func (in *Inliner) Inline(ins *linear.Instructions, opt Optimizer) error {
	in.opt = opt
	in.Replacements = 0
	in.calling = make(map[string]bool)
	in.state.Clear(true)
	in.alt.Clear()
	in.state.AddStackAssumptions(in.table.StackAssumptions())

	// Calls are expanded first so that the analysis below
	// sees every reference the program will make.
	for {
		ctx, err := in.contextualize(*ins)
		if err != nil {
			return err
		}
		idx := -1
		for i, x := range ctx.Ins {
			if _, ok := x.(*linear.FunctionCall); ok {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		repl, _, _, err := in.visit(ctx, idx)
		if err != nil {
			return err
		}
		ins.ReplaceSlice(idx, idx+1, repl...)
		in.Replacements++
		replaceCount.Add()
	}

	ctx, err := in.contextualize(*ins)
	if err != nil {
		return err
	}
	in.dups = ctx.DetectDuplicates()
	set, err := ctx.DetectAltStack()
	if err != nil {
		return err
	}
	ins.Insert(0, in.alt.Analyze(*ins, set)...)

	for {
		passCount.Add()
		if opt != nil {
			opt.Optimize(ins)
		}
		ctx, err := in.contextualize(*ins)
		if err != nil {
			return err
		}
		replaced := false
		for i := range ctx.Ins {
			repl, n, ok, err := in.visit(ctx, i)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			ins.ReplaceSlice(i, i+n, repl...)
			in.Replacements++
			replaceCount.Add()
			replaced = true
			break
		}
		if !replaced {
			return nil
		}
	}
}

// contextualize binds every assigned name that has no binding
// yet, then computes the context.
func (in *Inliner) contextualize(ins linear.Instructions) (*Context, error) {
	for _, x := range ins {
		a, ok := x.(*linear.Assignment)
		if !ok {
			continue
		}
		if _, err := in.table.Lookup(a.Name); err != nil {
			in.table.AddSymbol(a.Name, &symbols.VarValue{}, symbols.Var, true)
		}
	}
	ctx, err := in.ctxr.Contextualize(ins)
	if err != nil {
		return nil, err
	}
	for name, occ := range ctx.Assignments {
		if sym, err := in.table.Lookup(name); err == nil && sym.Kind == symbols.Var {
			sym.Value = &symbols.VarValue{Assignments: len(occ)}
		}
	}
	return ctx, nil
}

// replay simulates the program up to, not including, idx.
func (in *Inliner) replay(ctx *Context, idx int) {
	in.state.Clear(false)
	in.state.ProcessInstructions(ctx.Ins[:idx])
}

// visit computes the replacement for the instruction at idx. It
// returns the new instructions, the number of instructions they
// replace and whether there is a replacement at all.
func (in *Inliner) visit(ctx *Context, idx int) (linear.Instructions, int, bool, error) {
	switch x := ctx.Ins[idx].(type) {
	case *linear.Op, *linear.Push:
		return nil, 0, false, nil
	case *linear.Assumption:
		return in.assumption(ctx, idx, x)
	case *linear.Variable:
		sym, err := in.table.Lookup(x.Name)
		if err != nil {
			return nil, 0, false, errors.WithData(err, "index", idx)
		}
		switch sym.Kind {
		case symbols.StackItem:
			return in.assumption(ctx, idx, x)
		case symbols.FuncArg:
			return sym.Value.(*symbols.ArgValue).Ops.Copy(), 1, true, nil
		case symbols.Var:
			return in.variable(ctx, idx, x.Name)
		}
		return nil, 0, false, errors.WithDetailf(symbols.ErrUndefined, "%s is a %s", x.Name, sym.Kind)
	case *linear.Assignment:
		return in.assignment(ctx, idx, x.Name)
	case *linear.FunctionCall:
		body, err := in.call(x)
		if err != nil {
			return nil, 0, false, errors.WithData(err, "index", idx)
		}
		return body, 1, true, nil
	case *linear.InnerScript:
		return in.innerScript(x)
	}
	panic(errors.Wrap(errors.New("unknown instruction"), ctx.Ins[idx].String()))
}

func (in *Inliner) assumption(ctx *Context, idx int, x linear.Instruction) (linear.Instructions, int, bool, error) {
	name, _ := linear.RefName(x)
	in.replay(ctx, idx)
	last := ctx.FollowingOccurrences(name, idx) == 0 && ctx.NestLevel(idx) == 0

	if ops, ok, err := in.alt.Get(name, last); ok || err != nil {
		return ops, 1, true, err
	}

	if n := in.elide(ctx, idx); n > 0 {
		return nil, n, true, nil
	}

	pos, ok := in.state.Locate(name)
	if !ok {
		_, pos, ok = in.state.GetHighestAssumption(name)
	}
	if !ok {
		sv, isStack := in.table.StackValue(name)
		if !isStack {
			return nil, 0, false, errors.WithData(ErrUndeclaredAssumption, "name", name, "index", idx)
		}
		pos = sv.Height
	}
	_, dup := in.dups[x]
	return in.bringToTop(ctx, idx, name, pos, last && !dup)
}

func (in *Inliner) bringToTop(ctx *Context, idx int, name string, pos int, move bool) (linear.Instructions, int, bool, error) {
	depth := ctx.TotalDelta(idx) - 1 - pos
	if depth < 0 {
		return nil, 0, false, errors.WithData(ErrLocate, "name", name, "index", idx, "depth", depth)
	}
	if move && depth == 0 {
		return nil, 1, true, nil
	}
	code := byte(txscript.OP_PICK)
	if move {
		code = txscript.OP_ROLL
	}
	return linear.Instructions{linear.IntOp(int64(depth)), linear.NewOp(code)}, 1, true, nil
}

// elide returns the length of the run of assumptions starting at idx
// that already sits on top of the stack in order and is read for the
// last time, or 0 if there is none. Such a run needs no instructions.
func (in *Inliner) elide(ctx *Context, idx int) int {
	var run []*linear.Assumption
	prevDepth := 0
	for i := idx; i < len(ctx.Ins); i++ {
		a, ok := ctx.Ins[i].(*linear.Assumption)
		if !ok || in.alt.Routed(a.Name) {
			break
		}
		sv, ok := in.table.StackValue(a.Name)
		if !ok || len(run) > 0 && sv.Depth != prevDepth-1 {
			break
		}
		run = append(run, a)
		prevDepth = sv.Depth
	}

	size := ctx.TotalDelta(idx)
	for k := len(run); k > 0; k-- {
		if in.onTop(ctx, idx, run[:k], size) {
			return k
		}
	}
	return 0
}

func (in *Inliner) onTop(ctx *Context, idx int, run []*linear.Assumption, size int) bool {
	for j, a := range run {
		i := idx + j
		if _, dup := in.dups[a]; dup {
			return false
		}
		if ctx.FollowingOccurrences(a.Name, i) > 0 || ctx.NestLevel(i) > 0 {
			return false
		}
		pos, ok := in.state.Locate(a.Name)
		if !ok || pos != size-len(run)+j {
			return false
		}
	}
	return true
}

func (in *Inliner) variable(ctx *Context, idx int, name string) (linear.Instructions, int, bool, error) {
	in.replay(ctx, idx)
	last := ctx.FollowingUses(name, idx) == 0 && ctx.NestLevel(idx) == 0

	if ops, ok, err := in.alt.Get(name, last); ok || err != nil {
		return ops, 1, true, err
	}

	pos, ok := in.state.Locate(name)
	if !ok {
		return nil, 0, false, errors.WithData(ErrLocate, "name", name, "index", idx)
	}
	return in.bringToTop(ctx, idx, name, pos, last)
}

// assignment stores into the alt stack slot of a routed name.
// Otherwise the assignment stays in place to label its value
// until no later read needs it.
func (in *Inliner) assignment(ctx *Context, idx int, name string) (linear.Instructions, int, bool, error) {
	in.replay(ctx, idx)
	if ops, ok, err := in.alt.Set(name); ok || err != nil {
		return ops, 1, true, err
	}
	if countAfter(ctx.Variables[name], idx) > 0 || countAfter(ctx.Assumptions[name], idx) > 0 {
		return nil, 0, false, nil
	}
	return nil, 1, true, nil
}

// call returns the body of the called function with its
// parameters replaced by the arguments.
func (in *Inliner) call(c *linear.FunctionCall) (linear.Instructions, error) {
	sym, err := in.table.Lookup(c.Name)
	if err != nil {
		return nil, err
	}
	fn, ok := sym.Value.(*symbols.FuncValue)
	if !ok || sym.Kind != symbols.Func {
		return nil, errors.WithDetailf(symbols.ErrUndefined, "%s is not a function", c.Name)
	}
	if len(c.Args) != len(fn.Params) {
		return nil, errors.WithData(ErrArity, "name", c.Name, "want", len(fn.Params), "got", len(c.Args))
	}
	if in.calling[c.Name] {
		return nil, errors.WithData(ErrRecursiveCall, "name", c.Name)
	}
	in.calling[c.Name] = true
	defer delete(in.calling, c.Name)

	in.table.BeginScope(symbols.Function)
	defer in.table.EndScope()
	for i, p := range fn.Params {
		in.table.AddSymbol(p, &symbols.ArgValue{Ops: c.Args[i]}, symbols.FuncArg, true)
	}
	return in.body(fn.Body)
}

// body substitutes arguments for parameters and expands nested
// calls. Other references are left for the main loop.
func (in *Inliner) body(ins linear.Instructions) (linear.Instructions, error) {
	var out linear.Instructions
	for _, x := range ins {
		switch x := x.(type) {
		case *linear.Variable:
			if sym, err := in.table.Lookup(x.Name); err == nil && sym.Kind == symbols.FuncArg {
				out = append(out, sym.Value.(*symbols.ArgValue).Ops.Copy()...)
				continue
			}
		case *linear.FunctionCall:
			args := make([]linear.Instructions, len(x.Args))
			for i, arg := range x.Args {
				a, err := in.body(arg)
				if err != nil {
					return nil, err
				}
				args[i] = a
			}
			expanded, err := in.call(linear.NewFunctionCall(x.Name, args...))
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			continue
		case *linear.InnerScript:
			ops, err := in.body(x.Ops)
			if err != nil {
				return nil, err
			}
			out = append(out, linear.NewInnerScript(ops))
			continue
		}
		out = append(out, linear.Clone(x))
	}
	return out, nil
}

// innerScript resolves the references of a nested script in its own
// scope, with an empty initial stack.
func (in *Inliner) innerScript(s *linear.InnerScript) (linear.Instructions, int, bool, error) {
	in.table.BeginScope(symbols.InnerScript)
	defer in.table.EndScope()
	in.table.AddStackAssumptions(nil)

	ops := s.Ops.Copy()
	child := NewInliner(in.table, in.opts)
	if err := child.Inline(&ops, in.opt); err != nil {
		return nil, 0, false, err
	}
	if ops.Equal(s.Ops) {
		return nil, 0, false, nil
	}
	return linear.Instructions{linear.NewInnerScript(ops)}, 1, true, nil
}
