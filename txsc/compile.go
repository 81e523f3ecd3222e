// Package txsc compiles linear Bitcoin Script programs that refer to
// stack values by name into plain script. Compilation resolves every
// name to stack operations, optimizes the result and serializes it.
package txsc

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/log"
	"github.com/Bit-Atto/txsc/metrics"
	"github.com/Bit-Atto/txsc/txsc/emit"
	"github.com/Bit-Atto/txsc/txsc/inline"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/optimize"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

// ErrInternal is returned when compilation panics.
// The panic and its stack are logged.
var ErrInternal = errors.New("internal compiler error")

var (
	compileCount    = metrics.Counter("txsc.compile")
	compileErrCount = metrics.Counter("txsc.compile.error")
)

// Source is one compilation unit.
type Source struct {
	Name string
	Text string

	// Hex means Text is a serialized script in hex
	// rather than assembly.
	Hex bool
}

// Result is the output of compiling one unit.
type Result struct {
	Name string
	Ops  linear.Instructions

	// Script is the serialized program. It is nil
	// if names were not resolved.
	Script []byte

	Replacements int
}

// NewTable returns a symbol table holding the initial
// stack and the function definitions of u.
func NewTable(u *linear.Unit) *symbols.Table {
	table := symbols.NewTable()
	table.AddStackAssumptions(u.Stack)
	for _, f := range u.Funcs {
		table.AddSymbol(f.Name, &symbols.FuncValue{Params: f.Params, Body: f.Body}, symbols.Func, true)
	}
	return table
}

// Parse reads the unit in src.
func Parse(src Source) (*linear.Unit, error) {
	if src.Hex {
		ins, err := emit.DecodeString(src.Text)
		if err != nil {
			return nil, err
		}
		return &linear.Unit{Ops: ins}, nil
	}
	return linear.Parse(src.Text)
}

// CompileSource parses and compiles src.
func CompileSource(ctx context.Context, src Source, opts linear.Options) (*Result, error) {
	u, err := Parse(src)
	if err != nil {
		compileErrCount.Add()
		err = errors.Wrap(err, "parse")
		log.Error(log.NewContext(ctx, src.Name), err)
		return nil, err
	}
	return Compile(ctx, src.Name, u, opts)
}

// Compile resolves the names in u, optimizes the program and
// serializes it. If opts.InlineAssumptions is off the program
// is only checked and optimized, and has no Script.
func Compile(ctx context.Context, name string, u *linear.Unit, opts linear.Options) (res *Result, err error) {
	defer metrics.RecordElapsed(time.Now())
	compileCount.Add()
	ctx = log.NewContext(ctx, name)
	defer func() {
		if err != nil {
			compileErrCount.Add()
			log.Error(ctx, err)
		}
	}()
	defer func() {
		if v := recover(); v != nil {
			log.Recovered(ctx, v)
			res, err = nil, errors.WithDetailf(ErrInternal, "%v", v)
		}
	}()

	table := NewTable(u)
	ops := u.Ops.Copy()
	peephole := optimize.NewPeephole(opts.PeepholeOptimizations)
	res = &Result{Name: name}

	if opts.InlineAssumptions {
		in := inline.NewInliner(table, opts)
		if err := in.Inline(&ops, peephole); err != nil {
			return nil, errors.Wrap(err, "inline")
		}
		res.Replacements = in.Replacements
	} else if _, err := inline.NewContextualizer(table, opts).Contextualize(ops); err != nil {
		return nil, errors.Wrap(err, "contextualize")
	}
	peephole.Optimize(&ops)
	res.Ops = ops

	if opts.InlineAssumptions {
		res.Script, err = emit.Script(ops)
		if err != nil {
			return nil, errors.Wrap(err, "emit")
		}
	}
	log.Write(ctx, "ops", len(ops), "bytes", len(res.Script), "replacements", res.Replacements)
	return res, nil
}

// CompileAll compiles each source concurrently. Results are in
// the order of srcs. The first error cancels the rest.
func CompileAll(ctx context.Context, srcs []Source, opts linear.Options) ([]*Result, error) {
	results := make([]*Result, len(srcs))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := CompileSource(ctx, src, opts)
			if err != nil {
				return errors.WithData(err, "unit", src.Name)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
