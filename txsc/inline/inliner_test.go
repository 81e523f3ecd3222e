package inline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/testutil"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/optimize"
	"github.com/Bit-Atto/txsc/txsc/runtime"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

const hash20 = "0x0102030405060708090a0b0c0d0e0f1011121314"

func inline(t *testing.T, table *symbols.Table, opts linear.Options, opt Optimizer, src string) (linear.Instructions, error) {
	t.Helper()
	ins := linear.MustAssemble(src)
	err := NewInliner(table, opts).Inline(&ins, opt)
	return ins, err
}

func TestInlineAssumptions(t *testing.T) {
	cases := []struct {
		name  string
		stack []string
		src   string
		want  string
	}{
		{"roll", []string{"t"}, "5 5 assume(t) ADD", "OP_5 OP_5 OP_2 OP_ROLL OP_ADD"},
		{"pick then roll", []string{"t"}, "5 5 assume(t) ADD assume(t)", "OP_5 OP_5 OP_2 OP_PICK OP_ADD OP_2 OP_ROLL"},
		{"already on top", []string{"t"}, "assume(t) 5 ADD", "OP_5 OP_ADD"},
		{"swapped commutative", []string{"t"}, "5 assume(t) ADD", "OP_5 OP_ADD"},
		{"1add", []string{"t"}, "assume(t) 1 ADD", "OP_1ADD"},
		{"unary", []string{"a"}, "assume(a) NOT", "OP_NOT"},
		{"duplicate", []string{"a"}, "assume(a) assume(a) EQUAL", "OP_DUP OP_OVER OP_EQUAL"},
		{"pair on top", []string{"a", "b"}, "assume(a) assume(b) ADD", "OP_ADD"},
		{"pair reversed", []string{"a", "b"}, "assume(b) assume(a) SUB", "OP_SWAP OP_SUB"},
		{"stack variable", []string{"a"}, "var(a) 1 ADD", "OP_1 OP_ADD"},
		{
			"pay to pubkey hash",
			[]string{"sig", "pubkey"},
			"assume(pubkey) HASH160 " + hash20 + " EQUALVERIFY assume(sig) assume(pubkey) CHECKSIG",
			"OP_DUP OP_HASH160 " + hash20 + " OP_EQUALVERIFY OP_CHECKSIG",
		},
		{
			"uneven conditional",
			[]string{"a"},
			"assume(a) IF 1 ELSE 2 3 ENDIF var(a)",
			"OP_DUP OP_TOALTSTACK OP_IF OP_1 OP_ELSE OP_2 OP_3 OP_ENDIF OP_FROMALTSTACK",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := inline(t, newTable(c.stack...), linear.DefaultOptions(), optimize.NewPeephole(true), c.src)
			if err != nil {
				testutil.FatalErr(t, err)
			}
			testutil.ExpectString(t, got, c.want, c.src)
		})
	}
}

func TestInlineWithoutOptimizer(t *testing.T) {
	cases := []struct {
		stack []string
		src   string
		want  string
	}{
		{[]string{"t"}, "5 assume(t) ADD", "OP_5 OP_1 OP_ROLL OP_ADD"},
		{[]string{"a"}, "assume(a) assume(a) EQUAL", "OP_0 OP_PICK OP_1 OP_PICK OP_EQUAL"},
		{[]string{"a", "b"}, "assume(a) 1 ADD assume(b)", "OP_1 OP_ROLL OP_1 OP_ADD OP_1 OP_ROLL"},
		{nil, "5 assign(x) var(x) var(x) ADD", "OP_5 OP_0 OP_PICK OP_1 OP_ROLL OP_ADD"},
	}
	for _, c := range cases {
		got, err := inline(t, newTable(c.stack...), linear.DefaultOptions(), nil, c.src)
		require.NoError(t, err, c.src)
		testutil.ExpectString(t, got, c.want, c.src)
	}
}

func TestInlineVariables(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"copy", "5 assign(x) var(x) var(x) ADD", "OP_5 OP_DUP OP_ADD"},
		{"unused", "5 assign(x) 6", "OP_5 OP_6"},
		{"reassigned", "5 assign(x) var(x) 1ADD assign(x) var(x)", "OP_5 OP_1ADD"},
		{"below", "5 assign(x) 6 7 var(x)", "OP_5 OP_6 OP_7 OP_2 OP_ROLL"},
		{
			"reassigned in branch",
			"0 assign(x) 1 IF 5 assign(x) ENDIF var(x)",
			"OP_0 OP_TOALTSTACK OP_0 OP_FROMALTSTACK OP_DROP OP_TOALTSTACK " +
				"OP_1 OP_IF OP_5 OP_FROMALTSTACK OP_DROP OP_TOALTSTACK OP_ENDIF OP_FROMALTSTACK",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := inline(t, newTable(), linear.DefaultOptions(), optimize.NewPeephole(true), c.src)
			require.NoError(t, err)
			testutil.ExpectString(t, got, c.want, c.src)
		})
	}
}

func newFuncTable(t *testing.T, stack []string, defs ...string) *symbols.Table {
	table := newTable(stack...)
	for _, def := range defs {
		u, err := linear.Parse(def)
		require.NoError(t, err, def)
		for _, f := range u.Funcs {
			table.AddSymbol(f.Name, &symbols.FuncValue{Params: f.Params, Body: f.Body}, symbols.Func, true)
		}
	}
	return table
}

func TestInlineFunctions(t *testing.T) {
	defs := []string{
		"func(inc, x) { var(x) 1 ADD }",
		"func(twice, y) { call(inc) { call(inc) { var(y) } } }",
		"func(five) { 5 }",
		"func(loop) { call(loop) }",
		"func(ping) { call(pong) }",
		"func(pong) { call(ping) }",
	}
	cases := []struct {
		name string
		src  string
		want string
		err  error
	}{
		{name: "call", src: "call(inc) { 5 }", want: "OP_5 OP_1 OP_ADD"},
		{name: "nested", src: "call(twice) { 5 }", want: "OP_5 OP_1 OP_ADD OP_1 OP_ADD"},
		{name: "no params", src: "call(five) call(five) ADD", want: "OP_5 OP_5 OP_ADD"},
		{name: "assumption argument", src: "call(inc) { assume(a) }", want: "OP_1 OP_ADD"},
		{name: "arity", src: "call(inc)", err: ErrArity},
		{name: "recursion", src: "call(loop)", err: ErrRecursiveCall},
		{name: "mutual recursion", src: "call(ping)", err: ErrRecursiveCall},
		{name: "not a function", src: "call(a)", err: symbols.ErrUndefined},
		{name: "undefined", src: "call(nope)", err: symbols.ErrUndefined},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			table := newFuncTable(t, []string{"a"}, defs...)
			got, err := inline(t, table, linear.DefaultOptions(), nil, c.src)
			require.Equal(t, c.err, errors.Root(err))
			if c.err == nil {
				testutil.ExpectString(t, got, c.want, c.src)
			}
			require.Equal(t, 1, table.Depth())
		})
	}
}

func TestInlineInnerScript(t *testing.T) {
	table := newTable("a")
	got, err := inline(t, table, linear.DefaultOptions(), optimize.NewPeephole(true),
		"assume(a) [ 5 assign(x) var(x) var(x) ADD ] DROP")
	require.NoError(t, err)
	testutil.ExpectString(t, got, "[ OP_5 OP_DUP OP_ADD ] OP_DROP", "inner script")
	require.Equal(t, 1, table.Depth())

	// The initial stack is not visible inside.
	_, err = inline(t, newTable("a"), linear.DefaultOptions(), nil, "[ assume(a) ] DROP")
	require.Equal(t, ErrUndeclaredAssumption, errors.Root(err))
}

func TestInlineErrors(t *testing.T) {
	noAlt := linear.DefaultOptions()
	noAlt.UseAltStackForAssumptions = false

	cases := []struct {
		name  string
		stack []string
		opts  linear.Options
		src   string
		want  error
	}{
		{"uneven", []string{"a"}, noAlt, "assume(a) IF 1 ELSE 2 3 ENDIF var(a)", ErrUnevenConditional},
		{"unbalanced", nil, linear.DefaultOptions(), "1 IF 2", ErrUnbalancedConditional},
		{"undeclared", nil, linear.DefaultOptions(), "assume(a)", ErrUndeclaredAssumption},
		{"undefined variable", nil, linear.DefaultOptions(), "var(q)", symbols.ErrUndefined},
		{"bad comparison", nil, linear.DefaultOptions(), "SHA256 0x01 EQUAL", ErrInvalidComparison},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := inline(t, newTable(c.stack...), c.opts, nil, c.src)
			require.Equal(t, c.want, errors.Root(err))
		})
	}
}

func TestInlineReplacements(t *testing.T) {
	ins := linear.MustAssemble("5 5 assume(t) ADD assume(t)")
	in := NewInliner(newTable("t"), linear.DefaultOptions())
	require.NoError(t, in.Inline(&ins, nil))
	require.Equal(t, 2, in.Replacements)
	for _, x := range ins {
		require.False(t, linear.IsReference(x), x.String())
	}
}

func TestInlineDuplicateReplay(t *testing.T) {
	got, err := inline(t, newTable("a"), linear.DefaultOptions(), nil, "assume(a) assume(a) EQUAL")
	require.NoError(t, err)

	// Both reads are copies: the initial item stays
	// and the comparison result is the only addition.
	state := runtime.NewStackState()
	state.AddStackAssumptions([]string{"a"})
	state.ProcessInstructions(got)
	items := state.Items()
	require.Len(t, items, 2)
	require.Equal(t, runtime.Item{Name: "a"}, items[0])
	require.Equal(t, "_", items[1].String())
}
