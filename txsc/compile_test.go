package txsc

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/log"
	"github.com/Bit-Atto/txsc/metrics"
	"github.com/Bit-Atto/txsc/testutil"
	"github.com/Bit-Atto/txsc/txsc/emit"
	"github.com/Bit-Atto/txsc/txsc/inline"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

// execute runs script against an input whose
// signature script pushes stack, bottom first.
func execute(t *testing.T, script []byte, stack ...int64) error {
	t.Helper()
	sb := txscript.NewScriptBuilder()
	for _, n := range stack {
		sb.AddInt64(n)
	}
	sigScript, err := sb.Script()
	require.NoError(t, err)

	return emit.Execute(script, sigScript)
}

func TestCompileExecutes(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
		pass [][]int64
		fail [][]int64
	}{{
		name: "sum",
		src:  "stack(a, b) assume(a) assume(b) ADD 7 EQUAL",
		want: "OP_ADD OP_7 OP_EQUAL",
		pass: [][]int64{{3, 4}, {7, 0}},
		fail: [][]int64{{3, 5}},
	}, {
		name: "difference",
		src:  "stack(a, b) assume(b) assume(a) SUB 2 EQUAL",
		want: "OP_SWAP OP_SUB OP_2 OP_EQUAL",
		pass: [][]int64{{3, 5}},
		fail: [][]int64{{5, 3}},
	}, {
		name: "reuse",
		src:  "stack(a, b) assume(a) assume(b) ADD assume(a) EQUAL",
		want: "OP_OVER OP_ADD OP_EQUAL",
		pass: [][]int64{{4, 0}},
		fail: [][]int64{{4, 1}},
	}, {
		name: "uneven conditional",
		src:  "stack(a) assume(a) IF 1 ELSE 2 3 ENDIF DROP var(a) 5 EQUAL",
		pass: [][]int64{{5}},
		fail: [][]int64{{4}},
	}, {
		name: "reassigned in branch",
		src:  "stack(c) 0 assign(x) assume(c) IF 5 assign(x) ENDIF var(x) 5 EQUAL",
		pass: [][]int64{{1}},
		fail: [][]int64{{0}},
	}, {
		name: "function",
		src:  "stack(a) func(double, x) { var(x) DUP ADD } call(double) { assume(a) } 8 EQUAL",
		want: "OP_DUP OP_ADD OP_8 OP_EQUAL",
		pass: [][]int64{{4}},
		fail: [][]int64{{3}},
	}, {
		name: "variables",
		src:  "stack(a) assume(a) 1ADD assign(y) var(y) var(y) ADD 6 EQUAL",
		want: "OP_1ADD OP_DUP OP_ADD OP_6 OP_EQUAL",
		pass: [][]int64{{2}},
		fail: [][]int64{{3}},
	}}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := CompileSource(context.Background(), Source{Name: c.name, Text: c.src}, linear.DefaultOptions())
			if err != nil {
				testutil.FatalErr(t, err)
			}
			if c.want != "" {
				testutil.ExpectString(t, res.Ops, c.want, c.src)
			}
			for _, in := range res.Ops {
				require.False(t, linear.IsReference(in), in.String())
			}
			for _, stack := range c.pass {
				require.NoError(t, execute(t, res.Script, stack...), "stack %v", stack)
			}
			for _, stack := range c.fail {
				require.Error(t, execute(t, res.Script, stack...), "stack %v", stack)
			}
		})
	}
}

func TestCompileScript(t *testing.T) {
	src := `
		stack(sig, pubkey)
		assume(pubkey) HASH160 0x0102030405060708090a0b0c0d0e0f1011121314 EQUALVERIFY
		assume(sig) assume(pubkey) CHECKSIG
	`
	res, err := CompileSource(context.Background(), Source{Name: "p2pkh", Text: src}, linear.DefaultOptions())
	require.NoError(t, err)
	want, _ := hex.DecodeString("76a9140102030405060708090a0b0c0d0e0f101112131488ac")
	testutil.ExpectScriptEqual(t, res.Script, want, "p2pkh")
	require.Equal(t, 2, res.Replacements)
}

func TestCompileHex(t *testing.T) {
	res, err := CompileSource(context.Background(), Source{Name: "raw", Text: "52539376", Hex: true}, linear.DefaultOptions())
	require.NoError(t, err)
	testutil.ExpectString(t, res.Ops, "OP_2 OP_3 OP_ADD OP_DUP", "raw")
	require.Equal(t, 0, res.Replacements)

	res, err = CompileSource(context.Background(), Source{Name: "raw", Text: "55519376", Hex: true}, linear.DefaultOptions())
	require.NoError(t, err)
	testutil.ExpectString(t, res.Ops, "OP_5 OP_1ADD OP_DUP", "raw")
}

func TestCompileOptions(t *testing.T) {
	u, err := linear.Parse("stack(a) assume(a) 0 ADD")
	require.NoError(t, err)

	opts := linear.DefaultOptions()
	opts.InlineAssumptions = false
	res, err := Compile(context.Background(), "check", u, opts)
	require.NoError(t, err)
	testutil.ExpectString(t, res.Ops, "assume(a)", "not inlined")
	require.Nil(t, res.Script)

	opts = linear.DefaultOptions()
	opts.PeepholeOptimizations = false
	res, err = Compile(context.Background(), "plain", u, opts)
	require.NoError(t, err)
	testutil.ExpectString(t, res.Ops, "OP_0 OP_ADD", "no peephole")

	// The unit is not modified.
	testutil.ExpectString(t, u.Ops, "assume(a) OP_0 OP_ADD", "unit")
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		src  string
		want error
	}{
		{"1 IF", inline.ErrUnbalancedConditional},
		{"assume(a)", inline.ErrUndeclaredAssumption},
		{"var(a)", symbols.ErrUndefined},
		{"NOTANOP", linear.ErrBadToken},
		{"SHA256 0x01 EQUAL", inline.ErrInvalidComparison},
	}
	for _, c := range cases {
		_, err := CompileSource(context.Background(), Source{Name: "bad", Text: c.src}, linear.DefaultOptions())
		require.Equal(t, c.want, errors.Root(err), c.src)
	}

	_, err := CompileSource(context.Background(), Source{Name: "bad", Text: "ff", Hex: true}, linear.DefaultOptions())
	require.Equal(t, emit.ErrUnsupported, errors.Root(err))
}

func TestCompilePanic(t *testing.T) {
	buf := new(bytes.Buffer)
	log.SetOutput(buf)
	defer log.SetOutput(os.Stdout)

	res, err := Compile(context.Background(), "nil", nil, linear.DefaultOptions())
	require.Nil(t, res)
	require.Equal(t, ErrInternal, errors.Root(err))
	require.NotEmpty(t, errors.Detail(err))
	require.Contains(t, buf.String(), "message=panic")
	require.Contains(t, buf.String(), "goroutine ")
}

func TestCompileLogsAndCounts(t *testing.T) {
	buf := new(bytes.Buffer)
	log.SetOutput(buf)
	defer log.SetOutput(os.Stdout)

	compiles := metrics.Counter("txsc.compile").Value()
	failures := metrics.Counter("txsc.compile.error").Value()

	_, err := CompileSource(context.Background(), Source{Name: "good", Text: "1"}, linear.DefaultOptions())
	require.NoError(t, err)
	_, err = CompileSource(context.Background(), Source{Name: "broken", Text: "1 ENDIF"}, linear.DefaultOptions())
	require.Error(t, err)

	require.Equal(t, compiles+2, metrics.Counter("txsc.compile").Value())
	require.Equal(t, failures+1, metrics.Counter("txsc.compile.error").Value())
	out := buf.String()
	require.Contains(t, out, "unit=good")
	require.Contains(t, out, "bytes=1")
	require.Contains(t, out, "unit=broken")
	require.Contains(t, out, "opcode=OP_ENDIF")
}

func TestCompileAll(t *testing.T) {
	srcs := []Source{
		{Name: "one", Text: "stack(a) assume(a) 1 ADD"},
		{Name: "two", Text: "5 assign(x) var(x) var(x) ADD"},
		{Name: "three", Text: "76a988ac", Hex: true},
	}
	results, err := CompileAll(context.Background(), srcs, linear.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 3)
	testutil.ExpectString(t, results[0].Ops, "OP_1ADD", "one")
	testutil.ExpectString(t, results[1].Ops, "OP_5 OP_DUP OP_ADD", "two")
	testutil.ExpectString(t, results[2].Ops, "OP_DUP OP_HASH160 OP_EQUALVERIFY OP_CHECKSIG", "three")

	srcs = append(srcs, Source{Name: "four", Text: "assume(q)"})
	_, err = CompileAll(context.Background(), srcs, linear.DefaultOptions())
	require.Equal(t, inline.ErrUndeclaredAssumption, errors.Root(err))
	require.Equal(t, "four", errors.Data(err)["unit"])
}
