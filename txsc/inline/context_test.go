package inline

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/symbols"
)

func newTable(stack ...string) *symbols.Table {
	table := symbols.NewTable()
	table.AddStackAssumptions(stack)
	return table
}

func contextualize(t *testing.T, table *symbols.Table, opts linear.Options, src string) (*Context, error) {
	t.Helper()
	return NewContextualizer(table, opts).Contextualize(linear.MustAssemble(src))
}

func mustContextualize(t *testing.T, stack []string, src string) *Context {
	t.Helper()
	ctx, err := contextualize(t, newTable(stack...), linear.DefaultOptions(), src)
	require.NoError(t, err, src)
	return ctx
}

func TestBranches(t *testing.T) {
	ctx := mustContextualize(t, []string{"a"}, "assume(a) IF 1 ELSE 2 3 ENDIF 4")
	require.Equal(t, Branches{
		{IsTrue: true, Start: 2, End: 3, NestLevel: 1, Sibling: 1, Marker: 1, EndIf: 6},
		{IsTrue: false, Start: 4, End: 6, NestLevel: 1, Sibling: 0, Marker: 3, EndIf: 6},
	}, ctx.Branches)
	require.True(t, ctx.Branches.IsSibling(0, 1))
	require.False(t, ctx.Branches.IsSibling(0, 0))
	require.Equal(t, []int{1}, ctx.Branches.Containing(5))
	require.Empty(t, ctx.Branches.Containing(3))

	for i, in := range ctx.Ins {
		require.Equal(t, i, in.Index())
	}
}

func TestNestedBranches(t *testing.T) {
	ctx := mustContextualize(t, nil, "IF IF 1 2 ELSE 3 ENDIF ELSE 4 ENDIF")
	require.Len(t, ctx.Branches, 4)

	cases := []struct {
		idx  int
		nest int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{5, 2},
		{6, 1},
		{8, 1},
		{9, 0},
	}
	for _, c := range cases {
		require.Equal(t, c.nest, ctx.NestLevel(c.idx), "index %d", c.idx)
	}
	require.Equal(t, []int{0, 1}, ctx.Branches.Containing(2))

	// The nested ELSE arm does not count toward the outer true arm.
	require.Equal(t, 1, ctx.ArmDelta(0))
	require.Equal(t, 2, ctx.ArmDelta(1))
	require.Equal(t, 1, ctx.ArmDelta(2))
	require.Equal(t, 1, ctx.ArmDelta(3))
}

func TestTotalDelta(t *testing.T) {
	ctx := mustContextualize(t, []string{"a"}, "assume(a) IF 1 ELSE 2 3 ENDIF 4")
	cases := []struct {
		idx  int
		want int
	}{
		{0, 1},
		{1, 2},
		{2, 1}, // in the true arm
		{4, 1}, // the false arm starts where the true arm did
		{5, 2},
		{7, 2}, // after ENDIF the true arm stands for the conditional
		{8, 3},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ctx.TotalDelta(c.idx), "index %d", c.idx)
	}
}

func TestArgs(t *testing.T) {
	t.Run("pick", func(t *testing.T) {
		ctx := mustContextualize(t, nil, "5 6 7 2 PICK")
		op := ctx.Ins[4].(*linear.Op)
		require.Equal(t, []int{1, 4}, op.Args)
		require.Equal(t, 4, ctx.TotalDelta(5))
	})

	t.Run("roll", func(t *testing.T) {
		ctx := mustContextualize(t, nil, "5 6 7 2 ROLL")
		require.Equal(t, []int{1, 4}, ctx.Ins[4].(*linear.Op).Args)
		require.Equal(t, 3, ctx.TotalDelta(5))
	})

	t.Run("ifdup", func(t *testing.T) {
		cases := []struct {
			src   string
			delta int
		}{
			{"1 IFDUP", 1},
			{"0 IFDUP", 0},
			{"DUP IFDUP", 0},
		}
		for _, c := range cases {
			ctx := mustContextualize(t, nil, c.src)
			require.Equal(t, c.delta, ctx.Ins[1].Delta(), c.src)
		}
	})

	t.Run("multisig", func(t *testing.T) {
		ctx := mustContextualize(t, nil, "0 'sig' 1 'pk1' 'pk2' 2 CHECKMULTISIG")
		op := ctx.Ins[6].(*linear.Op)
		require.Equal(t, 2, op.NumPubKeys)
		require.Equal(t, 1, op.NumSigs)
		require.Equal(t, []int{1, 2, 3, 4, 5, 6}, op.Args)
		require.Equal(t, -5, op.Delta())
		require.Equal(t, 1, ctx.TotalDelta(7))

		ctx = mustContextualize(t, nil, "0 'sig' 1 'pk1' 'pk2' 2 CHECKMULTISIGVERIFY")
		require.Equal(t, 0, ctx.TotalDelta(7))
	})

	t.Run("multisig unknown counts", func(t *testing.T) {
		ctx := mustContextualize(t, nil, "DUP CHECKMULTISIG")
		op := ctx.Ins[1].(*linear.Op)
		require.Equal(t, -1, op.NumPubKeys)
		require.Equal(t, 0, op.Delta())
	})
}

func TestOccurrences(t *testing.T) {
	ctx := mustContextualize(t, []string{"a"}, "assume(a) var(a) 5 assign(x) var(x) var(x) 6 assign(x) var(x) assume(a)")
	require.Equal(t, []int{0, 1, 9}, ctx.Assumptions["a"])
	require.Equal(t, []int{3, 7}, ctx.Assignments["x"])
	require.Equal(t, []int{4, 5, 8}, ctx.Variables["x"])

	require.Equal(t, 2, ctx.FollowingOccurrences("a", 0))
	require.Equal(t, 0, ctx.FollowingOccurrences("a", 9))
	require.Equal(t, 1, ctx.FollowingUses("x", 4))
	require.Equal(t, 0, ctx.FollowingUses("x", 5))
	require.Equal(t, 1, ctx.FollowingUses("x", 7))

	require.Equal(t, ctx.Ins[1], ctx.Next(ctx.Ins[0]))
	require.Nil(t, ctx.Next(ctx.Ins[9]))
}

func TestContextualizeErrors(t *testing.T) {
	hash19 := "0x" + string(bytes.Repeat([]byte("ab"), 19))
	hash20 := "0x" + string(bytes.Repeat([]byte("ab"), 20))

	cases := []struct {
		name  string
		stack []string
		src   string
		want  error
	}{
		{"missing endif", nil, "1 IF 2", ErrUnbalancedConditional},
		{"stray else", nil, "1 ELSE 2", ErrUnbalancedConditional},
		{"stray endif", nil, "1 ENDIF", ErrUnbalancedConditional},
		{"double else", nil, "1 IF 2 ELSE 3 ELSE 4 ENDIF", ErrUnbalancedConditional},
		{"undeclared", nil, "assume(z)", ErrUndeclaredAssumption},
		{"short hash", nil, "HASH160 " + hash19 + " EQUAL", ErrInvalidComparison},
		{"long sha256", nil, "SHA256 " + hash20 + " EQUALVERIFY", ErrInvalidComparison},
		{"hash", nil, "HASH160 " + hash20 + " EQUAL", nil},
		{"nested ok", []string{"a"}, "assume(a) IF 1 IF 2 ENDIF ENDIF", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := contextualize(t, newTable(c.stack...), linear.DefaultOptions(), c.src)
			require.Equal(t, c.want, errors.Root(err))
		})
	}
}

func TestErrorData(t *testing.T) {
	_, err := contextualize(t, newTable(), linear.DefaultOptions(), "1 2 ENDIF")
	require.Equal(t, map[string]interface{}{"index": 2, "opcode": "OP_ENDIF"}, errors.Data(err))
}

func TestAllowInvalidComparisons(t *testing.T) {
	opts := linear.DefaultOptions()
	opts.AllowInvalidComparisons = true
	ctx, err := contextualize(t, newTable(), opts, "SHA256 0x01 EQUAL")
	require.NoError(t, err)
	require.True(t, linear.HasCode(ctx.Ins[2], txscript.OP_EQUAL))
}

func TestDump(t *testing.T) {
	ctx := mustContextualize(t, []string{"a"}, "assume(a) IF 1 ENDIF")
	out := ctx.Dump()
	require.Contains(t, out, "assume(a) OP_IF OP_1 OP_ENDIF")
	require.Contains(t, out, "StackNames")
}
