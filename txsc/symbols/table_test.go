package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
)

func TestStackAssumptions(t *testing.T) {
	tab := NewTable()
	tab.AddStackAssumptions([]string{"sig", "pubkey", "n"})

	cases := []struct {
		name   string
		height int
		depth  int
	}{
		{"sig", 0, 2},
		{"pubkey", 1, 1},
		{"n", 2, 0},
	}
	for _, c := range cases {
		v, ok := tab.StackValue(c.name)
		require.True(t, ok, c.name)
		require.Equal(t, StackValue{Height: c.height, Depth: c.depth}, *v, c.name)
	}
	require.Equal(t, []string{"sig", "pubkey", "n"}, tab.StackAssumptions())
}

func TestScopes(t *testing.T) {
	tab := NewTable()
	tab.AddStackAssumptions([]string{"a"})
	tab.AddSymbol("x", &VarValue{Assignments: 1}, Var, true)
	tab.AddSymbol("f", &FuncValue{Params: []string{"p"}}, Func, true)

	func() {
		tab.BeginScope(Function)
		defer tab.EndScope()

		tab.AddSymbol("p", &ArgValue{Ops: linear.MustAssemble("5")}, FuncArg, true)
		sym, err := tab.Lookup("p")
		require.NoError(t, err)
		require.Equal(t, FuncArg, sym.Kind)

		// Outer names stay visible.
		_, err = tab.Lookup("x")
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, tab.StackAssumptions())
		require.Equal(t, Function, tab.ScopeKind())
		require.Equal(t, 2, tab.Depth())
	}()

	_, err := tab.Lookup("p")
	require.Equal(t, ErrUndefined, errors.Root(err))
	require.Equal(t, "p", errors.Data(err)["name"])
	require.Equal(t, 1, tab.Depth())
}

func TestInnerScriptScope(t *testing.T) {
	tab := NewTable()
	tab.AddStackAssumptions([]string{"a"})
	tab.AddSymbol("x", &VarValue{}, Var, true)
	tab.AddSymbol("f", &FuncValue{}, Func, true)

	tab.BeginScope(InnerScript)
	defer tab.EndScope()

	_, err := tab.Lookup("a")
	require.Equal(t, ErrUndefined, errors.Root(err))
	_, err = tab.Lookup("x")
	require.Equal(t, ErrUndefined, errors.Root(err))
	_, err = tab.Lookup("f")
	require.NoError(t, err)
	require.Nil(t, tab.StackAssumptions())

	tab.AddStackAssumptions(nil)
	require.Equal(t, []string{}, tab.StackAssumptions())
}

func TestAddSymbolUpdates(t *testing.T) {
	tab := NewTable()
	tab.AddSymbol("x", &VarValue{Assignments: 1}, Var, true)

	tab.BeginScope(Conditional)
	tab.AddSymbol("x", &VarValue{Assignments: 2}, Var, false)
	tab.AddSymbol("y", &VarValue{Assignments: 1}, Var, false)
	tab.EndScope()

	sym, err := tab.Lookup("x")
	require.NoError(t, err)
	require.Equal(t, 2, sym.Value.(*VarValue).Assignments)

	// y had no visible binding, so it was made in the closed scope.
	_, err = tab.Lookup("y")
	require.Equal(t, ErrUndefined, errors.Root(err))
}

func TestEndScopePanics(t *testing.T) {
	require.Panics(t, NewTable().EndScope)
}
