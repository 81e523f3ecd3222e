// Package symbols implements the scoped name table consulted
// while named stack values are resolved.
package symbols

import (
	"fmt"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
)

// ErrUndefined is returned by Lookup for names
// that are not bound in any visible scope.
var ErrUndefined = errors.New("undefined name")

// Kind is the kind of value a Symbol is bound to.
type Kind int

const (
	// StackItem is an item on the initial stack.
	// Its value is a *StackValue.
	StackItem Kind = iota

	// Var is an assigned name. Its value is a *VarValue.
	Var

	// Func is a function definition. Its value is a *FuncValue.
	Func

	// FuncArg is an argument bound to a function parameter
	// for the duration of a call. Its value is an *ArgValue.
	FuncArg
)

func (k Kind) String() string {
	switch k {
	case StackItem:
		return "stack_item"
	case Var:
		return "var"
	case Func:
		return "func"
	case FuncArg:
		return "func_arg"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ScopeKind says why a scope was opened.
type ScopeKind int

const (
	General ScopeKind = iota
	Function
	Conditional

	// InnerScript scopes hide every binding of the
	// enclosing scopes except functions.
	InnerScript
)

// StackValue locates an initial stack item.
// Height counts from the bottom of the stack and
// Depth counts from the top, both at declaration.
type StackValue struct {
	Height int
	Depth  int
}

// VarValue records the assignments seen for a name.
type VarValue struct {
	Assignments int
}

type FuncValue struct {
	Params []string
	Body   linear.Instructions
}

type ArgValue struct {
	Ops linear.Instructions
}

// Symbol is a name bound in some scope.
type Symbol struct {
	Name  string
	Kind  Kind
	Value interface{}
}

type scope struct {
	kind    ScopeKind
	symbols map[string]*Symbol

	// stack is non-nil if the scope declares its own initial stack.
	stack []string
}

func newScope(kind ScopeKind) *scope {
	return &scope{kind: kind, symbols: make(map[string]*Symbol)}
}

// Table is a stack of scopes. The outermost scope
// is always present.
type Table struct {
	scopes []*scope
}

func NewTable() *Table {
	t := new(Table)
	t.Clear()
	return t
}

// Clear drops every scope and binding.
func (t *Table) Clear() {
	t.scopes = []*scope{newScope(General)}
}

func (t *Table) current() *scope {
	return t.scopes[len(t.scopes)-1]
}

// BeginScope opens a new innermost scope.
// Callers pair it with a deferred EndScope.
func (t *Table) BeginScope(kind ScopeKind) {
	t.scopes = append(t.scopes, newScope(kind))
}

// EndScope closes the innermost scope.
// It panics if only the outermost scope is left.
func (t *Table) EndScope() {
	if len(t.scopes) == 1 {
		panic("symbols: EndScope without BeginScope")
	}
	t.scopes = t.scopes[:len(t.scopes)-1]
}

// ScopeKind returns the kind of the innermost scope.
func (t *Table) ScopeKind() ScopeKind {
	return t.current().kind
}

// Depth returns the number of open scopes,
// including the outermost one.
func (t *Table) Depth() int {
	return len(t.scopes)
}

// Lookup finds name, searching from the innermost scope outward.
func (t *Table) Lookup(name string) (*Symbol, error) {
	hidden := false
	for i := len(t.scopes) - 1; i >= 0; i-- {
		s := t.scopes[i]
		if sym, ok := s.symbols[name]; ok && (!hidden || sym.Kind == Func) {
			return sym, nil
		}
		if s.kind == InnerScript {
			hidden = true
		}
	}
	return nil, errors.WithData(ErrUndefined, "name", name)
}

// AddSymbol binds name to value. A declaration always binds
// in the innermost scope. Otherwise an existing visible binding
// is updated in place, and a new one is made only if
// there is none.
func (t *Table) AddSymbol(name string, value interface{}, kind Kind, isDecl bool) *Symbol {
	if !isDecl {
		if sym, err := t.Lookup(name); err == nil {
			sym.Value = value
			sym.Kind = kind
			return sym
		}
	}
	sym := &Symbol{Name: name, Kind: kind, Value: value}
	t.current().symbols[name] = sym
	return sym
}

// AddStackAssumptions declares the initial stack of the
// innermost scope. Names are given bottom first.
func (t *Table) AddStackAssumptions(names []string) {
	s := t.current()
	s.stack = append([]string{}, names...)
	n := len(names)
	for i, name := range names {
		s.symbols[name] = &Symbol{
			Name:  name,
			Kind:  StackItem,
			Value: &StackValue{Height: i, Depth: n - 1 - i},
		}
	}
}

// StackAssumptions returns the names on the initial stack
// of the nearest scope that declares one, bottom first.
func (t *Table) StackAssumptions() []string {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		s := t.scopes[i]
		if s.stack != nil {
			return s.stack
		}
		if s.kind == InnerScript {
			return nil
		}
	}
	return nil
}

// StackValue returns the initial stack position of name,
// if name is a visible stack item.
func (t *Table) StackValue(name string) (*StackValue, bool) {
	sym, err := t.Lookup(name)
	if err != nil || sym.Kind != StackItem {
		return nil, false
	}
	v, ok := sym.Value.(*StackValue)
	return v, ok
}
