package inline

import "github.com/Bit-Atto/txsc/errors"

var (
	// ErrUnbalancedConditional means an IF or NOTIF has no ENDIF,
	// or an ELSE or ENDIF has no IF.
	ErrUnbalancedConditional = errors.New("unbalanced conditional")

	// ErrUnevenConditional means an assumption is read after a
	// conditional whose arms leave different stack heights,
	// and alt stack routing is disabled.
	ErrUnevenConditional = errors.New("assumption encountered after uneven conditional")

	// ErrInvalidComparison means a hash is compared against
	// a literal of the wrong length.
	ErrInvalidComparison = errors.New("invalid hash comparison")

	ErrUndeclaredAssumption = errors.New("undeclared assumption")
	ErrArity                = errors.New("wrong number of arguments")
	ErrRecursiveCall        = errors.New("recursive function call")

	// ErrLocate means a named value could not be found
	// on the simulated stack.
	ErrLocate = errors.New("cannot locate value on stack")
)
