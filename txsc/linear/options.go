package linear

// Options configures the passes over the linear representation.
// The zero value disables every optional behavior;
// DefaultOptions is what the compiler uses unless told otherwise.
type Options struct {
	// AllowInvalidComparisons disables the check that a hash
	// compared against a literal has the hash's length.
	AllowInvalidComparisons bool

	// UseAltStackForAssumptions routes assumptions that are read
	// after an uneven conditional through the alt stack. Without it
	// such programs are rejected.
	UseAltStackForAssumptions bool

	// InlineAssumptions replaces named references with stack
	// operations. Without it references survive to the emitter,
	// which rejects them.
	InlineAssumptions bool

	// PeepholeOptimizations enables the peephole optimizer.
	PeepholeOptimizations bool
}

func DefaultOptions() Options {
	return Options{
		UseAltStackForAssumptions: true,
		InlineAssumptions:         true,
		PeepholeOptimizations:     true,
	}
}
