package linear

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// Info describes the static stack behavior of an opcode.
type Info struct {
	Code byte
	Name string

	// Delta is the net number of items the opcode adds to the stack.
	// It is provisional for opcodes whose effect depends on a
	// preceding literal (PICK, ROLL, IFDUP, CHECKMULTISIG);
	// contextualization refines it.
	Delta int

	// Args are the 1-based positions, counted from the top of the
	// stack, of the items the opcode reads or replaces.
	Args []int

	Verifier bool
}

// Unary, Binary and Ternary report the argument signature of the opcode.
func (i Info) Unary() bool   { return argsEqual(i.Args, 1) }
func (i Info) Binary() bool  { return argsEqual(i.Args, 1, 2) }
func (i Info) Ternary() bool { return argsEqual(i.Args, 1, 2, 3) }

func argsEqual(args []int, want ...int) bool {
	if len(args) != len(want) {
		return false
	}
	for i := range args {
		if args[i] != want[i] {
			return false
		}
	}
	return true
}

var (
	unary   = []int{1}
	binary  = []int{1, 2}
	ternary = []int{1, 2, 3}
)

// opcodes is indexed by opcode value. Entries with an empty
// name are not supported by the compiler.
var (
	opcodes   [256]Info
	supported [256]bool
)

func def(code byte, delta int, args []int) {
	opcodes[code] = Info{Code: code, Delta: delta, Args: args}
	supported[code] = true
}

func verifier(code byte, delta int, args []int) {
	def(code, delta, args)
	opcodes[code].Verifier = true
}

func init() {
	// Constants.
	def(txscript.OP_0, 1, nil)
	def(txscript.OP_1NEGATE, 1, nil)
	for op := txscript.OP_1; op <= txscript.OP_16; op++ {
		def(byte(op), 1, nil)
	}

	// Flow control.
	def(txscript.OP_NOP, 0, nil)
	def(txscript.OP_IF, -1, unary)
	def(txscript.OP_NOTIF, -1, unary)
	def(txscript.OP_ELSE, 0, nil)
	def(txscript.OP_ENDIF, 0, nil)
	verifier(txscript.OP_VERIFY, -1, unary)
	def(txscript.OP_RETURN, 0, nil)

	// Stack.
	def(txscript.OP_TOALTSTACK, -1, unary)
	def(txscript.OP_FROMALTSTACK, 1, nil)
	def(txscript.OP_IFDUP, 0, unary)
	def(txscript.OP_DEPTH, 1, nil)
	def(txscript.OP_DROP, -1, unary)
	def(txscript.OP_DUP, 1, unary)
	def(txscript.OP_NIP, -1, []int{2})
	def(txscript.OP_OVER, 1, []int{2})
	def(txscript.OP_PICK, 0, nil)
	def(txscript.OP_ROLL, -1, nil)
	def(txscript.OP_ROT, 0, ternary)
	def(txscript.OP_SWAP, 0, binary)
	def(txscript.OP_TUCK, 1, binary)
	def(txscript.OP_2DROP, -2, binary)
	def(txscript.OP_2DUP, 2, binary)
	def(txscript.OP_3DUP, 3, ternary)
	def(txscript.OP_2OVER, 2, []int{3, 4})
	def(txscript.OP_2ROT, 0, []int{5, 6})
	def(txscript.OP_2SWAP, 0, []int{1, 2, 3, 4})

	// Splice.
	def(txscript.OP_CAT, -1, binary)
	def(txscript.OP_SUBSTR, -2, ternary)
	def(txscript.OP_LEFT, -1, binary)
	def(txscript.OP_RIGHT, -1, binary)
	def(txscript.OP_SIZE, 1, unary)

	// Bitwise logic.
	def(txscript.OP_INVERT, 0, unary)
	def(txscript.OP_AND, -1, binary)
	def(txscript.OP_OR, -1, binary)
	def(txscript.OP_XOR, -1, binary)
	def(txscript.OP_EQUAL, -1, binary)
	verifier(txscript.OP_EQUALVERIFY, -2, binary)

	// Arithmetic.
	for _, op := range []byte{
		txscript.OP_1ADD, txscript.OP_1SUB, txscript.OP_2MUL, txscript.OP_2DIV,
		txscript.OP_NEGATE, txscript.OP_ABS, txscript.OP_NOT, txscript.OP_0NOTEQUAL,
	} {
		def(op, 0, unary)
	}
	for _, op := range []byte{
		txscript.OP_ADD, txscript.OP_SUB, txscript.OP_MUL, txscript.OP_DIV,
		txscript.OP_MOD, txscript.OP_LSHIFT, txscript.OP_RSHIFT,
		txscript.OP_BOOLAND, txscript.OP_BOOLOR,
		txscript.OP_NUMEQUAL, txscript.OP_NUMNOTEQUAL,
		txscript.OP_LESSTHAN, txscript.OP_GREATERTHAN,
		txscript.OP_LESSTHANOREQUAL, txscript.OP_GREATERTHANOREQUAL,
		txscript.OP_MIN, txscript.OP_MAX,
	} {
		def(op, -1, binary)
	}
	verifier(txscript.OP_NUMEQUALVERIFY, -2, binary)
	def(txscript.OP_WITHIN, -2, ternary)

	// Crypto.
	for _, op := range []byte{
		txscript.OP_RIPEMD160, txscript.OP_SHA1, txscript.OP_SHA256,
		txscript.OP_HASH160, txscript.OP_HASH256,
	} {
		def(op, 0, unary)
	}
	def(txscript.OP_CODESEPARATOR, 0, nil)
	def(txscript.OP_CHECKSIG, -1, binary)
	verifier(txscript.OP_CHECKSIGVERIFY, -2, binary)
	def(txscript.OP_CHECKMULTISIG, 0, nil)
	verifier(txscript.OP_CHECKMULTISIGVERIFY, 0, nil)

	// Locktime and reserved no-ops.
	def(txscript.OP_CHECKLOCKTIMEVERIFY, 0, unary)
	def(txscript.OP_CHECKSEQUENCEVERIFY, 0, unary)
	for _, op := range []byte{
		txscript.OP_NOP1, txscript.OP_NOP4, txscript.OP_NOP5, txscript.OP_NOP6,
		txscript.OP_NOP7, txscript.OP_NOP8, txscript.OP_NOP9, txscript.OP_NOP10,
	} {
		def(op, 0, nil)
	}

	// Names come from txscript so that disassembly and the
	// compiler agree.
	for name, code := range txscript.OpcodeByName {
		if supported[code] && !alias[name] {
			opcodes[code].Name = name
		}
	}
}

// alias names are accepted by ByName but never printed.
var alias = map[string]bool{
	"OP_FALSE": true,
	"OP_TRUE":  true,
	"OP_NOP2":  true,
	"OP_NOP3":  true,
}

// Lookup returns the registry entry for code.
// The second result is false if the compiler does not support code.
func Lookup(code byte) (Info, bool) {
	info := opcodes[code]
	return info, info.Name != ""
}

// ByName returns the registry entry for the named opcode.
// The OP_ prefix is optional and case is ignored.
func ByName(name string) (Info, bool) {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "OP_") {
		name = "OP_" + name
	}
	code, ok := txscript.OpcodeByName[name]
	if !ok {
		return Info{}, false
	}
	return Lookup(code)
}

// MustLookup is like Lookup but panics if code is unsupported.
func MustLookup(code byte) Info {
	info, ok := Lookup(code)
	if !ok {
		panic(fmt.Sprintf("linear: unsupported opcode 0x%02x", code))
	}
	return info
}

// SmallInt returns the integer pushed by a small-integer opcode.
func SmallInt(code byte) (int64, bool) {
	switch {
	case code == txscript.OP_0:
		return 0, true
	case code == txscript.OP_1NEGATE:
		return -1, true
	case code >= txscript.OP_1 && code <= txscript.OP_16:
		return int64(code-txscript.OP_1) + 1, true
	}
	return 0, false
}

// SmallIntOp returns the opcode that pushes n, if there is one.
func SmallIntOp(n int64) (byte, bool) {
	switch {
	case n == 0:
		return txscript.OP_0, true
	case n == -1:
		return txscript.OP_1NEGATE, true
	case n >= 1 && n <= 16:
		return byte(txscript.OP_1 + n - 1), true
	}
	return 0, false
}

// IsConditional reports whether code opens, splits or closes a conditional.
func IsConditional(code byte) bool {
	switch code {
	case txscript.OP_IF, txscript.OP_NOTIF, txscript.OP_ELSE, txscript.OP_ENDIF:
		return true
	}
	return false
}
