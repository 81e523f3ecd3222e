// Package optimize implements the peephole optimizer
// for the linear representation.
package optimize

import (
	"strings"

	"github.com/btcsuite/btcd/txscript"

	"github.com/Bit-Atto/txsc/txsc/linear"
)

// DefaultMaxPasses bounds the number of times the
// rule set is applied in one call to Optimize.
const DefaultMaxPasses = 5

// Rule is a named peephole rewrite. Apply rewrites the
// program in place and reports whether it changed it.
type Rule struct {
	Name string

	// Forms lists the rewrites the rule performs,
	// in the form "before -> after". An underscore
	// stands for no instructions.
	Forms []string

	Apply func(*linear.Instructions) bool
}

var rules []Rule

func peephole(name string, forms []string, apply func(*linear.Instructions) bool) {
	rules = append(rules, Rule{Name: name, Forms: forms, Apply: apply})
}

// Rules returns the rules in the order they are applied.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// Peephole applies the rule set until the program stops
// changing or MaxPasses is reached. It never adds or
// removes named references.
type Peephole struct {
	Enabled   bool
	MaxPasses int
}

func NewPeephole(enabled bool) *Peephole {
	return &Peephole{Enabled: enabled, MaxPasses: DefaultMaxPasses}
}

// Optimize rewrites ins in place.
func (p *Peephole) Optimize(ins *linear.Instructions) {
	if !p.Enabled {
		return
	}
	for pass := 0; pass < p.MaxPasses; pass++ {
		before := ins.String()
		for _, r := range rules {
			r.Apply(ins)
		}
		if ins.String() == before {
			return
		}
	}
}

func op(code byte) linear.Instruction { return linear.NewOp(code) }

func constant(out ...byte) func(linear.Instructions) linear.Instructions {
	return func(linear.Instructions) linear.Instructions {
		repl := make(linear.Instructions, len(out))
		for i, c := range out {
			repl[i] = op(c)
		}
		return repl
	}
}

type rewrite struct {
	t  linear.Template
	fn func(linear.Instructions) linear.Instructions
}

func applyAll(ins *linear.Instructions, rw []rewrite) bool {
	changed := false
	for _, r := range rw {
		if ins.ReplaceTemplate(r.t, r.fn) {
			changed = true
		}
	}
	return changed
}

// fixed builds a rule out of opcode-only rewrites.
func fixed(name string, pairs ...[2][]byte) {
	var rw []rewrite
	var forms []string
	for _, p := range pairs {
		rw = append(rw, rewrite{linear.Ops(p[0]...), constant(p[1]...)})
		forms = append(forms, form(p[0], p[1]))
	}
	peephole(name, forms, func(ins *linear.Instructions) bool { return applyAll(ins, rw) })
}

func form(before, after []byte) string {
	name := func(codes []byte) string {
		if len(codes) == 0 {
			return "_"
		}
		s := make([]string, len(codes))
		for i, c := range codes {
			s[i] = linear.MustLookup(c).Name
		}
		return strings.Join(s, " ")
	}
	return name(before) + " -> " + name(after)
}

func pair(before []byte, after ...byte) [2][]byte {
	return [2][]byte{before, after}
}

func codes(c ...byte) []byte { return c }

func isSmall(n int64) linear.Matcher {
	return func(x linear.Instruction) bool {
		v, ok := linear.ToInt(x)
		_, isPush := x.(*linear.Push)
		return ok && !isPush && v == n
	}
}

// strictNum reports whether x pushes a minimally
// encoded number of at most four bytes.
func strictNum(x linear.Instruction) bool {
	data, ok := linear.Literal(x)
	if !ok {
		return false
	}
	_, err := linear.ParseNum(data, true, linear.MaxNumLen)
	return err == nil
}

func isValue(x linear.Instruction) bool {
	return linear.AnyPush(x) || linear.AnySmallInt(x)
}

// operand matches instructions that push exactly one item
// and read nothing.
func operand(x linear.Instruction) bool {
	switch x.(type) {
	case *linear.Push, *linear.Assumption, *linear.Variable, *linear.InnerScript:
		return true
	}
	return linear.AnySmallInt(x)
}

func notFlow(x linear.Instruction) bool {
	code, ok := linear.Code(x)
	return !ok || !linear.IsConditional(code)
}

func init() {
	var verifyForms []string
	var verifyRW []rewrite
	for code := 0; code < 256; code++ {
		info, ok := linear.Lookup(byte(code))
		if !ok || !info.Verifier || info.Code == txscript.OP_VERIFY {
			continue
		}
		base, ok := linear.ByName(strings.TrimSuffix(info.Name, "VERIFY"))
		if !ok {
			continue
		}
		verifyRW = append(verifyRW, rewrite{
			linear.Ops(base.Code, txscript.OP_VERIFY),
			constant(info.Code),
		})
		verifyForms = append(verifyForms, form(codes(base.Code, txscript.OP_VERIFY), codes(info.Code)))
	}
	peephole("merge_op_and_verify", verifyForms, func(ins *linear.Instructions) bool {
		return applyAll(ins, verifyRW)
	})

	fixed("alt_stack_ops",
		pair(codes(txscript.OP_TOALTSTACK, txscript.OP_FROMALTSTACK)),
		pair(codes(txscript.OP_FROMALTSTACK, txscript.OP_TOALTSTACK)),
	)

	fixed("stack_ops",
		pair(codes(txscript.OP_1, txscript.OP_PICK), txscript.OP_OVER),
		pair(codes(txscript.OP_1, txscript.OP_ROLL, txscript.OP_DROP), txscript.OP_NIP),
		pair(codes(txscript.OP_0, txscript.OP_PICK), txscript.OP_DUP),
		pair(codes(txscript.OP_0, txscript.OP_ROLL)),
		pair(codes(txscript.OP_1, txscript.OP_ROLL, txscript.OP_1, txscript.OP_ROLL)),
		pair(codes(txscript.OP_1, txscript.OP_ROLL), txscript.OP_SWAP),
		pair(codes(txscript.OP_NIP, txscript.OP_DROP), txscript.OP_2DROP),
		pair(codes(txscript.OP_OVER, txscript.OP_OVER), txscript.OP_2DUP),
		pair(codes(txscript.OP_DROP, txscript.OP_DROP), txscript.OP_2DROP),
	)

	arith := []rewrite{
		{linear.Ops(txscript.OP_2, txscript.OP_DIV), constant(txscript.OP_2DIV)},
		{linear.Ops(txscript.OP_1, txscript.OP_SUB), constant(txscript.OP_1SUB)},
		{linear.Ops(txscript.OP_1, txscript.OP_NEGATE), constant(txscript.OP_1NEGATE)},
	}
	shortcut := func(n int64, math, short byte) {
		keepFirst := func(m linear.Instructions) linear.Instructions {
			return linear.Instructions{m[0], op(short)}
		}
		keepSecond := func(m linear.Instructions) linear.Instructions {
			return linear.Instructions{m[1], op(short)}
		}
		arith = append(arith,
			rewrite{linear.Template{isValue, isSmall(n), linear.IsOp(math)}, keepFirst},
			rewrite{linear.Template{isSmall(n), isValue, linear.IsOp(math)}, keepSecond},
			rewrite{linear.Template{linear.AnyAssumption, isSmall(n), linear.IsOp(math)}, keepFirst},
		)
	}
	shortcut(1, txscript.OP_ADD, txscript.OP_1ADD)
	shortcut(2, txscript.OP_MUL, txscript.OP_2MUL)
	peephole("arithmetic_shortcut_ops", []string{
		"OP_2 OP_DIV -> OP_2DIV",
		"OP_1 OP_SUB -> OP_1SUB",
		"OP_1 OP_NEGATE -> OP_1NEGATE",
		"x OP_1 OP_ADD -> x OP_1ADD",
		"x OP_2 OP_MUL -> x OP_2MUL",
	}, func(ins *linear.Instructions) bool { return applyAll(ins, arith) })

	fixed("conditional_shortcut_ops",
		pair(codes(txscript.OP_NOT, txscript.OP_IF), txscript.OP_NOTIF),
	)

	fixed("hash_shortcut_ops",
		pair(codes(txscript.OP_SHA256, txscript.OP_SHA256), txscript.OP_HASH256),
		pair(codes(txscript.OP_SHA256, txscript.OP_RIPEMD160), txscript.OP_HASH160),
	)

	null := []rewrite{
		{linear.Ops(txscript.OP_0, txscript.OP_SUB), constant()},
		{linear.Template{notFlow, isSmall(0), linear.IsOp(txscript.OP_ADD)},
			func(m linear.Instructions) linear.Instructions { return m[:1] }},
		{linear.Template{isSmall(0), operand, linear.IsOp(txscript.OP_ADD)},
			func(m linear.Instructions) linear.Instructions { return m[1:2] }},
	}
	peephole("remove_null_arithmetic", []string{
		"OP_0 OP_SUB -> _",
		"x OP_0 OP_ADD -> x",
		"OP_0 x OP_ADD -> x",
	}, func(ins *linear.Instructions) bool { return applyAll(ins, null) })

	fixed("remove_null_conditionals",
		pair(codes(txscript.OP_ELSE, txscript.OP_ENDIF), txscript.OP_ENDIF),
		pair(codes(txscript.OP_IF, txscript.OP_ENDIF), txscript.OP_DROP),
	)

	peephole("remove_trailing_verifications", []string{"OP_VERIFY (at the end) -> _"}, removeTrailingVerify)

	numNotEqual := rewrite{
		linear.Template{isValue, isValue, linear.IsOp(txscript.OP_EQUAL), linear.IsOp(txscript.OP_NOT)},
		func(m linear.Instructions) linear.Instructions {
			if !strictNum(m[0]) || !strictNum(m[1]) {
				return m
			}
			return linear.Instructions{m[0], m[1], op(txscript.OP_NUMNOTEQUAL)}
		},
	}
	peephole("use_arithmetic_ops", []string{"x y OP_EQUAL OP_NOT -> x y OP_NUMNOTEQUAL"},
		func(ins *linear.Instructions) bool { return applyAll(ins, []rewrite{numNotEqual}) })

	smallInts := rewrite{
		linear.Template{linear.AnyPush},
		func(m linear.Instructions) linear.Instructions {
			data := m[0].(*linear.Push).Data
			n, err := linear.ParseNum(data, true, linear.MaxNumLen)
			if err != nil {
				return m
			}
			if code, ok := linear.SmallIntOp(int64(n)); ok {
				return linear.Instructions{op(code)}
			}
			return m
		},
	}
	peephole("use_small_int_opcodes", []string{"0x05 -> OP_5"},
		func(ins *linear.Instructions) bool { return applyAll(ins, []rewrite{smallInts}) })

	peephole("promote_return", []string{"x OP_RETURN -> OP_RETURN x"}, promoteReturn)

	var commutative []rewrite
	var commutativeForms []string
	for _, c := range []byte{
		txscript.OP_ADD, txscript.OP_MUL, txscript.OP_BOOLAND, txscript.OP_BOOLOR,
		txscript.OP_NUMEQUAL, txscript.OP_NUMEQUALVERIFY, txscript.OP_NUMNOTEQUAL,
		txscript.OP_MIN, txscript.OP_MAX,
		txscript.OP_AND, txscript.OP_OR, txscript.OP_XOR,
		txscript.OP_EQUAL, txscript.OP_EQUALVERIFY,
	} {
		commutative = append(commutative, rewrite{linear.Ops(txscript.OP_SWAP, c), constant(c)})
		commutativeForms = append(commutativeForms, form(codes(txscript.OP_SWAP, c), codes(c)))
	}
	peephole("commutative_operations", commutativeForms,
		func(ins *linear.Instructions) bool { return applyAll(ins, commutative) })
}

func removeTrailingVerify(ins *linear.Instructions) bool {
	n := len(*ins)
	for n > 0 && linear.HasCode((*ins)[n-1], txscript.OP_VERIFY) {
		n--
	}
	if n == len(*ins) {
		return false
	}
	*ins = (*ins)[:n]
	return true
}

func promoteReturn(ins *linear.Instructions) bool {
	found := ins.Find(linear.IsOp(txscript.OP_RETURN))
	if len(found) == 0 || len(found) == 1 && found[0] == 0 {
		return false
	}
	for i := len(found) - 1; i >= 0; i-- {
		ins.ReplaceSlice(found[i], found[i]+1)
	}
	ins.Insert(0, op(txscript.OP_RETURN))
	return true
}
