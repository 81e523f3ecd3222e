package inline

import (
	"sort"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/runtime"
)

// Duplicate records an assumption that is read a second time,
// directly after itself, by an opcode that takes both values.
type Duplicate struct {
	Name  string
	Index int
	Code  byte
}

// duplicateTemplates match "assume(x) assume(y) op" for every
// opcode that reads the top two items.
var duplicateTemplates []linear.Template

func init() {
	for code := 0; code < 256; code++ {
		info, ok := linear.Lookup(byte(code))
		if !ok || !info.Binary() {
			continue
		}
		duplicateTemplates = append(duplicateTemplates, linear.Template{
			linear.AnyAssumption,
			linear.AnyAssumption,
			linear.IsOp(info.Code),
		})
	}
}

// DetectDuplicates finds each "assume(a) assume(a) op" where op
// reads both values, and flags the second assumption. A flagged
// assumption is copied to the top, never moved.
func (ctx *Context) DetectDuplicates() map[linear.Instruction]Duplicate {
	dups := make(map[linear.Instruction]Duplicate)
	for i := 0; i+2 < len(ctx.Ins); i++ {
		for _, t := range duplicateTemplates {
			if !ctx.Ins.MatchesTemplate(t, i) {
				continue
			}
			first := ctx.Ins[i].(*linear.Assumption)
			second := ctx.Ins[i+1].(*linear.Assumption)
			if first.Name != second.Name {
				break
			}
			code, _ := linear.Code(ctx.Ins[i+2])
			dups[second] = Duplicate{Name: second.Name, Index: i + 1, Code: code}
			break
		}
	}
	return dups
}

// DetectAltStack decides which values must live on the alt stack.
//
// An assumption is routed if any of its occurrences comes after an
// uneven conditional. If routing is disabled that is an error.
//
// A variable is routed if it is assigned inside a conditional and
// assigned more than once, or if it is assigned before an uneven
// conditional and read after it.
func (ctx *Context) DetectAltStack() (runtime.AltStackSet, error) {
	set := runtime.AltStackSet{Assumptions: make(map[string]int)}

	var uneven []conditional
	for _, c := range ctx.conditionals() {
		if ctx.uneven(c) {
			uneven = append(uneven, c)
		}
	}
	if len(uneven) == 0 {
		ctx.detectMutable(&set, nil)
		return set, nil
	}

	for _, name := range sortedKeys(ctx.Assumptions) {
		for _, o := range ctx.Assumptions[name] {
			c, ok := crossed(uneven, -1, o)
			if !ok {
				continue
			}
			if !ctx.opts.UseAltStackForAssumptions {
				return set, errors.WithData(ErrUnevenConditional,
					"name", name, "index", o, "endif", c.endIf)
			}
			sv, _ := ctx.table.StackValue(name)
			if sv != nil {
				set.Assumptions[name] = sv.Depth
			}
			break
		}
	}
	ctx.detectMutable(&set, uneven)
	return set, nil
}

// crossed returns an uneven conditional that starts after
// from and ends before to.
func crossed(uneven []conditional, from, to int) (conditional, bool) {
	for _, c := range uneven {
		if c.endIf < to && c.endIf > from {
			return c, true
		}
	}
	return conditional{}, false
}

func (ctx *Context) detectMutable(set *runtime.AltStackSet, uneven []conditional) {
	type decl struct {
		name  string
		first int
	}
	var routed []decl
	for _, name := range sortedKeys(ctx.Assignments) {
		assigns := ctx.Assignments[name]
		route := false
		if len(assigns) > 1 {
			for _, a := range assigns {
				if ctx.NestLevel(a) > 0 {
					route = true
					break
				}
			}
		}
		if !route {
			for _, v := range ctx.Variables[name] {
				if c, ok := crossed(uneven, assigns[0], v); ok && ctx.Branches[c.trueArm].Marker > assigns[0] {
					route = true
					break
				}
			}
		}
		if route {
			routed = append(routed, decl{name, assigns[0]})
		}
	}
	// Slots follow declaration order.
	sort.SliceStable(routed, func(i, j int) bool { return routed[i].first < routed[j].first })
	for _, d := range routed {
		set.Variables = append(set.Variables, d.name)
	}
}
