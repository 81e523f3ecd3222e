package inline

// Branch is one arm of a conditional. Its body is the half-open
// range [Start, End), which excludes the IF, NOTIF, ELSE and ENDIF
// markers around it.
type Branch struct {
	IsTrue bool
	Start  int
	End    int

	// NestLevel is 1 for arms of a top-level conditional.
	NestLevel int

	// Sibling is the arena index of the other arm of the same
	// conditional, or -1 if there is none.
	Sibling int

	// Marker is the index of the IF, NOTIF or ELSE that opens the arm.
	// EndIf is the index of the closing ENDIF, or -1 while open.
	Marker int
	EndIf  int
}

// Contains reports whether idx lies in the body of b.
func (b Branch) Contains(idx int) bool {
	return idx >= b.Start && idx < b.End
}

// Closed reports whether the conditional b belongs to has ended.
func (b Branch) Closed() bool {
	return b.EndIf >= 0
}

// Branches is an arena of branches. Sibling links are indices into it.
type Branches []Branch

// IsSibling reports whether the arms at indices i and j
// belong to the same conditional.
func (bs Branches) IsSibling(i, j int) bool {
	return i != j && bs[i].Sibling == j && bs[j].Sibling == i
}

// Containing returns the arena indices of the arms whose
// bodies contain idx, outermost first.
func (bs Branches) Containing(idx int) []int {
	var out []int
	for i, b := range bs {
		if b.Contains(idx) {
			out = append(out, i)
		}
	}
	// Arms open in program order, so an enclosing arm always
	// precedes the arms nested in it.
	return out
}

// NestLevel returns the number of conditionals enclosing idx.
func (bs Branches) NestLevel(idx int) int {
	n := 0
	for _, b := range bs {
		if b.Contains(idx) && b.NestLevel > n {
			n = b.NestLevel
		}
	}
	return n
}
