package scoring

import (
	"github.com/pmezard/go-difflib/difflib"
)

// DiffTables returns a unified diff of the rendered tables, or "" when they match.
func DiffTables(from, to *Table, fromName, toName string) (string, error) {
	a, b := "", ""
	if from != nil {
		a = from.Render()
	}
	if to != nil {
		b = to.Render()
	}
	if a == b {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(diff)
}
