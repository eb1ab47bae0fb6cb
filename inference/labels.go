package inference

import (
	"strings"

	lev "github.com/agnivade/levenshtein"

	"camgate/strutil"
)

// LabelSet maps the service's free-form class labels onto a canonical set.
// Matching folds case and separator characters first, then falls back to a
// bounded edit distance so typo-level variance ("helthy", "Health_y") still
// lands on the configured label.
type LabelSet struct {
	canonical []string
	folded    []string
	maxDist   int
}

// NewLabelSet builds a set from the configured labels. maxEditDistance <= 0
// disables fuzzy matching, leaving exact folded matches only.
func NewLabelSet(labels []string, maxEditDistance int) *LabelSet {
	ls := &LabelSet{maxDist: maxEditDistance}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		ls.canonical = append(ls.canonical, l)
		ls.folded = append(ls.folded, foldLabel(l))
	}
	return ls
}

// Len returns the number of canonical labels.
func (ls *LabelSet) Len() int {
	if ls == nil {
		return 0
	}
	return len(ls.canonical)
}

// Normalize returns the canonical form of raw and whether a match was found.
// Unmatched labels come back unchanged so callers can pass them through.
func (ls *LabelSet) Normalize(raw string) (string, bool) {
	if ls == nil || len(ls.canonical) == 0 {
		return raw, false
	}
	needle := foldLabel(raw)
	if needle == "" {
		return raw, false
	}
	for i, f := range ls.folded {
		if f == needle {
			return ls.canonical[i], true
		}
	}
	if ls.maxDist <= 0 {
		return raw, false
	}
	best := -1
	bestDist := ls.maxDist + 1
	for i, f := range ls.folded {
		d := lev.ComputeDistance(needle, f)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return raw, false
	}
	return ls.canonical[best], true
}

// foldLabel lowercases and collapses separators so "Early_Blight" and
// "early blight" compare equal.
func foldLabel(s string) string {
	s = strutil.NormalizeLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
