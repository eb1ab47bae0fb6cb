package inference

import "testing"

func TestLabelSetExactFoldedMatch(t *testing.T) {
	ls := NewLabelSet([]string{"Healthy", "Early Blight", "Late Blight"}, 0)

	cases := []struct {
		raw  string
		want string
	}{
		{"healthy", "Healthy"},
		{"HEALTHY", "Healthy"},
		{"early_blight", "Early Blight"},
		{"Early-Blight", "Early Blight"},
		{"  late   blight ", "Late Blight"},
	}
	for _, tc := range cases {
		got, ok := ls.Normalize(tc.raw)
		if !ok || got != tc.want {
			t.Errorf("Normalize(%q) = %q, %v; want %q, true", tc.raw, got, ok, tc.want)
		}
	}
}

func TestLabelSetFuzzyMatch(t *testing.T) {
	ls := NewLabelSet([]string{"Healthy", "Early Blight"}, 2)

	got, ok := ls.Normalize("helthy")
	if !ok || got != "Healthy" {
		t.Fatalf("Normalize(helthy) = %q, %v; want Healthy, true", got, ok)
	}
	got, ok = ls.Normalize("early blihgt")
	if !ok || got != "Early Blight" {
		t.Fatalf("Normalize(early blihgt) = %q, %v; want Early Blight, true", got, ok)
	}

	// Beyond the edit bound the raw label passes through unchanged.
	got, ok = ls.Normalize("powdery mildew")
	if ok || got != "powdery mildew" {
		t.Fatalf("Normalize(powdery mildew) = %q, %v; want passthrough, false", got, ok)
	}
}

func TestLabelSetFuzzyDisabled(t *testing.T) {
	ls := NewLabelSet([]string{"Healthy"}, 0)
	if got, ok := ls.Normalize("helthy"); ok {
		t.Fatalf("fuzzy match with distance 0 should fail, got %q", got)
	}
	if got, ok := ls.Normalize("healthy"); !ok || got != "Healthy" {
		t.Fatalf("exact match must still work, got %q, %v", got, ok)
	}
}

func TestLabelSetPicksNearest(t *testing.T) {
	ls := NewLabelSet([]string{"tomato leaf", "potato leaf"}, 3)
	got, ok := ls.Normalize("tomatoleaf")
	if !ok || got != "tomato leaf" {
		t.Fatalf("Normalize(tomatoleaf) = %q, %v; want tomato leaf, true", got, ok)
	}
}

func TestLabelSetEmpty(t *testing.T) {
	var ls *LabelSet
	if got, ok := ls.Normalize("anything"); ok || got != "anything" {
		t.Fatalf("nil set should pass labels through, got %q, %v", got, ok)
	}
	empty := NewLabelSet(nil, 2)
	if empty.Len() != 0 {
		t.Fatalf("empty set Len = %d", empty.Len())
	}
	if got, ok := empty.Normalize("anything"); ok || got != "anything" {
		t.Fatalf("empty set should pass labels through, got %q, %v", got, ok)
	}
	blank := NewLabelSet([]string{"", "  "}, 2)
	if blank.Len() != 0 {
		t.Fatalf("blank labels should be skipped, Len = %d", blank.Len())
	}
}
