package textutil

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Ada\t\tLovelace \n":      "Ada Lovelace",
		"line1\r\nline2\x00\x07end": "line1 line2end",
		"ﬁeld work":                 "field work",
		"":                          "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NormalizeName("  GRACE   Hopper"); got != "grace hopper" {
		t.Fatalf("NormalizeName = %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Works on biosecurity. Wants intros! Open to chat")
	want := []string{"Works on biosecurity.", "Wants intros!", "Open to chat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitSentences = %#v, want %#v", got, want)
	}
	if SplitSentences("   ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}

func TestOchiai(t *testing.T) {
	a := TokenSet("AI safety policy research")
	b := TokenSet("policy research on AI safety")
	got := Ochiai(a, b)
	want := 4 / math.Sqrt(4*5)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Ochiai = %f, want %f", got, want)
	}
	if Ochiai(a, nil) != 0 {
		t.Fatalf("expected 0 for empty set")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := Truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("unexpected truncate: %q", got)
	}
}

func TestSummarizePicksRepresentativeSentence(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Both work on pandemic preparedness. The weather was nice. Pandemic preparedness funding is their shared focus."
	got := s.Summarize(text, 1)
	if got == "The weather was nice." {
		t.Fatalf("summarizer picked the off-topic sentence")
	}
	if s.Summarize("One sentence only.", 1) != "One sentence only." {
		t.Fatalf("single sentence should be returned as is")
	}
}
