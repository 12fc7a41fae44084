package consolidate

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"meetmatch/internal/domain"
)

func corpus() []domain.Profile {
	names := []string{"Alice Adams", "Bob Brown", "Carol Chen", "Dan Diaz", "Eve Evans"}
	out := make([]domain.Profile, len(names))
	for i, n := range names {
		out[i] = domain.Profile{ID: fmt.Sprintf("P%03d", i+1), Name: n, Link: "https://example.com/" + strings.ToLower(n[:3])}
	}
	return out
}

func set(temp float64, ids ...string) domain.CandidateSet {
	s := domain.CandidateSet{Temperature: temp, Valid: true}
	for i, id := range ids {
		s.Entries = append(s.Entries, domain.CandidateEntry{
			ProfileID: id,
			Rationale: fmt.Sprintf("%s fits your goals at %.1f.", id, temp),
			Position:  i + 1,
		})
	}
	return s
}

func ids(recs []domain.Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ProfileID
	}
	return out
}

func scenarioSets() []domain.CandidateSet {
	// target A = P001; B..E = P002..P005
	return []domain.CandidateSet{
		set(0.2, "P002", "P003", "P004"),
		set(0.7, "P002", "P004"),
		set(1.1, "P002", "P005"),
	}
}

func TestConsolidateScenario(t *testing.T) {
	c := New(corpus(), Options{ExcludeID: "P001"})
	recs := c.Consolidate(scenarioSets(), 10)

	if got, want := ids(recs), []string{"P002", "P004", "P003", "P005"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	wantSupport := []int{3, 2, 1, 1}
	for i, r := range recs {
		if r.SupportCount != wantSupport[i] {
			t.Fatalf("%s support = %d, want %d", r.ProfileID, r.SupportCount, wantSupport[i])
		}
		if r.Rank != i+1 {
			t.Fatalf("%s rank = %d", r.ProfileID, r.Rank)
		}
	}
	if recs[0].Name != "Bob Brown" || recs[0].Link == "" {
		t.Fatalf("profile details not carried: %+v", recs[0])
	}
	if !reflect.DeepEqual(recs[0].Temperatures, []float64{0.2, 0.7, 1.1}) {
		t.Fatalf("temperatures = %v", recs[0].Temperatures)
	}
}

func TestConsolidateIsOrderIndependent(t *testing.T) {
	sets := scenarioSets()
	sets = append(sets, set(0.7, "P005", "P003"))
	c := New(corpus(), Options{ExcludeID: "P001"})
	want := c.Consolidate(sets, 10)

	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}, {3, 1, 2, 0}}
	for _, p := range perms {
		permuted := make([]domain.CandidateSet, len(p))
		for i, j := range p {
			permuted[i] = sets[j]
		}
		if got := c.Consolidate(permuted, 10); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %v changed result:\n got %+v\nwant %+v", p, got, want)
		}
	}
}

func TestConsolidateTruncatesToK(t *testing.T) {
	c := New(corpus(), Options{})
	for k := 1; k <= 6; k++ {
		recs := c.Consolidate(scenarioSets(), k)
		if len(recs) > k {
			t.Fatalf("k=%d returned %d entries", k, len(recs))
		}
	}
	if recs := c.Consolidate(scenarioSets(), 2); !reflect.DeepEqual(ids(recs), []string{"P002", "P004"}) {
		t.Fatalf("top 2 = %v", ids(recs))
	}
}

func TestConsolidateResolvesNamesAndDropsUnknown(t *testing.T) {
	sets := []domain.CandidateSet{
		{Temperature: 0.2, Entries: []domain.CandidateEntry{
			{Name: "carol chen", Position: 1},
			{Name: "Dan Dias", Position: 2},
			{ProfileID: "P999", Name: "Nobody Known", Position: 3},
			{ProfileID: "p001", Position: 4},
		}},
		{Temperature: 0.7, Entries: []domain.CandidateEntry{{ProfileID: "[P003]", Position: 1}}},
	}
	recs, stats := New(corpus(), Options{ExcludeID: "P001"}).Merge(sets, 10)
	if got := ids(recs); !reflect.DeepEqual(got, []string{"P003", "P004"}) {
		t.Fatalf("resolved = %v", got)
	}
	if recs[0].SupportCount != 2 {
		t.Fatalf("name and id entries not merged: %+v", recs[0])
	}
	if stats.Dropped != 2 {
		t.Fatalf("dropped = %d, want 2", stats.Dropped)
	}
}

func TestConsolidateCountsDuplicatesOncePerSet(t *testing.T) {
	sets := []domain.CandidateSet{set(0.2, "P002", "P003", "P002"), set(0.7, "P003")}
	recs := New(corpus(), Options{}).Consolidate(sets, 10)
	for _, r := range recs {
		if r.SupportCount > 2 {
			t.Fatalf("%s support %d exceeds set count", r.ProfileID, r.SupportCount)
		}
	}
}

func TestConsolidateIgnoresFailedSets(t *testing.T) {
	failed := domain.CandidateSet{Temperature: 0.7, Err: domain.NewServiceError(domain.ServiceTimeout, nil)}
	recs, stats := New(corpus(), Options{}).Merge([]domain.CandidateSet{set(0.2, "P002"), failed}, 10)
	if stats.SetsUsed != 1 || len(recs) != 1 {
		t.Fatalf("stats=%+v recs=%v", stats, ids(recs))
	}
	if recs := New(corpus(), Options{}).Consolidate(nil, 10); len(recs) != 0 {
		t.Fatalf("expected empty result, got %v", ids(recs))
	}
}

func TestConsolidateWithoutCorpus(t *testing.T) {
	sets := []domain.CandidateSet{
		{Temperature: 0.2, Entries: []domain.CandidateEntry{{Name: "Zed Zane", Position: 1}, {ProfileID: "p010", Position: 2}}},
		{Temperature: 0.7, Entries: []domain.CandidateEntry{{Name: "zed  zane", Position: 1}}},
	}
	recs := New(nil, Options{}).Consolidate(sets, 10)
	if len(recs) != 2 || recs[0].Name != "Zed Zane" || recs[0].SupportCount != 2 || recs[1].ProfileID != "P010" {
		t.Fatalf("unexpected %+v", recs)
	}
}

func TestCombineRationalesDropsNearDuplicates(t *testing.T) {
	got := CombineRationales([]string{
		"You both work on pandemic preparedness. She runs a lab.",
		"You both work on pandemic preparedness!",
		"Great contact for biosecurity funding.",
	}, 0.8)
	want := "You both work on pandemic preparedness. She runs a lab. Great contact for biosecurity funding."
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestOverlap(t *testing.T) {
	get := []domain.Recommendation{{ProfileID: "P002", Name: "Bob Brown", Rank: 1}, {ProfileID: "P003", Name: "Carol Chen", Rank: 2}}
	give := []domain.Recommendation{{ProfileID: "P005", Rank: 1}, {Name: "Carol Chen", Rank: 2}}
	got := Overlap(get, give, 0)
	if len(got) != 1 || got[0].Recommendation.ProfileID != "P003" || got[0].OtherRank != 2 {
		t.Fatalf("overlap = %+v", got)
	}
}

func TestConsolidateMergesTopics(t *testing.T) {
	a := set(0.2, "P002")
	a.Entries[0].Topics = []string{"Grant strategy", "Lab biosafety"}
	b := set(0.7, "P002")
	b.Entries[0].Topics = []string{"grant  strategy", "Field trials"}
	recs := New(corpus(), Options{}).Consolidate([]domain.CandidateSet{b, a}, 10)
	if len(recs) != 1 {
		t.Fatalf("expected one recommendation, got %v", ids(recs))
	}
	if want := []string{"Grant strategy", "Lab biosafety", "Field trials"}; !reflect.DeepEqual(recs[0].Topics, want) {
		t.Fatalf("topics = %q, want %q", recs[0].Topics, want)
	}
}

func TestMergeTopicsLimit(t *testing.T) {
	got := MergeTopics([]string{"a", "b", "A", "c", "d"}, 3)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if MergeTopics(nil, 3) != nil {
		t.Fatalf("expected nil for no topics")
	}
}
