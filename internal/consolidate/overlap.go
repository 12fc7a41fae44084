package consolidate

import (
	"strings"

	"meetmatch/internal/domain"
	"meetmatch/internal/fuzzy"
)

// OverlapEntry is a person recommended in both directions.
type OverlapEntry struct {
	Recommendation domain.Recommendation
	// OtherRank is the person's rank in the second list.
	OtherRank int
}

// Overlap returns the entries of a that also appear in b, in a's order.
// Entries match on profile ID, or on fuzzy name similarity of at least
// nameThreshold when either side has no ID.
func Overlap(a, b []domain.Recommendation, nameThreshold float64) []OverlapEntry {
	if nameThreshold <= 0 {
		nameThreshold = DefaultNameThreshold
	}
	var out []OverlapEntry
	for _, ra := range a {
		for _, rb := range b {
			if sameProfile(ra, rb, nameThreshold) {
				out = append(out, OverlapEntry{Recommendation: ra, OtherRank: rb.Rank})
				break
			}
		}
	}
	return out
}

func sameProfile(a, b domain.Recommendation, nameThreshold float64) bool {
	if a.ProfileID != "" && b.ProfileID != "" {
		return strings.EqualFold(a.ProfileID, b.ProfileID)
	}
	return fuzzy.Similarity(a.Name, b.Name) >= nameThreshold
}
