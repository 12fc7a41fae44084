package domain

import "context"

// RawRecord is one attendee row as handed over by the data source.
type RawRecord struct {
	Name        string
	ProfileText string
	Link        string
}

// Profile is a normalized attendee profile held by the session store.
type Profile struct {
	ID             string
	Name           string
	RawText        string
	NormalizedText string
	// Length is the rune count of RawText.
	Length int
	Link   string
}

// Target is the attendee recommendations are generated for.
// ProfileID is empty when the profile text was pasted manually.
type Target struct {
	Name      string
	Text      string
	ProfileID string
	Manual    bool
}

// CandidateEntry is a single suggestion inside one sampled list.
type CandidateEntry struct {
	ProfileID string
	Name      string
	Rationale string
	// Topics are suggested conversation topics, possibly empty.
	Topics []string
	// Position is the 1-based rank the model gave this entry.
	Position int
}

// CandidateSet is the parsed output of one generation call.
type CandidateSet struct {
	Temperature float64
	Entries     []CandidateEntry
	// Valid is true when the response decoded as strict JSON.
	Valid bool
	// Err is set when the call failed or produced nothing usable.
	Err error
}

// Succeeded reports whether the set counts towards consolidation.
func (s CandidateSet) Succeeded() bool { return s.Err == nil }

// Recommendation is one entry of the consolidated ranked list.
type Recommendation struct {
	ProfileID         string
	Name              string
	Link              string
	SupportCount      int
	Temperatures      []float64
	BestPosition      int
	Rationales        []string
	CombinedRationale string
	Topics            []string
	Rank              int
}

// Direction selects which side of the meeting the ranking optimizes for.
type Direction string

const (
	DirectionGetValue  Direction = "get_value"
	DirectionGiveValue Direction = "give_value"
)

// ModelClient is a generative language service.
// Implementations return *ServiceError on failure.
type ModelClient interface {
	Name() string
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}
