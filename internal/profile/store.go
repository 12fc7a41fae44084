// Package profile holds the in-memory attendee corpus for one session.
//
// A Store is built once by Load and never mutated afterwards, so concurrent
// requests may read it without locking.
package profile

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"meetmatch/internal/domain"
	"meetmatch/internal/textutil"
)

// DefaultMinLength is the minimum raw profile length for candidates.
const DefaultMinLength = 300

// LoadReport summarizes one Load call.
type LoadReport struct {
	Total   int
	Loaded  int
	Skipped int
	Errors  []error
}

// Store is a read-only, ordered set of attendee profiles.
type Store struct {
	profiles []domain.Profile
	byID     map[string]int
}

// Load normalizes raw records into a Store. Records without a name or
// without profile text are skipped and reported, never fatal.
func Load(records []domain.RawRecord) (*Store, LoadReport) {
	s := &Store{byID: make(map[string]int, len(records))}
	report := LoadReport{Total: len(records)}
	for i, rec := range records {
		name := textutil.Normalize(rec.Name)
		if name == "" {
			report.skip(i, "missing name")
			continue
		}
		normalized := textutil.Normalize(rec.ProfileText)
		if normalized == "" {
			report.skip(i, "missing profile text")
			continue
		}
		raw := stripControl(rec.ProfileText)
		p := domain.Profile{
			ID:             fmt.Sprintf("P%03d", len(s.profiles)+1),
			Name:           name,
			RawText:        raw,
			NormalizedText: normalized,
			Length:         utf8.RuneCountInString(raw),
			Link:           strings.TrimSpace(rec.Link),
		}
		s.byID[p.ID] = len(s.profiles)
		s.profiles = append(s.profiles, p)
	}
	report.Loaded = len(s.profiles)
	return s, report
}

func (r *LoadReport) skip(index int, reason string) {
	r.Skipped++
	r.Errors = append(r.Errors, &domain.MalformedRecordError{Index: index, Reason: reason})
}

// Len returns the number of loaded profiles.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.profiles)
}

// All returns every profile in load order.
func (s *Store) All() []domain.Profile {
	if s == nil {
		return nil
	}
	out := make([]domain.Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// Filter returns the profiles whose raw text is at least minLength runes,
// in load order.
func (s *Store) Filter(minLength int) []domain.Profile {
	if s == nil {
		return nil
	}
	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.Length >= minLength {
			out = append(out, p)
		}
	}
	return out
}

// Get looks a profile up by ID.
func (s *Store) Get(id string) (domain.Profile, error) {
	if s != nil {
		if idx, ok := s.byID[strings.ToUpper(strings.TrimSpace(id))]; ok {
			return s.profiles[idx], nil
		}
	}
	return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
}

// stripControl removes control characters but keeps line structure.
func stripControl(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case r < 0x20 || (r >= 0x7f && r < 0xa0):
			return -1
		}
		return r
	}, text))
}
