package prescreen

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"meetmatch/internal/domain"
	"meetmatch/internal/sampler"
)

var errNoScores = errors.New("no scores in response")

type rawScore struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Score     flexScore `json:"score"`
}

// flexScore accepts numbers and numeric strings.
type flexScore float64

func (f *flexScore) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexScore(v)
	return nil
}

// ParseScores decodes a scoring reply for batch. It accepts
// {"scores":[{"id":"P001","score":8}]}, a bare list of such objects, or an
// object mapping either profile IDs or 1-based batch positions to scores.
// Scores outside batch are ignored and values are clamped to 0-10.
func ParseScores(text string, batch []domain.Profile) (map[string]int, error) {
	raw, ok := sampler.ExtractJSON(text)
	if !ok {
		return nil, errNoScores
	}
	inBatch := make(map[string]bool, len(batch))
	for _, p := range batch {
		inBatch[p.ID] = true
	}
	out := make(map[string]int, len(batch))
	put := func(id string, v float64) {
		id = strings.ToUpper(strings.Trim(strings.TrimSpace(id), "[]"))
		if !inBatch[id] {
			return
		}
		out[id] = int(math.Max(0, math.Min(MaxScore, math.Round(v))))
	}

	data := []byte(raw)
	var list []rawScore
	if err := json.Unmarshal(data, &list); err == nil {
		for _, s := range list {
			put(firstID(s), float64(s.Score))
		}
		return nonEmpty(out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if body, ok := obj["scores"]; ok {
		if err := json.Unmarshal(body, &list); err == nil {
			for _, s := range list {
				put(firstID(s), float64(s.Score))
			}
			return nonEmpty(out)
		}
		nested := make(map[string]json.RawMessage)
		if err := json.Unmarshal(body, &nested); err != nil {
			return nil, err
		}
		obj = nested
	}
	for key, body := range obj {
		var v flexScore
		if err := json.Unmarshal(body, &v); err != nil {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(key)); err == nil {
			if n >= 1 && n <= len(batch) {
				put(batch[n-1].ID, float64(v))
			}
			continue
		}
		put(key, float64(v))
	}
	return nonEmpty(out)
}

func firstID(s rawScore) string {
	if strings.TrimSpace(s.ID) != "" {
		return s.ID
	}
	return s.ProfileID
}

func nonEmpty(scores map[string]int) (map[string]int, error) {
	if len(scores) == 0 {
		return nil, errNoScores
	}
	return scores, nil
}
