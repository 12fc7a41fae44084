// Package prompt renders the instruction sent to the language model.
package prompt

import (
	"fmt"
	"strings"

	"meetmatch/internal/domain"
)

// Section markers delimit the parts of a rendered prompt. The offline
// backend reads the prompt back through them.
const (
	TargetHeader     = "=== MY PROFILE ==="
	ContextHeader    = "=== ADDITIONAL CONTEXT ==="
	CandidatesHeader = "=== CANDIDATE PROFILES ==="
	ScoringHeader    = "=== PROFILES TO SCORE ==="
	ContractHeader   = "=== OUTPUT FORMAT ==="
	candidateSep     = " :: "
)

type directionText struct {
	goal     string
	criteria string
	why      string
	topics   string
	scoring  string
}

var directions = map[domain.Direction]directionText{
	domain.DirectionGetValue: {
		goal: "Recommend the people I should prioritize meeting FOR MY OWN BENEFIT.",
		criteria: `Consider:
- SPECIFIC overlap between their work and my goals, not seniority or prestige
- Potential for genuine collaboration rather than a one-way info dump
- Whether a 20-minute conversation would produce something actionable (an intro, a project idea, a partnership)
A mid-career person working on exactly my problem is more valuable than a famous director in a tangential area.`,
		why:     "what I stand to gain from meeting them",
		topics:  "concrete topics to discuss that would be most valuable for me",
		scoring: "Score each person on how valuable a 1-on-1 meeting with them would be FOR ME.",
	},
	domain.DirectionGiveValue: {
		goal: "Recommend the people I could PROVIDE THE MOST VALUE TO in a 1-on-1 meeting.",
		criteria: `Consider:
- Their stated needs (especially how others can help them) and whether my specific skills address them
- Whether I have concrete, actionable help to offer, not vague encouragement
- How my background uniquely positions me to help them
Do not favour someone just because they are junior or "could use advice".`,
		why:     "what specific value I can provide to them",
		topics:  "concrete ways I could help them or topics where my expertise would benefit them",
		scoring: "Score each person on how much VALUE I COULD PROVIDE TO THEM in a 1-on-1 meeting.",
	},
}

// Builder renders prompts for one direction.
type Builder struct {
	K                 int
	Direction         domain.Direction
	AdditionalContext string
}

// NewBuilder returns a Builder; an unknown direction falls back to get_value.
func NewBuilder(k int, direction domain.Direction, additionalContext string) *Builder {
	if k <= 0 {
		k = 10
	}
	if _, ok := directions[direction]; !ok {
		direction = domain.DirectionGetValue
	}
	return &Builder{K: k, Direction: direction, AdditionalContext: strings.TrimSpace(additionalContext)}
}

// Build renders the instruction for target against corpus. The target's own
// profile never appears among the candidates.
func (b *Builder) Build(target domain.Target, corpus []domain.Profile) string {
	d := directions[b.Direction]
	if d.goal == "" {
		d = directions[domain.DirectionGetValue]
	}
	candidates := Candidates(target, corpus)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are helping %s decide whom to meet at a conference with %d other attendees.\n\n", displayName(target), len(candidates))
	sb.WriteString(d.goal)
	sb.WriteString("\n\n")
	sb.WriteString(d.criteria)
	sb.WriteString("\n\n")

	sb.WriteString(TargetHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(target.Text))
	sb.WriteString("\n\n")

	if b.AdditionalContext != "" {
		sb.WriteString(ContextHeader)
		sb.WriteString("\n")
		sb.WriteString(b.AdditionalContext)
		sb.WriteString("\n\n")
	}

	sb.WriteString(CandidatesHeader)
	sb.WriteString("\n")
	for _, p := range candidates {
		sb.WriteString(FormatCandidate(p))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(ContractHeader)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Return up to %d recommended people, ranked from strongest (first) to weakest.\n", b.K)
	sb.WriteString("Refer to each person by the identifier in square brackets, exactly as written (for example P007).\n")
	fmt.Fprintf(&sb, "Give a one-to-two sentence rationale per person explaining %s.\n", d.why)
	fmt.Fprintf(&sb, "List one to three topics per person: %s.\n", d.topics)
	sb.WriteString("Only recommend people from the candidate list. Never recommend me.\n")
	sb.WriteString("Respond with ONLY this JSON object, no prose and no markdown:\n")
	sb.WriteString(`{"recommendations":[{"id":"P007","name":"First Last","rationale":"...","topics":["..."]}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// Candidates returns corpus without the target's own profile.
func Candidates(target domain.Target, corpus []domain.Profile) []domain.Profile {
	out := make([]domain.Profile, 0, len(corpus))
	for _, p := range corpus {
		if target.ProfileID != "" && p.ID == target.ProfileID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FormatCandidate renders one candidate line.
func FormatCandidate(p domain.Profile) string {
	return "[" + p.ID + "] " + p.Name + candidateSep + p.NormalizedText
}

func displayName(t domain.Target) string {
	if n := strings.TrimSpace(t.Name); n != "" {
		return n
	}
	return "me"
}
