package prompt

import (
	"fmt"
	"strings"

	"meetmatch/internal/domain"
)

const scoringScale = `SCORING SCALE (be strict, most people should score 4-6):
- 10: Once-in-a-conference match. Near-perfect alignment on goals, skills and timing.
- 9: Exceptional match. Clear, specific, mutual value with actionable next steps.
- 8: Strong match. Meaningful overlap that would produce a concrete outcome.
- 6-7: Decent match. Some relevant overlap but not a must-meet.
- 4-5: Tangential. Loosely related work but no specific reason to prioritize.
- 1-3: Weak or no relevant connection.`

// BuildScoring renders the pre-screen instruction for one batch out of
// total candidates. Every profile of batch gets an integer score 1-10.
func (b *Builder) BuildScoring(target domain.Target, batch []domain.Profile, total int) string {
	d := directions[b.Direction]
	if d.goal == "" {
		d = directions[domain.DirectionGetValue]
	}
	batch = Candidates(target, batch)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are helping %s decide whom to meet at a conference. Below is a batch of %d attendee profiles out of about %d in total.\n\n",
		displayName(target), len(batch), total)
	sb.WriteString(d.scoring)
	sb.WriteString("\n\n")
	sb.WriteString(d.criteria)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Score each person independently. Only about 15-20%% of the %d attendees should score 8 or more; "+
		"8+ means I would regret not meeting them. Seniority and prestige are not scoring criteria.\n\n", total)
	sb.WriteString(scoringScale)
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

	sb.WriteString(ScoringHeader)
	sb.WriteString("\n")
	for _, p := range batch {
		sb.WriteString(FormatCandidate(p))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(ContractHeader)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Score all %d profiles, referring to each by the identifier in square brackets.\n", len(batch))
	sb.WriteString("Respond with ONLY this JSON object, no prose and no markdown:\n")
	sb.WriteString(`{"scores":[{"id":"P007","score":7}]}`)
	sb.WriteString("\n")
	return sb.String()
}
