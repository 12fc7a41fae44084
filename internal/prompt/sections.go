package prompt

import (
	"regexp"
	"strconv"
	"strings"
)

// CandidateLine is a candidate read back from a rendered prompt.
type CandidateLine struct {
	ID   string
	Name string
	Text string
}

// Sections is a rendered prompt split into its parts.
type Sections struct {
	Target     string
	Context    string
	Candidates []CandidateLine
	K          int
	// Scoring is true for a pre-screen prompt.
	Scoring bool
}

var (
	candidateLineRe = regexp.MustCompile(`^\[([A-Za-z0-9_-]+)\] (.*?)` + regexp.QuoteMeta(candidateSep) + `(.*)$`)
	limitRe         = regexp.MustCompile(`Return up to (\d+) recommended`)
)

// Parse splits a prompt produced by Builder.Build or Builder.BuildScoring.
func Parse(text string) Sections {
	var s Sections
	var current string
	var target, context []string
	for _, line := range strings.Split(text, "\n") {
		switch line {
		case TargetHeader, ContextHeader, CandidatesHeader, ContractHeader:
			current = line
			continue
		case ScoringHeader:
			current = CandidatesHeader
			s.Scoring = true
			continue
		}
		switch current {
		case TargetHeader:
			target = append(target, line)
		case ContextHeader:
			context = append(context, line)
		case CandidatesHeader:
			if m := candidateLineRe.FindStringSubmatch(line); m != nil {
				s.Candidates = append(s.Candidates, CandidateLine{ID: m[1], Name: m[2], Text: m[3]})
			}
		case ContractHeader:
			if m := limitRe.FindStringSubmatch(line); m != nil {
				s.K, _ = strconv.Atoi(m[1])
			}
		}
	}
	s.Target = strings.TrimSpace(strings.Join(target, "\n"))
	s.Context = strings.TrimSpace(strings.Join(context, "\n"))
	return s
}
