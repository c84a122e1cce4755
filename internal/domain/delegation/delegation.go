// Package delegation ranks an operator's delegable sub-accounts against a
// free-text name and decides whether one of them can be acted for.
//
// A match is accepted only when it is both confident and unambiguous: the
// top score must reach the threshold and lead the runner-up by at least the
// margin. Near-ties are never resolved by guessing.
package delegation

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Account is a delegable sub-account as returned by the portfolio lookup.
type Account struct {
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
}

// Candidate is an account scored against the requested name.
// Candidates are transient and never stored.
type Candidate struct {
	Account
	Confidence float64 `json:"confidence"` // 0.0-1.0
}

// Outcome of a selection.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeAccepted
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Defaults for Rule.
const (
	DefaultThreshold = 0.9
	DefaultMargin    = 0.05
	// MinCandidateScore drops accounts that are clearly unrelated.
	MinCandidateScore = 0.5
)

// Rule holds the acceptance parameters.
type Rule struct {
	Threshold float64
	Margin    float64
}

// Selection is the result of applying a Rule to ranked candidates.
type Selection struct {
	Outcome    Outcome
	Best       Candidate   // set when Outcome == OutcomeAccepted
	Candidates []Candidate // ranked, best first
}

// Select applies the rule to candidates ranked best first.
func (r Rule) Select(ranked []Candidate) Selection {
	if len(ranked) == 0 {
		return Selection{Outcome: OutcomeNotFound}
	}
	top := ranked[0]
	if top.Confidence < r.Threshold {
		return Selection{Outcome: OutcomeAmbiguous, Candidates: ranked}
	}
	if len(ranked) > 1 && top.Confidence-ranked[1].Confidence < r.Margin {
		return Selection{Outcome: OutcomeAmbiguous, Candidates: ranked}
	}
	return Selection{Outcome: OutcomeAccepted, Best: top, Candidates: ranked}
}

// Scorer rates how well displayName matches the requested name (0.0-1.0).
type Scorer func(query, displayName string) float64

// Rank scores every account, drops those below MinCandidateScore and sorts
// the rest by confidence, then display name for a stable order.
func Rank(query string, accounts []Account, score Scorer) []Candidate {
	if score == nil {
		score = Score
	}
	out := make([]Candidate, 0, len(accounts))
	for _, a := range accounts {
		c := score(query, a.DisplayName)
		if c < MinCandidateScore {
			continue
		}
		out = append(out, Candidate{Account: a, Confidence: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Score ceilings. Only exact or token-complete matches may reach the
// default threshold; fuzzy similarity alone never can.
const (
	reorderedScore = 0.95
	FuzzyCeiling   = 0.85
)

// Score is the default Scorer. Names are compared after Normalize. An exact
// match scores 1.0 and the same tokens in another order score 0.95.
// Otherwise the score is the best of token overlap and character-bigram
// similarity, capped at FuzzyCeiling. Every leading prefix of the query is
// tried so trailing words picked up by the extractor do not penalize a match.
func Score(query, displayName string) float64 {
	q := strings.Fields(Normalize(query))
	d := Normalize(displayName)
	if len(q) == 0 || d == "" {
		return 0
	}
	dTokens := strings.Fields(d)

	best := 0.0
	for n := len(q); n >= 1; n-- {
		prefix := strings.Join(q[:n], " ")
		if prefix == d {
			return 1.0
		}
		overlap := tokenOverlap(q[:n], dTokens)
		if overlap == 1 {
			best = max(best, reorderedScore)
			continue
		}
		best = max(best, min(max(overlap, dice(prefix, d)), FuzzyCeiling))
	}
	return best
}

// Normalize lowercases, strips accents and punctuation, and collapses spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenOverlap is |q ∩ d| / max(|q|, |d|).
func tokenOverlap(q, d []string) float64 {
	set := make(map[string]bool, len(d))
	for _, t := range d {
		set[t] = true
	}
	hit := 0
	for _, t := range q {
		if set[t] {
			hit++
			delete(set, t)
		}
	}
	return float64(hit) / float64(max(len(q), len(d)))
}

// dice is the Sørensen-Dice coefficient over character bigrams.
func dice(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(bb))
	for _, g := range bb {
		counts[g]++
	}
	inter := 0
	for _, g := range ba {
		if counts[g] > 0 {
			counts[g]--
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
