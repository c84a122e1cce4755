package delegation

import (
	"errors"
	"math"
	"testing"
)

func cand(name string, conf float64) Candidate {
	return Candidate{Account: Account{WorkspaceID: "ws-" + name, UserID: "u-" + name, DisplayName: name}, Confidence: conf}
}

func TestRuleSelect(t *testing.T) {
	rule := Rule{Threshold: DefaultThreshold, Margin: DefaultMargin}

	tests := []struct {
		name   string
		ranked []Candidate
		want   Outcome
	}{
		{"empty portfolio match", nil, OutcomeNotFound},
		{"single confident match", []Candidate{cand("Mario Rossi", 0.95)}, OutcomeAccepted},
		{"exact threshold", []Candidate{cand("Mario Rossi", 0.9)}, OutcomeAccepted},
		{"near tie", []Candidate{cand("Mario Rossi", 0.91), cand("Mario Rossi ", 0.90)}, OutcomeAmbiguous},
		{"clear lead", []Candidate{cand("Mario Rossi", 0.97), cand("Maria Rossi", 0.80)}, OutcomeAccepted},
		{"below threshold", []Candidate{cand("Mario Russo", 0.85)}, OutcomeAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := rule.Select(tt.ranked)
			if sel.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", sel.Outcome, tt.want)
			}
			if sel.Outcome == OutcomeAccepted && sel.Best.DisplayName != tt.ranked[0].DisplayName {
				t.Errorf("best = %q, want %q", sel.Best.DisplayName, tt.ranked[0].DisplayName)
			}
			if sel.Outcome == OutcomeAmbiguous && len(sel.Candidates) != len(tt.ranked) {
				t.Errorf("ambiguous selection must list all candidates, got %d", len(sel.Candidates))
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Mario   ROSSI ":     "mario rossi",
		"Niccolò Bàrbera":      "niccolo barbera",
		"Rossi & Figli S.r.l.": "rossi figli s r l",
		"D'Amico":              "d amico",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		query, name string
		min, max    float64
	}{
		{"Mario Rossi", "mario rossi", 1, 1},
		{"Niccolo Barbera", "Niccolò Bàrbera", 1, 1},
		{"Mario Rossi vuole sapere", "Mario Rossi", 1, 1},
		{"Mario Rosi", "Mario Rossi", 0.5, FuzzyCeiling},
		{"Mario Rossi", "Mario Rossini", 0.5, FuzzyCeiling},
		{"Rossi Mario", "Mario Rossi", 0.95, 0.95},
		{"Mario Rossi", "Luigi Verdi", 0, 0.5},
		{"", "Mario Rossi", 0, 0},
	}
	for _, tt := range tests {
		got := Score(tt.query, tt.name)
		if got < tt.min || got > tt.max || math.IsNaN(got) {
			t.Errorf("Score(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.query, tt.name, got, tt.min, tt.max)
		}
	}
}

func TestRank(t *testing.T) {
	accounts := []Account{
		{WorkspaceID: "ws-3", DisplayName: "Luigi Verdi"},
		{WorkspaceID: "ws-2", DisplayName: "Mario Rosi"},
		{WorkspaceID: "ws-1", DisplayName: "Mario Rossi"},
	}
	ranked := Rank("Mario Rossi", accounts, nil)
	if len(ranked) != 2 {
		t.Fatalf("expected unrelated account to be dropped, got %+v", ranked)
	}
	if ranked[0].WorkspaceID != "ws-1" || ranked[0].Confidence != 1 {
		t.Errorf("expected exact match first, got %+v", ranked[0])
	}
	if ranked[1].WorkspaceID != "ws-2" {
		t.Errorf("expected typo match second, got %+v", ranked[1])
	}
}

func TestRankStableOnTies(t *testing.T) {
	fixed := func(string, string) float64 { return 0.9 }
	ranked := Rank("x", []Account{{DisplayName: "B"}, {DisplayName: "A"}}, fixed)
	if ranked[0].DisplayName != "A" || ranked[1].DisplayName != "B" {
		t.Errorf("ties must sort by display name, got %v", ranked)
	}
}

func TestLookupErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&LookupError{OperatorID: "op-1", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
	var le *LookupError
	if !errors.As(err, &le) || le.OperatorID != "op-1" {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestSimilarNameIsNeverAccepted(t *testing.T) {
	rule := Rule{Threshold: DefaultThreshold, Margin: DefaultMargin}
	tests := []struct {
		query, name string
	}{
		{"Mario Rossi", "Mario Rossini"},
		{"Mario Rossi", "Maria Rossi"},
		{"Mario Rosi", "Mario Rossi"},
		{"Giovanni Bianchi", "Giovanna Bianchi"},
	}
	for _, tt := range tests {
		t.Run(tt.query+" vs "+tt.name, func(t *testing.T) {
			ranked := Rank(tt.query, []Account{{WorkspaceID: "ws-1", DisplayName: tt.name}}, nil)
			sel := rule.Select(ranked)
			if sel.Outcome == OutcomeAccepted {
				t.Fatalf("%q must not be accepted for %q (score %.3f)", tt.name, tt.query, sel.Best.Confidence)
			}
		})
	}
}

func TestReorderedNameIsAccepted(t *testing.T) {
	rule := Rule{Threshold: DefaultThreshold, Margin: DefaultMargin}
	ranked := Rank("Rossi Mario", []Account{{WorkspaceID: "ws-1", DisplayName: "Mario Rossi"}}, nil)
	if sel := rule.Select(ranked); sel.Outcome != OutcomeAccepted {
		t.Fatalf("expected acceptance, got %s", sel.Outcome)
	}
}
