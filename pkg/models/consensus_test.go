package models

import "testing"

func TestVoteKey(t *testing.T) {
	v := Vote{ArtifactVersion: 3, CriticID: "critic-a"}
	if got := v.Key(); got != "3:critic-a" {
		t.Errorf("expected key 3:critic-a, got %q", got)
	}
}

func TestVoteBlockingCount(t *testing.T) {
	v := Vote{
		Findings: []Finding{
			{Category: "layout", Severity: SeverityInfo},
			{Category: "accuracy", Severity: SeverityBlocking},
			{Category: "style", Severity: SeverityWarning},
			{Category: "accuracy", Severity: SeverityBlocking},
		},
	}
	if got := v.BlockingCount(); got != 2 {
		t.Errorf("expected 2 blocking findings, got %d", got)
	}
}

func TestRoundBlockingCount(t *testing.T) {
	r := ConsensusRound{
		Votes: []Vote{
			{Findings: []Finding{{Severity: SeverityBlocking}}},
			{Findings: []Finding{{Severity: SeverityWarning}}},
			{Abstained: true},
		},
	}
	if got := r.BlockingCount(); got != 1 {
		t.Errorf("expected 1 blocking finding across round, got %d", got)
	}
}

func TestSeverityValid(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityBlocking} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Severity("fatal").Valid() {
		t.Error("expected unknown severity to be invalid")
	}
}
