package consensus

import (
	"testing"

	"github.com/echiweshe/convoke/pkg/models"
)

func TestPickBestTieBreak(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		wantIdx    int
	}{
		{
			name: "higher aggregate wins",
			candidates: []Candidate{
				{Aggregate: 0.8},
				{Aggregate: 0.9},
			},
			wantIdx: 1,
		},
		{
			name: "tie prefers fewer blocking findings",
			candidates: []Candidate{
				{Aggregate: 0.9, BlockingFindings: 2},
				{Aggregate: 0.9, BlockingFindings: 0},
			},
			wantIdx: 1,
		},
		{
			name: "tie on blocking prefers fewer iterations",
			candidates: []Candidate{
				{Aggregate: 0.9, BlockingFindings: 1, Iterations: 3},
				{Aggregate: 0.9, BlockingFindings: 1, Iterations: 1},
			},
			wantIdx: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.candidates {
				tt.candidates[i].Artifact = models.Artifact{Version: i + 1}
			}
			best, ok := PickBest(tt.candidates)
			if !ok {
				t.Fatal("expected a candidate")
			}
			if best.Artifact.Version != tt.wantIdx+1 {
				t.Errorf("expected candidate %d, got %d", tt.wantIdx, best.Artifact.Version-1)
			}
		})
	}
}

func TestPickBestEmpty(t *testing.T) {
	if _, ok := PickBest(nil); ok {
		t.Error("expected no candidate for empty slate")
	}
}
