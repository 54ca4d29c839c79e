package consensus

import "github.com/echiweshe/convoke/pkg/models"

// Candidate pairs an evaluated artifact with its consensus statistics, for
// protocols that produce more than one candidate.
type Candidate struct {
	// Artifact is the evaluated candidate.
	Artifact models.Artifact
	// Aggregate is the candidate's weighted mean score.
	Aggregate float64
	// BlockingFindings is the total blocking findings across its rounds.
	BlockingFindings int
	// Iterations is how many rounds the candidate consumed.
	Iterations int
}

// Better reports whether a should be preferred over b. Higher aggregate
// wins; ties prefer fewer blocking findings, then fewer iterations.
func Better(a, b Candidate) bool {
	if a.Aggregate != b.Aggregate {
		return a.Aggregate > b.Aggregate
	}
	if a.BlockingFindings != b.BlockingFindings {
		return a.BlockingFindings < b.BlockingFindings
	}
	return a.Iterations < b.Iterations
}

// PickBest returns the preferred candidate, or false for an empty slate.
func PickBest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if Better(c, best) {
			best = c
		}
	}
	return best, true
}
