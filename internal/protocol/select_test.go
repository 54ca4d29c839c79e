package protocol

import (
	"testing"

	"github.com/echiweshe/convoke/pkg/models"
)

func TestSelectByTraits(t *testing.T) {
	tests := []struct {
		name   string
		traits models.JobTraits
		want   string
	}{
		{"validation wins over everything", models.JobTraits{Validation: true, Optimization: true, Exploratory: true}, "consensus"},
		{"optimization", models.JobTraits{Optimization: true, Exploratory: true}, "swarm"},
		{"exploratory", models.JobTraits{Exploratory: true, DynamicAllocation: true}, "blackboard"},
		{"dynamic allocation", models.JobTraits{DynamicAllocation: true, EqualContribution: true}, "contract_net"},
		{"equal contribution", models.JobTraits{EqualContribution: true}, "peer"},
		{"no traits defaults to hierarchical", models.JobTraits{}, "hierarchical"},
		{"decomposable alone defaults to hierarchical", models.JobTraits{Decomposable: true}, "hierarchical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(models.Job{Traits: tt.traits}).Name()
			if got != tt.want {
				t.Errorf("Select() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectIsPure(t *testing.T) {
	job := models.Job{Traits: models.JobTraits{Optimization: true}}
	for i := 0; i < 5; i++ {
		if got := Select(job).Name(); got != "swarm" {
			t.Fatalf("call %d: Select() = %s, want swarm", i, got)
		}
	}
}
