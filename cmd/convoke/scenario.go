package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/echiweshe/convoke/pkg/models"
)

// Scenario describes a self-contained engine run: a roster of simulated
// agents and the jobs to submit against them.
type Scenario struct {
	// Producers are worker agents that answer work, revision, bid, and
	// blackboard messages.
	Producers []ProducerSpec `yaml:"producers"`
	// Critics are reviewer agents that vote on candidate artifacts.
	Critics []CriticSpec `yaml:"critics"`
	// Jobs are submitted in order.
	Jobs []JobSpec `yaml:"jobs"`
}

// ProducerSpec configures one simulated producer.
type ProducerSpec struct {
	ID              string   `yaml:"id"`
	Capabilities    []string `yaml:"capabilities"`
	BaseScore       float64  `yaml:"base_score"`
	ImprovePerRound float64  `yaml:"improve_per_round"`
	BidCost         float64  `yaml:"bid_cost"`
	Mute            bool     `yaml:"mute"`
}

// CriticSpec configures one simulated critic.
type CriticSpec struct {
	ID           string    `yaml:"id"`
	Capabilities []string  `yaml:"capabilities"`
	Scores       []float64 `yaml:"scores"`
	// CleanAfter is the round from which the critic stops reporting the
	// findings below.
	CleanAfter int           `yaml:"clean_after"`
	Findings   []FindingSpec `yaml:"findings"`
}

// FindingSpec is one scripted finding.
type FindingSpec struct {
	Severity string `yaml:"severity"`
	Category string `yaml:"category"`
	Detail   string `yaml:"detail"`
}

// JobSpec is one job submission.
type JobSpec struct {
	ID               string           `yaml:"id"`
	Capability       string           `yaml:"capability"`
	Payload          string           `yaml:"payload"`
	Priority         int              `yaml:"priority"`
	QualityThreshold float64          `yaml:"quality_threshold"`
	MaxIterations    int              `yaml:"max_iterations"`
	Strategy         string           `yaml:"strategy"`
	Traits           models.JobTraits `yaml:"traits"`
}

// LoadScenario parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if len(sc.Producers) == 0 {
		return nil, fmt.Errorf("scenario %s declares no producers", path)
	}
	if len(sc.Jobs) == 0 {
		return nil, fmt.Errorf("scenario %s declares no jobs", path)
	}
	return &sc, nil
}

// job converts a spec into the engine's job model, applying configured
// defaults for unset fields.
func (s JobSpec) job(defaultThreshold float64, defaultIterations int) models.Job {
	threshold := s.QualityThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	iterations := s.MaxIterations
	if iterations == 0 {
		iterations = defaultIterations
	}
	return models.Job{
		ID:               s.ID,
		Capability:       s.Capability,
		Payload:          []byte(s.Payload),
		Priority:         s.Priority,
		QualityThreshold: threshold,
		MaxIterations:    iterations,
		StrategyID:       s.Strategy,
		Traits:           s.Traits,
	}
}

// findings converts scripted findings into the vote model.
func (c CriticSpec) findings() []models.Finding {
	var out []models.Finding
	for _, f := range c.Findings {
		out = append(out, models.Finding{
			Severity: models.Severity(f.Severity),
			Category: f.Category,
			Detail:   f.Detail,
		})
	}
	return out
}
