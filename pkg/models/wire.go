package models

import "encoding/json"

// Wire payloads carried inside Message.Payload. The engine treats artifact
// and task content as opaque, but the envelopes that move candidates, votes,
// and bids between agents and the orchestrator need a fixed shape.

// TaskRequest asks an agent to execute a task.
type TaskRequest struct {
	TaskID  string `json:"task_id"`
	JobID   string `json:"job_id"`
	Payload []byte `json:"payload"`
}

// TaskResult carries an agent's result for a task it owns.
type TaskResult struct {
	TaskID  string  `json:"task_id"`
	AgentID string  `json:"agent_id"`
	Content []byte  `json:"content"`
	Score   float64 `json:"score,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// ProposeReview asks a critic to vote on a candidate artifact.
type ProposeReview struct {
	JobID    string   `json:"job_id"`
	Artifact Artifact `json:"artifact"`
}

// ReviseRequest asks the producer for a new artifact version.
type ReviseRequest struct {
	JobID        string   `json:"job_id"`
	Artifact     Artifact `json:"artifact"`
	Instructions []string `json:"instructions"`
}

// Bid is a contract-net response to a task announcement.
type Bid struct {
	TaskID  string  `json:"task_id"`
	AgentID string  `json:"agent_id"`
	Cost    float64 `json:"cost"`
}

// EncodePayload marshals a wire payload for Message.Payload.
func EncodePayload(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// DecodePayload unmarshals a Message.Payload into the given wire type.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
