package models

import "testing"

func TestAgentStateValid(t *testing.T) {
	valid := []AgentState{
		AgentStateIdle, AgentStateThinking, AgentStateExecuting,
		AgentStateCollaborating, AgentStateUnreachable,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if AgentState("sleeping").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestCapabilitySignatureOrderIndependent(t *testing.T) {
	a := Agent{Capabilities: []string{"render", "critique", "layout"}}
	b := Agent{Capabilities: []string{"layout", "render", "critique"}}

	if a.CapabilitySignature() != b.CapabilitySignature() {
		t.Error("signature should not depend on declaration order")
	}
}

func TestHasCapability(t *testing.T) {
	a := Agent{Capabilities: []string{"render", "critique"}}
	if !a.HasCapability("critique") {
		t.Error("expected agent to have critique capability")
	}
	if a.HasCapability("layout") {
		t.Error("expected agent to lack layout capability")
	}
}
