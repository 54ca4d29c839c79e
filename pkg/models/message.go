package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message exchanged on the channel.
// All six protocols share this vocabulary.
type MessageType string

const (
	// MsgInform shares context or state without expecting a reply.
	MsgInform MessageType = "inform"
	// MsgRequest asks the receiver to perform work.
	MsgRequest MessageType = "request"
	// MsgPropose offers a candidate artifact, bid call, or contribution.
	MsgPropose MessageType = "propose"
	// MsgAccept awards or approves a prior proposal.
	MsgAccept MessageType = "accept"
	// MsgReject declines a prior proposal.
	MsgReject MessageType = "reject"
	// MsgQuery asks for information.
	MsgQuery MessageType = "query"
	// MsgResponse answers a request, query, or proposal.
	MsgResponse MessageType = "response"
	// MsgNegotiate opens or continues a negotiation exchange.
	MsgNegotiate MessageType = "negotiate"
	// MsgCommit finalizes an agreed outcome.
	MsgCommit MessageType = "commit"
	// MsgCancel aborts the conversation's in-flight work.
	MsgCancel MessageType = "cancel"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MsgInform, MsgRequest, MsgPropose, MsgAccept, MsgReject,
		MsgQuery, MsgResponse, MsgNegotiate, MsgCommit, MsgCancel:
		return true
	default:
		return false
	}
}

// BroadcastReceiver addresses a message to all agents matching the
// broadcast's capability filter.
const BroadcastReceiver = "*"

// Message is the unit of communication between agents and the orchestrator.
// Messages are immutable once sent. ConversationID groups a causally
// related exchange; within one conversation, delivery order to a recipient
// equals send order.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Type is the message kind.
	Type MessageType `json:"type"`
	// Sender is the agent or orchestrator ID that sent the message.
	Sender string `json:"sender"`
	// Receiver is the target agent ID, or BroadcastReceiver.
	Receiver string `json:"receiver"`
	// ConversationID correlates a causally related exchange.
	ConversationID string `json:"conversation_id"`
	// Payload is the opaque message body.
	Payload []byte `json:"payload,omitempty"`
	// ReplyBy is the optional deadline for a reply. Zero means none.
	ReplyBy time.Time `json:"reply_by,omitempty"`
	// SentAt is when the message was sent.
	SentAt time.Time `json:"sent_at"`
}

// NewMessage constructs a message with a generated ID and current timestamp.
func NewMessage(t MessageType, sender, receiver, conversationID string, payload []byte) Message {
	return Message{
		ID:             uuid.New().String(),
		Type:           t,
		Sender:         sender,
		Receiver:       receiver,
		ConversationID: conversationID,
		Payload:        payload,
		SentAt:         time.Now(),
	}
}
