package channel

import (
	"context"
	"sync"

	"github.com/echiweshe/convoke/pkg/models"
)

// Mailbox is the orchestrator's inbox. Agents address replies to the
// orchestrator ID; the mailbox routes each message to the subscription for
// its conversation. Messages for conversations with no live subscription
// are stale in-flight responses and are dropped, not errored.
type Mailbox struct {
	id string

	mu   sync.RWMutex
	subs map[string]chan models.Message
	// dropped counts discarded stale messages, for diagnostics.
	dropped int
}

// NewMailbox creates a mailbox and attaches it to the channel under the
// given ID.
func NewMailbox(c *Channel, id string) *Mailbox {
	m := &Mailbox{
		id:   id,
		subs: make(map[string]chan models.Message),
	}
	c.Attach(id, m)
	return m
}

// ID returns the address agents reply to.
func (m *Mailbox) ID() string {
	return m.id
}

// Deliver implements Endpoint. It never blocks the sender: a full or
// missing subscription drops the message.
func (m *Mailbox) Deliver(_ context.Context, msg models.Message) error {
	m.mu.RLock()
	sub, ok := m.subs[msg.ConversationID]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		return nil
	}

	select {
	case sub <- msg:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
	return nil
}

// Subscribe opens a subscription for a conversation. The caller must
// Unsubscribe when the conversation ends; later arrivals are then discarded
// as stale.
func (m *Mailbox) Subscribe(conversationID string) <-chan models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := make(chan models.Message, 32)
	m.subs[conversationID] = sub
	return sub
}

// Unsubscribe closes a conversation's subscription.
func (m *Mailbox) Unsubscribe(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, conversationID)
}

// Dropped returns the number of stale messages discarded so far.
func (m *Mailbox) Dropped() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}
