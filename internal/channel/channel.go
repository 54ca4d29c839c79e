// Package channel provides typed, addressed message passing between agents
// and the orchestrator. Delivery is at-least-once to live endpoints;
// messages to unreachable agents fail fast rather than queueing.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/pkg/models"
)

// ErrAgentUnreachable is returned when the recipient is marked unreachable.
var ErrAgentUnreachable = errors.New("agent unreachable")

// ErrUnknownRecipient is returned when no endpoint is registered for the
// recipient ID.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Endpoint receives messages addressed to one agent. Implementations must
// be safe for concurrent delivery of messages from different conversations;
// the channel itself serializes deliveries to one recipient, so messages
// within a conversation arrive in send order.
type Endpoint interface {
	Deliver(ctx context.Context, msg models.Message) error
}

// EndpointFunc adapts a function to the Endpoint interface.
type EndpointFunc func(ctx context.Context, msg models.Message) error

// Deliver calls f.
func (f EndpointFunc) Deliver(ctx context.Context, msg models.Message) error {
	return f(ctx, msg)
}

// DeliveryFailure reports one recipient's failure during a broadcast.
type DeliveryFailure struct {
	// AgentID is the recipient that could not be delivered to.
	AgentID string
	// Err is the delivery error.
	Err error
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver to %s: %v", f.AgentID, f.Err)
}

// Channel routes messages to registered endpoints, consulting the registry
// for reachability. One Channel serves one engine instance.
type Channel struct {
	reg *registry.Registry

	mu        sync.RWMutex
	endpoints map[string]*recipient
	// broadcastLimit bounds concurrent deliveries during a broadcast.
	broadcastLimit int
}

// recipient pairs an endpoint with a per-recipient delivery lock so that
// sends to one agent are serialized (conversation order equals send order).
type recipient struct {
	mu sync.Mutex
	ep Endpoint
}

// New creates a channel backed by the given registry.
func New(reg *registry.Registry) *Channel {
	return &Channel{
		reg:            reg,
		endpoints:      make(map[string]*recipient),
		broadcastLimit: 8,
	}
}

// Attach registers the endpoint for an agent or orchestrator ID.
func (c *Channel) Attach(id string, ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[id] = &recipient{ep: ep}
}

// Detach removes the endpoint for an ID.
func (c *Channel) Detach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, id)
}

// Send delivers a point-to-point message. It fails fast with
// ErrAgentUnreachable when the registry marks the recipient unreachable,
// and retries once on a transient endpoint error (at-least-once to a live
// agent).
func (c *Channel) Send(ctx context.Context, msg models.Message) error {
	c.mu.RLock()
	rcpt, ok := c.endpoints[msg.Receiver]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.Receiver)
	}

	// Registry-known recipients must be reachable. The orchestrator's own
	// inbox is attached without registration and is always deliverable.
	if _, known := c.reg.Get(msg.Receiver); known && !c.reg.Reachable(msg.Receiver) {
		return fmt.Errorf("%w: %s", ErrAgentUnreachable, msg.Receiver)
	}

	rcpt.mu.Lock()
	defer rcpt.mu.Unlock()

	err := rcpt.ep.Deliver(ctx, msg)
	if err == nil || ctx.Err() != nil {
		return err
	}
	// One redelivery attempt. The endpoint contract tolerates duplicates.
	return rcpt.ep.Deliver(ctx, msg)
}

// Broadcast delivers the message to every registered agent matching the
// capability filter. Per-recipient failures do not abort the broadcast;
// they are returned as a list. An empty capability matches all agents.
func (c *Channel) Broadcast(ctx context.Context, msg models.Message, capability string) []DeliveryFailure {
	var targets []string
	if capability == "" {
		for _, a := range c.reg.All() {
			if a.State != models.AgentStateUnreachable {
				targets = append(targets, a.ID)
			}
		}
	} else {
		targets = c.reg.FindCapable(capability)
	}

	var (
		failMu   sync.Mutex
		failures []DeliveryFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.broadcastLimit)
	for _, id := range targets {
		g.Go(func() error {
			m := msg
			m.Receiver = id
			if err := c.Send(gctx, m); err != nil {
				failMu.Lock()
				failures = append(failures, DeliveryFailure{AgentID: id, Err: err})
				failMu.Unlock()
			}
			// Failures are collected, never returned: one bad recipient
			// must not cancel the remaining deliveries.
			return nil
		})
	}
	_ = g.Wait()

	return failures
}
