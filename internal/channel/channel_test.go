package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/pkg/models"
)

func newTestRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{AllowDuplicateSignatures: true})
	for _, id := range ids {
		if _, err := reg.Register(&models.Agent{ID: id, Capabilities: []string{"render"}}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}
	return reg
}

type collector struct {
	mu   sync.Mutex
	msgs []models.Message
	fail int // fail the first n deliveries
}

func (c *collector) Deliver(_ context.Context, msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("transient delivery error")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) received() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.msgs...)
}

func TestSendDelivers(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	ep := &collector{}
	ch.Attach("a1", ep)

	msg := models.NewMessage(models.MsgInform, "orch", "a1", "conv-1", []byte("hello"))
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := ep.received()
	if len(got) != 1 || string(got[0].Payload) != "hello" {
		t.Errorf("unexpected delivery %+v", got)
	}
}

func TestSendRetriesOnce(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	ep := &collector{fail: 1}
	ch.Attach("a1", ep)

	msg := models.NewMessage(models.MsgRequest, "orch", "a1", "conv-1", nil)
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() should succeed on redelivery, got %v", err)
	}
	if len(ep.received()) != 1 {
		t.Error("expected the retried delivery to land")
	}
}

func TestSendUnreachableFailsFast(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	ch.Attach("a1", &collector{})
	if err := reg.SetState("a1", models.AgentStateUnreachable); err != nil {
		t.Fatal(err)
	}

	msg := models.NewMessage(models.MsgRequest, "orch", "a1", "conv-1", nil)
	err := ch.Send(context.Background(), msg)
	if !errors.Is(err, ErrAgentUnreachable) {
		t.Errorf("expected ErrAgentUnreachable, got %v", err)
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	ch := New(newTestRegistry(t))
	err := ch.Send(context.Background(), models.NewMessage(models.MsgInform, "orch", "ghost", "c", nil))
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
}

func TestConversationOrderPerRecipient(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	ep := &collector{}
	ch.Attach("a1", ep)

	for i := 0; i < 20; i++ {
		msg := models.NewMessage(models.MsgInform, "orch", "a1", "conv-1", []byte{byte(i)})
		if err := ch.Send(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}

	got := ep.received()
	for i, msg := range got {
		if msg.Payload[0] != byte(i) {
			t.Fatalf("message %d out of order: got %d", i, msg.Payload[0])
		}
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	reg := newTestRegistry(t, "a1", "a2", "a3")
	ch := New(reg)
	good1, good2 := &collector{}, &collector{}
	ch.Attach("a1", good1)
	ch.Attach("a2", good2)
	// a3 has no endpoint attached, so its delivery fails.

	msg := models.NewMessage(models.MsgPropose, "orch", models.BroadcastReceiver, "conv-1", []byte("candidate"))
	failures := ch.Broadcast(context.Background(), msg, "render")

	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", failures)
	}
	if failures[0].AgentID != "a3" {
		t.Errorf("expected failure for a3, got %s", failures[0].AgentID)
	}
	if len(good1.received()) != 1 || len(good2.received()) != 1 {
		t.Error("expected surviving recipients to receive the broadcast")
	}
}

func TestBroadcastSkipsUnreachable(t *testing.T) {
	reg := newTestRegistry(t, "a1", "a2")
	ch := New(reg)
	ep := &collector{}
	ch.Attach("a1", ep)
	ch.Attach("a2", &collector{})
	if err := reg.SetState("a2", models.AgentStateUnreachable); err != nil {
		t.Fatal(err)
	}

	msg := models.NewMessage(models.MsgInform, "orch", models.BroadcastReceiver, "conv-1", nil)
	failures := ch.Broadcast(context.Background(), msg, "render")
	if len(failures) != 0 {
		t.Errorf("unreachable agents are filtered, not failed: %v", failures)
	}
	if len(ep.received()) != 1 {
		t.Error("expected reachable agent to receive broadcast")
	}
}

func TestMailboxRoutesByConversation(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	mail := NewMailbox(ch, "orchestrator")

	sub := mail.Subscribe("conv-1")
	msg := models.NewMessage(models.MsgResponse, "a1", "orchestrator", "conv-1", []byte("done"))
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-sub:
		if string(got.Payload) != "done" {
			t.Errorf("unexpected payload %q", got.Payload)
		}
	default:
		t.Fatal("expected routed message")
	}
}

func TestMailboxDropsStale(t *testing.T) {
	reg := newTestRegistry(t, "a1")
	ch := New(reg)
	mail := NewMailbox(ch, "orchestrator")

	sub := mail.Subscribe("conv-1")
	mail.Unsubscribe("conv-1")

	// A late reply for an ended conversation is discarded, not errored.
	msg := models.NewMessage(models.MsgResponse, "a1", "orchestrator", "conv-1", []byte("late"))
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("stale delivery should not error, got %v", err)
	}
	if mail.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", mail.Dropped())
	}

	select {
	case <-sub:
		t.Fatal("stale message must not reach the old subscription")
	default:
	}
}
