package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"mintgate/observability"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

type sample struct {
	SessionID string `json:"sessionId"`
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicSessionCreated, sample{}); err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close returned unexpected error: %v", err)
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("mintgate.session.>", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := pub.Publish(context.Background(), TopicSessionCreated, sample{SessionID: "tx-1"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := pub.Flush(); err != nil {
		t.Fatalf("flush publisher: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Subject != TopicSessionCreated {
			t.Errorf("got subject %q", msg.Subject)
		}
		var got sample
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.SessionID != "tx-1" {
			t.Errorf("got session %q, want %q", got.SessionID, "tx-1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_Prefix(t *testing.T) {
	pub := &NATSPublisher{prefix: "bridge.prod"}
	if got := pub.subject(TopicDepositClaimable); got != "bridge.prod.deposit.claimable" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestChannelPublisher(t *testing.T) {
	pub := NewChannelPublisher(1)
	ch, cancel := pub.Subscribe()

	if err := pub.Publish(context.Background(), TopicDepositDetected, "first"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Buffer is full; the second publication is dropped rather than blocking.
	if err := pub.Publish(context.Background(), TopicDepositDetected, "second"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := <-ch
	if msg.Topic != TopicDepositDetected || msg.Event != "first" {
		t.Fatalf("unexpected message %+v", msg)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}

	other, _ := pub.Subscribe()
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-other; ok {
		t.Fatalf("expected closed channel after Close")
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, string, any) error { return f.err }
func (f failing) Close() error                               { return nil }

func TestMultiReportsFirstError(t *testing.T) {
	boom := errors.New("boom")
	ch := NewChannelPublisher(4)
	sub, cancel := ch.Subscribe()
	defer cancel()
	m := Multi{&NoopPublisher{}, failing{err: boom}, ch, nil}
	if err := m.Publish(context.Background(), TopicSessionUpdated, 1); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if msg := <-sub; msg.Topic != TopicSessionUpdated {
		t.Fatalf("later publishers must still receive the event")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestInstrumentedPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	pub := Instrumented{Publisher: failing{err: boom}, Metrics: observability.Events()}
	if err := pub.Publish(context.Background(), TopicDepositRemoved, 1); !errors.Is(err, boom) {
		t.Fatalf("expected publisher error, got %v", err)
	}
	if err := (Instrumented{Publisher: &NoopPublisher{}}).Publish(context.Background(), TopicDepositRemoved, 1); err != nil {
		t.Fatalf("nil metrics must be tolerated: %v", err)
	}
}
