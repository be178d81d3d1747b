package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &KafkaPublisher{writer: w, timeout: time.Second, now: func() time.Time { return at }}

	err := p.Publish(context.Background(), "patient-1", "ward_entry.committed", map[string]string{"id": "ward-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "patient-1" {
		t.Errorf("expected key patient-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "ward_entry.committed" {
		t.Errorf("unexpected headers %+v", msg.Headers)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != "ward_entry.committed" || !env.OccurredAt.Equal(at) {
		t.Errorf("unexpected envelope %+v", env)
	}
	if string(env.Payload) != `{"id":"ward-1"}` {
		t.Errorf("unexpected payload %s", env.Payload)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, timeout: time.Second, now: time.Now}

	if err := p.Publish(context.Background(), "k", "t", struct{}{}); err == nil {
		t.Fatal("expected error")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected writer closed, err=%v", err)
	}
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	if err := p.Publish(context.Background(), "k", "t", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
