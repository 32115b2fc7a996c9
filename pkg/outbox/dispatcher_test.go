package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"groupmilestones/pkg/circuitbreaker"
	"groupmilestones/pkg/trace"
)

type fakeEventStore struct {
	pending []*Event
	sent    []int64
	failed  []int64
}

func (s *fakeEventStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeEventStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeEventStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.failed = append(s.failed, id)
	return nil
}

type fakePublisher struct {
	fail     map[string]bool
	keys     []string
	traceIDs []string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	if p.fail[routingKey] {
		return errors.New("broker unavailable")
	}
	return nil
}

func event(id int64, key string, payload string) *Event {
	return &Event{ID: id, RoutingKey: key, Payload: json.RawMessage(payload), Status: StatusPending}
}

func TestDispatcherMarksSentAndFailed(t *testing.T) {
	store := &fakeEventStore{pending: []*Event{
		event(1, "milestone.completed", `{"milestone_id":1,"trace_id":"t-1"}`),
		event(2, "broken", `{"milestone_id":2}`),
		event(3, "milestone.completed", `not json`),
	}}
	pub := &fakePublisher{fail: map[string]bool{"broken": true}}

	d := NewDispatcher(store, pub, zap.NewNop())
	d.ProcessPending(context.Background())

	if len(store.sent) != 1 || store.sent[0] != 1 {
		t.Fatalf("sent = %v, want [1]", store.sent)
	}
	if len(store.failed) != 2 || store.failed[0] != 2 || store.failed[1] != 3 {
		t.Fatalf("failed = %v, want [2 3]", store.failed)
	}
	if pub.traceIDs[0] != "t-1" {
		t.Fatalf("trace id not propagated, got %q", pub.traceIDs[0])
	}
}

func TestDispatcherStopsWhenCircuitOpen(t *testing.T) {
	store := &fakeEventStore{pending: []*Event{
		event(1, "broken", `{}`),
		event(2, "broken", `{}`),
		event(3, "broken", `{}`),
	}}
	pub := &fakePublisher{fail: map[string]bool{"broken": true}}

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		HalfOpenMaxRequests: 1,
	})
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(cb)
	d.ProcessPending(context.Background())

	if len(pub.keys) != 1 {
		t.Fatalf("publisher called %d times, want 1", len(pub.keys))
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed = %v, want only the first event", store.failed)
	}
}
