package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/model"
	"groupmilestones/internal/service/milestone"
	"groupmilestones/internal/snapshot"
	"groupmilestones/pkg/mq"
)

type fakeApplier struct {
	err   error
	calls int
	last  snapshot.Raw
}

func (f *fakeApplier) ApplySnapshot(_ context.Context, _ int64, _ string, raw snapshot.Raw) (milestone.ApplyReport, error) {
	f.calls++
	f.last = raw
	return milestone.ApplyReport{Evaluated: 1, Completed: []int64{}}, f.err
}

type memDeduper struct {
	seen     map[string]bool
	released int
}

func (d *memDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, key string) {
	delete(d.seen, handler+":"+key)
	d.released++
}

type memCounter struct {
	counts map[string]int64
}

func (c *memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

func newTestHandler(applier *fakeApplier) (*MemberSnapshotHandler, *memDeduper) {
	d := &memDeduper{seen: map[string]bool{}}
	h := NewMemberSnapshotHandler(applier, d, &memCounter{counts: map[string]int64{}}, 2, zap.NewNop())
	return h, d
}

const validPayload = `{"group_id":7,"member_name":"alice","snapshot_id":"s-1","stats":"{\"zulrah_kc\":50}"}`

func TestHandleAppliesAndDedups(t *testing.T) {
	applier := &fakeApplier{}
	h, _ := newTestHandler(applier)
	ctx := context.Background()

	if err := h.Handle(ctx, json.RawMessage(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if string(applier.last.Stats) != `"{\"zulrah_kc\":50}"` {
		t.Errorf("stats facet not passed through: %s", applier.last.Stats)
	}
	if err := h.Handle(ctx, json.RawMessage(validPayload)); err != nil {
		t.Fatalf("duplicate Handle() error = %v", err)
	}
	if applier.calls != 1 {
		t.Errorf("calls = %d, want 1", applier.calls)
	}
}

func TestHandlePermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		err     error
	}{
		{"bad json", `{"group_id":`, nil},
		{"missing member", `{"group_id":7}`, nil},
		{"unknown member", validPayload, fmt.Errorf("member %q: %w", "alice", model.ErrNotFound)},
		{"unique violation", validPayload, &pgconn.PgError{Code: "23505"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(&fakeApplier{err: tt.err})
			err := h.Handle(context.Background(), json.RawMessage(tt.payload))
			if !mq.IsPermanent(err) {
				t.Fatalf("err = %v, want permanent", err)
			}
		})
	}
}

func TestHandleRetriesThenGivesUp(t *testing.T) {
	transient := multierr.Append(
		errors.New("boom"),
		&pgconn.PgError{Code: "40001"},
	)
	applier := &fakeApplier{err: transient}
	h, d := newTestHandler(applier)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		err := h.Handle(ctx, json.RawMessage(validPayload))
		if err == nil || mq.IsPermanent(err) {
			t.Fatalf("attempt %d: err = %v, want retryable", i, err)
		}
	}
	if d.released != 2 {
		t.Errorf("released = %d, want 2", d.released)
	}

	err := h.Handle(ctx, json.RawMessage(validPayload))
	if !mq.IsPermanent(err) {
		t.Fatalf("third attempt: err = %v, want permanent", err)
	}
	if applier.calls != 3 {
		t.Errorf("calls = %d, want 3", applier.calls)
	}
}

func TestHandleAppliesEverySyncWithoutSnapshotID(t *testing.T) {
	applier := &fakeApplier{}
	h, d := newTestHandler(applier)
	ctx := context.Background()
	payload := json.RawMessage(`{"group_id":7,"member_name":"alice","stats":"{\"zulrah_kc\":50}"}`)

	for i := 0; i < 2; i++ {
		if err := h.Handle(ctx, payload); err != nil {
			t.Fatalf("sync %d: Handle() error = %v", i+1, err)
		}
	}
	if applier.calls != 2 {
		t.Errorf("calls = %d, want 2", applier.calls)
	}
	if len(d.seen) != 0 {
		t.Errorf("dedup keys = %v, want none without a snapshot id", d.seen)
	}
}

func TestSnapshotKey(t *testing.T) {
	raw := json.RawMessage(`{"group_id":7,"member_name":"alice"}`)
	withID, dedup := snapshotKey(mqPayload(7, "s-9"), raw)
	if withID != "7:s-9" || !dedup {
		t.Errorf("snapshotKey with id = %q, %v", withID, dedup)
	}
	a, dedupA := snapshotKey(mqPayload(7, ""), raw)
	b, _ := snapshotKey(mqPayload(7, ""), json.RawMessage(`{"group_id":7,"member_name":"bob"}`))
	if dedupA {
		t.Error("content hash must not be used for dedup")
	}
	if a == b || len(a) != 64 {
		t.Errorf("content hash keys: %q %q", a, b)
	}
}

func mqPayload(groupID int64, snapshotID string) mqcontracts.MemberSnapshotPayload {
	return mqcontracts.MemberSnapshotPayload{GroupID: groupID, MemberName: "alice", SnapshotID: snapshotID}
}
