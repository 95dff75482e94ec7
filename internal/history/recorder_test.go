package history

import (
	"context"
	"testing"
	"time"
)

func newTestRecorder() (*Recorder, *MemoryRepo) {
	repo := NewMemoryRepo()
	rec := NewRecorder(repo)
	rec.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return rec, repo
}

func TestRecorder_OutgoingLifecycle(t *testing.T) {
	rec, repo := newTestRecorder()

	id, err := rec.LogOutgoing(context.Background(), "+15550001111", "device", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, ok := repo.Get(id)
	if !ok {
		t.Fatalf("record not stored")
	}
	if got.Type != CallTypeOutgoing || got.Disposition != DispositionRinging || got.DurationSeconds != 0 {
		t.Fatalf("unexpected initial record: %+v", got)
	}

	if err := rec.MarkAnswered(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := rec.FinishWithDuration(context.Background(), id, 42); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got, _ = repo.Get(id)
	if got.Disposition != "Call completed - 0:42" {
		t.Fatalf("expected completed disposition encoding 0:42, got %q", got.Disposition)
	}
	if got.DurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %d", got.DurationSeconds)
	}
}

func TestRecorder_IncomingRejected(t *testing.T) {
	rec, repo := newTestRecorder()

	id, err := rec.LogIncoming(context.Background(), "+15551234567", "device", "CA123", "lead-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := rec.MarkRejected(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := rec.FinishWithDuration(context.Background(), id, 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got, _ := repo.Get(id)
	if got.Disposition != DispositionRejected {
		t.Fatalf("a rejected call must keep its disposition, got %q", got.Disposition)
	}
	if got.EntityID != "lead-1" || got.ProviderCallID != "CA123" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRecorder_ValidationAndMissing(t *testing.T) {
	rec, _ := newTestRecorder()

	if _, err := rec.LogOutgoing(context.Background(), "", "device", ""); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := rec.MarkAnswered(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := rec.FinishWithDuration(context.Background(), "x", -1); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for negative duration, got %v", err)
	}
}

func TestRecorder_ListNewestFirst(t *testing.T) {
	rec, _ := newTestRecorder()

	first, _ := rec.LogOutgoing(context.Background(), "+15550000001", "device", "")
	second, _ := rec.LogOutgoing(context.Background(), "+15550000002", "callback", "")

	out, err := rec.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 || out[0].ID != second || out[1].ID != first {
		t.Fatalf("expected newest-first ordering, got %+v", out)
	}
}

func TestFormatCompleted(t *testing.T) {
	cases := map[int]string{
		0:   "Call completed - 0:00",
		42:  "Call completed - 0:42",
		61:  "Call completed - 1:01",
		600: "Call completed - 10:00",
	}
	for seconds, want := range cases {
		if got := FormatCompleted(seconds); got != want {
			t.Fatalf("FormatCompleted(%d) = %q, want %q", seconds, got, want)
		}
	}
}
