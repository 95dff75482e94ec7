package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records.
//
// The core only ever writes through it; call history is never read back
// for decision-making. List exists solely so the UI can display records.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) error
	Update(ctx context.Context, id string, apply func(*CallRecord)) error
	List(ctx context.Context, limit int) ([]CallRecord, error)
}

var (
	ErrNotFound       = errors.New("history: record not found")
	ErrInvalidRequest = errors.New("history: invalid request")
)

// Recorder creates and mutates persisted call records. Each record is
// written once at call start and updated at most twice afterwards.
type Recorder struct {
	repo  Repository
	clock func() time.Time
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, clock: time.Now}
}

// LogOutgoing creates the record for an outbound attempt and returns its id.
func (r *Recorder) LogOutgoing(ctx context.Context, number, provider, entityID string) (string, error) {
	if number == "" || provider == "" {
		return "", ErrInvalidRequest
	}
	now := r.clock().UTC()
	rec := CallRecord{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		PhoneNumber: number,
		Type:        CallTypeOutgoing,
		Provider:    provider,
		Disposition: DispositionRinging,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// LogIncoming creates the record for an inbound ring and returns its id.
// entityID is set when the caller was identified against the directory.
func (r *Recorder) LogIncoming(ctx context.Context, number, provider, providerCallID, entityID string) (string, error) {
	if number == "" || provider == "" {
		return "", ErrInvalidRequest
	}
	now := r.clock().UTC()
	rec := CallRecord{
		ID:             uuid.NewString(),
		EntityID:       entityID,
		PhoneNumber:    number,
		Type:           CallTypeIncoming,
		Provider:       provider,
		ProviderCallID: providerCallID,
		Disposition:    DispositionRinging,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// MarkAnswered records that the call connected.
func (r *Recorder) MarkAnswered(ctx context.Context, id string) error {
	return r.update(ctx, id, func(rec *CallRecord) {
		rec.Disposition = DispositionAnswered
	})
}

// MarkRejected records that the CRM user declined the call.
func (r *Recorder) MarkRejected(ctx context.Context, id string) error {
	return r.update(ctx, id, func(rec *CallRecord) {
		rec.Disposition = DispositionRejected
	})
}

// MarkMissed records an inbound ring that ended while a session was
// already occupying the line, or that the caller abandoned.
func (r *Recorder) MarkMissed(ctx context.Context, id string) error {
	return r.update(ctx, id, func(rec *CallRecord) {
		rec.Disposition = DispositionMissed
	})
}

// SetProviderCallID attaches the provider identifier once it is known
// (outbound calls learn it only after MakeCall returns).
func (r *Recorder) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	if providerCallID == "" {
		return nil
	}
	return r.update(ctx, id, func(rec *CallRecord) {
		rec.ProviderCallID = providerCallID
	})
}

// FinishWithDuration writes the final duration and the completion
// disposition. A call that never connected keeps its last disposition and
// only gets the duration (0) persisted.
func (r *Recorder) FinishWithDuration(ctx context.Context, id string, seconds int) error {
	if seconds < 0 {
		return ErrInvalidRequest
	}
	return r.update(ctx, id, func(rec *CallRecord) {
		rec.DurationSeconds = seconds
		if rec.Disposition == DispositionAnswered || seconds > 0 {
			rec.Disposition = FormatCompleted(seconds)
		}
	})
}

// FormatCompleted renders the terminal disposition, e.g. 42s ->
// "Call completed - 0:42".
func FormatCompleted(seconds int) string {
	return fmt.Sprintf("Call completed - %d:%02d", seconds/60, seconds%60)
}

// List returns the most recent records for display, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return r.repo.List(ctx, limit)
}

func (r *Recorder) update(ctx context.Context, id string, apply func(*CallRecord)) error {
	if id == "" {
		return ErrInvalidRequest
	}
	now := r.clock().UTC()
	return r.repo.Update(ctx, id, func(rec *CallRecord) {
		apply(rec)
		rec.UpdatedAt = now
	})
}
