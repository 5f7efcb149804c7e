package attendance

import (
	"context"
	"errors"

	"rollcall/internal/clock"
	"rollcall/internal/roster"
)

// RecordStore is the persistence surface the recorder needs.
type RecordStore interface {
	Get(ctx context.Context, subjectHandle, windowID string) (*Record, error)
	Insert(ctx context.Context, rec Record) (Record, bool, error)
}

// SubjectStore resolves subjects for the eligibility check.
type SubjectStore interface {
	Get(ctx context.Context, handle string) (*roster.Subject, error)
}

// Recorder performs the idempotent upsert of one attendance record per
// (subject, window) pair.
type Recorder struct {
	records  RecordStore
	subjects SubjectStore
	clk      clock.Clock
}

// NewRecorder creates a recorder.
func NewRecorder(records RecordStore, subjects SubjectStore, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{records: records, subjects: subjects, clk: clk}
}

// Outcome is the result of a Record call.
type Outcome struct {
	Record  *Record
	Created bool
	// Skipped means the subject is ineligible and was silently excluded.
	// It is a successful no-op, not an error.
	Skipped bool
}

// Record writes one attendance outcome for (subjectHandle, windowID).
// Ineligible subjects yield a no-op outcome. An existing record for the
// pair is returned unchanged; first writer wins.
func (r *Recorder) Record(ctx context.Context, subjectHandle, windowID string, status Status, meta Meta) (Outcome, error) {
	if subjectHandle == "" || windowID == "" {
		return Outcome{}, errors.New("subject and window required")
	}
	if !status.Valid() {
		return Outcome{}, errors.New("unknown attendance status: " + string(status))
	}

	subject, err := r.subjects.Get(ctx, subjectHandle)
	if err != nil {
		return Outcome{}, err
	}
	if !roster.Eligible(*subject) {
		return Outcome{Skipped: true}, nil
	}

	if existing, err := r.records.Get(ctx, subjectHandle, windowID); err != nil {
		return Outcome{}, err
	} else if existing != nil {
		return Outcome{Record: existing}, nil
	}

	now := r.clk.Now()
	rec := Record{
		SubjectHandle: subjectHandle,
		WindowID:      windowID,
		WindowName:    meta.WindowName,
		Status:        status,
		RecordedAt:    now,
		RecordDate:    now.Format("2006-01-02"),
		Similarity:    meta.Similarity,
		DistanceM:     meta.DistanceM,
		Checks:        meta.Checks,
	}
	stored, created, err := r.records.Insert(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: &stored, Created: created}, nil
}
