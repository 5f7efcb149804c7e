package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/clock"
	"rollcall/internal/roster"
)

type memRecords struct {
	mu   sync.Mutex
	byID map[string]Record
	// pairs enforces the (subject, window) uniqueness the real table has.
	pairs map[[2]string]string
}

func newMemRecords() *memRecords {
	return &memRecords{byID: map[string]Record{}, pairs: map[[2]string]string{}}
}

func (m *memRecords) Get(_ context.Context, subject, windowID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.pairs[[2]string{subject, windowID}]; ok {
		rec := m.byID[id]
		return &rec, nil
	}
	return nil, nil
}

func (m *memRecords) Insert(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{rec.SubjectHandle, rec.WindowID}
	if id, ok := m.pairs[key]; ok {
		return m.byID[id], false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.byID[rec.ID] = rec
	m.pairs[key] = rec.ID
	return rec, true, nil
}

type memSubjects struct {
	subjects map[string]roster.Subject
}

func (m *memSubjects) Get(_ context.Context, handle string) (*roster.Subject, error) {
	s, ok := m.subjects[handle]
	if !ok {
		return nil, roster.ErrNotFound
	}
	return &s, nil
}

func subjects(ss ...roster.Subject) *memSubjects {
	out := &memSubjects{subjects: map[string]roster.Subject{}}
	for _, s := range ss {
		out.subjects[s.Handle] = s
	}
	return out
}

func TestRecordIdempotent(t *testing.T) {
	records := newMemRecords()
	clk := clock.NewFake(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	rec := NewRecorder(records, subjects(roster.Subject{Handle: "alice", Role: roster.RoleSubject, Active: true}), clk)
	ctx := context.Background()

	score := 0.8
	first, err := rec.Record(ctx, "alice", "win-1", StatusPresent, Meta{Similarity: &score})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "2025-03-10", first.Record.RecordDate)

	clk.Advance(time.Minute)
	second, err := rec.Record(ctx, "alice", "win-1", StatusPresent, Meta{})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.RecordedAt, second.Record.RecordedAt)
	assert.Len(t, records.byID, 1)
}

func TestRecordIneligibleIsNoOp(t *testing.T) {
	tests := []struct {
		name string
		s    roster.Subject
	}{
		{name: "instructor", s: roster.Subject{Handle: "prof", Role: roster.RoleInstructor, Active: true}},
		{name: "admin", s: roster.Subject{Handle: "root", Role: roster.RoleAdmin, Active: true}},
		{name: "inactive subject", s: roster.Subject{Handle: "gone", Role: roster.RoleSubject, Active: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := newMemRecords()
			rec := NewRecorder(records, subjects(tt.s), clock.Real())

			out, err := rec.Record(context.Background(), tt.s.Handle, "win-1", StatusPresent, Meta{})
			require.NoError(t, err)
			assert.True(t, out.Skipped)
			assert.Nil(t, out.Record)
			assert.Empty(t, records.byID)
		})
	}
}

func TestRecordUnknownSubject(t *testing.T) {
	rec := NewRecorder(newMemRecords(), subjects(), clock.Real())
	_, err := rec.Record(context.Background(), "ghost", "win-1", StatusPresent, Meta{})
	assert.ErrorIs(t, err, roster.ErrNotFound)
}

func TestRecordValidation(t *testing.T) {
	rec := NewRecorder(newMemRecords(), subjects(), clock.Real())
	ctx := context.Background()

	_, err := rec.Record(ctx, "", "win-1", StatusPresent, Meta{})
	assert.Error(t, err)
	_, err = rec.Record(ctx, "alice", "", StatusPresent, Meta{})
	assert.Error(t, err)
	_, err = rec.Record(ctx, "alice", "win-1", Status("loitering"), Meta{})
	assert.Error(t, err)
}

func TestRecordIndependentAcrossWindows(t *testing.T) {
	records := newMemRecords()
	rec := NewRecorder(records, subjects(roster.Subject{Handle: "alice", Role: roster.RoleSubject, Active: true}), clock.Real())
	ctx := context.Background()

	a, err := rec.Record(ctx, "alice", "win-1", StatusPresent, Meta{})
	require.NoError(t, err)
	b, err := rec.Record(ctx, "alice", "win-2", StatusLate, Meta{})
	require.NoError(t, err)

	assert.True(t, a.Created)
	assert.True(t, b.Created)
	assert.NotEqual(t, a.Record.ID, b.Record.ID)
}
