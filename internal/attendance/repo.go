package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres. The UNIQUE
// (subject_handle, window_id) constraint on the table is the actual
// idempotency mechanism; application-level pre-checks are just an
// optimization on top of it.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, subject_handle, window_id, window_name, status, recorded_at, record_date, similarity, distance_m, checks`

// Get returns the record for a (subject, window) pair, or nil when none
// exists.
func (r *Repository) Get(ctx context.Context, subjectHandle, windowID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE subject_handle = $1 AND window_id = $2
	`, subjectHandle, windowID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Insert writes a record, deferring to whatever row already holds the
// (subject, window) slot. The bool reports whether this call created the
// row; when false the returned record is the pre-existing one.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, subject_handle, window_id, window_name, status, recorded_at, record_date, similarity, distance_m, checks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (subject_handle, window_id) DO NOTHING
	`, rec.ID, rec.SubjectHandle, rec.WindowID, rec.WindowName, rec.Status, rec.RecordedAt, rec.RecordDate, rec.Similarity, rec.DistanceM, rec.Checks)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: insert record: %v", ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return rec, true, nil
	}

	existing, err := r.Get(ctx, rec.SubjectHandle, rec.WindowID)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: reread record: %v", ErrPersistence, err)
	}
	if existing == nil {
		return Record{}, false, fmt.Errorf("%w: record vanished after conflict", ErrPersistence)
	}
	return *existing, false, nil
}

// InsertBatch bulk-inserts records in one statement, skipping any pair
// that already has a row. Returns how many rows were actually inserted.
func (r *Repository) InsertBatch(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	query := `INSERT INTO attendance_records (id, subject_handle, window_id, window_name, status, recorded_at, record_date, similarity, distance_m, checks) VALUES `
	args := make([]any, 0, len(recs)*10)
	for i, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if i > 0 {
			query += ","
		}
		base := i * 10
		query += "(" + placeholders(base+1, 10) + ")"
		args = append(args, rec.ID, rec.SubjectHandle, rec.WindowID, rec.WindowName, rec.Status, rec.RecordedAt, rec.RecordDate, rec.Similarity, rec.DistanceM, rec.Checks)
	}
	query += ` ON CONFLICT (subject_handle, window_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: batch insert: %v", ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListForWindow returns every record for one window. The sweeper depends
// on this being window-scoped; a subject has independent outcomes across
// windows.
func (r *Repository) ListForWindow(ctx context.Context, windowID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE window_id = $1
		ORDER BY recorded_at
	`, windowID)
	if err != nil {
		return nil, fmt.Errorf("%w: list window records: %v", ErrPersistence, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListForSubject returns a subject's records, most recent first.
func (r *Repository) ListForSubject(ctx context.Context, subjectHandle string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE subject_handle = $1
		ORDER BY recorded_at DESC LIMIT $2 OFFSET $3
	`, subjectHandle, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list subject records: %v", ErrPersistence, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func placeholders(start, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var date time.Time
	if err := row.Scan(&rec.ID, &rec.SubjectHandle, &rec.WindowID, &rec.WindowName, &rec.Status, &rec.RecordedAt, &date, &rec.Similarity, &rec.DistanceM, &rec.Checks); err != nil {
		return nil, err
	}
	rec.RecordDate = date.Format("2006-01-02")
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
