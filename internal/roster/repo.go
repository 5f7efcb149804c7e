package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists subjects in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a subject by handle, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, handle string) (*Subject, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT handle, display_name, role, active, embedding, department, cohort, enrolled_at, created_at
		FROM subjects WHERE handle = $1
	`, handle)
	return scanSubject(row)
}

// ListEligible loads the full roster of subjects that may receive
// attendance records. The role/active filter mirrors Eligible; the SQL is
// only a narrowing optimization and scanned rows are re-checked in Go.
func (r *Repository) ListEligible(ctx context.Context) ([]Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT handle, display_name, role, active, embedding, department, cohort, enrolled_at, created_at
		FROM subjects
		WHERE active = TRUE AND role = $1
		ORDER BY handle
	`, RoleSubject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		if Eligible(*s) {
			out = append(out, *s)
		}
	}
	return out, rows.Err()
}

// Upsert creates or updates the mutable profile fields of a subject.
func (r *Repository) Upsert(ctx context.Context, s Subject) error {
	if s.Handle == "" {
		return errors.New("subject handle required")
	}
	if s.Role == "" {
		s.Role = RoleSubject
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (handle, display_name, role, active, department, cohort)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (handle) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			department = EXCLUDED.department,
			cohort = EXCLUDED.cohort,
			updated_at = NOW()
	`, s.Handle, s.DisplayName, s.Role, s.Active, s.Department, s.Cohort)
	return err
}

// SetEmbedding stores the reference feature vector captured at biometric
// enrollment, replacing any prior one.
func (r *Repository) SetEmbedding(ctx context.Context, handle string, embedding []float64, at time.Time) error {
	if len(embedding) == 0 {
		return errors.New("embedding required")
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE subjects
		SET embedding = $2, enrolled_at = $3, updated_at = NOW()
		WHERE handle = $1
	`, handle, raw, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*Subject, error) {
	var s Subject
	var embedding []byte
	var department, cohort sql.NullString
	if err := row.Scan(&s.Handle, &s.DisplayName, &s.Role, &s.Active, &embedding, &department, &cohort, &s.EnrolledAt, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Department = department.String
	s.Cohort = cohort.String
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &s.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", s.Handle, err)
		}
	}
	return &s, nil
}
