package window

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rollcall/internal/verify"
)

// Repository persists windows in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const windowColumns = `id, name, code, owner_handle, created_at, expires_at, active, origin_lat, origin_lng, radius_m`

// Insert writes a new window row.
func (r *Repository) Insert(ctx context.Context, w Window) error {
	var lat, lng any
	if w.Origin != nil {
		lat, lng = w.Origin.Lat, w.Origin.Lng
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO windows (id, name, code, owner_handle, created_at, expires_at, active, origin_lat, origin_lng, radius_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, w.ID, w.Name, w.Code, w.OwnerHandle, w.CreatedAt, w.ExpiresAt, w.Active, lat, lng, w.RadiusM)
	return err
}

// ByID returns a window by id, or ErrNotFound.
func (r *Repository) ByID(ctx context.Context, id string) (*Window, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM windows WHERE id = $1`, id)
	return scanWindow(row)
}

// ByCode returns the active window carrying the given join code.
func (r *Repository) ByCode(ctx context.Context, code string) (*Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM windows WHERE code = $1 AND active = TRUE
		ORDER BY created_at DESC LIMIT 1
	`, code)
	return scanWindow(row)
}

// ActiveByOwner returns the owner's most recently created active window,
// or ErrNoActive.
func (r *Repository) ActiveByOwner(ctx context.Context, owner string) (*Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM windows
		WHERE owner_handle = $1 AND active = TRUE
		ORDER BY created_at DESC LIMIT 1
	`, owner)
	w, err := scanWindow(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActive
	}
	return w, err
}

// MostRecentActive returns the most recently created active window across
// all owners, or ErrNoActive.
func (r *Repository) MostRecentActive(ctx context.Context) (*Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM windows
		WHERE active = TRUE
		ORDER BY created_at DESC LIMIT 1
	`)
	w, err := scanWindow(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActive
	}
	return w, err
}

// Deactivate flips a window inactive. It reports false when the window was
// already inactive, so callers can treat re-closing as a no-op.
func (r *Repository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE windows SET active = FALSE WHERE id = $1 AND active = TRUE
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateOwnerActive closes every active window owned by owner. Used by
// Open to enforce the one-active-window-per-owner invariant at write time.
func (r *Repository) DeactivateOwnerActive(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE windows SET active = FALSE WHERE owner_handle = $1 AND active = TRUE
	`, owner)
	return err
}

// ExpiredActive lists windows still marked active whose expiry has passed.
func (r *Repository) ExpiredActive(ctx context.Context, now time.Time) ([]Window, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+windowColumns+` FROM windows
		WHERE active = TRUE AND expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (*Window, error) {
	var w Window
	var lat, lng sql.NullFloat64
	var radius sql.NullFloat64
	if err := row.Scan(&w.ID, &w.Name, &w.Code, &w.OwnerHandle, &w.CreatedAt, &w.ExpiresAt, &w.Active, &lat, &lng, &radius); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lat.Valid && lng.Valid {
		w.Origin = &verify.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	w.RadiusM = radius.Float64
	return &w, nil
}
