package window

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rollcall/internal/clock"
)

// Store is the persistence surface the Manager needs. *Repository
// satisfies it; tests use an in-memory fake.
type Store interface {
	Insert(ctx context.Context, w Window) error
	ByID(ctx context.Context, id string) (*Window, error)
	ByCode(ctx context.Context, code string) (*Window, error)
	ActiveByOwner(ctx context.Context, owner string) (*Window, error)
	MostRecentActive(ctx context.Context) (*Window, error)
	Deactivate(ctx context.Context, id string) (bool, error)
	DeactivateOwnerActive(ctx context.Context, owner string) error
}

// Manager owns the window state machine: created→active on Open,
// active→inactive on Close or sweep expiry, nothing ever reactivates.
type Manager struct {
	store Store
	clk   clock.Clock
}

// NewManager creates a manager.
func NewManager(store Store, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{store: store, clk: clk}
}

// Open creates and activates a window for owner. Any window the owner
// already has active is deactivated first, so at most one window is ever
// active per owner even under concurrent opens racing the read path.
func (m *Manager) Open(ctx context.Context, owner string, cfg Config) (Window, error) {
	if owner == "" {
		return Window{}, errors.New("window owner required")
	}
	if err := cfg.Validate(); err != nil {
		return Window{}, err
	}

	now := m.clk.Now()
	if cfg.ExpiresAt != nil && !cfg.ExpiresAt.After(now) {
		return Window{}, errors.New("window expiry must be in the future")
	}

	code, err := newCode()
	if err != nil {
		return Window{}, err
	}

	if err := m.store.DeactivateOwnerActive(ctx, owner); err != nil {
		return Window{}, fmt.Errorf("deactivate prior window: %w", err)
	}

	w := Window{
		ID:          uuid.NewString(),
		Name:        cfg.Name,
		Code:        code,
		OwnerHandle: owner,
		CreatedAt:   now,
		ExpiresAt:   cfg.expiry(now),
		Active:      true,
		Origin:      cfg.Origin,
		RadiusM:     cfg.RadiusM,
	}
	if err := m.store.Insert(ctx, w); err != nil {
		return Window{}, fmt.Errorf("insert window: %w", err)
	}
	return w, nil
}

// GetActive returns the currently active window, scoped to owner when
// owner is non-empty. ErrNoActive when nothing is open.
func (m *Manager) GetActive(ctx context.Context, owner string) (Window, error) {
	var w *Window
	var err error
	if owner != "" {
		w, err = m.store.ActiveByOwner(ctx, owner)
	} else {
		w, err = m.store.MostRecentActive(ctx)
	}
	if err != nil {
		return Window{}, err
	}
	return *w, nil
}

// Lookup resolves a window by id or, failing that, by active join code.
func (m *Manager) Lookup(ctx context.Context, idOrCode string) (Window, error) {
	if idOrCode == "" {
		return Window{}, errors.New("window id required")
	}
	if _, err := uuid.Parse(idOrCode); err == nil {
		w, err := m.store.ByID(ctx, idOrCode)
		if err != nil {
			return Window{}, err
		}
		return *w, nil
	}
	w, err := m.store.ByCode(ctx, idOrCode)
	if err != nil {
		return Window{}, err
	}
	return *w, nil
}

// Close deactivates a window. Closing an already-closed window is a
// successful no-op; a missing window is ErrNotFound.
func (m *Manager) Close(ctx context.Context, id string) error {
	if _, err := m.store.ByID(ctx, id); err != nil {
		return err
	}
	_, err := m.store.Deactivate(ctx, id)
	return err
}
