package window

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/clock"
	"rollcall/internal/verify"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

func newMemStore() *memStore {
	return &memStore{windows: make(map[string]Window)}
}

func (s *memStore) Insert(_ context.Context, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.ID] = w
	return nil
}

func (s *memStore) ByID(_ context.Context, id string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *memStore) ByCode(_ context.Context, code string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Code == code && w.Active {
			cp := w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) active(owner string) []Window {
	var out []Window
	for _, w := range s.windows {
		if w.Active && (owner == "" || w.OwnerHandle == owner) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ActiveByOwner(_ context.Context, owner string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.active(owner)
	if len(ws) == 0 {
		return nil, ErrNoActive
	}
	return &ws[0], nil
}

func (s *memStore) MostRecentActive(_ context.Context) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.active("")
	if len(ws) == 0 {
		return nil, ErrNoActive
	}
	return &ws[0], nil
}

func (s *memStore) Deactivate(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok || !w.Active {
		return false, nil
	}
	w.Active = false
	s.windows[id] = w
	return true, nil
}

func (s *memStore) DeactivateOwnerActive(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.windows {
		if w.OwnerHandle == owner && w.Active {
			w.Active = false
			s.windows[id] = w
		}
	}
	return nil
}

func TestOpenDefaultsExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	m := NewManager(newMemStore(), clock.NewFake(now))

	w, err := m.Open(context.Background(), "prof.rao", Config{Name: "CS101 Monday"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), w.ExpiresAt)
	assert.True(t, w.Active)
	assert.Len(t, w.Code, 6)
}

func TestOpenExpiryPrecedence(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	explicit := now.Add(45 * time.Minute)

	tests := []struct {
		name string
		cfg  Config
		want time.Time
	}{
		{name: "explicit timestamp wins", cfg: Config{Name: "w", ExpiresAt: &explicit, Duration: 2 * time.Hour}, want: explicit},
		{name: "duration", cfg: Config{Name: "w", Duration: 30 * time.Minute}, want: now.Add(30 * time.Minute)},
		{name: "default", cfg: Config{Name: "w"}, want: now.Add(DefaultTTL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(newMemStore(), clock.NewFake(now))
			w, err := m.Open(context.Background(), "owner", tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.ExpiresAt)
		})
	}
}

func TestOpenNormalizesExpiryToUTC(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ist := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2025, 3, 10, 16, 0, 0, 0, ist)

	m := NewManager(newMemStore(), clock.NewFake(now))
	w, err := m.Open(context.Background(), "owner", Config{Name: "w", ExpiresAt: &local})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, w.ExpiresAt.Location())
	assert.True(t, w.ExpiresAt.Equal(local))
}

func TestOpenDeactivatesPriorWindow(t *testing.T) {
	store := newMemStore()
	clk := clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	m := NewManager(store, clk)
	ctx := context.Background()

	first, err := m.Open(ctx, "prof.rao", Config{Name: "first"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := m.Open(ctx, "prof.rao", Config{Name: "second"})
	require.NoError(t, err)

	got, err := m.GetActive(ctx, "prof.rao")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	stale, err := store.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stale.Active)
	assert.Len(t, store.active("prof.rao"), 1)
}

func TestOpenDoesNotTouchOtherOwners(t *testing.T) {
	store := newMemStore()
	clk := clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	m := NewManager(store, clk)
	ctx := context.Background()

	other, err := m.Open(ctx, "prof.iyer", Config{Name: "other"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = m.Open(ctx, "prof.rao", Config{Name: "mine"})
	require.NoError(t, err)

	kept, err := m.GetActive(ctx, "prof.iyer")
	require.NoError(t, err)
	assert.Equal(t, other.ID, kept.ID)
}

func TestOpenValidation(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		owner string
		cfg   Config
	}{
		{name: "missing owner", owner: "", cfg: Config{Name: "w"}},
		{name: "missing name", owner: "o", cfg: Config{}},
		{name: "expiry in the past", owner: "o", cfg: Config{Name: "w", ExpiresAt: &past}},
		{name: "radius without origin", owner: "o", cfg: Config{Name: "w", RadiusM: 100}},
		{name: "origin without radius", owner: "o", cfg: Config{Name: "w", Origin: &verify.Coordinate{Lat: 1, Lng: 1}}},
		{name: "latitude out of range", owner: "o", cfg: Config{Name: "w", Origin: &verify.Coordinate{Lat: 91, Lng: 0}, RadiusM: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(newMemStore(), clock.NewFake(now))
			_, err := m.Open(context.Background(), tt.owner, tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestGetActiveNone(t *testing.T) {
	m := NewManager(newMemStore(), clock.Real())
	_, err := m.GetActive(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoActive)
	_, err = m.GetActive(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoActive)
}

func TestCloseIdempotent(t *testing.T) {
	m := NewManager(newMemStore(), clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	w, err := m.Open(ctx, "owner", Config{Name: "w"})
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, w.ID))
	require.NoError(t, m.Close(ctx, w.ID))

	_, err = m.GetActive(ctx, "owner")
	assert.ErrorIs(t, err, ErrNoActive)
}

func TestCloseMissingWindow(t *testing.T) {
	m := NewManager(newMemStore(), clock.Real())
	err := m.Close(context.Background(), "b8f7d3e4-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupByCode(t *testing.T) {
	m := NewManager(newMemStore(), clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	w, err := m.Open(ctx, "owner", Config{Name: "w"})
	require.NoError(t, err)

	byID, err := m.Lookup(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byID.ID)

	byCode, err := m.Lookup(ctx, w.Code)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byCode.ID)

	_, err = m.Lookup(ctx, "NOPE99")
	assert.ErrorIs(t, err, ErrNotFound)
}
