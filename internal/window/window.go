package window

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/verify"
)

// DefaultTTL is the window lifetime applied when the opener supplies
// neither an explicit expiry nor a duration.
const DefaultTTL = 24 * time.Hour

// ErrNoActive is returned when no window is currently active. It is a
// normal condition, not a failure; the transport maps it to a targeted
// "no active session" response.
var ErrNoActive = errors.New("no active window")

// ErrNotFound is returned when a window id or code does not exist.
var ErrNotFound = errors.New("window not found")

// Window is a time-boxed attendance-collection session. Once deactivated
// it is an immutable historical record; inactive is terminal.
type Window struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Code        string             `json:"code"`
	OwnerHandle string             `json:"owner_handle"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Active      bool               `json:"active"`
	Origin      *verify.Coordinate `json:"origin,omitempty"`
	RadiusM     float64            `json:"radius_m,omitempty"`
}

// Expired reports whether the window's expiry has passed at now.
func (w Window) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// Config is the caller-supplied shape of a new window.
type Config struct {
	Name      string             `json:"name"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Duration  time.Duration      `json:"-"`
	Origin    *verify.Coordinate `json:"origin,omitempty"`
	RadiusM   float64            `json:"radius_m,omitempty"`
}

// Validate rejects malformed configs before any storage call.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("window name required")
	}
	if c.Duration < 0 {
		return errors.New("window duration must be positive")
	}
	if c.RadiusM < 0 {
		return errors.New("window radius must be positive")
	}
	if c.RadiusM > 0 && c.Origin == nil {
		return errors.New("window radius requires an origin coordinate")
	}
	if c.Origin != nil {
		if c.Origin.Lat < -90 || c.Origin.Lat > 90 || c.Origin.Lng < -180 || c.Origin.Lng > 180 {
			return errors.New("window origin out of range")
		}
		if c.RadiusM == 0 {
			return errors.New("window origin requires a radius")
		}
	}
	return nil
}

// expiry resolves the window expiry: explicit timestamp wins, then
// creation time + duration, then the 24h default. Always UTC.
func (c Config) expiry(createdAt time.Time) time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.UTC()
	}
	if c.Duration > 0 {
		return createdAt.Add(c.Duration)
	}
	return createdAt.Add(DefaultTTL)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newCode generates the short scan-able join code shown to subjects.
// Ambiguous characters (0/O, 1/I) are excluded from the alphabet.
func newCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate window code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
