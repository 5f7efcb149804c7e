// Package checkin orchestrates a subject's check-in: resolve the window,
// run the geofence and biometric checks, and record the outcome.
package checkin

import (
	"context"
	"errors"
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/clock"
	"rollcall/internal/roster"
	"rollcall/internal/verify"
	"rollcall/internal/window"
)

// ErrWindowClosed is returned when the referenced window is inactive or
// already past its expiry.
var ErrWindowClosed = errors.New("attendance window closed")

// WindowResolver resolves a window by id or join code.
type WindowResolver interface {
	Lookup(ctx context.Context, idOrCode string) (window.Window, error)
}

// SubjectStore resolves the caller's stored reference vector.
type SubjectStore interface {
	Get(ctx context.Context, handle string) (*roster.Subject, error)
}

// Embedder turns a captured image into a feature vector. The extraction
// model is a black box behind this interface.
type Embedder interface {
	Embed(ctx context.Context, imageURL string) ([]float64, error)
}

// Recorder writes the attendance outcome.
type Recorder interface {
	Record(ctx context.Context, subjectHandle, windowID string, status attendance.Status, meta attendance.Meta) (attendance.Outcome, error)
}

// Request is one check-in attempt.
type Request struct {
	SubjectHandle string
	WindowRef     string // window id or join code
	Coordinate    *verify.Coordinate
	Vector        []float64 // captured feature vector, if the client extracted one
	ImageURL      string    // otherwise an image routed through the extractor
}

// Result reports every check individually so a rejection always states
// which check failed and by how much.
type Result struct {
	Window    window.Window       `json:"window"`
	Geo       verify.GeoResult    `json:"geo"`
	Biometric *verify.MatchResult `json:"biometric,omitempty"`
	Accepted  bool                `json:"accepted"`
	Reason    string              `json:"reason,omitempty"`
	Record    *attendance.Record  `json:"record,omitempty"`
	// Skipped means the caller is not an attendance target; nothing was
	// recorded and nothing failed.
	Skipped bool `json:"skipped,omitempty"`
}

// Service wires the check-in flow together.
type Service struct {
	windows   WindowResolver
	subjects  SubjectStore
	recorder  Recorder
	embedder  Embedder
	clk       clock.Clock
	threshold float64
}

// NewService creates a check-in service.
func NewService(windows WindowResolver, subjects SubjectStore, recorder Recorder, embedder Embedder, clk clock.Clock, threshold float64) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if threshold <= 0 {
		threshold = verify.DefaultSimilarityThreshold
	}
	return &Service{
		windows:   windows,
		subjects:  subjects,
		recorder:  recorder,
		embedder:  embedder,
		clk:       clk,
		threshold: threshold,
	}
}

// CheckIn runs both verification factors against the referenced window and
// records a present outcome when they pass. Verification failures are
// normal negative results carried in Result, not errors.
func (s *Service) CheckIn(ctx context.Context, req Request) (Result, error) {
	if req.SubjectHandle == "" {
		return Result{}, errors.New("subject handle required")
	}

	w, err := s.windows.Lookup(ctx, req.WindowRef)
	if err != nil {
		return Result{}, err
	}
	if !w.Active || w.Expired(s.clk.Now()) {
		return Result{}, ErrWindowClosed
	}
	res := Result{Window: w}

	if w.Origin != nil {
		if req.Coordinate == nil {
			return Result{}, errors.New("coordinate required: window is geofenced")
		}
		res.Geo = verify.Geofence(*req.Coordinate, w.Origin, w.RadiusM)
		if res.Geo.Status == verify.GeoFailed {
			res.Reason = fmt.Sprintf("outside geofence: %.0f m away, allowed %.0f m", res.Geo.DistanceM, res.Geo.RadiusM)
			return res, nil
		}
	} else {
		res.Geo = verify.GeoResult{Status: verify.GeoSkipped}
	}

	subject, err := s.subjects.Get(ctx, req.SubjectHandle)
	if err != nil {
		return res, err
	}
	if !subject.Enrolled() {
		return res, roster.ErrNotEnrolled
	}

	probe := req.Vector
	if len(probe) == 0 {
		if req.ImageURL == "" {
			return res, errors.New("feature vector or image url required")
		}
		if s.embedder == nil {
			return res, errors.New("feature extraction not configured")
		}
		probe, err = s.embedder.Embed(ctx, req.ImageURL)
		if err != nil {
			return res, fmt.Errorf("feature extraction: %w", err)
		}
	}

	match, err := verify.Similarity(probe, subject.Embedding, s.threshold)
	if err != nil {
		return res, err
	}
	res.Biometric = &match
	if !match.Match {
		res.Reason = fmt.Sprintf("similarity %.2f below threshold %.2f", match.Score, match.Threshold)
		return res, nil
	}

	checks := "similarity"
	var distance *float64
	if res.Geo.Status == verify.GeoPassed {
		checks = "geofence,similarity"
		d := res.Geo.DistanceM
		distance = &d
	}
	out, err := s.recorder.Record(ctx, req.SubjectHandle, w.ID, attendance.StatusPresent, attendance.Meta{
		WindowName: w.Name,
		Similarity: &match.Score,
		DistanceM:  distance,
		Checks:     checks,
	})
	if err != nil {
		return res, err
	}
	res.Accepted = true
	res.Skipped = out.Skipped
	res.Record = out.Record
	return res, nil
}
