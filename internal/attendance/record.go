package attendance

import (
	"errors"
	"time"
)

// Status is the outcome stored for one (subject, window) pair.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// ErrPersistence marks storage-layer failures. The recorder never retries
// these; the sweeper retries failed windows on its next tick.
var ErrPersistence = errors.New("persistence failure")

// Record is one attendance outcome. At most one record exists per
// (subject, window) pair; the first writer wins and later writes see the
// original unchanged.
type Record struct {
	ID            string    `json:"id"`
	SubjectHandle string    `json:"subject_handle"`
	WindowID      string    `json:"window_id"`
	WindowName    string    `json:"window_name"`
	Status        Status    `json:"status"`
	RecordedAt    time.Time `json:"recorded_at"`
	RecordDate    string    `json:"record_date"`
	Similarity    *float64  `json:"similarity,omitempty"`
	DistanceM     *float64  `json:"distance_m,omitempty"`
	Checks        string    `json:"checks,omitempty"`
}

// Meta is the verification metadata attached to a check-in record.
type Meta struct {
	WindowName string
	Similarity *float64
	DistanceM  *float64
	Checks     string
}
