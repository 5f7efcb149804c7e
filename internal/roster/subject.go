package roster

import (
	"errors"
	"time"
)

// Role classifies portal accounts. Only plain subjects are attendance
// targets; instructors and administrators run sessions but never appear in
// attendance records.
type Role string

const (
	RoleSubject    Role = "subject"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// ErrNotEnrolled is returned when a subject has no stored feature vector.
// It is distinct from a failed match so the UI can say "face not enrolled"
// instead of "face mismatch".
var ErrNotEnrolled = errors.New("subject not enrolled for biometrics")

// ErrNotFound is returned when a handle does not exist.
var ErrNotFound = errors.New("subject not found")

// Subject is a person tracked for attendance.
type Subject struct {
	Handle      string     `json:"handle"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	Active      bool       `json:"active"`
	Embedding   []float64  `json:"-"`
	Department  string     `json:"department,omitempty"`
	Cohort      string     `json:"cohort,omitempty"`
	EnrolledAt  *time.Time `json:"enrolled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Enrolled reports whether a reference feature vector is on file.
func (s Subject) Enrolled() bool { return len(s.Embedding) > 0 }

// Eligible is the single eligibility predicate shared by the recorder and
// the sweeper. Divergence between those two call sites would corrupt
// reconciliation, so neither re-derives this logic.
func Eligible(s Subject) bool {
	return s.Active && s.Role == RoleSubject
}
