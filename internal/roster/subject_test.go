package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		s    Subject
		want bool
	}{
		{name: "active subject", s: Subject{Role: RoleSubject, Active: true}, want: true},
		{name: "inactive subject", s: Subject{Role: RoleSubject, Active: false}, want: false},
		{name: "instructor", s: Subject{Role: RoleInstructor, Active: true}, want: false},
		{name: "admin", s: Subject{Role: RoleAdmin, Active: true}, want: false},
		{name: "inactive instructor", s: Subject{Role: RoleInstructor, Active: false}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.s))
		})
	}
}

func TestEnrolled(t *testing.T) {
	assert.False(t, Subject{}.Enrolled())
	assert.True(t, Subject{Embedding: []float64{0.1, 0.2}}.Enrolled())
}
