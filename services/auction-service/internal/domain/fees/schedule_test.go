package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Schedule)
		wantErr bool
	}{
		{"valid", func(*Schedule) {}, false},
		{"equal breakpoints allowed", func(s *Schedule) { s.Tier2Max = s.Tier1Max }, false},
		{"descending breakpoints", func(s *Schedule) { s.Tier2Max = d("50") }, true},
		{"tier3 below tier2", func(s *Schedule) { s.Tier3Max = d("400") }, true},
		{"negative fixed fee", func(s *Schedule) { s.FixedFee = d("-1") }, true},
		{"negative percentage", func(s *Schedule) { s.Tier3Percentage = d("-3") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := standardSchedule()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
