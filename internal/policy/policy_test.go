package policy

import (
	"errors"
	"testing"
)

func TestValidateKeySize(t *testing.T) {
	if err := ValidateKeySize(2048); err != nil {
		t.Errorf("2048 bits rejected: %v", err)
	}
	if err := ValidateKeySize(4096); err != nil {
		t.Errorf("4096 bits rejected: %v", err)
	}
	err := ValidateKeySize(1024)
	if !errors.Is(err, ErrWeakKey) {
		t.Errorf("1024 bits: error = %v, want ErrWeakKey", err)
	}
}

func TestClampValidity(t *testing.T) {
	cases := []struct {
		days, want int
	}{
		{0, DefaultValidityDays},
		{-10, DefaultValidityDays},
		{1, 1},
		{365, 365},
		{730, 730},
		{731, MaxValidityDays},
		{5000, MaxValidityDays},
	}
	for _, c := range cases {
		if got := ClampValidity(c.days); got != c.want {
			t.Errorf("ClampValidity(%d) = %d, want %d", c.days, got, c.want)
		}
	}
}
