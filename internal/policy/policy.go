// Package policy centralizes the key-size and validity-period rules
// applied at every certificate-creation entry point. The limits follow
// the FIRS e-invoicing onboarding requirements: RSA keys of at least
// 2048 bits and signing certificates valid for at most two years.
package policy

import (
	"errors"
	"fmt"
)

const (
	// MinRSAKeySize is the smallest RSA modulus accepted for new keys.
	MinRSAKeySize = 2048

	// StrongRSAKeySize is the size at and above which a key is
	// reported as strong without caveats.
	StrongRSAKeySize = 2048

	// StandardExponent is the expected RSA public exponent.
	StandardExponent = 65537

	// MaxValidityDays caps certificate validity at the FIRS-mandated
	// two-year ceiling.
	MaxValidityDays = 730

	// DefaultValidityDays is the validity applied when the caller does
	// not specify one.
	DefaultValidityDays = 365

	// FIRSValidityDays is the default validity for FIRS e-invoice
	// signing certificates.
	FIRSValidityDays = 730

	// DefaultRenewalWindowDays is how far ahead of expiry a
	// certificate is considered due for renewal.
	DefaultRenewalWindowDays = 30

	// PBKDF2Iterations is the default iteration count for
	// password-based key derivation.
	PBKDF2Iterations = 100000
)

// ExpiryWarningThresholds are the days-until-expiry marks at which
// expiration warnings are bucketed, largest first.
var ExpiryWarningThresholds = [3]int{60, 30, 7}

// ErrWeakKey is returned when a requested key size is below the policy
// minimum.
var ErrWeakKey = errors.New("key size below policy minimum")

// ValidateKeySize returns ErrWeakKey (wrapped with the offending size)
// if bits is below MinRSAKeySize.
func ValidateKeySize(bits int) error {
	if bits < MinRSAKeySize {
		return fmt.Errorf("%w: %d bits (minimum %d)", ErrWeakKey, bits, MinRSAKeySize)
	}
	return nil
}

// ClampValidity bounds a requested validity period to [1, MaxValidityDays],
// substituting DefaultValidityDays when days is zero or negative.
func ClampValidity(days int) int {
	if days <= 0 {
		return DefaultValidityDays
	}
	if days > MaxValidityDays {
		return MaxValidityDays
	}
	return days
}
