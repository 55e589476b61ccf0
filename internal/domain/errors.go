/**
 * @description
 * Stable error kinds shared across the settlement-service. Callers branch on
 * these with errors.Is; human-readable detail is attached at the wrap site.
 */

package domain

import "errors"

var (
	// ErrValidation marks bad input. It is the caller's fault and never retried.
	ErrValidation = errors.New("validation error")

	// ErrCrypto marks corrupt or misconfigured key material. Operations fail
	// closed; there is no plaintext fallback.
	ErrCrypto = errors.New("crypto error")

	// ErrConfirmationRequired is returned when a destructive operation is
	// invoked without its explicit confirmation flag.
	ErrConfirmationRequired = errors.New("confirmation required")
)
