// Package common defines shared constants and sentinel errors used across
// the storage, service and transport layers. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStorage marks a transient infrastructure fault (database down,
	// timeout, missing schema). Services wrap the driver error with it.
	ErrStorage = errors.New("storage error")

	// ErrValidation is returned for malformed input rejected before storage is touched.
	ErrValidation = errors.New("validation error")

	// ErrAuthenticationFailure is the single generic credential/code failure.
	// Its text is what end users see; it never says which check failed.
	ErrAuthenticationFailure = errors.New("invalid credentials")

	// Account status failures. They may be surfaced distinctly since the
	// status itself is not a secret once the password matched.
	ErrPendingVerification = errors.New("account pending verification")
	ErrSuspended           = errors.New("account suspended")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenAlreadyUsed is an authentication failure as far as callers
	// matching on ErrAuthenticationFailure are concerned.
	ErrTokenAlreadyUsed = fmt.Errorf("%w: token already used", ErrAuthenticationFailure)

	ErrRateLimited      = errors.New("too many attempts, try again later")
	ErrSessionExpired   = errors.New("session expired")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidToken is returned when a service JWT is malformed or unsigned.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSecondFactorRequired tells the login caller to complete a TOTP check.
	ErrSecondFactorRequired = errors.New("second factor required")
)

// StorageError wraps err so that errors.Is(result, ErrStorage) holds while
// keeping the underlying cause for logs.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// ErrConflict is returned by repositories when a unique constraint rejects a write.
var ErrConflict = errors.New("conflict")

// IsUniqueViolation detects a PostgreSQL unique constraint violation (SQLSTATE 23505)
// without importing the driver's error type.
func IsUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var pgErr sqlStater
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
