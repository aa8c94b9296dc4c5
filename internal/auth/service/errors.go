package service

import "errors"

var (
	// ErrUnauthorized is the only failure callers at the boundary see for a
	// rejected token. The underlying cause stays wrapped for logs and tests.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExternalKeys is returned by Rotate when signing keys are generated
	// outside the service.
	ErrExternalKeys = errors.New("signing keys are managed externally")
)
