package services

import "errors"

// ===== COMMON SERVICE ERRORS =====

var (
	// ErrUnknownSession means the client referenced a session id that is not
	// registered. User-visible as "please restart the test".
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidRequest means required fields are absent or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTranscriptionFailed means the upstream speech service failed. The
	// session is untouched; retrying the same audio is safe.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrAssessmentUnavailable means the upstream scoring service failed.
	// No result was cached, so the session remains completable on retry.
	ErrAssessmentUnavailable = errors.New("assessment service unavailable")

	// ErrTestNotFound means the test backing an active session disappeared
	// from the store between start and completion. Fatal for that session.
	ErrTestNotFound = errors.New("test not found")

	// ErrNoTestsAvailable means the store holds no tests to start from.
	ErrNoTestsAvailable = errors.New("no tests available")
)

// ===== ERROR HELPERS =====

// IsNotFound checks if error represents a "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrTestNotFound) ||
		errors.Is(err, ErrNoTestsAvailable)
}

// IsRetryable checks if error represents a transient upstream failure the
// client may retry without corrupting session state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTranscriptionFailed) ||
		errors.Is(err, ErrAssessmentUnavailable)
}

// IsValidation checks if error represents a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
