package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState signals corrupted queue bookkeeping. It is raised with panic.
	ErrInvalidState = errors.New("invalid transfer state")

	// ErrManagerClosed is returned by manager calls after its context ended.
	ErrManagerClosed = errors.New("transfer manager closed")

	// ErrUnknownOwner is returned by lookups for an owner without a manager.
	ErrUnknownOwner = errors.New("no transfer manager for owner")

	// ErrCancelled is the failure cause of a cancelled task.
	ErrCancelled = errors.New("transfer cancelled")
)

// ValidationError reports a request that cannot be scheduled.
type ValidationError struct {
	Field  string // Offending request field
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request field %s: %s", e.Field, e.Reason)
}

// InvalidContentError represents content the remote refused or that failed local validation.
type InvalidContentError struct {
	Filename string // Name of the file that failed validation
	Reason   string // Human-readable explanation of why the content is invalid
	Err      error  // Underlying error, if any
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid content in %s: %s", e.Filename, e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

// NetworkError represents network failures and API errors including 5xx responses,
// connection timeouts, and rate limiting.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "download", "upload")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DirectoryError represents failures resolving or creating a remote folder.
type DirectoryError struct {
	DirectoryName string // The directory that caused the error
	Reason        string // Human-readable explanation of the directory error
	Err           error  // Underlying error, if any
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory error for '%s': %s", e.DirectoryName, e.Reason)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents authentication and authorization failures
// including 401 Unauthorized and 403 Forbidden responses.
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// CollisionError is returned when an upload target exists and the policy forbids replacing it.
type CollisionError struct {
	RemotePath string
	Policy     CollisionPolicy
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("remote path %s already exists (policy %s)", e.RemotePath, e.Policy)
}

// ConstraintError is returned when an upload's network or power constraint is not met.
type ConstraintError struct {
	Constraint string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("transfer constraint not met: %s", e.Constraint)
}
