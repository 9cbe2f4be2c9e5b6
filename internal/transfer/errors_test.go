package transfer

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrors_Error verifies error message formatting
func TestErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid content",
			err:  &InvalidContentError{Filename: "report.pdf", Reason: "empty file"},
			want: "invalid content in report.pdf: empty file",
		},
		{
			name: "network error with HTTP status code",
			err:  &NetworkError{Operation: "upload", StatusCode: 503, APIMessage: "service unavailable"},
			want: "network error during upload (HTTP 503): service unavailable",
		},
		{
			name: "network error without HTTP status code",
			err:  &NetworkError{Operation: "download", APIMessage: "connection timeout"},
			want: "network error during download: connection timeout",
		},
		{
			name: "directory error",
			err:  &DirectoryError{DirectoryName: "/photos", Reason: "not found"},
			want: "directory error for '/photos': not found",
		},
		{
			name: "authentication error",
			err:  &AuthenticationError{Operation: "upload"},
			want: "authentication failed during upload",
		},
		{
			name: "collision error",
			err:  &CollisionError{RemotePath: "/a.txt", Policy: CollisionCancel},
			want: "remote path /a.txt already exists (policy cancel)",
		},
		{
			name: "constraint error",
			err:  &ConstraintError{Constraint: "wifi_only"},
			want: "transfer constraint not met: wifi_only",
		},
		{
			name: "validation error",
			err:  &ValidationError{Field: "owner", Reason: "must be set"},
			want: "invalid request field owner: must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestErrors_Unwrap verifies error chain traversal
func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	tests := []struct {
		name string
		err  error
	}{
		{name: "InvalidContentError", err: &InvalidContentError{Filename: "a", Reason: "b", Err: cause}},
		{name: "NetworkError", err: &NetworkError{Operation: "upload", APIMessage: "x", Err: cause}},
		{name: "DirectoryError", err: &DirectoryError{DirectoryName: "/d", Reason: "x", Err: cause}},
		{name: "AuthenticationError", err: &AuthenticationError{Operation: "upload", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != cause {
				t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
			}

			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Error("errors.Is() should find cause in wrapped chain")
			}
		})
	}
}

// TestNetworkError_As verifies programmatic error type detection
func TestNetworkError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &NetworkError{
		Operation:  "upload",
		StatusCode: 503,
		APIMessage: "service unavailable",
	})

	var target *NetworkError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract NetworkError from wrapped chain")
	}

	if target.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 503)
	}
}

// TestErrorTypes_Nil verifies nil error handling
func TestErrorTypes_Nil(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "InvalidContentError with nil Err", err: &InvalidContentError{Filename: "a", Reason: "b"}},
		{name: "NetworkError with nil Err", err: &NetworkError{Operation: "upload", StatusCode: 500, APIMessage: "error"}},
		{name: "DirectoryError with nil Err", err: &DirectoryError{DirectoryName: "/d", Reason: "not found"}},
		{name: "AuthenticationError with nil Err", err: &AuthenticationError{Operation: "upload"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != nil {
				t.Errorf("Unwrap() = %v, want nil", unwrapped)
			}
		})
	}
}
