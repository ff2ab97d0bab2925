package dispatch

import "errors"

// Store errors.
var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrConnectionNotFound = errors.New("channel connection not found")
)

// Dispatch errors.
var (
	ErrNoEligibleConnection   = errors.New("no active channel connection available")
	ErrConnectionsCapped      = errors.New("all channel connections reached their rate caps")
	ErrConnectionUnavailable  = errors.New("connection not available or inactive")
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrUnsupportedChannelType = errors.New("unsupported channel type")
	ErrEmptyMessage           = errors.New("campaign has neither content nor media")
)

// Operator errors.
var (
	ErrInvalidTransition = errors.New("campaign status does not allow this action")
)

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
