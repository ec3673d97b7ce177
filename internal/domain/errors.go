package domain

// Failure codes carried by acks and flush results.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnknownEvent  = "UNKNOWN_EVENT"
	CodeUnknownAction = "UNKNOWN_ACTION"
	CodeInternal      = "INTERNAL_ERROR"
	CodeUnavailable   = "UNAVAILABLE"
	CodeTimeout       = "TIMEOUT"
)

// Retryable reports whether a failure with code is transient. Everything
// else is a permanent rejection that resending cannot fix.
func Retryable(code string) bool {
	switch code {
	case CodeInternal, CodeUnavailable, CodeTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}
