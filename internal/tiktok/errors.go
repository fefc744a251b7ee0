package tiktok

import (
	"errors"
	"fmt"
)

// Platform response codes the client knows by name.
const (
	CodeSuccess         = 0
	CodeRateLimit       = 40100
	CodeIllegalPartner  = 40101
	CodeInvalidAuthCode = 40110
)

var ErrUnexpectedResponse = errors.New("unexpected platform response")

// APIError is a non-zero code returned in the platform's response envelope.
type APIError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tiktok api error %d", e.Code)
	}
	return e.Message
}

// IsRateLimited reports whether err carries the platform's rate limit code.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeRateLimit
}
