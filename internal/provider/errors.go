package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrNoProviders       = errors.New("no enabled providers")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrRateLimited       = errors.New("provider rate limited")
	ErrUnsupportedFormat = errors.New("provider rejected response format")
	ErrParse             = errors.New("unparseable completion")
	ErrRejected          = errors.New("provider rejected request")
)

const (
	CodeTimeout           = "timeout"
	CodeConnection        = "connection_error"
	CodeRateLimited       = "http_429"
	CodeUnsupportedFormat = "unsupported_format"
	CodeParse             = "parse_error"
	CodeResponseTooLarge  = "response_too_large"
	CodeEmptyResponse     = "empty_response"
)

// Error is the typed failure returned by adapters. Kind is one of the
// sentinel errors above so callers can branch with errors.Is.
type Error struct {
	Kind       error
	Provider   string
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether failover to another provider makes sense.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return errors.Is(e.Kind, ErrUnavailable) || errors.Is(e.Kind, ErrRateLimited)
}

// IsRetryable is the errors.As shortcut for Error.Retryable.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// ErrorCode returns the short code carried by err, or "error" for untyped errors.
func ErrorCode(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Code != "" {
		return perr.Code
	}
	if err == nil {
		return ""
	}
	return "error"
}

var formatRejectionMarkers = []string{
	"response_format",
	"json_schema",
	"json_object",
	"response_schema",
	"response_mime_type",
	"responsemimetype",
	"unsupported parameter",
	"unrecognized request argument",
}

// MentionsFormat reports whether an error body complains about the response format.
func MentionsFormat(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range formatRejectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps a non-2xx HTTP answer to a typed error.
func ClassifyStatus(providerName, endpoint string, status int, body string) *Error {
	perr := &Error{
		Provider:   providerName,
		Endpoint:   endpoint,
		StatusCode: status,
		Code:       fmt.Sprintf("http_%d", status),
		Message:    truncateMessage(body),
	}
	switch {
	case status == http.StatusTooManyRequests:
		perr.Kind = ErrRateLimited
	case status >= 500:
		perr.Kind = ErrUnavailable
	case (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && MentionsFormat(body):
		perr.Kind = ErrUnsupportedFormat
		perr.Code = CodeUnsupportedFormat
	default:
		perr.Kind = ErrRejected
	}
	return perr
}

// ClassifyTransport maps a transport failure (no HTTP answer) to a typed error.
func ClassifyTransport(providerName, endpoint string, err error) *Error {
	perr := &Error{
		Kind:     ErrUnavailable,
		Provider: providerName,
		Endpoint: endpoint,
		Code:     CodeConnection,
		Message:  truncateMessage(err.Error()),
		Err:      err,
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		perr.Code = CodeTimeout
	}
	return perr
}

func truncateMessage(raw string) string {
	msg := strings.TrimSpace(raw)
	const limit = 300
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit]) + "..."
}
