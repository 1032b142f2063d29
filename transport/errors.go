package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/jmgilman/go/errors"
)

var (
	_ errors.PlatformError = (*NetworkError)(nil)
	_ errors.PlatformError = (*AuthError)(nil)
	_ errors.PlatformError = (*ConflictError)(nil)
)

// NetworkError means no usable response arrived: dial failure, timeout,
// cancellation or a body cut short.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error                              { return e.Err }
func (e *NetworkError) Code() errors.ErrorCode                     { return errors.CodeNetwork }
func (e *NetworkError) Classification() errors.ErrorClassification { return errors.ClassificationRetryable }
func (e *NetworkError) Message() string                            { return e.Error() }
func (e *NetworkError) Context() map[string]interface{} {
	return map[string]interface{}{"method": e.Method, "path": e.Path}
}

// AuthError is a 401 that survived the refresh-and-retry. Refresh holds the
// refresh failure when the token could not be renewed.
type AuthError struct {
	Method  string
	Path    string
	Msg     string
	Refresh error
	Retried bool
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("transport: %s %s: unauthorized", e.Method, e.Path)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Refresh != nil {
		msg += fmt.Sprintf(" (refresh failed: %v)", e.Refresh)
	}
	return msg
}

func (e *AuthError) Unwrap() error                              { return e.Refresh }
func (e *AuthError) Code() errors.ErrorCode                     { return errors.CodeUnauthorized }
func (e *AuthError) Classification() errors.ErrorClassification { return errors.ClassificationPermanent }
func (e *AuthError) Message() string                            { return e.Msg }
func (e *AuthError) Context() map[string]interface{} {
	return map[string]interface{}{"method": e.Method, "path": e.Path, "retried": e.Retried}
}

// ConflictError is a 409. Msg is the server's message, unmodified.
type ConflictError struct {
	Method string
	Path   string
	Msg    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transport: %s %s: conflict: %s", e.Method, e.Path, e.Msg)
}

func (e *ConflictError) Unwrap() error                              { return nil }
func (e *ConflictError) Code() errors.ErrorCode                     { return errors.CodeConflict }
func (e *ConflictError) Classification() errors.ErrorClassification { return errors.ClassificationPermanent }
func (e *ConflictError) Message() string                            { return e.Msg }
func (e *ConflictError) Context() map[string]interface{} {
	return map[string]interface{}{"method": e.Method, "path": e.Path}
}

// statusCode maps the remaining non-2xx statuses onto platform codes.
func statusCode(status int) errors.ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return errors.CodeNotFound
	case status == http.StatusForbidden:
		return errors.CodeForbidden
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return errors.CodeInvalidInput
	case status == http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return errors.CodeTimeout
	case status >= 500:
		return errors.CodeUnavailable
	default:
		return errors.CodeUnknown
	}
}

func statusError(method, path string, status int, body []byte) error {
	msg := serverMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return errors.WithContextMap(
		errors.Newf(statusCode(status), "transport: %s %s: HTTP %d: %s", method, path, status, msg),
		map[string]interface{}{"method": method, "path": path, "status": status},
	)
}

// serverMessage pulls a human-readable message out of an error body: the
// "message" or "error" field of a JSON object, else the trimmed text.
func serverMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
