package protocol

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ClientAPIError is the unified error shape for upstream failures. StatusCode
// is propagated as the gateway's HTTP status; Detail carries a heuristic hint
// derived from known substrings in the upstream error body.
type ClientAPIError struct {
	StatusCode int
	Err        string
	Detail     string
}

func (e *ClientAPIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upstream error (status %d): %s (%s)", e.StatusCode, e.Err, e.Detail)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Err)
}

// NewClientAPIError builds a transport-level error with status 500.
func NewClientAPIError(msg string) *ClientAPIError {
	return &ClientAPIError{StatusCode: 500, Err: msg}
}

// ValidationError marks a caller mistake: missing fields, unknown model
// names, invalid composites. The edge surfaces it as HTTP 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a caller-facing 400-class error.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Detail hints for common upstream error messages.
const (
	DetailContextTooLong   = "likely cause: the input context exceeds the model's maximum length, reduce the input or split it"
	DetailInvalidParameter = "likely cause: a request parameter is invalid, check the input"
	DetailBadRequest       = "likely cause: the request is malformed, check the input"
)

// TranslateHTTPError maps a non-2xx upstream body into a ClientAPIError.
// Bodies carrying an OpenAI-style {"error": ...} object get substring-derived
// detail hints; anything else is carried verbatim.
func TranslateHTTPError(status int, body []byte) *ClientAPIError {
	text := strings.TrimSpace(string(body))
	apiErr := &ClientAPIError{StatusCode: status, Err: text}

	if !gjson.ValidBytes(body) {
		return apiErr
	}
	errField := gjson.GetBytes(body, "error")
	if !errField.Exists() {
		return apiErr
	}

	apiErr.Err = errField.String()
	if msg := errField.Get("message"); msg.Exists() {
		apiErr.Err = msg.String()
	}
	switch {
	case strings.Contains(errField.Raw, "Input length"):
		apiErr.Detail = DetailContextTooLong
	case strings.Contains(errField.Raw, "InvalidParameter"):
		apiErr.Detail = DetailInvalidParameter
	case strings.Contains(errField.Raw, "BadRequest"):
		apiErr.Detail = DetailBadRequest
	}
	return apiErr
}
