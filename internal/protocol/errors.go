package protocol

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing local input.
type ValidationError struct {
	Message  string
	Exchange *HTTPExchange
}

func (e *ValidationError) Error() string { return e.Message }

// ProtocolError reports a non-2xx response from the authorization server, or a 2xx
// response that lacks a mandatory field.
type ProtocolError struct {
	Status      int
	Code        string // RFC 6749 "error"
	Description string // RFC 6749 "error_description"
	URI         string // RFC 6749 "error_uri"
	Message     string
	Exchange    *HTTPExchange
}

func (e *ProtocolError) Error() string { return e.Message }

// TransportError reports that the target (or the relay) could not be reached.
type TransportError struct {
	Message  string
	Exchange *HTTPExchange
	Err      error
}

func (e *TransportError) Error() string { return e.Message }

func (e *TransportError) Unwrap() error { return e.Err }

// IntegrityError reports a state/CSRF mismatch on callback.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ExchangeOf returns the exchange carried by err, if any.
func ExchangeOf(err error) *HTTPExchange {
	var (
		pe *ProtocolError
		te *TransportError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &pe):
		return pe.Exchange
	case errors.As(err, &te):
		return te.Exchange
	case errors.As(err, &ve):
		return ve.Exchange
	}
	return nil
}

// ErrorKind names the taxonomy class of err for logs and API payloads.
func ErrorKind(err error) string {
	var (
		pe *ProtocolError
		te *TransportError
		ve *ValidationError
		ie *IntegrityError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ie):
		return "integrity"
	default:
		return "internal"
	}
}

// NewProtocolError builds a ProtocolError from an error response, preferring an
// OAuth-shaped body over the status line.
func NewProtocolError(resp *HTTPResponse, body any, exchange *HTTPExchange) *ProtocolError {
	pe := &ProtocolError{Exchange: exchange}
	if resp == nil {
		pe.Message = "Unknown error"
		return pe
	}
	pe.Status = resp.Status
	if m, ok := body.(map[string]any); ok {
		pe.Code = stringField(m, "error")
		pe.Description = stringField(m, "error_description")
		pe.URI = stringField(m, "error_uri")
	}
	// RFC 6750 fallback for bodiless 401/403 responses
	if pe.Code == "" {
		if h := HeaderValue(resp.Headers, "WWW-Authenticate"); h != "" {
			pe.Code, pe.Description, pe.URI = ParseWWWAuthenticate(h)
		}
	}
	pe.Message = FormatError(resp.Status, resp.StatusText, body)
	if pe.Message == httpStatusMessage(resp.Status, resp.StatusText) && pe.Code != "" {
		pe.Message = joinCode(pe.Code, pe.Description)
	}
	return pe
}

// FormatError renders an error response for display: "error: description" when the body
// is OAuth-shaped, a top-level "message" when present, otherwise the status line.
func FormatError(status int, statusText string, body any) string {
	if m, ok := body.(map[string]any); ok {
		if code := stringField(m, "error"); code != "" {
			return joinCode(code, stringField(m, "error_description"))
		}
		if msg := stringField(m, "message"); msg != "" {
			return msg
		}
	}
	return httpStatusMessage(status, statusText)
}

func httpStatusMessage(status int, statusText string) string {
	if statusText == "" {
		statusText = StatusText(status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, statusText)
}

func joinCode(code, description string) string {
	if description == "" {
		return code
	}
	return code + ": " + description
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
