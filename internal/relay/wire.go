package relay

// Request is the body POSTed to the relay endpoint.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response mirrors the target's response, whatever its status.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// ErrorResponse is returned with a 4xx/5xx status when the relay itself fails.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	MsgMissingURL = `Missing or invalid "url" field`
	MsgInvalidURL = "Invalid URL format"
	msgUnknown    = "Unknown error"
)
