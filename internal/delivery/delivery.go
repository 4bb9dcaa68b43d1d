// Package delivery executes one HTTP request either directly or through the same-origin
// relay, and normalizes both into one result and error shape.
package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// Mode selects an Executor.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// Executor runs a single request.
//
// A non-2xx response (or an embedded relay status >= 400) is returned as a
// *protocol.ProtocolError; failing to reach the target or the relay is a
// *protocol.TransportError. Both carry the exchange.
type Executor interface {
	Execute(ctx context.Context, req protocol.HTTPRequest) (*Result, error)
}

// Result is a successful response together with its parsed body and exchange.
type Result struct {
	Response *protocol.HTTPResponse
	// Body is the decoded JSON value, or the raw text when the body is not JSON.
	Body     any
	Exchange protocol.HTTPExchange
}

// ParseBody decodes a response body as JSON, falling back to the raw text.
func ParseBody(body string) any {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body
	}
	return v
}

func newHTTPRequest(ctx context.Context, req protocol.HTTPRequest) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	return httpReq, nil
}

func transportError(exchange protocol.HTTPExchange, msg string, err error) *protocol.TransportError {
	exchange.Response = nil
	exchange.Error = msg
	return &protocol.TransportError{Message: msg, Exchange: &exchange, Err: err}
}
