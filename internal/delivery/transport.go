package delivery

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// maxRecordedBody caps how much of a response body is kept in a step's exchange.
const maxRecordedBody = 4 << 20

// recorder is an http.RoundTripper that buffers every response body and keeps the
// last response it saw. With redirects followed by the client, that is the final hop.
type recorder struct {
	next http.RoundTripper

	mu   sync.Mutex
	last *protocol.HTTPResponse
}

func newRecorder(next http.RoundTripper) *recorder {
	if next == nil {
		next = http.DefaultTransport
	}
	return &recorder{next: next}
}

func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	r.set(nil)
	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordedBody))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	r.set(&protocol.HTTPResponse{
		Status:     resp.StatusCode,
		StatusText: protocol.StatusText(resp.StatusCode),
		Headers:    protocol.FlattenHeaders(resp.Header),
		Body:       string(body),
	})
	return resp, nil
}

func (r *recorder) set(resp *protocol.HTTPResponse) {
	r.mu.Lock()
	r.last = resp
	r.mu.Unlock()
}

// Last returns the most recent response, or nil if the last round trip failed.
func (r *recorder) Last() *protocol.HTTPResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
