package protocol

import (
	"maps"
	"net/http"
	"sort"
	"strings"
	"time"
)

// HTTPRequest is the request half of a captured exchange.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// HTTPResponse is the response half of a captured exchange.
type HTTPResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// HTTPExchange records one request attempt. Response is nil when the target was never
// reached; Error is set whenever the attempt failed.
type HTTPExchange struct {
	Request   HTTPRequest   `json:"request"`
	Response  *HTTPResponse `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Clone returns a copy that shares no maps with e.
func (e *HTTPExchange) Clone() *HTTPExchange {
	if e == nil {
		return nil
	}
	c := *e
	c.Request.Headers = maps.Clone(e.Request.Headers)
	if e.Response != nil {
		resp := *e.Response
		resp.Headers = maps.Clone(e.Response.Headers)
		c.Response = &resp
	}
	return &c
}

// OK reports whether the response status is 2xx.
func (r *HTTPResponse) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// StatusText returns the reason phrase for a status code, or "Unknown".
func StatusText(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Unknown"
}

// FlattenHeaders converts http.Header into a lower-cased single-value map, joining repeated
// values with ", " the way fetch-style clients expose them.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// HeaderValue looks up a header case-insensitively in a flattened header map.
func HeaderValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SortedHeaderNames returns header names in a stable order.
func SortedHeaderNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
