package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// Direct executes requests with the caller's own HTTP client.
//
// Origin is the origin the caller runs under (scheme://host[:port]). It decides whether a
// failure is reported as a cross-origin rejection. With EnforceCORS set, a cross-origin
// response that lacks a matching Access-Control-Allow-Origin header is rejected the way a
// browser would, and its content is not exposed.
type Direct struct {
	Client      *http.Client
	Origin      string
	EnforceCORS bool
}

// Execute implements Executor.
func (d *Direct) Execute(ctx context.Context, req protocol.HTTPRequest) (*Result, error) {
	exchange := protocol.HTTPExchange{Request: req, Timestamp: time.Now()}

	httpReq, err := newHTTPRequest(ctx, req)
	if err != nil {
		return nil, transportError(exchange, "Failed to fetch: "+err.Error(), err)
	}

	base := http.DefaultClient
	if d.Client != nil {
		base = d.Client
	}
	rec := newRecorder(base.Transport)
	client := *base
	client.Transport = rec

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(exchange, d.networkErrorMessage(ctx, req.URL, err), err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	captured := rec.Last()
	if captured == nil {
		return nil, transportError(exchange, "Failed to fetch: no response captured", nil)
	}

	if d.EnforceCORS && d.isCrossOrigin(req.URL) && !d.corsAllowed(captured.Headers) {
		return nil, transportError(exchange, d.corsMessage(req.URL), nil)
	}

	exchange.Response = captured
	body := ParseBody(captured.Body)
	if !captured.OK() {
		return nil, protocol.NewProtocolError(captured, body, &exchange)
	}
	return &Result{Response: captured, Body: body, Exchange: exchange}, nil
}

func (d *Direct) networkErrorMessage(ctx context.Context, target string, err error) string {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "Failed to fetch: " + ctxErr.Error()
	}
	if d.isCrossOrigin(target) {
		return d.corsMessage(target)
	}
	if strings.Contains(err.Error(), "unsupported protocol scheme") {
		return "Failed to fetch: " + protocol.TransportMessage(err)
	}
	return "Failed to fetch: Server unreachable or connection refused"
}

func (d *Direct) corsMessage(target string) string {
	if origin := originOf(target); origin != "" {
		return fmt.Sprintf("Failed to fetch: CORS error - server at %s must include 'Access-Control-Allow-Origin' header", origin)
	}
	return "Failed to fetch: CORS error - server must include Access-Control-Allow-Origin header"
}

func (d *Direct) isCrossOrigin(target string) bool {
	if d.Origin == "" {
		return false
	}
	origin := originOf(target)
	return origin != "" && !strings.EqualFold(origin, strings.TrimRight(d.Origin, "/"))
}

func (d *Direct) corsAllowed(headers map[string]string) bool {
	allow := strings.TrimSpace(protocol.HeaderValue(headers, "Access-Control-Allow-Origin"))
	return allow == "*" || strings.EqualFold(allow, strings.TrimRight(d.Origin, "/"))
}

// originOf returns scheme://host[:port] of an absolute URL, or "" if it has none.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
