// Package oauth builds and executes each OAuth 2.0 / OpenID Connect operation on top of
// the delivery layer and captures the HTTP exchange of every call.
package oauth

import (
	"context"
	"log/slog"

	"github.com/wadahiro/flowlens/internal/delivery"
	"github.com/wadahiro/flowlens/internal/protocol"
)

// Client is the protocol client. Default executes every operation except registration,
// which always goes through Relay.
type Client struct {
	Default delivery.Executor
	Relay   delivery.Executor
	Logger  *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) relay() delivery.Executor {
	if c.Relay != nil {
		return c.Relay
	}
	return c.Default
}

// execute runs req and logs the outcome. The returned exchange is non-nil whenever a
// request was attempted.
func (c *Client) execute(ctx context.Context, op string, exec delivery.Executor, req protocol.HTTPRequest) (*delivery.Result, *protocol.HTTPExchange, error) {
	res, err := exec.Execute(ctx, req)
	if err != nil {
		c.logger().Warn(op+" failed", "method", req.Method, "url", req.URL, "kind", protocol.ErrorKind(err), "error", err)
		return nil, protocol.ExchangeOf(err), err
	}
	c.logger().Debug(op, "method", req.Method, "url", req.URL, "status", res.Response.Status)
	exchange := res.Exchange
	return res, &exchange, nil
}

func jsonHeaders() map[string]string {
	return map[string]string{"Accept": "application/json"}
}

// sentinel applies the optional-field convention: "" omits the field and a single space
// sends an explicit empty value.
func sentinel(v string) (string, bool) {
	switch v {
	case "":
		return "", false
	case " ":
		return "", true
	default:
		return v, true
	}
}

// sentinelSlice applies sentinel to every element. It reports false when no element
// survives.
func sentinelSlice(vals []string) ([]string, bool) {
	var out []string
	for _, v := range vals {
		if s, ok := sentinel(v); ok {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}
