package oauth

import (
	"context"
	"net/url"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// InspectRequest is a token introspection (RFC 7662) or revocation (RFC 7009) request.
type InspectRequest struct {
	Endpoint      string `json:"endpoint"`
	Token         string `json:"token"`
	TokenTypeHint string `json:"tokenTypeHint,omitempty"`
	ClientAuth
	ExtraParams map[string]string `json:"extraParams,omitempty"`
}

func (r InspectRequest) form() (url.Values, error) {
	if r.Endpoint == "" {
		return nil, protocol.Validationf("Endpoint is required")
	}
	if r.Token == "" {
		return nil, protocol.Validationf("Token is required")
	}
	form := url.Values{"token": {r.Token}}
	setIfPresent(form, "token_type_hint", r.TokenTypeHint)
	return form, nil
}

// Introspect asks the server about a token's state and returns its response object.
func (c *Client) Introspect(ctx context.Context, req InspectRequest) (map[string]any, *protocol.HTTPExchange, error) {
	form, err := req.form()
	if err != nil {
		return nil, nil, err
	}
	res, exchange, err := c.postForm(ctx, "introspection", req.Endpoint, form, req.ClientAuth, req.ExtraParams)
	if err != nil {
		return nil, exchange, err
	}
	info, ok := res.Body.(map[string]any)
	if !ok {
		return nil, exchange, &protocol.ValidationError{Message: "Introspection response is not a JSON object", Exchange: exchange}
	}
	return info, exchange, nil
}

// Revoke revokes a token. Any 2xx response is success, whatever its body.
func (c *Client) Revoke(ctx context.Context, req InspectRequest) (*protocol.HTTPExchange, error) {
	form, err := req.form()
	if err != nil {
		return nil, err
	}
	_, exchange, err := c.postForm(ctx, "revocation", req.Endpoint, form, req.ClientAuth, req.ExtraParams)
	return exchange, err
}
