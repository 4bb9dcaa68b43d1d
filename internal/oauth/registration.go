package oauth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// RegistrationRequest is a dynamic client registration request (RFC 7591).
//
// Every field follows the optional-field convention: an empty string (or a slice with no
// surviving element) omits the member and a single space sends an explicit empty value.
// Jwks holds JSON text and is sent as a JSON value.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	TosURI                  string   `json:"tos_uri,omitempty"`
	PolicyURI               string   `json:"policy_uri,omitempty"`
	JwksURI                 string   `json:"jwks_uri,omitempty"`
	Jwks                    string   `json:"jwks,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// Default registration values.
const (
	DefaultClientName = "OAuth Tester"
	DefaultAuthMethod = "client_secret_basic"
)

// DefaultRegistrationRequest returns the pre-filled registration request.
func DefaultRegistrationRequest(redirectURI string) RegistrationRequest {
	return RegistrationRequest{
		RedirectURIs:            []string{redirectURI},
		ClientName:              DefaultClientName,
		TokenEndpointAuthMethod: DefaultAuthMethod,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	}
}

// Body builds the JSON object sent to the registration endpoint.
func (r RegistrationRequest) Body() (map[string]any, error) {
	body := make(map[string]any)
	for _, f := range []struct {
		name  string
		value string
	}{
		{"token_endpoint_auth_method", r.TokenEndpointAuthMethod},
		{"client_name", r.ClientName},
		{"client_uri", r.ClientURI},
		{"logo_uri", r.LogoURI},
		{"scope", r.Scope},
		{"tos_uri", r.TosURI},
		{"policy_uri", r.PolicyURI},
		{"jwks_uri", r.JwksURI},
		{"software_id", r.SoftwareID},
		{"software_version", r.SoftwareVersion},
	} {
		if v, ok := sentinel(f.value); ok {
			body[f.name] = v
		}
	}
	for _, f := range []struct {
		name   string
		values []string
	}{
		{"redirect_uris", r.RedirectURIs},
		{"grant_types", r.GrantTypes},
		{"response_types", r.ResponseTypes},
		{"contacts", r.Contacts},
	} {
		if v, ok := sentinelSlice(f.values); ok {
			body[f.name] = v
		}
	}
	if v, ok := sentinel(r.Jwks); ok {
		if v == "" {
			body["jwks"] = v
		} else {
			var jwks any
			if err := json.Unmarshal([]byte(v), &jwks); err != nil {
				return nil, protocol.Validationf("Invalid JWKS JSON: %v", err)
			}
			body["jwks"] = jwks
		}
	}
	return body, nil
}

// Register performs dynamic client registration. It always goes through the relay.
// The returned credentials are the full registration response.
func (c *Client) Register(ctx context.Context, endpoint string, req RegistrationRequest) (ClientCredentials, *protocol.HTTPExchange, error) {
	if endpoint == "" {
		return nil, nil, protocol.Validationf("Registration endpoint is required")
	}
	body, err := req.Body()
	if err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, protocol.Validationf("encode registration request: %v", err)
	}

	res, exchange, err := c.execute(ctx, "registration", c.relay(), protocol.HTTPRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: string(payload),
	})
	if err != nil {
		return nil, exchange, err
	}

	m, _ := res.Body.(map[string]any)
	creds := ClientCredentials(m)
	if creds.ClientID() == "" {
		return nil, exchange, &protocol.ProtocolError{
			Status:   res.Response.Status,
			Message:  "Registration response missing client_id",
			Exchange: exchange,
		}
	}
	return creds, exchange, nil
}
