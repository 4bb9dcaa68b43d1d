package oauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/wadahiro/flowlens/internal/delivery"
	"github.com/wadahiro/flowlens/internal/protocol"
)

// Token endpoint authentication methods (RFC 7591 Section 2).
const (
	AuthMethodBasic           = "client_secret_basic"
	AuthMethodPost            = "client_secret_post"
	AuthMethodNone            = "none"
	AuthMethodPrivateKeyJWT   = "private_key_jwt"
	AuthMethodClientSecretJWT = "client_secret_jwt"
)

// ClientAuth selects how the client authenticates to the token, introspection and
// revocation endpoints.
type ClientAuth struct {
	AuthMethod   string `json:"authMethod"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// Method returns the effective method. An unset method means client_secret_basic when a
// secret is present and none otherwise.
func (a ClientAuth) Method() string {
	if a.AuthMethod != "" {
		return a.AuthMethod
	}
	if a.ClientSecret != "" {
		return AuthMethodBasic
	}
	return AuthMethodNone
}

// apply adds client authentication to a form request. client_assertion parameters for the
// JWT methods are supplied by the caller in the extra parameters.
func (a ClientAuth) apply(form url.Values, headers map[string]string) {
	switch a.Method() {
	case AuthMethodBasic:
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(a.ClientID+":"+a.ClientSecret))
	case AuthMethodPost:
		form.Set("client_id", a.ClientID)
		form.Set("client_secret", a.ClientSecret)
	default:
		if a.ClientID != "" {
			form.Set("client_id", a.ClientID)
		}
	}
}

// TokenRequest is an authorization code grant request (RFC 6749 Section 4.1.3).
type TokenRequest struct {
	TokenEndpoint string `json:"tokenEndpoint"`
	GrantType     string `json:"grantType"`
	Code          string `json:"code"`
	RedirectURI   string `json:"redirectUri"`
	CodeVerifier  string `json:"codeVerifier"`
	ClientAuth
	ExtraParams map[string]string `json:"extraParams,omitempty"`
}

// RefreshRequest is a refresh token grant request (RFC 6749 Section 6).
type RefreshRequest struct {
	TokenEndpoint string `json:"tokenEndpoint"`
	RefreshToken  string `json:"refreshToken"`
	Scope         string `json:"scope,omitempty"`
	ClientAuth
	ExtraParams map[string]string `json:"extraParams,omitempty"`
}

// ExchangeToken redeems an authorization code. The response must carry an access_token.
func (c *Client) ExchangeToken(ctx context.Context, req TokenRequest) (TokenResponse, *protocol.HTTPExchange, error) {
	if req.TokenEndpoint == "" {
		return nil, nil, protocol.Validationf("Token endpoint is required")
	}
	grantType := req.GrantType
	if grantType == "" {
		grantType = "authorization_code"
	}
	form := url.Values{"grant_type": {grantType}}
	setIfPresent(form, "code", req.Code)
	setIfPresent(form, "redirect_uri", req.RedirectURI)
	setIfPresent(form, "code_verifier", req.CodeVerifier)

	tokens, exchange, err := c.postToken(ctx, "token exchange", req.TokenEndpoint, form, req.ClientAuth, req.ExtraParams)
	if err != nil {
		return nil, exchange, err
	}
	if tokens.AccessToken() == "" {
		return nil, exchange, &protocol.ProtocolError{
			Status:   exchange.Response.Status,
			Message:  "Token response missing access_token",
			Exchange: exchange,
		}
	}
	return tokens, exchange, nil
}

// RefreshToken performs a refresh token grant. Missing members in the response are
// tolerated; callers merge the result into the tokens they already hold.
func (c *Client) RefreshToken(ctx context.Context, req RefreshRequest) (TokenResponse, *protocol.HTTPExchange, error) {
	if req.TokenEndpoint == "" {
		return nil, nil, protocol.Validationf("Token endpoint is required")
	}
	if req.RefreshToken == "" {
		return nil, nil, protocol.Validationf("Refresh token is required")
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {req.RefreshToken},
	}
	setIfPresent(form, "scope", req.Scope)
	return c.postToken(ctx, "token refresh", req.TokenEndpoint, form, req.ClientAuth, req.ExtraParams)
}

func (c *Client) postToken(ctx context.Context, op, endpoint string, form url.Values, auth ClientAuth, extra map[string]string) (TokenResponse, *protocol.HTTPExchange, error) {
	res, exchange, err := c.postForm(ctx, op, endpoint, form, auth, extra)
	if err != nil {
		return nil, exchange, err
	}
	m, ok := res.Body.(map[string]any)
	if !ok {
		return nil, exchange, &protocol.ValidationError{Message: "Token response is not a JSON object", Exchange: exchange}
	}
	return TokenResponse(m), exchange, nil
}

func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values, auth ClientAuth, extra map[string]string) (*delivery.Result, *protocol.HTTPExchange, error) {
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}
	auth.apply(form, headers)
	for _, k := range protocol.SortedKeys(extra) {
		if k != "" {
			form.Set(k, extra[k])
		}
	}
	return c.execute(ctx, op, c.Default, protocol.HTTPRequest{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: headers,
		Body:    form.Encode(),
	})
}

func setIfPresent(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}
