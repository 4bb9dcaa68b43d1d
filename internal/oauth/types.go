package oauth

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// ServerMetadata is a discovery document (RFC 8414 / OpenID Connect Discovery).
// Server-specific members are kept verbatim.
type ServerMetadata map[string]any

func (m ServerMetadata) Issuer() string                { return stringValue(m, "issuer") }
func (m ServerMetadata) AuthorizationEndpoint() string { return stringValue(m, "authorization_endpoint") }
func (m ServerMetadata) TokenEndpoint() string         { return stringValue(m, "token_endpoint") }
func (m ServerMetadata) RegistrationEndpoint() string  { return stringValue(m, "registration_endpoint") }
func (m ServerMetadata) IntrospectionEndpoint() string { return stringValue(m, "introspection_endpoint") }
func (m ServerMetadata) RevocationEndpoint() string    { return stringValue(m, "revocation_endpoint") }

// ScopesSupported returns scopes_supported, if advertised.
func (m ServerMetadata) ScopesSupported() []string { return stringSlice(m["scopes_supported"]) }

// Clone returns a deep copy.
func (m ServerMetadata) Clone() ServerMetadata { return ServerMetadata(protocol.CloneObject(m)) }

// ClientCredentials are a registered client's credentials, from dynamic registration
// (RFC 7591) or manual entry. Server-specific members are kept verbatim.
type ClientCredentials map[string]any

func (c ClientCredentials) ClientID() string     { return stringValue(c, "client_id") }
func (c ClientCredentials) ClientSecret() string { return stringValue(c, "client_secret") }

// AuthMethod returns token_endpoint_auth_method.
func (c ClientCredentials) AuthMethod() string { return stringValue(c, "token_endpoint_auth_method") }

// RedirectURIs returns redirect_uris.
func (c ClientCredentials) RedirectURIs() []string { return stringSlice(c["redirect_uris"]) }

// Clone returns a deep copy.
func (c ClientCredentials) Clone() ClientCredentials { return ClientCredentials(protocol.CloneObject(c)) }

// TokenResponse is a token endpoint response. Unknown members are kept verbatim.
type TokenResponse map[string]any

func (t TokenResponse) AccessToken() string  { return stringValue(t, "access_token") }
func (t TokenResponse) RefreshToken() string { return stringValue(t, "refresh_token") }
func (t TokenResponse) IDToken() string      { return stringValue(t, "id_token") }
func (t TokenResponse) TokenType() string    { return stringValue(t, "token_type") }
func (t TokenResponse) Scope() string        { return stringValue(t, "scope") }

// Clone returns a deep copy.
func (t TokenResponse) Clone() TokenResponse { return TokenResponse(protocol.CloneObject(t)) }

// Merge overlays next onto t and returns the result. Members absent from next are kept,
// so a refresh response without a new refresh_token does not drop the old one.
func (t TokenResponse) Merge(next TokenResponse) TokenResponse {
	if t == nil && next == nil {
		return nil
	}
	out := t.Clone()
	if out == nil {
		out = TokenResponse{}
	}
	for k, v := range next {
		out[k] = protocol.CloneValue(v)
	}
	return out
}

// Token returns the oauth2.Token view. Expiry is computed from expires_in relative to
// issuedAt.
func (t TokenResponse) Token(issuedAt time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken(),
		TokenType:    t.TokenType(),
		RefreshToken: t.RefreshToken(),
	}
	if secs, ok := numberValue(t["expires_in"]); ok && secs > 0 {
		tok.ExpiresIn = int64(secs)
		tok.Expiry = issuedAt.Add(time.Duration(secs) * time.Second)
	}
	return tok.WithExtra(map[string]any(t))
}

func stringValue(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, e := range vals {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
