package oauth

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// AuthorizationParams are the parameters of an authorization request. CodeVerifier is
// never sent; it is kept so the token exchange can replay it.
type AuthorizationParams struct {
	ResponseType        string            `json:"responseType"`
	ClientID            string            `json:"clientId"`
	RedirectURI         string            `json:"redirectUri"`
	Scope               string            `json:"scope"`
	State               string            `json:"state"`
	CodeChallenge       string            `json:"codeChallenge"`
	CodeChallengeMethod string            `json:"codeChallengeMethod"`
	CodeVerifier        string            `json:"codeVerifier,omitempty"`
	ExtraParams         map[string]string `json:"extraParams,omitempty"`
}

// BuildAuthorizationURL adds the authorization request to endpoint's query. Parameters
// already on the endpoint are kept unless the request sets them, in which case the
// request's value replaces them. response_type (default "code") and client_id are always
// sent; every other parameter follows the optional-field convention.
func BuildAuthorizationURL(endpoint string, p AuthorizationParams) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() {
		return "", protocol.Validationf("Invalid authorization endpoint: %s", endpoint)
	}

	responseType := p.ResponseType
	if responseType == "" {
		responseType = "code"
	}
	cfg := &oauth2.Config{ClientID: p.ClientID}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", responseType),
	}
	for _, param := range []struct {
		name  string
		value string
	}{
		{"redirect_uri", p.RedirectURI},
		{"scope", p.Scope},
		{"state", p.State},
		{"code_challenge", p.CodeChallenge},
		{"code_challenge_method", p.CodeChallengeMethod},
	} {
		if v, ok := sentinel(param.value); ok {
			opts = append(opts, oauth2.SetAuthURLParam(param.name, v))
		}
	}
	for _, k := range protocol.SortedKeys(p.ExtraParams) {
		opts = append(opts, oauth2.SetAuthURLParam(k, p.ExtraParams[k]))
	}
	// With an empty AuthURL, AuthCodeURL yields just "?" and the encoded request.
	request, err := url.ParseQuery(strings.TrimPrefix(cfg.AuthCodeURL("", opts...), "?"))
	if err != nil {
		return "", protocol.Validationf("Invalid authorization parameters: %v", err)
	}
	q := u.Query()
	for k, vs := range request {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
