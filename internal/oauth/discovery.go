package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/wadahiro/flowlens/internal/protocol"
)

// DiscoveryURL returns the RFC 8414 metadata URL for serverURL:
// {origin}/.well-known/oauth-authorization-server{path}.
func DiscoveryURL(serverURL string) (string, error) {
	origin, path, err := splitServerURL(serverURL)
	if err != nil {
		return "", err
	}
	return origin + "/.well-known/oauth-authorization-server" + path, nil
}

// OIDCDiscoveryURL returns the OpenID Connect Discovery URL for serverURL:
// {origin}{path}/.well-known/openid-configuration.
func OIDCDiscoveryURL(serverURL string) (string, error) {
	origin, path, err := splitServerURL(serverURL)
	if err != nil {
		return "", err
	}
	return origin + path + "/.well-known/openid-configuration", nil
}

func splitServerURL(serverURL string) (origin, path string, err error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", protocol.Validationf("Invalid server URL: %s", serverURL)
	}
	path = u.EscapedPath()
	if path == "/" {
		path = ""
	}
	return u.Scheme + "://" + u.Host, path, nil
}

// Discover fetches the server's metadata. Only an HTTP 404 on the RFC 8414 URL falls back
// to the OpenID Connect URL; any other failure is returned as is.
func (c *Client) Discover(ctx context.Context, serverURL string) (ServerMetadata, *protocol.HTTPExchange, error) {
	oauthURL, err := DiscoveryURL(serverURL)
	if err != nil {
		return nil, nil, err
	}

	metadata, exchange, err := c.fetchMetadata(ctx, oauthURL)
	var pe *protocol.ProtocolError
	if err == nil || !errors.As(err, &pe) || pe.Status != http.StatusNotFound {
		return metadata, exchange, err
	}

	oidcURL, err := OIDCDiscoveryURL(serverURL)
	if err != nil {
		return nil, exchange, err
	}
	c.logger().Debug("oauth-authorization-server metadata not found, trying openid-configuration", "url", oidcURL)
	return c.fetchMetadata(ctx, oidcURL)
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (ServerMetadata, *protocol.HTTPExchange, error) {
	res, exchange, err := c.execute(ctx, "discovery", c.Default, protocol.HTTPRequest{
		Method:  http.MethodGet,
		URL:     metadataURL,
		Headers: jsonHeaders(),
	})
	if err != nil {
		return nil, exchange, err
	}
	m, ok := res.Body.(map[string]any)
	if !ok {
		return nil, exchange, &protocol.ValidationError{Message: "Discovery response is not a JSON object", Exchange: exchange}
	}
	return ServerMetadata(m), exchange, nil
}
