package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var clientErrPrefixRe = regexp.MustCompile(`^[A-Z][A-Za-z]* "[^"]*": `)

// TransportMessage returns the cause of a failed client call without the
// `Post "https://...": ` prefix that net/http puts in front of it.
func TransportMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return clientErrPrefixRe.ReplaceAllString(err.Error(), "")
}

// FormatHTTPStatusLine formats "HTTP/1.1 200 OK".
func FormatHTTPStatusLine(statusCode int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", statusCode, StatusText(statusCode))
}

// FormatHTTPHeaders renders a flattened header map one "name: value" per line,
// sorted by name.
func FormatHTTPHeaders(headers map[string]string) string {
	lines := make([]string, 0, len(headers))
	for _, name := range SortedHeaderNames(headers) {
		lines = append(lines, name+": "+headers[name])
	}
	return strings.Join(lines, "\n")
}

// auth-param with a quoted-string or token value (RFC 7235 Section 2.1)
var authParamRe = regexp.MustCompile(`([\w-]+)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|([^\s,"]+))`)

var quotedPairRe = regexp.MustCompile(`\\(.)`)

// ParseWWWAuthenticate extracts the RFC 6750 Section 3 error attributes
// from a WWW-Authenticate header value.
func ParseWWWAuthenticate(value string) (errCode, errDesc, errURI string) {
	params := make(map[string]string)
	for _, m := range authParamRe.FindAllStringSubmatch(value, -1) {
		v := m[3]
		if v == "" {
			v = quotedPairRe.ReplaceAllString(m[2], "$1")
		}
		params[strings.ToLower(m[1])] = v
	}
	return params["error"], params["error_description"], params["error_uri"]
}
