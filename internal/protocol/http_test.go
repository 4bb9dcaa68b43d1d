package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestTransportMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "url.Error",
			err:  &url.Error{Op: "Get", URL: "http://idp.example.com/token", Err: errors.New("dial tcp: lookup idp.example.com: no such host")},
			want: "dial tcp: lookup idp.example.com: no such host",
		},
		{
			name: "wrapped url.Error",
			err:  fmt.Errorf("forward: %w", &url.Error{Op: "Post", URL: "https://idp.example.com/token", Err: context.DeadlineExceeded}),
			want: "context deadline exceeded",
		},
		{
			name: "prefixed string",
			err:  errors.New(`Options "https://idp.example.com/token": connection reset by peer`),
			want: "connection reset by peer",
		},
		{
			name: "no prefix",
			err:  errors.New("connection refused"),
			want: "connection refused",
		},
		{
			name: "partial match no colon-space",
			err:  errors.New(`Get "http://example.com"`),
			want: `Get "http://example.com"`,
		},
		{
			name: "nil",
			err:  nil,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TransportMessage(tt.err); got != tt.want {
				t.Errorf("TransportMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatHTTPStatusLine(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "HTTP/1.1 200 OK"},
		{401, "HTTP/1.1 401 Unauthorized"},
		{500, "HTTP/1.1 500 Internal Server Error"},
		{599, "HTTP/1.1 599 Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatHTTPStatusLine(tt.code)
			if got != tt.want {
				t.Errorf("FormatHTTPStatusLine(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestFormatHTTPHeaders(t *testing.T) {
	t.Run("sorted output", func(t *testing.T) {
		headers := map[string]string{
			"content-type":  "application/json",
			"cache-control": "no-store",
		}
		got := FormatHTTPHeaders(headers)
		want := "cache-control: no-store\ncontent-type: application/json"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("empty headers", func(t *testing.T) {
		if got := FormatHTTPHeaders(map[string]string{}); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})

	t.Run("nil headers", func(t *testing.T) {
		if got := FormatHTTPHeaders(nil); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantCode string
		wantDesc string
		wantURI  string
	}{
		{
			name:     "error and description",
			value:    `Bearer error="invalid_token", error_description="expired"`,
			wantCode: "invalid_token",
			wantDesc: "expired",
		},
		{
			name:     "with error_uri",
			value:    `Bearer error="insufficient_scope", error_description="need admin", error_uri="https://example.com/help"`,
			wantCode: "insufficient_scope",
			wantDesc: "need admin",
			wantURI:  "https://example.com/help",
		},
		{
			name:     "token values",
			value:    `Bearer error=invalid_token, error_description="bad \"aud\""`,
			wantCode: "invalid_token",
			wantDesc: `bad "aud"`,
		},
		{
			name:     "case-insensitive names",
			value:    `Bearer Error="invalid_request"`,
			wantCode: "invalid_request",
		},
		{
			name:  "realm only no error",
			value: `Bearer realm="example"`,
		},
		{
			name:  "empty string",
			value: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, desc, uri := ParseWWWAuthenticate(tt.value)
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if desc != tt.wantDesc {
				t.Errorf("desc = %q, want %q", desc, tt.wantDesc)
			}
			if uri != tt.wantURI {
				t.Errorf("uri = %q, want %q", uri, tt.wantURI)
			}
		})
	}
}
