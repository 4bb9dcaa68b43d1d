package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wadahiro/flowlens/internal/protocol"
)

func TestDirect_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"issuer":"https://idp.example.com"}`))
	}))
	defer srv.Close()

	d := &Direct{Client: srv.Client()}
	res, err := d.Execute(context.Background(), protocol.HTTPRequest{
		Method:  http.MethodGet,
		URL:     srv.URL + "/.well-known/openid-configuration",
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	body, ok := res.Body.(map[string]any)
	if !ok || body["issuer"] != "https://idp.example.com" {
		t.Errorf("body = %#v", res.Body)
	}
	if res.Exchange.Response == nil || res.Exchange.Response.Status != 200 {
		t.Errorf("exchange response = %+v", res.Exchange.Response)
	}
	if res.Exchange.Request.URL != srv.URL+"/.well-known/openid-configuration" {
		t.Errorf("exchange url = %q", res.Exchange.Request.URL)
	}
	if res.Exchange.Timestamp.IsZero() {
		t.Error("exchange timestamp should be set")
	}
}

func TestDirect_TextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	res, err := (&Direct{Client: srv.Client()}).Execute(context.Background(), protocol.HTTPRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Body != "plain text" {
		t.Errorf("body = %#v, want raw text", res.Body)
	}
}

func TestDirect_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	_, err := (&Direct{Client: srv.Client()}).Execute(context.Background(), protocol.HTTPRequest{Method: http.MethodPost, URL: srv.URL, Body: "a=b"})
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %T %v", err, err)
	}
	if pe.Error() != "invalid_grant: code expired" {
		t.Errorf("message = %q", pe.Error())
	}
	if pe.Code != "invalid_grant" {
		t.Errorf("code = %q", pe.Code)
	}
	if pe.Exchange == nil || pe.Exchange.Response == nil || pe.Exchange.Response.Status != 400 {
		t.Errorf("exchange should carry the 400 response: %+v", pe.Exchange)
	}
}

func TestDirect_NetworkFailure(t *testing.T) {
	failing := &http.Client{Transport: &mockRoundTripper{err: errors.New("dial tcp: connection refused")}}

	tests := []struct {
		name    string
		origin  string
		target  string
		wantMsg string
	}{
		{
			name:    "cross origin",
			origin:  "http://localhost:8080",
			target:  "https://idp.example.com/token",
			wantMsg: "Failed to fetch: CORS error - server at https://idp.example.com must include 'Access-Control-Allow-Origin' header",
		},
		{
			name:    "same origin",
			origin:  "http://localhost:8080",
			target:  "http://localhost:8080/token",
			wantMsg: "Failed to fetch: Server unreachable or connection refused",
		},
		{
			name:    "no origin configured",
			target:  "https://idp.example.com/token",
			wantMsg: "Failed to fetch: Server unreachable or connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Direct{Client: failing, Origin: tt.origin}
			_, err := d.Execute(context.Background(), protocol.HTTPRequest{Method: http.MethodGet, URL: tt.target})
			var te *protocol.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransportError, got %T %v", err, err)
			}
			if te.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", te.Message, tt.wantMsg)
			}
			if te.Exchange == nil || te.Exchange.Error != tt.wantMsg || te.Exchange.Response != nil {
				t.Errorf("exchange = %+v", te.Exchange)
			}
		})
	}
}

func TestDirect_EnforceCORS(t *testing.T) {
	newClient := func(allow string) *http.Client {
		header := http.Header{"Content-Type": {"application/json"}}
		if allow != "" {
			header.Set("Access-Control-Allow-Origin", allow)
		}
		return &http.Client{Transport: &mockRoundTripper{resp: &http.Response{
			StatusCode: 200,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
		}}}
	}

	tests := []struct {
		name    string
		allow   string
		wantErr bool
	}{
		{"no header", "", true},
		{"wildcard", "*", false},
		{"matching origin", "http://localhost:8080", false},
		{"other origin", "https://evil.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Direct{Client: newClient(tt.allow), Origin: "http://localhost:8080", EnforceCORS: true}
			_, err := d.Execute(context.Background(), protocol.HTTPRequest{URL: "https://idp.example.com/.well-known/openid-configuration"})
			if tt.wantErr {
				var te *protocol.TransportError
				if !errors.As(err, &te) {
					t.Fatalf("expected TransportError, got %v", err)
				}
				if !strings.Contains(te.Message, "CORS error") {
					t.Errorf("message = %q", te.Message)
				}
				if te.Exchange.Response != nil {
					t.Error("rejected response must not be exposed")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
