package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wadahiro/flowlens/internal/metrics"
)

// mockRoundTripper is a test helper that returns a fixed response or error.
type mockRoundTripper struct {
	resp *http.Response
	err  error
	req  *http.Request
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.req = req
	return m.resp, m.err
}

func newTestHandler(rt http.RoundTripper) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(&http.Client{Transport: rt}, logger, metrics.New())
}

func postRelay(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/proxy", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return e.Error
}

func TestHandler_Validation(t *testing.T) {
	h := newTestHandler(&mockRoundTripper{err: errors.New("should not be called")})

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing url", `{"method":"GET"}`, `Missing or invalid "url" field`},
		{"empty url", `{"url":""}`, `Missing or invalid "url" field`},
		{"non-string url", `{"url":123}`, `Missing or invalid "url" field`},
		{"relative url", `{"url":"not a url"}`, "Invalid URL format"},
		{"unparseable url", `{"url":"http://[::1"}`, "Invalid URL format"},
		{"invalid json", `{`, `Missing or invalid "url" field`},
		{"json array", `["https://idp.example.com"]`, `Missing or invalid "url" field`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRelay(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decodeError(t, rec); got != tt.wantMsg {
				t.Errorf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestHandler_MissingURLExactBody(t *testing.T) {
	h := newTestHandler(&mockRoundTripper{})
	want := `{"error":"Missing or invalid \"url\" field"}`
	for _, body := range []string{`{}`, ``, `not json`} {
		t.Run(fmt.Sprintf("body %q", body), func(t *testing.T) {
			rec := postRelay(t, h, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != want {
				t.Errorf("body = %s, want %s", got, want)
			}
		})
	}
}

func TestHandler_MirrorsTargetStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("X-Test = %q, want yes", got)
		}
		data, _ := io.ReadAll(r.Body)
		if string(data) != "a=1" {
			t.Errorf("body = %q, want a=1", data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found"}`))
	}))
	defer target.Close()

	h := NewHandler(target.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	rec := postRelay(t, h, `{"url":"`+target.URL+`/x","method":"POST","headers":{"X-Test":"yes"},"body":"a=1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		t.Errorf("embedded status = %d, want 404", resp.Status)
	}
	if resp.Body != `{"error":"not_found"}` {
		t.Errorf("embedded body = %q", resp.Body)
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Errorf("content-type = %q", resp.Headers["content-type"])
	}
}

func TestHandler_DefaultsToGET(t *testing.T) {
	mock := &mockRoundTripper{resp: &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("ok")),
	}}
	h := newTestHandler(mock)
	rec := postRelay(t, h, `{"url":"https://idp.example.com/.well-known/openid-configuration"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if mock.req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", mock.req.Method)
	}
	if mock.req.Body != nil && mock.req.Body != http.NoBody {
		t.Error("expected no request body")
	}
}

func TestHandler_TransportFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"with message", errors.New("dial tcp: connection refused"), "Proxy request failed: dial tcp: connection refused"},
		{"empty message", errors.New(""), "Proxy request failed: Unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockRoundTripper{err: tt.err})
			rec := postRelay(t, h, `{"url":"https://idp.example.com/token"}`)
			if rec.Code != http.StatusBadGateway {
				t.Errorf("status = %d, want 502", rec.Code)
			}
			if got := decodeError(t, rec); got != tt.wantMsg {
				t.Errorf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}
