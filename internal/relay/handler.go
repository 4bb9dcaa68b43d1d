// Package relay implements the same-origin relay endpoint: it performs a cross-origin HTTP
// call on the caller's behalf and mirrors the target's response verbatim.
package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wadahiro/flowlens/internal/metrics"
	"github.com/wadahiro/flowlens/internal/protocol"
)

const maxRequestBody = 1 << 20

// Handler serves POST requests on the relay path.
type Handler struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a relay handler. A nil client uses http.DefaultClient.
func NewHandler(client *http.Client, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger, metrics: m}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	in := decodeRequest(r)
	if in.URL == "" {
		h.fail(w, http.StatusBadRequest, MsgMissingURL, metrics.OutcomeBadRequest, start)
		return
	}
	if u, err := url.Parse(in.URL); err != nil || !u.IsAbs() {
		h.fail(w, http.StatusBadRequest, MsgInvalidURL, metrics.OutcomeBadRequest, start)
		return
	}

	resp, err := h.forward(r, in)
	if err != nil {
		msg := protocol.TransportMessage(err)
		if msg == "" {
			msg = msgUnknown
		}
		h.logger.Warn("relay request failed", "method", in.Method, "url", in.URL, "error", msg)
		h.fail(w, http.StatusBadGateway, "Proxy request failed: "+msg, metrics.OutcomeUpstream, start)
		return
	}

	h.logger.Debug("relay request", "method", in.Method, "url", in.URL, "status", resp.Status)
	h.metrics.ObserveRelay(metrics.OutcomeOK, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) forward(r *http.Request, in Request) (*Response, error) {
	var body io.Reader
	if in.Body != "" {
		body = strings.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(r.Context(), in.Method, in.URL, body)
	if err != nil {
		return nil, err
	}
	for name, value := range in.Headers {
		req.Header.Set(name, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		Status:  resp.StatusCode,
		Headers: protocol.FlattenHeaders(resp.Header),
		Body:    string(data),
	}, nil
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg, outcome string, start time.Time) {
	h.metrics.ObserveRelay(outcome, time.Since(start))
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeRequest reads the relay body leniently. An empty or malformed body reads as an
// empty object, a non-string url as missing, a non-string method as GET, and non-string
// header values are stringified.
func decodeRequest(r *http.Request) Request {
	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&raw); err != nil {
		raw = nil
	}

	var in Request
	in.URL, _ = raw["url"].(string)
	in.Method, _ = raw["method"].(string)
	if in.Method == "" {
		in.Method = http.MethodGet
	}
	in.Headers = map[string]string{}
	if headers, ok := raw["headers"].(map[string]any); ok {
		for name, v := range headers {
			if s, ok := v.(string); ok {
				in.Headers[name] = s
			} else if v != nil {
				in.Headers[name] = fmt.Sprint(v)
			}
		}
	}
	in.Body, _ = raw["body"].(string)
	return in
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
