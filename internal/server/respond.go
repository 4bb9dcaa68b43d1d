package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wadahiro/flowlens/internal/orchestrator"
	"github.com/wadahiro/flowlens/internal/protocol"
)

const maxRequestBody = 1 << 20

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error    string                 `json:"error"`
	Kind     string                 `json:"kind"`
	Exchange *protocol.HTTPExchange `json:"exchange,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := protocol.ErrorKind(err)
	switch {
	case status == http.StatusNotFound:
		kind = "not_found"
	case errors.Is(err, orchestrator.ErrStepBusy):
		kind = "busy"
	}
	writeJSON(w, status, ErrorResponse{
		Error:    err.Error(),
		Kind:     kind,
		Exchange: protocol.ExchangeOf(err),
	})
}

// statusFor maps an action error to the API status. Failures on the remote server's side
// map to 502.
func statusFor(err error) int {
	var (
		validation *protocol.ValidationError
		integrity  *protocol.IntegrityError
		proto      *protocol.ProtocolError
		transport  *protocol.TransportError
	)
	switch {
	case errors.Is(err, orchestrator.ErrFlowNotFound), errors.Is(err, orchestrator.ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrStepBusy):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &integrity):
		return http.StatusConflict
	case errors.As(err, &proto), errors.As(err, &transport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a required JSON body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v); err != nil {
		return protocol.Validationf("Invalid JSON body")
	}
	return nil
}

// decodeOrDefault reads an optional JSON body. An empty body yields defaults().
func decodeOrDefault[T any](r *http.Request, defaults func() (T, error)) (T, error) {
	var v T
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&v)
	switch {
	case errors.Is(err, io.EOF):
		return defaults()
	case err != nil:
		return v, protocol.Validationf("Invalid JSON body")
	}
	return v, nil
}
