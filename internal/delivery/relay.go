package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wadahiro/flowlens/internal/protocol"
	"github.com/wadahiro/flowlens/internal/relay"
)

// Relay executes requests through the relay endpoint at Endpoint.
type Relay struct {
	Client   *http.Client
	Endpoint string
}

// Execute implements Executor.
func (r *Relay) Execute(ctx context.Context, req protocol.HTTPRequest) (*Result, error) {
	exchange := protocol.HTTPExchange{Request: req, Timestamp: time.Now()}

	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	payload, err := json.Marshal(relay.Request{
		URL:     req.URL,
		Method:  req.Method,
		Headers: headers,
		Body:    req.Body,
	})
	if err != nil {
		return nil, transportError(exchange, fmt.Sprintf("encode relay request: %v", err), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, transportError(exchange, "Failed to reach proxy server: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		msg := protocol.TransportMessage(err)
		if msg == "" {
			msg = "Failed to reach proxy server"
		}
		return nil, transportError(exchange, msg, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(exchange, "read relay response: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var relayErr relay.ErrorResponse
		msg := fmt.Sprintf("Proxy error: %d", resp.StatusCode)
		if json.Unmarshal(data, &relayErr) == nil && relayErr.Error != "" {
			msg = relayErr.Error
		}
		return nil, transportError(exchange, msg, nil)
	}

	var mirrored relay.Response
	if err := json.Unmarshal(data, &mirrored); err != nil {
		return nil, transportError(exchange, "Invalid proxy response: "+err.Error(), err)
	}

	response := &protocol.HTTPResponse{
		Status:     mirrored.Status,
		StatusText: protocol.StatusText(mirrored.Status),
		Headers:    mirrored.Headers,
		Body:       mirrored.Body,
	}
	if response.Headers == nil {
		response.Headers = map[string]string{}
	}
	exchange.Response = response
	body := ParseBody(response.Body)

	if response.Status >= 400 {
		return nil, protocol.NewProtocolError(response, body, &exchange)
	}
	return &Result{Response: response, Body: body, Exchange: exchange}, nil
}
