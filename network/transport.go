package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mintgate/observability"
)

const (
	// DefaultRetries is the number of attempts made against a single node.
	DefaultRetries = 2
	// DefaultTimeout bounds a single attempt. Some methods are slow on congested nodes.
	DefaultTimeout = 120 * time.Second

	maxErrorBody = 1 << 10
)

var (
	// ErrEmptyResponse is returned when a node answers without a result.
	ErrEmptyResponse = errors.New("network: empty result returned from node")
	// ErrMalformedResponse is returned when a node answers with both a result and an error.
	ErrMalformedResponse = errors.New("network: malformed json-rpc response")
)

// RPCError is an application error reported by a node. It is never retried.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node returned status %d with reason: %s", e.StatusCode, e.Reason)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Transport sends single JSON-RPC requests to one node.
type Transport struct {
	http    *http.Client
	logger  *slog.Logger
	metrics *observability.NetworkMetrics
}

// TransportOption customises a Transport.
type TransportOption func(*Transport)

// WithHTTPClient overrides the HTTP client. Per-attempt timeouts are still applied via the context.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.http = client
		}
	}
}

// WithTransportLogger sets the logger used for request tracing.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransportMetrics records per-node request outcomes.
func WithTransportMetrics(m *observability.NetworkMetrics) TransportOption {
	return func(t *Transport) {
		t.metrics = m
	}
}

// NewTransport constructs a Transport.
func NewTransport(opts ...TransportOption) *Transport {
	t := &Transport{
		http:   &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Send posts a JSON-RPC 2.0 request to node and returns the raw result. Transport failures and
// non-200 responses are attempted up to retries times in total; the last failure is returned.
// Application errors reported in the response body are returned immediately.
func (t *Transport) Send(ctx context.Context, node, method string, params any, retries int, timeout time.Duration) (json.RawMessage, error) {
	if retries < 1 {
		retries = 1
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("network: encode request: %w", err)
	}
	t.logger.Debug("rpc request", slog.String("node", node), slog.String("method", method))

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		resp, err := t.post(ctx, node, body, timeout)
		if err != nil {
			t.metrics.ObserveRequest(node, method, time.Since(start), err)
			lastErr = err
			t.logger.Debug("rpc attempt failed",
				slog.String("node", node),
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			continue
		}
		result, err := decodeResponse(resp)
		t.metrics.ObserveRequest(node, method, time.Since(start), err)
		return result, err
	}
	return nil, lastErr
}

func (t *Transport) post(ctx context.Context, node string, body []byte, timeout time.Duration) (*rpcResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("network: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network: call %s: %w", node, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(reason))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Reason: text}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("network: decode response: %w", err)
	}
	return &decoded, nil
}

func decodeResponse(resp *rpcResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		if resp.Result != nil && string(resp.Result) != "null" {
			return nil, ErrMalformedResponse
		}
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Result, nil
}

// ParseNode converts a node address into an HTTP endpoint. Multiaddresses of the form
// /ip4/<host>/tcp/<port>/... are accepted; the peer port 18514 maps to the RPC port 18515.
func ParseNode(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("network: empty node address")
	}
	if strings.HasPrefix(addr, "/") {
		parts := strings.Split(addr, "/")
		if len(parts) < 5 || parts[2] == "" || parts[4] == "" {
			return "", fmt.Errorf("network: malformed multiaddress %q", addr)
		}
		port := parts[4]
		if port == "18514" {
			port = "18515"
		}
		return "http://" + parts[2] + ":" + port, nil
	}
	if !strings.Contains(addr, "://") {
		return "", fmt.Errorf("network: node url %q has no scheme", addr)
	}
	if _, err := url.Parse(addr); err != nil {
		return "", fmt.Errorf("network: node url %q: %w", addr, err)
	}
	return addr, nil
}
