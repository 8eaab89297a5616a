package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mintgate/observability"
)

// ErrNoResponse is returned when every node answered with null and none reported an error.
var ErrNoResponse = errors.New("network: no response from the network while submitting message")

// Provider fans requests out to a fixed set of nodes and returns the first usable answer in
// node order. It provides liveness across nodes, not agreement between them.
type Provider struct {
	nodes     []string
	transport *Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.NetworkMetrics
	tracer    trace.Tracer

	pollInterval time.Duration
	pollErrors   int
	submitRetry  time.Duration
	sleep        func(context.Context, time.Duration) error
}

// Option customises a Provider.
type Option func(*Provider)

// WithTransport replaces the per-node transport.
func WithTransport(t *Transport) Option {
	return func(p *Provider) {
		if t != nil {
			p.transport = t
		}
	}
}

// WithTimeout bounds each per-node attempt.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records consensus outcomes.
func WithMetrics(m *observability.NetworkMetrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

// WithPollInterval sets the delay between status queries while waiting for a transaction.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithPollErrorLimit sets how many consecutive unexpected query errors are tolerated while waiting.
func WithPollErrorLimit(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.pollErrors = n
		}
	}
}

// WithSubmitRetryDelay sets the pause between resubmissions of an unknown transaction.
func WithSubmitRetryDelay(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.submitRetry = d
		}
	}
}

// WithSleep overrides the context-aware sleep used by polling loops. Intended for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Provider) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// NewProvider builds a provider over nodes given as URLs or multiaddresses.
func NewProvider(nodes []string, opts ...Option) (*Provider, error) {
	if len(nodes) == 0 {
		return nil, errors.New("network: at least one node is required")
	}
	parsed := make([]string, 0, len(nodes))
	for _, node := range nodes {
		u, err := ParseNode(node)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, u)
	}
	p := &Provider{
		nodes:        parsed,
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		tracer:       otel.Tracer("mintgate/network"),
		pollInterval: 15 * time.Second,
		pollErrors:   5,
		submitRetry:  5 * time.Second,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.transport == nil {
		p.transport = NewTransport(WithTransportLogger(p.logger), WithTransportMetrics(p.metrics))
	}
	return p, nil
}

// Nodes returns the resolved node endpoints.
func (p *Provider) Nodes() []string {
	out := make([]string, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Send queries every node concurrently and waits for all of them. The first non-null result in
// node order wins; otherwise the first distinct error is returned, or ErrNoResponse.
func (p *Provider) Send(ctx context.Context, method string, params any, retries int) (json.RawMessage, error) {
	result, errs := p.SendWithErrors(ctx, method, params, retries)
	if result != nil {
		return result, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoResponse
}

// SendWithErrors behaves like Send but also returns the de-duplicated per-node errors in the
// order they were first seen.
func (p *Provider) SendWithErrors(ctx context.Context, method string, params any, retries int) (json.RawMessage, []error) {
	ctx, span := p.tracer.Start(ctx, "network.send",
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.Int("network.nodes", len(p.nodes)),
		))
	defer span.End()

	type answer struct {
		result json.RawMessage
		err    error
	}
	answers := make([]answer, len(p.nodes))
	var wg sync.WaitGroup
	for i, node := range p.nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			result, err := p.transport.Send(ctx, node, method, params, retries, p.timeout)
			answers[i] = answer{result: result, err: err}
		}(i, node)
	}
	wg.Wait()

	var errs []error
	seen := make(map[string]struct{})
	for _, a := range answers {
		if a.err != nil {
			msg := a.err.Error()
			if _, dup := seen[msg]; !dup {
				seen[msg] = struct{}{}
				errs = append(errs, a.err)
				p.logger.Warn("node request failed", slog.String("method", method), slog.Any("error", a.err))
			}
		}
	}
	for _, a := range answers {
		if a.err == nil && len(a.result) > 0 && string(a.result) != "null" {
			return a.result, errs
		}
	}
	p.metrics.RecordConsensusFailure(method)
	span.SetStatus(codes.Error, "no usable response")
	if len(errs) > 0 {
		span.RecordError(errs[0])
	}
	return nil, errs
}

// call sends method and decodes the winning result into out.
func (p *Provider) call(ctx context.Context, method string, params any, retries int, out any) error {
	raw, err := p.Send(ctx, method, params, retries)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("network: decode %s result: %w", method, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
