// Package routes serves the gatewayd admin API.
package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mintgate/events"
	"mintgate/gateway/middleware"
	"mintgate/network"
	"mintgate/session"
)

// SessionHandle is the slice of a running session the API drives.
type SessionHandle interface {
	Snapshot() session.GatewaySession
	Claim(hash string) error
	Reject(hash string) error
	Acknowledge(hash string) error
	Retry() error
	RetryDeposit(hash string) error
}

// Sessions creates and looks up running sessions.
type Sessions interface {
	Create(ctx context.Context, p session.CreateParams) (SessionHandle, error)
	Get(id string) (SessionHandle, bool)
	List() []session.GatewaySession
}

// NetworkInfo answers the read-only network queries.
type NetworkInfo interface {
	QueryPeers(ctx context.Context) ([]string, error)
	QueryNumPeers(ctx context.Context) (int, error)
	QueryStat(ctx context.Context) (network.StatResponse, error)
}

// ShardInfo picks the shard serving an asset.
type ShardInfo interface {
	SelectShard(ctx context.Context, asset string) (network.Shard, network.Gateway, error)
}

// Subscriber fans out published lifecycle events.
type Subscriber interface {
	Subscribe() (<-chan events.Message, func())
}

type Config struct {
	Sessions      Sessions
	Network       NetworkInfo
	Shards        ShardInfo
	Events        Subscriber
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

type api struct {
	cfg    Config
	logger *slog.Logger
}

// New builds the admin router. Sessions is required; the network, shard and
// stream routes are mounted only when their dependency is set.
func New(cfg Config) (http.Handler, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("routes: sessions required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs := cfg.Observability; obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		read := a.require(middleware.ScopeSessionsRead)
		write := a.require(middleware.ScopeSessionsWrite)

		v1.With(a.observe("sessions.create"), write).Post("/sessions", a.createSession)
		v1.With(a.observe("sessions.list"), read).Get("/sessions", a.listSessions)
		v1.Route("/sessions/{id}", func(sr chi.Router) {
			sr.With(a.observe("sessions.get"), read).Get("/", a.getSession)
			sr.With(a.observe("sessions.retry"), write).Post("/retry", a.retrySession)
			sr.With(a.observe("deposits.command"), write).Post("/deposits/{hash}/{action}", a.depositCommand)
			if cfg.Events != nil {
				// The stream is a hijacked connection; it skips the metrics wrapper.
				sr.With(read).Get("/stream", a.stream)
			}
		})
		if cfg.Network != nil {
			v1.With(a.observe("network.peers"), read).Get("/network/peers", a.peers)
			v1.With(a.observe("network.stat"), read).Get("/network/stat", a.stat)
		}
		if cfg.Shards != nil {
			v1.With(a.observe("shards.select"), read).Get("/shards/{asset}", a.shard)
		}
	})
	return r, nil
}

func (a *api) require(scopes ...string) func(http.Handler) http.Handler {
	if a.cfg.Authenticator == nil {
		return passthrough
	}
	return a.cfg.Authenticator.Require(scopes...)
}

func (a *api) observe(route string) func(http.Handler) http.Handler {
	if a.cfg.Observability == nil {
		return passthrough
	}
	return a.cfg.Observability.Middleware(route)
}

func passthrough(next http.Handler) http.Handler { return next }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps session errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrUnknownDeposit):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownChain), errors.Is(err, session.ErrInvalidDestination),
		errors.Is(err, session.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrSessionStopped):
		return http.StatusConflict
	case errors.Is(err, session.ErrDepositBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
