package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mintgate/chain"
	"mintgate/events"
	"mintgate/gateway/middleware"
	"mintgate/gateway/routes"
	"mintgate/observability"
	telemetry "mintgate/observability/otel"
	"mintgate/session"
	"mintgate/storage"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway: restore sessions and serve the admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	stream := events.NewChannelPublisher(256)
	publishers := events.Multi{stream}
	if cfg.Events.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Prefix)
		if err != nil {
			return err
		}
		publishers = append(publishers, nats)
	}
	defer publishers.Close()

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("network provider: %w", err)
	}
	selector, err := newSelector(cfg, provider, logger)
	if err != nil {
		return fmt.Errorf("shard selector: %w", err)
	}
	btc, err := newBitcoin(cfg, logger)
	if err != nil {
		return fmt.Errorf("bitcoin: %w", err)
	}
	eth, ethClient, err := newEthereum(cfg, logger)
	if err != nil {
		return fmt.Errorf("ethereum: %w", err)
	}
	defer ethClient.Close()

	nonce := session.RandomNonce
	if cfg.Network.DayNonce {
		nonce = session.DayNonce
	}
	manager, err := session.NewManager(session.Deps{
		Network:            provider,
		Shards:             selector,
		LockChains:         map[string]chain.LockChain{"bitcoin": btc},
		MintChains:         map[string]chain.MintChain{"ethereum": eth},
		Watcher:            watcherFactory(cfg, logger),
		Store:              store,
		Publisher:          events.Instrumented{Publisher: publishers, Metrics: observability.Events()},
		Logger:             logger,
		Metrics:            observability.Lifecycle(),
		Nonce:              nonce,
		Authority:          cfg.Network.AuthorityAddress(),
		ConfirmationTarget: cfg.Network.ConfirmationTarget,
	})
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	restored, err := manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	logger.Info("sessions restored", slog.Int("count", restored))

	jwt := cfg.API.JWT
	handler, err := routes.New(routes.Config{
		Sessions: routes.ManagerSessions{Manager: manager},
		Network:  provider,
		Shards:   selector,
		Events:   stream,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    jwt.Enable,
			HMACSecret: jwt.Secret,
			Issuer:     jwt.Issuer,
			Audience:   jwt.Audience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.API.RateLimit.RequestsPerSecond,
			Burst:             cfg.API.RateLimit.Burst,
		}, logger),
		Observability: middleware.NewObservability(serviceName, logger),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", slog.String("addr", cfg.API.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
