// Package watcher polls a lock chain for deposits made to a gateway address.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mintgate/chain"
)

// DefaultInterval is the pause between polls.
const DefaultInterval = 15 * time.Second

// Watcher reports new deposits, confirmation changes and deposits that vanished
// from the chain (reorged or spent).
type Watcher struct {
	lock     chain.LockChain
	indexer  chain.Indexer
	interval time.Duration
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithIndexer enables a historical scan on the first iteration.
func WithIndexer(idx chain.Indexer) Option {
	return func(w *Watcher) {
		w.indexer = idx
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSleep replaces the sleep between polls, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(w *Watcher) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// New builds a watcher over lock.
func New(lock chain.LockChain, opts ...Option) *Watcher {
	w := &Watcher{
		lock:     lock,
		interval: DefaultInterval,
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	if idx, ok := lock.(chain.Indexer); ok {
		w.indexer = idx
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Watch polls until ctx is done or isCancelled reports true. Cancellation is
// checked at the top of every iteration. onDeposit fires for unseen deposits
// and for deposits whose confirmation count changed; onRemove fires when a
// deposit previously returned by the chain is no longer returned.
func (w *Watcher) Watch(ctx context.Context, asset, address string, onDeposit, onRemove func(chain.DepositTx), isCancelled func() bool) error {
	if w.lock == nil {
		return errors.New("watcher: lock chain required")
	}
	logger := w.logger.With(slog.String("asset", asset), slog.String("address", address))
	seen := make(map[string]int)
	live := make(map[string]chain.DepositTx)
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isCancelled != nil && isCancelled() {
			return nil
		}

		var batch []chain.DepositTx
		if first && w.indexer != nil {
			history, err := w.history(ctx, asset, address)
			if err != nil {
				logger.Warn("indexer history failed, using chain adapter", slog.Any("error", err))
			}
			batch = append(batch, history...)
		}
		first = false

		current, err := w.lock.Deposits(ctx, asset, address)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("deposit poll failed", slog.Any("error", err))
		} else {
			batch = append(batch, current...)
			next := make(map[string]chain.DepositTx, len(current))
			for _, d := range current {
				next[d.ID()] = d
			}
			for id, d := range live {
				if _, still := next[id]; still {
					continue
				}
				delete(seen, id)
				logger.Info("deposit removed", slog.String("deposit", id))
				if onRemove != nil {
					onRemove(d)
				}
			}
			live = next
		}

		for _, d := range batch {
			id := d.ID()
			if prev, ok := seen[id]; ok && prev == d.Confirmations {
				continue
			}
			seen[id] = d.Confirmations
			if onDeposit != nil {
				onDeposit(d)
			}
		}

		if err := w.sleep(ctx, w.interval); err != nil {
			return err
		}
	}
}

func (w *Watcher) history(ctx context.Context, asset, address string) ([]chain.DepositTx, error) {
	var out []chain.DepositTx
	cursor := ""
	for {
		page, next, err := w.indexer.History(ctx, asset, address, cursor)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
		if next == "" || next == cursor {
			return out, nil
		}
		cursor = next
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
