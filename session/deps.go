package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mintgate/chain"
	"mintgate/events"
	"mintgate/network"
	"mintgate/observability"
	"mintgate/watcher"
)

const (
	// DefaultConfirmationInterval is how often a settling deposit re-reads its confidence.
	DefaultConfirmationInterval = 15 * time.Second
	// DefaultConfirmationTarget applies when the lock chain reports no target.
	DefaultConfirmationTarget = 6
)

// NetworkClient submits mint transactions to the signing network and waits for signatures.
type NetworkClient interface {
	SubmitOrFind(ctx context.Context, tx network.Tx) (string, error)
	WaitForTx(ctx context.Context, hash string, onStatus func(network.TxStatus)) (network.Tx, error)
}

// ShardSelector picks the shard key a new gateway is derived from.
type ShardSelector interface {
	SelectPublicKey(ctx context.Context, asset string) ([]byte, error)
}

// DepositWatcher reports deposits at a gateway address until cancelled.
type DepositWatcher interface {
	Watch(ctx context.Context, asset, address string, onDeposit, onRemove func(chain.DepositTx), isCancelled func() bool) error
}

// Store persists sessions. Load returns ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, s GatewaySession) error
	Load(ctx context.Context, id string) (GatewaySession, error)
	List(ctx context.Context) ([]GatewaySession, error)
	Delete(ctx context.Context, id string) error
}

// Deps bundles the collaborators shared by every session and deposit. Values are
// read-only once a Manager or Session has been built from them.
type Deps struct {
	Network    NetworkClient
	Shards     ShardSelector
	LockChains map[string]chain.LockChain
	MintChains map[string]chain.MintChain
	// Watcher builds the deposit watcher for a lock chain. Defaults to watcher.New.
	Watcher   func(lock chain.LockChain) DepositWatcher
	Store     Store
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   *observability.LifecycleMetrics
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	// Nonce derives the nonce of sessions created without one. Defaults to
	// RandomNonce; DayNonce reproduces day-keyed gateways.
	Nonce func(now time.Time) (common.Hash, error)

	// Authority is the address whose signatures the mint chain accepts. Required.
	Authority            common.Address
	ConfirmationTarget   int
	ConfirmationInterval time.Duration
}

func (d Deps) withDefaults() (*Deps, error) {
	if d.Network == nil {
		return nil, errors.New("session: network client is required")
	}
	if d.Shards == nil {
		return nil, errors.New("session: shard selector is required")
	}
	if len(d.LockChains) == 0 || len(d.MintChains) == 0 {
		return nil, errors.New("session: at least one lock and one mint chain are required")
	}
	if d.Authority == (common.Address{}) {
		return nil, errors.New("session: mint authority is required")
	}
	lock := make(map[string]chain.LockChain, len(d.LockChains))
	for name, c := range d.LockChains {
		lock[strings.ToLower(name)] = c
	}
	mint := make(map[string]chain.MintChain, len(d.MintChains))
	for name, c := range d.MintChains {
		mint[strings.ToLower(name)] = c
	}
	d.LockChains, d.MintChains = lock, mint
	if d.Watcher == nil {
		d.Watcher = func(lock chain.LockChain) DepositWatcher {
			return watcher.New(lock, watcher.WithLogger(d.Logger))
		}
	}
	if d.Store == nil {
		d.Store = NewMemStore()
	}
	if d.Publisher == nil {
		d.Publisher = &events.NoopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleepContext
	}
	if d.Nonce == nil {
		d.Nonce = RandomNonce
	}
	if d.ConfirmationTarget <= 0 {
		d.ConfirmationTarget = DefaultConfirmationTarget
	}
	if d.ConfirmationInterval <= 0 {
		d.ConfirmationInterval = DefaultConfirmationInterval
	}
	return &d, nil
}

func (d *Deps) lockChain(name string) (chain.LockChain, error) {
	c, ok := d.LockChains[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: lock chain %q", ErrUnknownChain, name)
	}
	return c, nil
}

func (d *Deps) mintChain(name string) (chain.MintChain, error) {
	c, ok := d.MintChains[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: mint chain %q", ErrUnknownChain, name)
	}
	return c, nil
}

func (d *Deps) publish(ctx context.Context, topic string, event any) {
	if err := d.Publisher.Publish(ctx, topic, event); err != nil {
		d.Logger.Warn("publish event failed", slog.String("topic", topic), slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
