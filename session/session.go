package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mintgate/chain"
	mcrypto "mintgate/crypto"
	"mintgate/events"
	"mintgate/observability/logging"
)

const sessionInboxSize = 64

// DepositEvent is the payload published on deposit topics.
type DepositEvent struct {
	SessionID      string             `json:"sessionId"`
	Asset          string             `json:"asset"`
	GatewayAddress string             `json:"gatewayAddress"`
	Transaction    GatewayTransaction `json:"transaction"`
}

type sessionEventKind int

const (
	sevCreated sessionEventKind = iota + 1
	sevCreateError
	sevDeposit
	sevRemoved
	sevListenError
	sevExpired
	sevUpdate
	sevSnapshot
	sevCommand
)

type commandKind int

const (
	cmdRetry commandKind = iota + 1
	cmdClaim
	cmdReject
	cmdAcknowledge
	cmdRetryDeposit
)

type sessionEvent struct {
	kind     sessionEventKind
	created  GatewaySession
	deposit  chain.DepositTx
	update   depositUpdate
	err      error
	cmd      commandKind
	hash     string
	reply    chan error
	snapshot chan GatewaySession
}

// Session owns one gateway: it derives the gateway address, watches it for
// deposits and runs a Deposit actor per deposit. All state lives in the run
// goroutine and is reached through the inbox.
type Session struct {
	deps   *Deps
	logger *slog.Logger
	id     string
	asset  string

	inbox  chan sessionEvent
	done   chan struct{}
	cancel context.CancelFunc
	start  sync.Once

	gs               GatewaySession
	deposits         map[string]*Deposit
	signatureRequest string
	depositCtx       context.Context
	depositCancel    context.CancelFunc
	watchCancel      context.CancelFunc
	createCancel     context.CancelFunc
	expiry           *time.Timer

	final GatewaySession
}

// New builds a session over gs. Call Start to run it.
func New(deps Deps, gs GatewaySession) (*Session, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return newSession(d, gs), nil
}

func newSession(deps *Deps, gs GatewaySession) *Session {
	gs = gs.Clone()
	if gs.Transactions == nil {
		gs.Transactions = make(map[string]GatewayTransaction)
	}
	return &Session{
		deps:     deps,
		logger:   deps.Logger.With(slog.String("session", gs.ID), slog.String("asset", gs.Asset)),
		id:       gs.ID,
		asset:    gs.Asset,
		inbox:    make(chan sessionEvent, sessionInboxSize),
		done:     make(chan struct{}),
		gs:       gs,
		deposits: make(map[string]*Deposit),
		final:    gs,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start runs the session until ctx is cancelled, Stop is called or the session completes.
func (s *Session) Start(ctx context.Context) {
	s.start.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// Stop cancels the session and waits for it to exit.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the current session record.
func (s *Session) Snapshot() GatewaySession {
	reply := make(chan GatewaySession, 1)
	select {
	case s.inbox <- sessionEvent{kind: sevSnapshot, snapshot: reply}:
	case <-s.done:
		return s.final.Clone()
	}
	select {
	case gs := <-reply:
		return gs
	case <-s.done:
		return s.final.Clone()
	}
}

// Claim asks the deposit identified by hash to mint on the destination chain.
func (s *Session) Claim(hash string) error { return s.command(cmdClaim, hash) }

// Reject abandons a signed deposit.
func (s *Session) Reject(hash string) error { return s.command(cmdReject, hash) }

// Acknowledge marks a submitted mint as seen by the user, completing the deposit.
func (s *Session) Acknowledge(hash string) error { return s.command(cmdAcknowledge, hash) }

// Retry re-runs gateway creation or listening after a failure.
func (s *Session) Retry() error { return s.command(cmdRetry, "") }

// RetryDeposit re-runs the failed step of a deposit.
func (s *Session) RetryDeposit(hash string) error { return s.command(cmdRetryDeposit, hash) }

func (s *Session) command(kind commandKind, hash string) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- sessionEvent{kind: sevCommand, cmd: kind, hash: hash, reply: reply}:
	case <-s.done:
		return ErrSessionStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionStopped
	}
}

func (s *Session) post(ctx context.Context, ev sessionEvent) {
	select {
	case s.inbox <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) run(ctx context.Context) {
	s.deps.Metrics.SessionStarted(s.asset)
	defer func() {
		s.teardown()
		s.cancel()
		s.final = s.gs.Clone()
		s.deps.Metrics.SessionStopped(s.asset)
		close(s.done)
	}()

	s.restore(ctx)
	for s.gs.State != SessionCompleted {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.inbox:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) restore(ctx context.Context) {
	s.gs.State = SessionRestoring
	switch {
	case s.gs.Expired(s.deps.Now()):
		s.complete(ctx, "expired")
	case s.gs.Created():
		if err := s.verifyGateway(); err != nil {
			s.failInit(ctx, "restore", err)
			return
		}
		s.armExpiry(ctx)
		s.listen(ctx)
	default:
		s.armExpiry(ctx)
		s.create(ctx)
	}
}

// verifyGateway recomputes the gateway hash and address from the persisted
// inputs so a tampered or corrupted record never receives more deposits.
func (s *Session) verifyGateway() error {
	if len(s.gs.ShardKey) == 0 {
		return nil
	}
	lock, err := s.deps.lockChain(s.gs.SourceChain)
	if err != nil {
		return err
	}
	gHash := mcrypto.GatewayHash(s.gs.PHash, s.gs.Token, common.HexToAddress(s.gs.DestAddress), s.gs.Nonce)
	if gHash != s.gs.GHash {
		return fmt.Errorf("incorrect gateway hash %s != %s", gHash.Hex(), s.gs.GHash.Hex())
	}
	addr, err := GatewayAddress(lock, s.gs.ShardKey, gHash)
	if err != nil {
		return err
	}
	if addr != s.gs.GatewayAddress {
		return fmt.Errorf("incorrect gateway address %s != %s", addr, s.gs.GatewayAddress)
	}
	return nil
}

func (s *Session) handle(ctx context.Context, ev sessionEvent) {
	switch ev.kind {
	case sevSnapshot:
		ev.snapshot <- s.gs.Clone()
	case sevCommand:
		ev.reply <- s.handleCommand(ctx, ev.cmd, ev.hash)
	case sevCreated:
		if s.gs.State != SessionCreating {
			return
		}
		s.createCancel = nil
		txs := s.gs.Transactions
		s.gs = ev.created
		s.gs.Transactions = txs
		s.logger.Info("gateway opened",
			slog.String("gateway", s.gs.GatewayAddress),
			logging.MaskField("dest_address", s.gs.DestAddress),
			logging.MaskField("nonce", s.gs.Nonce.Hex()))
		s.commit(ctx, events.TopicSessionCreated, s.gs.Clone())
		s.listen(ctx)
	case sevCreateError:
		if s.gs.State == SessionCreating {
			s.createCancel = nil
			s.failInit(ctx, "create", ev.err)
		}
	case sevDeposit:
		s.onDeposit(ctx, ev.deposit)
	case sevRemoved:
		if d, ok := s.deposits[ev.deposit.ID()]; ok {
			if err := d.send(depositEvent{kind: evRemoved, source: ev.deposit}); err != nil {
				s.logger.Warn("forward removal failed", slog.String("deposit", ev.deposit.ID()), slog.Any("error", err))
			}
		}
	case sevListenError:
		if s.listening() {
			s.stopWatcher()
			s.failInit(ctx, "listen", ev.err)
		}
	case sevExpired:
		s.complete(ctx, "expired")
	case sevUpdate:
		s.onUpdate(ctx, ev.update)
	}
}

func (s *Session) listening() bool {
	return s.gs.State == SessionListening || s.gs.State == SessionRequestingSignature
}

func (s *Session) handleCommand(ctx context.Context, kind commandKind, hash string) error {
	if kind == cmdRetry {
		if s.gs.State != SessionSrcInitializeError {
			return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.gs.State)
		}
		if s.gs.Created() {
			if err := s.verifyGateway(); err != nil {
				s.failInit(ctx, "restore", err)
				return err
			}
			s.listen(ctx)
		} else {
			s.create(ctx)
		}
		return nil
	}

	tx, ok := s.gs.Transactions[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDeposit, hash)
	}
	d, ok := s.deposits[hash]
	if !ok {
		return fmt.Errorf("%w: deposit %s is not running", ErrSessionStopped, hash)
	}
	var ev depositEvent
	switch kind {
	case cmdClaim:
		if tx.State != DepositAccepted && tx.State != DepositErrorSubmitting {
			return fmt.Errorf("%w: claim from %s", ErrInvalidTransition, tx.State)
		}
		ev.kind = evClaim
	case cmdReject:
		if tx.State != DepositAccepted && tx.State != DepositErrorSubmitting {
			return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, tx.State)
		}
		ev.kind = evReject
	case cmdAcknowledge:
		if tx.State != DepositDestInitiated {
			return fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, tx.State)
		}
		ev.kind = evAcknowledge
	case cmdRetryDeposit:
		switch tx.State {
		case DepositErrorRestoring, DepositErrorAccepting, DepositErrorSubmitting:
		default:
			return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, tx.State)
		}
		ev.kind = evRetry
	default:
		return fmt.Errorf("%w: unknown command", ErrInvalidTransition)
	}
	return d.send(ev)
}

func (s *Session) create(ctx context.Context) {
	s.gs.State = SessionCreating
	s.gs.Error = ""
	s.commit(ctx, events.TopicSessionUpdated, s.gs.Clone())

	gs := s.gs.Clone()
	wctx, cancel := context.WithCancel(ctx)
	s.createCancel = cancel
	go func() {
		opened, err := openGateway(wctx, s.deps, gs)
		if err != nil {
			s.post(wctx, sessionEvent{kind: sevCreateError, err: err})
			return
		}
		s.post(wctx, sessionEvent{kind: sevCreated, created: opened})
	}()
}

// openGateway fills in the nonce, token, gateway hash, shard key and gateway address.
func openGateway(ctx context.Context, deps *Deps, gs GatewaySession) (GatewaySession, error) {
	lock, err := deps.lockChain(gs.SourceChain)
	if err != nil {
		return gs, err
	}
	mint, err := deps.mintChain(gs.DestChain)
	if err != nil {
		return gs, err
	}
	if !common.IsHexAddress(gs.DestAddress) {
		return gs, fmt.Errorf("%w: %q", ErrInvalidDestination, gs.DestAddress)
	}
	if gs.Nonce == (common.Hash{}) {
		if gs.Nonce, err = deps.Nonce(deps.Now()); err != nil {
			return gs, err
		}
	}
	if gs.Token, err = mint.ResolveTokenAddress(gs.Asset); err != nil {
		return gs, fmt.Errorf("resolve token: %w", err)
	}
	gs.GHash = mcrypto.GatewayHash(gs.PHash, gs.Token, common.HexToAddress(gs.DestAddress), gs.Nonce)
	key, err := deps.Shards.SelectPublicKey(ctx, gs.Asset)
	if err != nil {
		return gs, fmt.Errorf("select shard: %w", err)
	}
	addr, err := GatewayAddress(lock, key, gs.GHash)
	if err != nil {
		return gs, err
	}
	if !lock.ValidateAddress(addr) {
		return gs, fmt.Errorf("%s rejected derived gateway address %s", lock.Name(), addr)
	}
	gs.ShardKey = key
	gs.GatewayAddress = addr
	return gs, nil
}

// GatewayAddress derives the deposit address for gHash on lock.
func GatewayAddress(lock chain.LockChain, shardKey []byte, gHash common.Hash) (string, error) {
	return mcrypto.GatewayAddress(shardKey, gHash, func(pub *mcrypto.PublicKey) (string, error) {
		return lock.AddressFromDerivedPoint(pub.Compressed())
	})
}

func (s *Session) failInit(ctx context.Context, stage string, err error) {
	s.gs.State = SessionSrcInitializeError
	s.gs.Error = err.Error()
	s.deps.Metrics.RecordError(s.asset, stage)
	s.logger.Error("gateway session failed", slog.String("stage", stage), slog.Any("error", err))
	s.commit(ctx, events.TopicSessionUpdated, s.gs.Clone())
}

func (s *Session) listen(ctx context.Context) {
	lock, err := s.deps.lockChain(s.gs.SourceChain)
	if err != nil {
		s.failInit(ctx, "listen", err)
		return
	}
	mint, err := s.deps.mintChain(s.gs.DestChain)
	if err != nil {
		s.failInit(ctx, "listen", err)
		return
	}
	s.gs.State = SessionListening
	s.gs.Error = ""
	s.refreshSignatureRequest()
	s.commit(ctx, events.TopicSessionUpdated, s.gs.Clone())

	if s.depositCtx == nil {
		s.depositCtx, s.depositCancel = context.WithCancel(ctx)
	}
	hashes := make([]string, 0, len(s.gs.Transactions))
	for hash := range s.gs.Transactions {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	for _, hash := range hashes {
		s.spawnDeposit(lock, mint, s.gs.Transactions[hash])
	}

	wctx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	w := s.deps.Watcher(lock)
	asset, addr := s.gs.Asset, s.gs.GatewayAddress
	go func() {
		err := w.Watch(wctx, asset, addr,
			func(tx chain.DepositTx) { s.post(wctx, sessionEvent{kind: sevDeposit, deposit: tx}) },
			func(tx chain.DepositTx) { s.post(wctx, sessionEvent{kind: sevRemoved, deposit: tx}) },
			nil)
		if err != nil && wctx.Err() == nil {
			s.post(wctx, sessionEvent{kind: sevListenError, err: err})
		}
	}()
}

func (s *Session) spawnDeposit(lock chain.LockChain, mint chain.MintChain, tx GatewayTransaction) {
	if _, ok := s.deposits[tx.SourceTxHash]; ok {
		return
	}
	d := newDeposit(s.deps, transferOf(s.gs), lock, mint, tx, s.fromDeposit)
	s.deposits[tx.SourceTxHash] = d
	d.start(s.depositCtx)
}

func (s *Session) fromDeposit(ctx context.Context, u depositUpdate) {
	s.post(ctx, sessionEvent{kind: sevUpdate, update: u})
}

func (s *Session) onDeposit(ctx context.Context, src chain.DepositTx) {
	if !s.listening() {
		return
	}
	hash := src.ID()
	if d, ok := s.deposits[hash]; ok {
		if err := d.send(depositEvent{kind: evObserved, source: src}); err != nil {
			s.logger.Warn("forward deposit update failed", slog.String("deposit", hash), slog.Any("error", err))
		}
		return
	}
	tx := GatewayTransaction{
		SourceTxHash:   hash,
		SourceTxAmount: src.Amount,
		SourceTxConfs:  src.Confirmations,
		RawSourceTx:    src,
		DetectedAt:     s.deps.Now(),
		State:          DepositRestoring,
	}
	s.gs.Transactions[hash] = tx
	s.logger.Info("deposit detected", slog.String("deposit", hash), slog.String("amount", amountString(src)))
	s.commit(ctx, events.TopicDepositDetected, s.depositEvent(tx))

	lock, _ := s.deps.lockChain(s.gs.SourceChain)
	mint, _ := s.deps.mintChain(s.gs.DestChain)
	s.spawnDeposit(lock, mint, tx)
}

func amountString(src chain.DepositTx) string {
	if src.Amount == nil {
		return "0"
	}
	return src.Amount.String()
}

func (s *Session) onUpdate(ctx context.Context, u depositUpdate) {
	hash := u.tx.SourceTxHash
	if _, ok := s.deposits[hash]; !ok || s.gs.State == SessionCompleted {
		return
	}
	s.gs.Transactions[hash] = u.tx
	if s.listening() {
		s.refreshSignatureRequest()
	}
	payload := s.depositEvent(u.tx)
	switch u.kind {
	case updateClaimable:
		s.commit(ctx, events.TopicDepositClaimable, payload)
	case updateRemoved:
		s.commit(ctx, events.TopicDepositRemoved, payload)
	case updateCompleted:
		s.commit(ctx, events.TopicDepositCompleted, payload)
		if s.completionHolds(hash) {
			s.complete(ctx, "deposit completed")
		}
	default:
		s.commit(ctx, events.TopicDepositUpdated, payload)
	}
}

// refreshSignatureRequest keeps the session in requestingSignature while any
// deposit is waiting for a claim or reject decision.
func (s *Session) refreshSignatureRequest() {
	awaiting := func(st DepositState) bool {
		return st == DepositAccepted || st == DepositErrorSubmitting
	}
	if tx, ok := s.gs.Transactions[s.signatureRequest]; !ok || !awaiting(tx.State) {
		s.signatureRequest = ""
		hashes := make([]string, 0, len(s.gs.Transactions))
		for hash, tx := range s.gs.Transactions {
			if awaiting(tx.State) {
				hashes = append(hashes, hash)
			}
		}
		if len(hashes) > 0 {
			sort.Strings(hashes)
			s.signatureRequest = hashes[0]
		}
	}
	if s.signatureRequest != "" {
		s.gs.State = SessionRequestingSignature
	} else {
		s.gs.State = SessionListening
	}
}

// completionHolds reports whether the session is done: the finished deposit has
// completed and no other deposit is still in flight.
func (s *Session) completionHolds(hash string) bool {
	if s.gs.Transactions[hash].State != DepositCompleted {
		return false
	}
	for other, tx := range s.gs.Transactions {
		if other != hash && !tx.State.Terminal() {
			return false
		}
	}
	return true
}

func (s *Session) complete(ctx context.Context, reason string) {
	if s.gs.State == SessionCompleted {
		return
	}
	s.teardown()
	s.gs.State = SessionCompleted
	s.signatureRequest = ""
	s.logger.Info("gateway session completed", slog.String("reason", reason))
	s.commit(ctx, events.TopicSessionCompleted, s.gs.Clone())
}

func (s *Session) armExpiry(ctx context.Context) {
	if s.gs.ExpiryTime.IsZero() || s.expiry != nil {
		return
	}
	wait := s.gs.ExpiryTime.Sub(s.deps.Now())
	s.expiry = time.AfterFunc(wait, func() {
		s.post(ctx, sessionEvent{kind: sevExpired})
	})
}

func (s *Session) stopWatcher() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

// teardown stops every goroutine the session started and waits for the deposits.
func (s *Session) teardown() {
	if s.expiry != nil {
		s.expiry.Stop()
	}
	if s.createCancel != nil {
		s.createCancel()
		s.createCancel = nil
	}
	s.stopWatcher()
	if s.depositCancel != nil {
		s.depositCancel()
	}
	for _, d := range s.deposits {
		<-d.done
	}
}

func (s *Session) depositEvent(tx GatewayTransaction) DepositEvent {
	return DepositEvent{SessionID: s.id, Asset: s.asset, GatewayAddress: s.gs.GatewayAddress, Transaction: tx}
}

// commit persists the session and publishes payload on topic.
func (s *Session) commit(ctx context.Context, topic string, payload any) {
	s.gs.UpdatedAt = s.deps.Now()
	persistCtx := context.WithoutCancel(ctx)
	if err := s.deps.Store.Save(persistCtx, s.gs.Clone()); err != nil {
		s.deps.Metrics.RecordError(s.asset, "persist")
		s.logger.Error("persist session failed", slog.Any("error", err))
	}
	if gs, ok := payload.(GatewaySession); ok {
		gs.UpdatedAt = s.gs.UpdatedAt
		payload = gs
	}
	s.deps.publish(persistCtx, topic, payload)
}
