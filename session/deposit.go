package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mintgate/chain"
	mcrypto "mintgate/crypto"
	"mintgate/network"
)

const depositInboxSize = 32

var (
	errDepositRemoved   = errors.New("deposit removed from source chain")
	errMissingSignature = errors.New("network transaction carries no signature")
	errMissingInputs    = errors.New("network transaction carries no signing inputs")
)

type depositEventKind int

const (
	evConfirmation depositEventKind = iota + 1
	evObserved
	evSigned
	evSignError
	evReverted
	evClaim
	evReject
	evSubmitted
	evSubmitError
	evAcknowledge
	evRetry
	evRemoved
)

func (k depositEventKind) String() string {
	switch k {
	case evConfirmation:
		return "CONFIRMATION"
	case evObserved:
		return "OBSERVED"
	case evSigned:
		return "SIGNED"
	case evSignError:
		return "SIGN_ERROR"
	case evReverted:
		return "REVERTED"
	case evClaim:
		return "CLAIM"
	case evReject:
		return "REJECT"
	case evSubmitted:
		return "SUBMITTED"
	case evSubmitError:
		return "SUBMIT_ERROR"
	case evAcknowledge:
		return "ACKNOWLEDGE"
	case evRetry:
		return "RETRY"
	case evRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type depositEvent struct {
	kind       depositEventKind
	gen        uint64
	confidence chain.Confidence
	source     chain.DepositTx
	signed     signResult
	destTxHash string
	err        error
}

type signResult struct {
	networkTxHash string
	nHash         common.Hash
	sigHash       common.Hash
	amount        *big.Int
	signature     []byte
}

type updateKind int

const (
	updateChanged updateKind = iota
	updateClaimable
	updateCompleted
	updateRemoved
)

type depositUpdate struct {
	kind updateKind
	tx   GatewayTransaction
}

// transfer is the immutable part of a session every deposit needs.
type transfer struct {
	sessionID   string
	asset       string
	sourceChain string
	destChain   string
	pHash       common.Hash
	token       common.Address
	to          common.Address
	nonce       common.Hash
}

func transferOf(s GatewaySession) transfer {
	return transfer{
		sessionID:   s.ID,
		asset:       s.Asset,
		sourceChain: s.SourceChain,
		destChain:   s.DestChain,
		pHash:       s.PHash,
		token:       s.Token,
		to:          common.HexToAddress(s.DestAddress),
		nonce:       s.Nonce,
	}
}

// Deposit tracks one lock-chain deposit from detection to completion. Its state
// is owned by the run goroutine; everything else talks to it through the inbox.
type Deposit struct {
	deps   *Deps
	xfer   transfer
	lock   chain.LockChain
	mint   chain.MintChain
	logger *slog.Logger
	notify func(context.Context, depositUpdate)

	inbox chan depositEvent
	done  chan struct{}

	tx         GatewayTransaction
	gen        uint64
	stopWorker context.CancelFunc
}

func newDeposit(deps *Deps, xfer transfer, lock chain.LockChain, mint chain.MintChain, tx GatewayTransaction, notify func(context.Context, depositUpdate)) *Deposit {
	return &Deposit{
		deps:   deps,
		xfer:   xfer,
		lock:   lock,
		mint:   mint,
		logger: deps.Logger.With(slog.String("session", xfer.sessionID), slog.String("deposit", tx.SourceTxHash)),
		notify: notify,
		inbox:  make(chan depositEvent, depositInboxSize),
		done:   make(chan struct{}),
		tx:     tx,
	}
}

func (d *Deposit) start(ctx context.Context) {
	go d.run(ctx)
}

// send delivers ev without blocking the caller.
func (d *Deposit) send(ev depositEvent) error {
	select {
	case <-d.done:
		return ErrSessionStopped
	default:
	}
	select {
	case d.inbox <- ev:
		return nil
	default:
		return ErrDepositBusy
	}
}

func (d *Deposit) run(ctx context.Context) {
	defer close(d.done)
	defer d.cancelWorker()

	d.restore(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.inbox:
			if ev.gen != 0 && ev.gen != d.gen {
				continue
			}
			d.handle(ctx, ev)
		}
	}
}

// restore routes a new or persisted deposit to the furthest state its record proves.
// Persisted confirmations count as settled once they reach the target.
func (d *Deposit) restore(ctx context.Context) {
	if d.tx.State.Terminal() {
		d.emit(ctx, updateChanged)
		return
	}
	d.tx.State = DepositRestoring
	if err := validateRecord(d.tx); err != nil {
		d.fail(ctx, DepositErrorRestoring, "restore", err)
		return
	}
	switch {
	case d.tx.DestTxHash != "":
		d.enter(ctx, DepositDestInitiated)
	case d.tx.Signed():
		d.enter(ctx, DepositAccepted)
	case d.tx.SourceTxConfTarget > 0 && d.tx.SourceTxConfs >= d.tx.SourceTxConfTarget:
		d.enter(ctx, DepositSrcConfirmed)
	default:
		d.enter(ctx, DepositSrcSettling)
	}
}

func validateRecord(tx GatewayTransaction) error {
	if tx.SourceTxHash == "" {
		return errors.New("deposit has no source transaction hash")
	}
	if tx.RawSourceTx.TxID == "" {
		return errors.New("deposit has no raw source transaction")
	}
	if tx.RawSourceTx.Amount == nil || tx.RawSourceTx.Amount.Sign() <= 0 {
		return errors.New("deposit amount must be positive")
	}
	return nil
}

func (d *Deposit) handle(ctx context.Context, ev depositEvent) {
	if ev.kind == evObserved && !d.tx.State.Terminal() {
		d.observe(ctx, ev.source)
		return
	}
	switch d.tx.State {
	case DepositSrcSettling:
		switch ev.kind {
		case evConfirmation:
			d.confirm(ctx, ev.confidence)
			return
		case evRemoved:
			d.tx.Error = errDepositRemoved.Error()
			d.emit(ctx, updateRemoved)
			return
		}
	case DepositSrcConfirmed:
		switch ev.kind {
		case evSigned:
			d.tx.NetworkTxHash = ev.signed.networkTxHash
			d.tx.NHash = ev.signed.nHash
			d.tx.SigHash = ev.signed.sigHash
			d.tx.Amount = ev.signed.amount
			d.tx.Signature = ev.signed.signature
			d.enter(ctx, DepositAccepted)
			return
		case evSignError:
			d.fail(ctx, DepositErrorAccepting, "sign", ev.err)
			return
		case evReverted:
			d.fail(ctx, DepositRejected, "sign", ev.err)
			return
		}
	case DepositErrorRestoring:
		if ev.kind == evRetry {
			d.tx.Error = ""
			d.restore(ctx)
			return
		}
	case DepositErrorAccepting:
		if ev.kind == evRetry {
			d.enter(ctx, DepositSrcConfirmed)
			return
		}
	case DepositAccepted, DepositErrorSubmitting:
		switch ev.kind {
		case evClaim:
			d.enter(ctx, DepositClaiming)
			return
		case evRetry:
			if d.tx.State == DepositErrorSubmitting {
				d.enter(ctx, DepositClaiming)
				return
			}
		case evReject:
			d.enter(ctx, DepositRejected)
			return
		}
	case DepositClaiming:
		switch ev.kind {
		case evSubmitted:
			d.tx.DestTxHash = ev.destTxHash
			d.enter(ctx, DepositDestInitiated)
			return
		case evSubmitError:
			d.fail(ctx, DepositErrorSubmitting, "claim", ev.err)
			return
		}
	case DepositDestInitiated:
		if ev.kind == evAcknowledge {
			d.tx.CompletedAt = d.deps.Now()
			d.enter(ctx, DepositCompleted)
			return
		}
	}
	d.logger.Debug("deposit ignored event", slog.String("state", string(d.tx.State)), slog.String("event", ev.kind.String()))
}

func (d *Deposit) observe(ctx context.Context, src chain.DepositTx) {
	d.tx.RawSourceTx = src
	if src.Confirmations > d.tx.SourceTxConfs {
		d.tx.SourceTxConfs = src.Confirmations
	}
	if d.tx.State == DepositSrcSettling && d.tx.Error == errDepositRemoved.Error() {
		d.tx.Error = ""
	}
	d.emit(ctx, updateChanged)
}

// confirm merges a confidence reading. Counts never decrease and the deposit is
// confirmed only once it is strictly past its target.
func (d *Deposit) confirm(ctx context.Context, c chain.Confidence) {
	if c.Target <= 0 {
		c.Target = d.tx.SourceTxConfTarget
		if c.Target <= 0 {
			c.Target = d.deps.ConfirmationTarget
		}
	}
	merged := chain.Confidence{
		Current: max(d.tx.SourceTxConfs, c.Current),
		Target:  max(d.tx.SourceTxConfTarget, c.Target),
	}
	changed := merged.Current != d.tx.SourceTxConfs || merged.Target != d.tx.SourceTxConfTarget
	d.tx.SourceTxConfs, d.tx.SourceTxConfTarget = merged.Current, merged.Target
	if merged.Confirmed() {
		d.enter(ctx, DepositSrcConfirmed)
		return
	}
	if changed {
		d.emit(ctx, updateChanged)
	}
}

func (d *Deposit) fail(ctx context.Context, state DepositState, stage string, err error) {
	d.tx.Error = err.Error()
	d.deps.Metrics.RecordError(d.xfer.asset, stage)
	d.logger.Warn("deposit failed", slog.String("stage", stage), slog.String("state", string(state)), slog.Any("error", err))
	d.enter(ctx, state)
}

func (d *Deposit) enter(ctx context.Context, state DepositState) {
	d.cancelWorker()
	d.tx.State = state
	switch state {
	case DepositErrorRestoring, DepositErrorAccepting, DepositErrorSubmitting, DepositRejected:
	default:
		d.tx.Error = ""
	}
	d.deps.Metrics.RecordTransition(d.xfer.asset, string(state))
	d.logger.Info("deposit state changed", slog.String("state", string(state)))

	switch state {
	case DepositSrcSettling:
		d.emit(ctx, updateChanged)
		d.spawn(ctx, d.settle(d.tx.RawSourceTx))
	case DepositSrcConfirmed:
		mtx, err := d.mintTx()
		if err != nil {
			d.fail(ctx, DepositErrorAccepting, "sign", err)
			return
		}
		d.tx.NetworkTxHash = mtx.Hash
		d.emit(ctx, updateChanged)
		d.spawn(ctx, func(wctx context.Context, post func(depositEvent)) {
			post(d.sign(wctx, mtx))
		})
	case DepositAccepted, DepositErrorSubmitting:
		d.emit(ctx, updateClaimable)
	case DepositClaiming:
		d.emit(ctx, updateChanged)
		req := chain.ClaimRequest{
			Asset:     d.xfer.asset,
			PHash:     d.xfer.pHash,
			Amount:    d.tx.Amount,
			NHash:     d.tx.NHash,
			SigHash:   d.tx.SigHash,
			Signature: append([]byte(nil), d.tx.Signature...),
			To:        d.xfer.to,
		}
		d.spawn(ctx, func(wctx context.Context, post func(depositEvent)) {
			post(d.claim(wctx, req))
		})
	case DepositCompleted:
		d.emit(ctx, updateCompleted)
	default:
		d.emit(ctx, updateChanged)
	}
}

func (d *Deposit) emit(ctx context.Context, kind updateKind) {
	if d.notify != nil {
		d.notify(ctx, depositUpdate{kind: kind, tx: d.tx})
	}
}

// spawn runs fn in a worker goroutine whose events are dropped once the deposit
// has moved on.
func (d *Deposit) spawn(ctx context.Context, fn func(ctx context.Context, post func(depositEvent))) {
	wctx, cancel := context.WithCancel(ctx)
	d.gen++
	gen := d.gen
	d.stopWorker = cancel
	post := func(ev depositEvent) {
		ev.gen = gen
		select {
		case d.inbox <- ev:
		case <-wctx.Done():
		}
	}
	go fn(wctx, post)
}

func (d *Deposit) cancelWorker() {
	if d.stopWorker != nil {
		d.stopWorker()
		d.stopWorker = nil
	}
}

func (d *Deposit) settle(raw chain.DepositTx) func(context.Context, func(depositEvent)) {
	return func(ctx context.Context, post func(depositEvent)) {
		for {
			c, err := d.lock.TransactionConfidence(ctx, raw)
			switch {
			case err == nil:
				post(depositEvent{kind: evConfirmation, confidence: c})
			case ctx.Err() != nil:
				return
			default:
				d.logger.Warn("read deposit confidence failed", slog.Any("error", err))
			}
			if err := d.deps.Sleep(ctx, d.deps.ConfirmationInterval); err != nil {
				return
			}
		}
	}
}

func (d *Deposit) mintTx() (network.Tx, error) {
	txid, err := chain.TransactionID(d.lock, d.tx.RawSourceTx)
	if err != nil {
		return network.Tx{}, err
	}
	return network.NewMintTx(network.MintParams{
		Contract: network.MintContract(d.xfer.asset, d.xfer.sourceChain, d.xfer.destChain),
		PHash:    d.xfer.pHash,
		Token:    d.xfer.token,
		To:       d.xfer.to,
		Nonce:    d.xfer.nonce,
		UTXOTxID: txid,
		VOut:     d.tx.RawSourceTx.Index,
	}), nil
}

// sign submits the mint to the network, waits for it to execute and validates
// the returned signature against the mint authority.
func (d *Deposit) sign(ctx context.Context, mtx network.Tx) depositEvent {
	start := d.deps.Now()
	hash, err := d.deps.Network.SubmitOrFind(ctx, mtx)
	if err != nil {
		return depositEvent{kind: evSignError, err: err}
	}
	res, err := d.deps.Network.WaitForTx(ctx, hash, func(status network.TxStatus) {
		d.logger.Debug("network transaction status", slog.String("hash", hash), slog.String("status", string(status)))
	})
	if errors.Is(err, network.ErrTxReverted) {
		return depositEvent{kind: evReverted, err: err}
	}
	if err != nil {
		return depositEvent{kind: evSignError, err: err}
	}
	m, err := res.DecodeMint()
	if err != nil {
		return depositEvent{kind: evSignError, err: err}
	}
	if m.Amount == nil {
		return depositEvent{kind: evSignError, err: errMissingInputs}
	}
	if m.Signature == nil {
		return depositEvent{kind: evSignError, err: errMissingSignature}
	}
	expected, err := mcrypto.SignatureHash(m.PHash, m.Amount, m.Token, m.To, m.NHash)
	if err != nil {
		return depositEvent{kind: evSignError, err: err}
	}
	// The signature covers the hash the network reports. A differing local hash
	// is only logged.
	sigHash := m.SigHash
	if sigHash == (common.Hash{}) {
		sigHash = expected
	} else {
		mcrypto.CheckSignatureHash(d.logger, expected, sigHash)
	}
	sig, err := mcrypto.ValidateSignature(*m.Signature, sigHash, d.deps.Authority)
	if err != nil {
		return depositEvent{kind: evSignError, err: err}
	}
	d.deps.Metrics.ObserveSignLatency(d.xfer.asset, d.deps.Now().Sub(start))
	return depositEvent{kind: evSigned, signed: signResult{
		networkTxHash: hash,
		nHash:         m.NHash,
		sigHash:       sigHash,
		amount:        m.Amount,
		signature:     sig.Bytes(),
	}}
}

// claim mints on the destination chain unless a mint for the same signature
// already exists there.
func (d *Deposit) claim(ctx context.Context, req chain.ClaimRequest) depositEvent {
	existing, err := d.mint.FindBySignatureHash(ctx, req.Asset, req.SigHash)
	switch {
	case err == nil && existing != nil:
		d.logger.Info("deposit already minted", slog.String("dest_tx", existing.Hash))
		return depositEvent{kind: evSubmitted, destTxHash: existing.Hash}
	case err != nil && !errors.Is(err, chain.ErrNotSupported):
		d.logger.Warn("lookup of existing mint failed", slog.Any("error", err))
	}
	hash, err := d.mint.SubmitClaim(ctx, req)
	if err != nil {
		return depositEvent{kind: evSubmitError, err: err}
	}
	return depositEvent{kind: evSubmitted, destTxHash: hash}
}
