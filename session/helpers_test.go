package session

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"mintgate/chain"
	mcrypto "mintgate/crypto"
	"mintgate/events"
	"mintgate/network"
)

var (
	testNow   = time.Date(2021, 4, 19, 12, 0, 0, 0, time.UTC)
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000b7")
	testDest  = common.HexToAddress("0xEA8b2fF0d7f546AFAeAE1771306736357dEFa434")
	testNonce = common.HexToHash("0x2020202020202020202020202020202020202020202020202020202034393330")
	testTxID  = strings.Repeat("ab", 32)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func immediateSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// fakeNetwork records submitted mints and answers WaitForTx through respond.
type fakeNetwork struct {
	mu        sync.Mutex
	submitted map[string]network.Tx
	block     bool
	respond   func(tx network.Tx) (network.Tx, error)
}

func (f *fakeNetwork) SubmitOrFind(ctx context.Context, tx network.Tx) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitted == nil {
		f.submitted = make(map[string]network.Tx)
	}
	f.submitted[tx.Hash] = tx
	return tx.Hash, nil
}

func (f *fakeNetwork) WaitForTx(ctx context.Context, hash string, onStatus func(network.TxStatus)) (network.Tx, error) {
	f.mu.Lock()
	tx := f.submitted[hash]
	f.mu.Unlock()
	if onStatus != nil {
		onStatus(network.TxStatusDone)
	}
	return f.respond(tx)
}

// signedResponse completes a submitted mint the way the network does: signing
// inputs in autogen and a signature in out. highS returns the malleated twin.
func signedResponse(t *testing.T, key *mcrypto.PrivateKey, tx network.Tx, amount *big.Int, highS bool) network.Tx {
	t.Helper()
	m, err := tx.DecodeMint()
	require.NoError(t, err)
	nHash := common.HexToHash("0x6e6f6e6365")
	sigHash, err := mcrypto.SignatureHash(m.PHash, amount, m.Token, m.To, nHash)
	require.NoError(t, err)
	raw, err := ethcrypto.Sign(sigHash.Bytes(), key.PrivateKey)
	require.NoError(t, err)
	sig, err := mcrypto.ParseSignature(raw)
	require.NoError(t, err)
	sig = mcrypto.Normalize(sig)
	if highS {
		n := ethcrypto.S256().Params().N
		s := new(big.Int).Sub(n, new(big.Int).SetBytes(sig.S.Bytes()))
		sig.S = common.BigToHash(s)
		if sig.V == 27 {
			sig.V = 28
		} else {
			sig.V = 27
		}
	}
	tx.Autogen = network.Args{
		network.BytesArg("ghash", "b32", common.HexToHash("0x01").Bytes()),
		network.BytesArg("nhash", "b32", nHash.Bytes()),
		network.BytesArg("sighash", "b32", sigHash.Bytes()),
		network.UintArg("amount", "u256", amount),
	}
	tx.Out = network.Args{
		network.BytesArg("r", "b32", sig.R.Bytes()),
		network.BytesArg("s", "b32", sig.S.Bytes()),
		network.UintArg("v", "u8", big.NewInt(int64(sig.V))),
	}
	return tx
}

type shardFunc func(ctx context.Context, asset string) ([]byte, error)

func (f shardFunc) SelectPublicKey(ctx context.Context, asset string) ([]byte, error) {
	return f(ctx, asset)
}

func staticShard(key []byte) ShardSelector {
	return shardFunc(func(context.Context, string) ([]byte, error) { return key, nil })
}

// scriptedWatcher forwards whatever the test pushes into its channels.
type scriptedWatcher struct {
	deposits chan chain.DepositTx
	removals chan chain.DepositTx
}

func newScriptedWatcher() *scriptedWatcher {
	return &scriptedWatcher{deposits: make(chan chain.DepositTx), removals: make(chan chain.DepositTx)}
}

func (w *scriptedWatcher) Watch(ctx context.Context, _, _ string, onDeposit, onRemove func(chain.DepositTx), _ func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-w.deposits:
			onDeposit(d)
		case d := <-w.removals:
			onRemove(d)
		}
	}
}

func blockingConfidence(ctx context.Context, _ chain.DepositTx) (chain.Confidence, error) {
	<-ctx.Done()
	return chain.Confidence{}, ctx.Err()
}

func testLock(confidence func(context.Context, chain.DepositTx) (chain.Confidence, error)) chain.FuncLockChain {
	return chain.FuncLockChain{ChainName: "Bitcoin", ConfidenceFunc: confidence}
}

func testDeps(t *testing.T, d Deps) *Deps {
	t.Helper()
	if d.Shards == nil {
		key, err := mcrypto.GeneratePrivateKey()
		require.NoError(t, err)
		d.Shards = staticShard(key.PubKey().Compressed())
	}
	if d.Logger == nil {
		d.Logger = quietLogger()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return testNow }
	}
	if d.Sleep == nil {
		d.Sleep = immediateSleep
	}
	if d.Publisher == nil {
		d.Publisher = &events.NoopPublisher{}
	}
	if d.Authority == (common.Address{}) {
		key, err := mcrypto.GeneratePrivateKey()
		require.NoError(t, err)
		d.Authority = key.PubKey().Address()
	}
	deps, err := d.withDefaults()
	require.NoError(t, err)
	return deps
}

func testTransfer() transfer {
	return transfer{
		sessionID:   "tx-test",
		asset:       "BTC",
		sourceChain: "bitcoin",
		destChain:   "ethereum",
		token:       testToken,
		to:          testDest,
		nonce:       testNonce,
	}
}

func freshTx() GatewayTransaction {
	src := chain.DepositTx{TxID: testTxID, Index: 0, Amount: big.NewInt(10000), Confirmations: 0}
	return GatewayTransaction{
		SourceTxHash:   src.ID(),
		SourceTxAmount: src.Amount,
		RawSourceTx:    src,
		DetectedAt:     testNow,
		State:          DepositRestoring,
	}
}

type depositHarness struct {
	d       *Deposit
	updates chan depositUpdate
}

func startDeposit(t *testing.T, deps *Deps, lock chain.LockChain, mint chain.MintChain, tx GatewayTransaction) *depositHarness {
	t.Helper()
	h := &depositHarness{updates: make(chan depositUpdate, 64)}
	h.d = newDeposit(deps, testTransfer(), lock, mint, tx, func(ctx context.Context, u depositUpdate) {
		select {
		case h.updates <- u:
		case <-ctx.Done():
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.d.start(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.d.done
	})
	return h
}

func (h *depositHarness) next(t *testing.T) depositUpdate {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for deposit update")
		return depositUpdate{}
	}
}

func (h *depositHarness) until(t *testing.T, state DepositState) depositUpdate {
	t.Helper()
	for {
		if u := h.next(t); u.tx.State == state {
			return u
		}
	}
}

func (h *depositHarness) send(t *testing.T, kind depositEventKind) {
	t.Helper()
	require.NoError(t, h.d.send(depositEvent{kind: kind}))
}

// waitTopic drains sub until topic arrives and returns every topic seen.
func waitTopic(t *testing.T, sub <-chan events.Message, topic string) []string {
	t.Helper()
	var seen []string
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				t.Fatalf("subscription closed before %s; saw %v", topic, seen)
			}
			seen = append(seen, msg.Topic)
			if msg.Topic == topic {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; saw %v", topic, seen)
		}
	}
}

// withSignatureHash re-signs resp over hash and reports hash as its sighash, the
// way a network that changed its signing payload answers.
func withSignatureHash(t *testing.T, key *mcrypto.PrivateKey, resp network.Tx, hash common.Hash) network.Tx {
	t.Helper()
	raw, err := ethcrypto.Sign(hash.Bytes(), key.PrivateKey)
	require.NoError(t, err)
	sig, err := mcrypto.ParseSignature(raw)
	require.NoError(t, err)
	sig = mcrypto.Normalize(sig)
	autogen := make(network.Args, 0, len(resp.Autogen))
	for _, arg := range resp.Autogen {
		if arg.Name == "sighash" {
			arg = network.BytesArg("sighash", "b32", hash.Bytes())
		}
		autogen = append(autogen, arg)
	}
	resp.Autogen = autogen
	resp.Out = network.Args{
		network.BytesArg("r", "b32", sig.R.Bytes()),
		network.BytesArg("s", "b32", sig.S.Bytes()),
		network.UintArg("v", "u8", big.NewInt(int64(sig.V))),
	}
	return resp
}
