package session

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"mintgate/events"
)

func TestManagerCreateIsIdempotent(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	m, err := NewManager(f.deps)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	first, err := m.Create(context.Background(), testParams())
	require.NoError(t, err)
	second, err := m.Create(context.Background(), testParams())
	require.NoError(t, err)
	require.Same(t, first, second)

	got, ok := m.Get(first.ID())
	require.True(t, ok)
	require.Same(t, first, got)
	require.Len(t, m.List(), 1)
}

func TestManagerCreateRejectsUnknownChain(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	m, err := NewManager(f.deps)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	p := testParams()
	p.DestChain = "solana"
	_, err = m.Create(context.Background(), p)
	require.ErrorIs(t, err, ErrUnknownChain)
	require.Empty(t, m.List())
}

// openedSession returns a persisted record whose gateway was already derived.
func openedSession(t *testing.T, id string) GatewaySession {
	t.Helper()
	gs, err := NewGatewaySession(testParams(), testNow)
	require.NoError(t, err)
	gs.ID = id
	gs.Nonce = testNonce
	gs.Token = testToken
	gs.GatewayAddress = "gateway-" + id
	gs.State = SessionListening
	return gs
}

func signedTx(txid string) GatewayTransaction {
	tx := freshTx()
	tx.RawSourceTx.TxID = txid
	tx.SourceTxHash = tx.RawSourceTx.ID()
	tx.SourceTxConfs, tx.SourceTxConfTarget = 7, 6
	tx.NHash = common.HexToHash("0x01")
	tx.SigHash = common.HexToHash("0x02")
	tx.Amount = big.NewInt(9000)
	tx.Signature = make([]byte, 65)
	tx.State = DepositAccepted
	return tx
}

func TestManagerRestore(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	store := NewMemStore()
	f.deps.Store = store
	ctx := context.Background()

	done := openedSession(t, "tx-done")
	done.State = SessionCompleted
	require.NoError(t, store.Save(ctx, done))

	pending := openedSession(t, "tx-pending")
	tx := signedTx(testTxID)
	pending.Transactions[tx.SourceTxHash] = tx
	require.NoError(t, store.Save(ctx, pending))

	m, err := NewManager(f.deps)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	n, err := m.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, ok := m.Get("tx-done")
	require.False(t, ok, "completed sessions are not restarted")

	s, ok := m.Get("tx-pending")
	require.True(t, ok)
	waitTopic(t, f.sub, events.TopicDepositClaimable)
	require.Eventually(t, func() bool {
		return s.Snapshot().State == SessionRequestingSignature
	}, 3*time.Second, 10*time.Millisecond)

	again, err := m.Restore(ctx)
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestManagerRestoreKeepsCompletedDepositQuiet(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	store := NewMemStore()
	f.deps.Store = store
	ctx := context.Background()

	gs := openedSession(t, "tx-quiet")
	tx := signedTx(testTxID)
	tx.DestTxHash = "0xdest"
	tx.State = DepositCompleted
	gs.Transactions[tx.SourceTxHash] = tx
	require.NoError(t, store.Save(ctx, gs))

	m, err := NewManager(f.deps)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	_, err = m.Restore(ctx)
	require.NoError(t, err)
	s, ok := m.Get("tx-quiet")
	require.True(t, ok)

	waitTopic(t, f.sub, events.TopicDepositUpdated)
	require.Never(t, func() bool {
		select {
		case <-s.Done():
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond, "a restored completed deposit does not complete the session")
	require.Equal(t, SessionListening, s.Snapshot().State)
}

func TestManagerShutdownStopsSessions(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	m, err := NewManager(f.deps)
	require.NoError(t, err)

	s, err := m.Create(context.Background(), testParams())
	require.NoError(t, err)
	waitTopic(t, f.sub, events.TopicSessionCreated)

	m.Shutdown()
	select {
	case <-s.Done():
	default:
		t.Fatalf("session still running after shutdown")
	}
	require.ErrorIs(t, s.Retry(), ErrSessionStopped)
}

func TestManagerDrawsFreshNoncePerSession(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	f.deps.Nonce = nil
	m, err := NewManager(f.deps)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	alice := testParams()
	alice.UserAddress = "0xalice"
	bob := testParams()
	bob.UserAddress = "0xbob"

	first, err := m.Create(context.Background(), alice)
	require.NoError(t, err)
	waitTopic(t, f.sub, events.TopicSessionCreated)
	second, err := m.Create(context.Background(), bob)
	require.NoError(t, err)
	waitTopic(t, f.sub, events.TopicSessionCreated)

	a, b := first.Snapshot(), second.Snapshot()
	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.Nonce, b.Nonce)
	require.NotEqual(t, testNonce, a.Nonce)
	require.NotEmpty(t, a.GatewayAddress)
	require.NotEqual(t, a.GatewayAddress, b.GatewayAddress)
}

func TestNewManagerRequiresAuthority(t *testing.T) {
	f := newFlowFixture(t, blockingConfidence)
	f.deps.Authority = common.Address{}
	_, err := NewManager(f.deps)
	require.ErrorContains(t, err, "mint authority is required")
}
