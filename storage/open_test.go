package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"mintgate/chain"
	"mintgate/session"
)

func sampleSession(id string) session.GatewaySession {
	created := time.Date(2021, 4, 19, 12, 0, 0, 0, time.UTC)
	src := chain.DepositTx{TxID: "ab01", Index: 2, Amount: big.NewInt(25000), Confirmations: 7}
	return session.GatewaySession{
		ID:             id,
		Asset:          "BTC",
		SourceChain:    "bitcoin",
		DestChain:      "ethereum",
		DestAddress:    "0xEA8b2fF0d7f546AFAeAE1771306736357dEFa434",
		Nonce:          common.HexToHash("0x2020"),
		GHash:          common.HexToHash("0x99"),
		ShardKey:       []byte{0x02, 0x01},
		ExpiryTime:     created.Add(72 * time.Hour),
		CreatedAt:      created,
		UpdatedAt:      created,
		GatewayAddress: "mtGateway",
		State:          session.SessionListening,
		Transactions: map[string]session.GatewayTransaction{
			src.ID(): {
				SourceTxHash:       src.ID(),
				SourceTxAmount:     src.Amount,
				SourceTxConfs:      7,
				SourceTxConfTarget: 6,
				RawSourceTx:        src,
				DetectedAt:         created,
				Signature:          []byte{1, 2, 3},
				Amount:             big.NewInt(24000),
				State:              session.DepositAccepted,
			},
		},
	}
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	dsns := map[string]string{
		"memory":  "",
		"leveldb": filepath.Join(dir, "level"),
		"bolt":    filepath.Join(dir, "sessions.db"),
		"sqlite":  fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}
	stores := make(map[string]Store, len(dsns))
	for driver, dsn := range dsns {
		s, err := Open(driver, dsn)
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		stores[driver] = s
	}
	return stores
}

func TestStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	for driver, store := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			want := sampleSession("tx-" + driver)
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.Load(ctx, want.ID)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.GatewayAddress != want.GatewayAddress || got.State != want.State || got.Nonce != want.Nonce {
				t.Fatalf("unexpected session %+v", got)
			}
			if !got.ExpiryTime.Equal(want.ExpiryTime) {
				t.Fatalf("expiry = %s, want %s", got.ExpiryTime, want.ExpiryTime)
			}
			tx, ok := got.Transactions["ab01:2"]
			if !ok {
				t.Fatalf("deposit missing: %+v", got.Transactions)
			}
			if tx.State != session.DepositAccepted || tx.Amount.Cmp(big.NewInt(24000)) != 0 || len(tx.Signature) != 3 {
				t.Fatalf("unexpected deposit %+v", tx)
			}
			if tx.RawSourceTx.Amount.Cmp(big.NewInt(25000)) != 0 || tx.RawSourceTx.Index != 2 {
				t.Fatalf("raw source not preserved: %+v", tx.RawSourceTx)
			}
		})
	}
}

func TestStoresOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	for driver, store := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			first := sampleSession("tx-a")
			if err := store.Save(ctx, first); err != nil {
				t.Fatalf("save: %v", err)
			}
			second := sampleSession("tx-b")
			second.Transactions = map[string]session.GatewayTransaction{}
			if err := store.Save(ctx, second); err != nil {
				t.Fatalf("save: %v", err)
			}

			first.State = session.SessionCompleted
			delete(first.Transactions, "ab01:2")
			if err := store.Save(ctx, first); err != nil {
				t.Fatalf("resave: %v", err)
			}
			got, err := store.Load(ctx, "tx-a")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.State != session.SessionCompleted || len(got.Transactions) != 0 {
				t.Fatalf("overwrite not applied: %+v", got)
			}

			all, err := store.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 2 || all[0].ID != "tx-a" || all[1].ID != "tx-b" {
				t.Fatalf("unexpected list %+v", all)
			}

			if err := store.Delete(ctx, "tx-a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Load(ctx, "tx-a"); !errors.Is(err, session.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("cassandra", ""); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestLevelStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "level")
	store, err := OpenLevelStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(ctx, sampleSession("tx-keep")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx, "tx-keep")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GatewayAddress != "mtGateway" {
		t.Fatalf("unexpected session %+v", got)
	}
}
