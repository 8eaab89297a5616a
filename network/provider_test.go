package network

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestProvider(t *testing.T, urls []string, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithTimeout(time.Second), WithSleep(noSleep)}, opts...)
	p, err := NewProvider(urls, opts...)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestProviderReturnsSuccessAndRecordsSingleError(t *testing.T) {
	failing, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node overloaded"}}`
	})
	healthy, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"numPeers":7}}`
	})
	p := newTestProvider(t, []string{failing.URL, healthy.URL})

	raw, errs := p.SendWithErrors(context.Background(), MethodQueryNumPeers, map[string]any{}, 1)
	if string(raw) != `{"numPeers":7}` {
		t.Fatalf("unexpected result %s", raw)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "node overloaded") {
		t.Fatalf("expected exactly one recorded error, got %v", errs)
	}

	n, err := p.QueryNumPeers(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("QueryNumPeers = %d, %v", n, err)
	}
}

func TestProviderPrefersNodeOrder(t *testing.T) {
	slow, _ := rpcServer(t, func(rpcRequest) (int, string) {
		time.Sleep(50 * time.Millisecond)
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"first"}`
	})
	fast, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"second"}`
	})
	p := newTestProvider(t, []string{slow.URL, fast.URL})
	raw, err := p.Send(context.Background(), MethodQueryStat, nil, 1)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(raw) != `"first"` {
		t.Fatalf("expected first node's answer, got %s", raw)
	}
}

func TestProviderDeduplicatesErrors(t *testing.T) {
	handler := func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":1,"message":"same failure"}}`
	}
	a, _ := rpcServer(t, handler)
	b, _ := rpcServer(t, handler)
	p := newTestProvider(t, []string{a.URL, b.URL})
	_, errs := p.SendWithErrors(context.Background(), MethodQueryStat, nil, 1)
	if len(errs) != 1 {
		t.Fatalf("expected one distinct error, got %d", len(errs))
	}
	if _, err := p.Send(context.Background(), MethodQueryStat, nil, 1); err == nil || !strings.Contains(err.Error(), "same failure") {
		t.Fatalf("expected aggregated error, got %v", err)
	}
}

func TestProviderAllNullIsNoResponse(t *testing.T) {
	srv, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`
	})
	p := newTestProvider(t, []string{srv.URL})
	if _, err := p.Send(context.Background(), MethodQueryStat, nil, 1); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

func TestNewProviderRejectsBadNodes(t *testing.T) {
	if _, err := NewProvider(nil); err == nil {
		t.Fatalf("expected error for empty node list")
	}
	if _, err := NewProvider([]string{"no-scheme"}); err == nil {
		t.Fatalf("expected error for scheme-less node")
	}
}

func TestWaitForTxIgnoresNotFoundUntilDone(t *testing.T) {
	var polls int32
	srv, _ := rpcServer(t, func(req rpcRequest) (int, string) {
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"tx not found"}}`
		case 2:
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tx":{"hash":"abc"},"txStatus":"executing"}}`
		default:
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tx":{"hash":"abc","to":"BTC0Btc2Eth"},"txStatus":"done"}}`
		}
	})
	p := newTestProvider(t, []string{srv.URL})
	var statuses []TxStatus
	tx, err := p.WaitForTx(context.Background(), "abc", func(s TxStatus) { statuses = append(statuses, s) })
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if tx.To != "BTC0Btc2Eth" {
		t.Fatalf("unexpected tx %+v", tx)
	}
	if len(statuses) != 2 || statuses[0] != TxStatusExecuting || statuses[1] != TxStatusDone {
		t.Fatalf("unexpected status sequence %v", statuses)
	}
}

func TestWaitForTxSurfacesPersistentErrors(t *testing.T) {
	srv, calls := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"internal failure"}}`
	})
	p := newTestProvider(t, []string{srv.URL}, WithPollErrorLimit(3))
	if _, err := p.WaitForTx(context.Background(), "abc", nil); err == nil || !strings.Contains(err.Error(), "internal failure") {
		t.Fatalf("expected surfaced error, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

func TestWaitForTxReverted(t *testing.T) {
	srv, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tx":{"hash":"abc","out":[{"name":"revert","type":"str","value":"insufficient amount"}]},"txStatus":"reverted"}}`
	})
	p := newTestProvider(t, []string{srv.URL})
	_, err := p.WaitForTx(context.Background(), "abc", nil)
	if !errors.Is(err, ErrTxReverted) || !strings.Contains(err.Error(), "insufficient amount") {
		t.Fatalf("expected revert error, got %v", err)
	}
}

func TestWaitForTxHonoursCancellation(t *testing.T) {
	srv, _ := rpcServer(t, func(rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tx":{"hash":"abc"},"txStatus":"pending"}}`
	})
	p := newTestProvider(t, []string{srv.URL}, WithSleep(sleepContext), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.WaitForTx(ctx, "abc", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubmitOrFindReusesKnownTransaction(t *testing.T) {
	srv, _ := rpcServer(t, func(req rpcRequest) (int, string) {
		if req.Method == MethodSubmitTx {
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"tx already exists"}}`
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tx":{"hash":"known"},"txStatus":"confirming"}}`
	})
	p := newTestProvider(t, []string{srv.URL})
	hash, err := p.SubmitOrFind(context.Background(), Tx{Hash: "known", To: "BTC0Btc2Eth"})
	if err != nil || hash != "known" {
		t.Fatalf("SubmitOrFind = %q, %v", hash, err)
	}
}

func TestSubmitOrFindRetriesUnknownTransaction(t *testing.T) {
	var submits int32
	srv, _ := rpcServer(t, func(req rpcRequest) (int, string) {
		if req.Method == MethodSubmitTx {
			atomic.AddInt32(&submits, 1)
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"busy"}}`
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"tx not found"}}`
	})
	p := newTestProvider(t, []string{srv.URL})
	if _, err := p.SubmitOrFind(context.Background(), Tx{Hash: "new"}); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Fatalf("expected submit error, got %v", err)
	}
	if got := atomic.LoadInt32(&submits); got != submitAttempts {
		t.Fatalf("expected %d submissions, got %d", submitAttempts, got)
	}
}

func TestQueryShardsDecodes(t *testing.T) {
	srv, _ := rpcServer(t, func(req rpcRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"shards":[{"primary":true,"pubKey":"AkEy","gateways":[{"asset":"BTC","locked":"150000000","origin":"Bitcoin","pubKey":"AkEy"}]}]}}`
	})
	p := newTestProvider(t, []string{srv.URL})
	shards, err := p.QueryShards(context.Background())
	if err != nil {
		t.Fatalf("query shards: %v", err)
	}
	if len(shards) != 1 || !shards[0].Primary {
		t.Fatalf("unexpected shards %+v", shards)
	}
	gw, ok := shards[0].Gateway("btc")
	if !ok || gw.LockedAmount().Int64() != 150000000 {
		t.Fatalf("unexpected gateway %+v", gw)
	}
}
