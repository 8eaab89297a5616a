package watcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"mintgate/chain"
)

func dep(txid string, confs int) chain.DepositTx {
	return chain.DepositTx{TxID: txid, Amount: big.NewInt(1000), Confirmations: confs}
}

// scripted returns a lock chain that answers each poll with the next entry of polls.
func scripted(polls [][]chain.DepositTx, errs map[int]error) (chain.FuncLockChain, *int) {
	calls := 0
	return chain.FuncLockChain{
		ChainName: "Bitcoin",
		DepositsFunc: func(context.Context, string, string) ([]chain.DepositTx, error) {
			i := calls
			calls++
			if err, ok := errs[i]; ok {
				return nil, err
			}
			if i >= len(polls) {
				return polls[len(polls)-1], nil
			}
			return polls[i], nil
		},
	}, &calls
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestWatchReportsNewAndChangedDeposits(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{
		{dep("a", 0)},
		{dep("a", 0), dep("b", 1)},
		{dep("a", 1), dep("b", 1)},
	}, nil)
	w := New(lock, WithSleep(noSleep))

	var reported []string
	err := w.Watch(context.Background(), "BTC", "1Gate", func(d chain.DepositTx) {
		reported = append(reported, d.TxID)
	}, nil, func() bool { return *calls >= 3 })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	want := []string{"a", "b", "a"}
	if len(reported) != len(want) {
		t.Fatalf("reported %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Fatalf("reported %v, want %v", reported, want)
		}
	}
}

func TestWatchReportsRemovals(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{
		{dep("a", 0), dep("b", 0)},
		{dep("b", 0)},
	}, nil)
	var removed []string
	err := New(lock, WithSleep(noSleep)).Watch(context.Background(), "BTC", "1Gate", nil, func(d chain.DepositTx) {
		removed = append(removed, d.ID())
	}, func() bool { return *calls >= 2 })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(removed) != 1 || removed[0] != "a:0" {
		t.Fatalf("unexpected removals %v", removed)
	}
}

func TestWatchFailedPollDoesNotRemove(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{
		{dep("a", 0)},
		nil,
		{dep("a", 0)},
	}, map[int]error{1: errors.New("explorer down")})
	var removed, reported int
	err := New(lock, WithSleep(noSleep)).Watch(context.Background(), "BTC", "1Gate",
		func(chain.DepositTx) { reported++ },
		func(chain.DepositTx) { removed++ },
		func() bool { return *calls >= 3 })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if removed != 0 || reported != 1 {
		t.Fatalf("removed=%d reported=%d", removed, reported)
	}
}

func TestWatchChecksCancellationFirst(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{{dep("a", 0)}}, nil)
	if err := New(lock).Watch(context.Background(), "BTC", "1Gate", nil, nil, func() bool { return true }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if *calls != 0 {
		t.Fatalf("cancelled watcher polled %d times", *calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(lock).Watch(ctx, "BTC", "1Gate", nil, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestWatchStopsWhenSleepIsCancelled(t *testing.T) {
	lock, _ := scripted([][]chain.DepositTx{{}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := New(lock, WithInterval(time.Hour)).Watch(ctx, "BTC", "1Gate", nil, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

type pagedIndexer struct {
	pages map[string][]chain.DepositTx
	next  map[string]string
	err   error
}

func (p pagedIndexer) History(_ context.Context, _, _, cursor string) ([]chain.DepositTx, string, error) {
	if p.err != nil {
		return nil, "", p.err
	}
	return p.pages[cursor], p.next[cursor], nil
}

func TestWatchPagesIndexerOnFirstIteration(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{{dep("c", 3)}}, nil)
	idx := pagedIndexer{
		pages: map[string][]chain.DepositTx{"": {dep("a", 9)}, "a": {dep("b", 8)}},
		next:  map[string]string{"": "a"},
	}
	var reported []string
	err := New(lock, WithIndexer(idx), WithSleep(noSleep)).Watch(context.Background(), "BTC", "1Gate",
		func(d chain.DepositTx) { reported = append(reported, d.TxID) },
		nil,
		func() bool { return *calls >= 2 })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(reported) != 3 || reported[0] != "a" || reported[1] != "b" || reported[2] != "c" {
		t.Fatalf("unexpected reports %v", reported)
	}
}

func TestWatchFallsBackWhenIndexerFails(t *testing.T) {
	lock, calls := scripted([][]chain.DepositTx{{dep("c", 3)}}, nil)
	var reported []string
	err := New(lock, WithIndexer(pagedIndexer{err: errors.New("indexer offline")}), WithSleep(noSleep)).Watch(
		context.Background(), "BTC", "1Gate",
		func(d chain.DepositTx) { reported = append(reported, d.TxID) },
		nil,
		func() bool { return *calls >= 1 })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(reported) != 1 || reported[0] != "c" {
		t.Fatalf("unexpected reports %v", reported)
	}
}
