package shards

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mintgate/network"
)

type fakeShards struct {
	shards []network.Shard
	err    error
}

func (f fakeShards) QueryShards(context.Context) ([]network.Shard, error) {
	return f.shards, f.err
}

type fakePrices struct {
	prices map[string]*big.Rat
	err    error
	asked  []string
}

func (f *fakePrices) Prices(_ context.Context, assets []string) (map[string]*big.Rat, error) {
	f.asked = append(f.asked, assets...)
	return f.prices, f.err
}

func key(b byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{b}, 33))
}

func shard(primary bool, keyByte byte, gateways ...network.Gateway) network.Shard {
	return network.Shard{Primary: primary, PubKey: key(keyByte), Gateways: gateways}
}

func btc(locked string, keyByte byte) network.Gateway {
	return network.Gateway{Asset: "BTC", Locked: locked, PubKey: key(keyByte)}
}

func TestSelectPublicKeyPicksLeastLockedValue(t *testing.T) {
	querier := fakeShards{shards: []network.Shard{
		shard(true, 1, btc("1000000000", 0x0a)),
		shard(true, 2, btc("500000000", 0x05)),
		shard(true, 3, btc("100000000", 0x01)),
	}}
	prices := &fakePrices{prices: map[string]*big.Rat{"BTC": big.NewRat(30000, 1)}}
	sel := New(querier, prices, nil)

	got, err := sel.SelectPublicKey(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x01}, 33), got)
	require.Equal(t, []string{"BTC"}, prices.asked)
}

func TestSelectPublicKeySurvivesPriceFailure(t *testing.T) {
	querier := fakeShards{shards: []network.Shard{
		shard(true, 1, btc("1000000000", 0x0a)),
		shard(true, 2, btc("100000000", 0x01)),
	}}
	sel := New(querier, &fakePrices{err: errors.New("price api down")}, nil)

	got, err := sel.SelectPublicKey(context.Background(), "btc")
	require.NoError(t, err)
	// All totals are zero so the stable sort keeps network order.
	require.Equal(t, bytes.Repeat([]byte{0x0a}, 33), got)
}

func TestSelectShardCountsEveryAsset(t *testing.T) {
	eth := network.Gateway{Asset: "ETH", Locked: "2000000000000000000", PubKey: key(0x0e)}
	querier := fakeShards{shards: []network.Shard{
		shard(true, 1, btc("100000000", 0x0a), eth),
		shard(true, 2, btc("200000000", 0x0b)),
	}}
	prices := &fakePrices{prices: map[string]*big.Rat{
		"BTC": big.NewRat(100, 1),
		"ETH": big.NewRat(1000, 1),
	}}
	sh, gw, err := New(querier, prices, nil).SelectShard(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, key(2), sh.PubKey)
	require.Equal(t, key(0x0b), gw.PubKey)
}

func TestSelectShardIgnoresSecondaryShards(t *testing.T) {
	querier := fakeShards{shards: []network.Shard{
		shard(false, 1, btc("0", 0x0a)),
		shard(true, 2, btc("900000000", 0x0b)),
	}}
	_, gw, err := New(querier, nil, nil).SelectShard(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, key(0x0b), gw.PubKey)
}

func TestSelectShardErrors(t *testing.T) {
	cases := []struct {
		name    string
		querier fakeShards
		want    error
	}{
		{name: "no primaries", querier: fakeShards{shards: []network.Shard{shard(false, 1, btc("1", 1))}}, want: ErrNoShards},
		{name: "empty", querier: fakeShards{}, want: ErrNoShards},
		{name: "no gateway", querier: fakeShards{shards: []network.Shard{shard(true, 1, network.Gateway{Asset: "ZEC", Locked: "1"})}}, want: ErrNoGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := New(tc.querier, &fakePrices{}, nil).SelectShard(context.Background(), "BTC")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSelectShardPropagatesQueryError(t *testing.T) {
	boom := errors.New("all nodes down")
	_, _, err := New(fakeShards{err: boom}, nil, nil).SelectShard(context.Background(), "BTC")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestDefaultDecimals(t *testing.T) {
	if DefaultDecimals("btc") != 8 || DefaultDecimals("ETH") != 18 || DefaultDecimals("UNKNOWN") != 18 {
		t.Fatalf("unexpected decimals")
	}
}
