package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	shardQueryRetries = 5
	submitAttempts    = 3
)

// ErrTxReverted is returned by WaitForTx when the network rejects the transaction.
var ErrTxReverted = errors.New("network: transaction reverted")

// IsNotFound reports whether err means the network has not seen the transaction yet.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not available")
}

// SubmitTx submits tx to the network.
func (p *Provider) SubmitTx(ctx context.Context, tx Tx) (TxResponse, error) {
	var resp TxResponse
	err := p.call(ctx, MethodSubmitTx, map[string]any{"tx": tx}, DefaultRetries, &resp)
	return resp, err
}

// QueryTx returns the network's view of the transaction with the given base64 hash.
func (p *Provider) QueryTx(ctx context.Context, hash string) (TxResponse, error) {
	var resp TxResponse
	err := p.call(ctx, MethodQueryTx, map[string]any{"txHash": hash}, DefaultRetries, &resp)
	return resp, err
}

// QueryShards lists the network's shards and the gateways they back.
func (p *Provider) QueryShards(ctx context.Context) ([]Shard, error) {
	var resp ShardsResponse
	if err := p.call(ctx, MethodQueryShards, map[string]any{}, shardQueryRetries, &resp); err != nil {
		return nil, err
	}
	return resp.Shards, nil
}

// QueryPeers lists the multiaddresses of the responding node's peers.
func (p *Provider) QueryPeers(ctx context.Context) ([]string, error) {
	var resp PeersResponse
	if err := p.call(ctx, MethodQueryPeers, map[string]any{}, DefaultRetries, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// QueryNumPeers returns the responding node's peer count.
func (p *Provider) QueryNumPeers(ctx context.Context) (int, error) {
	var resp NumPeersResponse
	if err := p.call(ctx, MethodQueryNumPeers, map[string]any{}, DefaultRetries, &resp); err != nil {
		return 0, err
	}
	return resp.NumPeers, nil
}

// QueryStat returns node statistics.
func (p *Provider) QueryStat(ctx context.Context) (StatResponse, error) {
	var resp StatResponse
	err := p.call(ctx, MethodQueryStat, map[string]any{}, DefaultRetries, &resp)
	return resp, err
}

// QueryBlock returns the block at height, or the latest block when height is nil.
func (p *Provider) QueryBlock(ctx context.Context, height *uint64) (Block, error) {
	params := map[string]any{}
	if height != nil {
		params["blockHeight"] = *height
	}
	var resp BlockResponse
	err := p.call(ctx, MethodQueryBlock, params, DefaultRetries, &resp)
	return resp.Block, err
}

// QueryBlocks returns up to n blocks ending at height.
func (p *Provider) QueryBlocks(ctx context.Context, height *uint64, n int) ([]Block, error) {
	params := map[string]any{"n": n}
	if height != nil {
		params["blockHeight"] = *height
	}
	var resp BlocksResponse
	if err := p.call(ctx, MethodQueryBlocks, params, DefaultRetries, &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

// QueryEpoch returns the epoch identified by hash.
func (p *Provider) QueryEpoch(ctx context.Context, hash string) (EpochResponse, error) {
	var resp EpochResponse
	err := p.call(ctx, MethodQueryEpoch, map[string]any{"epochHash": hash}, DefaultRetries, &resp)
	return resp, err
}

// SubmitOrFind submits tx and returns the hash the network tracks it under. When submission
// fails but the network already knows the transaction, the existing hash is reused. A
// transaction the network has never seen is resubmitted a bounded number of times.
func (p *Provider) SubmitOrFind(ctx context.Context, tx Tx) (string, error) {
	var submitErr error
	for attempt := 0; attempt < submitAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.submitRetry); err != nil {
				return "", err
			}
		}
		resp, err := p.SubmitTx(ctx, tx)
		if err == nil {
			if resp.Tx.Hash != "" {
				return resp.Tx.Hash, nil
			}
			return tx.Hash, nil
		}
		submitErr = err
		p.logger.Warn("submit failed, checking whether the network already has the transaction",
			slog.String("hash", tx.Hash), slog.Any("error", err))

		existing, qerr := p.QueryTx(ctx, tx.Hash)
		if qerr == nil && existing.TxStatus != "" && existing.TxStatus != TxStatusNil {
			return tx.Hash, nil
		}
	}
	return "", fmt.Errorf("network: submit %s: %w", tx.Hash, submitErr)
}

// WaitForTx polls the transaction until the network marks it done. Not-found answers are
// expected while the transaction propagates and are re-polled silently. Other errors are logged
// and tolerated until the configured limit of consecutive failures is reached. onStatus is
// invoked whenever the reported status changes.
func (p *Provider) WaitForTx(ctx context.Context, hash string, onStatus func(TxStatus)) (Tx, error) {
	var (
		last     TxStatus
		failures int
	)
	for {
		if err := ctx.Err(); err != nil {
			return Tx{}, err
		}
		resp, err := p.QueryTx(ctx, hash)
		switch {
		case err == nil:
			failures = 0
			if resp.TxStatus != last {
				last = resp.TxStatus
				if onStatus != nil {
					onStatus(last)
				}
			}
			if resp.TxStatus == TxStatusDone {
				return resp.Tx, nil
			}
			if resp.TxStatus == TxStatusReverted {
				return resp.Tx, fmt.Errorf("%w: %s", ErrTxReverted, revertReason(resp.Tx))
			}
		case IsNotFound(err):
		default:
			failures++
			p.logger.Warn("query tx failed",
				slog.String("hash", hash),
				slog.Int("consecutive_failures", failures),
				slog.Any("error", err))
			if failures >= p.pollErrors {
				return Tx{}, err
			}
		}
		if err := p.sleep(ctx, p.pollInterval); err != nil {
			return Tx{}, err
		}
	}
}

func revertReason(tx Tx) string {
	raw, ok := tx.Out.Get("revert")
	if !ok {
		return "no reason given"
	}
	var reason string
	if err := json.Unmarshal(raw, &reason); err != nil || reason == "" {
		return string(raw)
	}
	return reason
}
