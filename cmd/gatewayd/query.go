package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"mintgate/crypto"
	"mintgate/session"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the signing network's peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := newProvider(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		peers, err := provider.QueryPeers(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"peers": peers})
		}
		for _, p := range peers {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show the status reported by the signing network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := newProvider(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		stat, err := provider.QueryStat(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stat)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version:  %s\naddress:  %s\n", stat.Version, stat.MultiAddress)
		return nil
	},
}

var shardCmd = &cobra.Command{
	Use:   "shard <asset>",
	Short: "Show the shard new gateways for an asset would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		provider, err := newProvider(cfg, logger)
		if err != nil {
			return err
		}
		selector, err := newSelector(cfg, provider, logger)
		if err != nil {
			return err
		}
		shard, gw, err := selector.SelectShard(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"shard": shard, "gateway": gw})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pubkey:  %s\nlocked:  %s %s\n", shard.PubKey, gw.Locked, gw.Asset)
		return nil
	},
}

var addressFlags struct {
	shardKey string
	token    string
	to       string
	nonce    string
	pHash    string
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Derive a bitcoin gateway address offline",
	Long: `Derive the deposit address for a transfer to --to of --token.

The nonce defaults to today's day nonce, so with network.day_nonce set the
result matches the gateway a session created today would open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shardKey, err := decodeHex(addressFlags.shardKey)
		if err != nil {
			return fmt.Errorf("--shard: %w", err)
		}
		if !common.IsHexAddress(addressFlags.token) || !common.IsHexAddress(addressFlags.to) {
			return fmt.Errorf("--token and --to must be hex addresses")
		}
		nonce, err := session.DayNonce(time.Now())
		if err != nil {
			return err
		}
		if addressFlags.nonce != "" {
			nonce = common.HexToHash(addressFlags.nonce)
		}
		gHash := crypto.GatewayHash(common.HexToHash(addressFlags.pHash),
			common.HexToAddress(addressFlags.token), common.HexToAddress(addressFlags.to), nonce)

		btc, err := newBitcoin(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		addr, err := session.GatewayAddress(btc, shardKey, gHash)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"gHash": gHash.Hex(), "nonce": nonce.Hex(), "address": addr})
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return nil
	},
}

func init() {
	f := addressCmd.Flags()
	f.StringVar(&addressFlags.shardKey, "shard", "", "compressed shard public key (hex)")
	f.StringVar(&addressFlags.token, "token", "", "mint-chain token address")
	f.StringVar(&addressFlags.to, "to", "", "mint-chain recipient address")
	f.StringVar(&addressFlags.nonce, "nonce", "", "32-byte nonce (hex), defaults to today's")
	f.StringVar(&addressFlags.pHash, "phash", "", "payload hash (hex), defaults to zero")
	_ = addressCmd.MarkFlagRequired("shard")
	_ = addressCmd.MarkFlagRequired("token")
	_ = addressCmd.MarkFlagRequired("to")
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
