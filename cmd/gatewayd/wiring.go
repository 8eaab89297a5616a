package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mintgate/chain"
	"mintgate/chain/bitcoin"
	"mintgate/chain/evm"
	"mintgate/cmd/internal/passphrase"
	"mintgate/config"
	"mintgate/crypto"
	"mintgate/network"
	"mintgate/observability"
	"mintgate/observability/logging"
	"mintgate/pricing"
	"mintgate/session"
	"mintgate/shards"
	"mintgate/watcher"
)

const serviceName = "gatewayd"

func loadConfig() (config.Config, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.Config{}, fmt.Errorf("--config is required")
	}
	return config.Load(configPath)
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := []logging.Option{}
	if cfg.Log.File != "" {
		opts = append(opts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	if debug {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}
	return logging.Setup(serviceName, cfg.Environment, opts...)
}

func newHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.Pricing.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func newProvider(cfg config.Config, logger *slog.Logger) (*network.Provider, error) {
	metrics := observability.Network()
	transport := network.NewTransport(
		network.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		network.WithTransportLogger(logger),
		network.WithTransportMetrics(metrics),
	)
	return network.NewProvider(cfg.Network.Nodes,
		network.WithTransport(transport),
		network.WithTimeout(cfg.Network.Timeout.Duration),
		network.WithPollInterval(cfg.Network.PollInterval.Duration),
		network.WithLogger(logger),
		network.WithMetrics(metrics),
	)
}

func newSelector(cfg config.Config, provider *network.Provider, logger *slog.Logger) (*shards.Selector, error) {
	client := newHTTPClient(cfg)
	feed, err := pricing.NewFeed([]pricing.Source{
		pricing.NewCoinGecko(client, cfg.Pricing.CoinGeckoEndpoint, cfg.Pricing.CoinGeckoIDs),
		pricing.NewCoinbase(client, cfg.Pricing.CoinbaseEndpoint),
	}, pricing.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return shards.New(provider, feed, shards.DefaultDecimals,
		shards.WithLogger(logger),
		shards.WithMetrics(observability.Shards()),
	), nil
}

func newBitcoin(cfg config.Config, logger *slog.Logger) (*bitcoin.Esplora, error) {
	params, err := bitcoin.Params(cfg.Chains.Bitcoin.Net)
	if err != nil {
		return nil, err
	}
	return bitcoin.New(cfg.Chains.Bitcoin.Endpoint, params,
		bitcoin.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		bitcoin.WithTargetConfirmations(cfg.Chains.Bitcoin.Confirmations),
		bitcoin.WithLogger(logger),
	)
}

// newEthereum dials the mint chain. The returned client must be closed by the caller.
func newEthereum(cfg config.Config, logger *slog.Logger) (*evm.MintChain, *ethclient.Client, error) {
	eth := cfg.Chains.Ethereum
	src := eth.Signer()
	if src.KeystorePath != "" && src.HexKey == "" {
		pass, err := passphrase.NewSource(src.PassphraseEnv).Get()
		if err != nil {
			return nil, nil, err
		}
		src.Passphrase = pass
	}
	signer, err := crypto.LoadSigner(src)
	if err != nil {
		return nil, nil, err
	}
	assets := make([]evm.Asset, 0, len(eth.Assets))
	for _, a := range eth.Assets {
		assets = append(assets, evm.Asset{
			Symbol:  a.Symbol,
			Gateway: common.HexToAddress(a.Gateway),
			Token:   common.HexToAddress(a.Token),
		})
	}
	client, err := evm.Dial(eth.RPC)
	if err != nil {
		return nil, nil, err
	}
	mint, err := evm.New(client, signer, assets,
		evm.WithName("Ethereum"),
		evm.WithFromBlock(eth.FromBlock),
		evm.WithLogger(logger),
	)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return mint, client, nil
}

func watcherFactory(cfg config.Config, logger *slog.Logger) func(chain.LockChain) session.DepositWatcher {
	return func(lock chain.LockChain) session.DepositWatcher {
		opts := []watcher.Option{
			watcher.WithInterval(cfg.Watcher.Interval.Duration),
			watcher.WithLogger(logger),
		}
		if cfg.Watcher.UseIndexer {
			if idx, ok := lock.(chain.Indexer); ok {
				opts = append(opts, watcher.WithIndexer(idx))
			}
		}
		return watcher.New(lock, opts...)
	}
}
