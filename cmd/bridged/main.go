// Package main provides bridged, the bridge operator/verifier daemon.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btc-rollup-bridge/bridged/internal/actor"
	"github.com/btc-rollup-bridge/bridged/internal/config"
	"github.com/btc-rollup-bridge/bridged/internal/gossip"
	"github.com/btc-rollup-bridge/bridged/internal/operator"
	"github.com/btc-rollup-bridge/bridged/internal/rpcclient"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/statusapi"
	"github.com/btc-rollup-bridge/bridged/internal/store"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
	"github.com/btc-rollup-bridge/bridged/pkg/helpers"
	"github.com/btc-rollup-bridge/bridged/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.bridged", "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		statusAddr   = flag.String("status-addr", "127.0.0.1:8090", "Status dashboard WebSocket address")
		listenAddr   = flag.String("p2p-listen", "/ip4/0.0.0.0/tcp/4001", "libp2p listen multiaddr for connector-root gossip")
		bootstrap    = flag.String("p2p-bootstrap", "", "Comma-separated list of bootstrap peer multiaddrs")
		bridgeAmount = flag.String("bridge-amount-btc", "", "Override the bridge's fixed deposit amount, in BTC (e.g. 0.5)")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("bridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)
	cfgPath := *configFile
	if cfgPath == "" {
		cfgPath = filepath.Join(effectiveDataDir, "config.yaml")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn("no config file found, writing defaults", "path", cfgPath, "err", err)
		cfg = config.Default()
		if mkErr := os.MkdirAll(effectiveDataDir, 0700); mkErr == nil {
			_ = config.Save(cfgPath, cfg)
		}
	}
	log.Info("config loaded", "path", cfgPath, "network", cfg.Network)

	if *bridgeAmount != "" {
		sats, err := helpers.BTCToSatoshis(*bridgeAmount)
		if err != nil {
			log.Fatal("invalid -bridge-amount-btc", "value", *bridgeAmount, "err", err)
		}
		cfg.BridgeAmountSats = int64(sats)
		log.Info("bridge amount overridden", "amount_btc", helpers.SatoshisToBTC(sats))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(effectiveDataDir)
	if err != nil {
		log.Fatal("failed to initialize store", "err", err)
	}
	defer db.Close()
	log.Info("store initialized", "dir", effectiveDataDir)

	opActor, err := actor.Generate()
	if err != nil {
		log.Fatal("failed to generate operator keypair", "err", err)
	}

	verifierSet := []script.XOnlyKey{opActor.PublicKey()}
	params := cfg.Network.ChainParams()
	factory := txfactory.New(verifierSet, params, cfg.DustValue, cfg.MinRelayFee)

	rpc := rpcclient.NewMock()

	bridge, err := operator.New(opActor, verifierSet, factory, params, rpc,
		cfg.ConnectorTreeOperatorTakesAfter, cfg.ConnectorTreeDepth, cfg.MerkleDepth, log)
	if err != nil {
		log.Fatal("failed to initialize operator", "err", err)
	}
	log.Info("operator initialized", "evm_address", opActor.EVMAddress())

	hub := statusapi.NewHub()
	stop := make(chan struct{})
	go hub.Run(stop)

	mux := http.NewServeMux()
	mux.Handle("/status", hub)
	server := &http.Server{Addr: *statusAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server stopped", "err", err)
		}
	}()
	log.Info("status dashboard listening", "addr", *statusAddr)

	if addr, err := bridge.DepositAddressFor(opActor.PublicKey(), 0); err == nil {
		log.Info("current deposit address", "addr", addr)
	} else {
		log.Warn("failed to compute initial deposit address", "err", err)
	}

	var bootstrapPeers []string
	if *bootstrap != "" {
		bootstrapPeers = strings.Split(*bootstrap, ",")
	}
	p2pHost, err := gossip.NewHost(ctx, []string{*listenAddr}, bootstrapPeers)
	if err != nil {
		log.Fatal("failed to start libp2p host", "err", err)
	}
	defer p2pHost.Close()
	connectorCh, err := gossip.Join(p2pHost.PubSub())
	if err != nil {
		log.Fatal("failed to join connector-root topic", "err", err)
	}
	defer connectorCh.Close()
	log.Info("connector-root gossip joined", "peer_id", p2pHost.ID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	close(stop)
	_ = server.Shutdown(ctx)
	cancel()
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
