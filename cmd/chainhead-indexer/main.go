// Command chainhead-indexer runs the reorg-tolerant event-ingestion
// pipeline (C3) against a live chain endpoint, printing each observed
// event as it is published. Adapted from geth-17-indexer's own
// cmd/main.go: flag + INFURA_RPC_URL env fallback, context-bound dial,
// graceful log.Fatalf on fatal configuration errors.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/config"
	"github.com/dando385/chainhead/internal/indexer"
	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/rpcclient"
)

func main() {
	log := logrus.New()
	entry := logrus.NewEntry(log)

	defaultHTTP := os.Getenv("CHAINHEAD_HTTP_URL")
	defaultWS := os.Getenv("CHAINHEAD_WS_URL")

	httpURL := flag.String("http-url", defaultHTTP, "request/response RPC endpoint")
	wsURL := flag.String("ws-url", defaultWS, "streaming RPC endpoint")
	contractHex := flag.String("contract", "", "contract address, 20-byte hex")
	startBlock := flag.Uint64("start-block", 0, "first block to backfill")
	maxRange := flag.Uint64("getlogs-max-range", 0, "per-slice eth_getLogs block cap (0 keeps the config value, default 1000)")
	configFile := flag.String("config", "", "optional YAML config overlay")
	metricsAddr := flag.String("metrics-listen", "", "optional address to serve /metrics on")
	flag.Parse()

	cfg := config.Defaults()
	if *configFile != "" {
		loaded, err := config.LoadYAMLFile(*configFile)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	if *httpURL != "" {
		cfg.HTTPURL = *httpURL
	}
	if *wsURL != "" {
		cfg.WSURL = *wsURL
	}
	if *contractHex != "" {
		addr, err := config.ParseAddressHex(*contractHex)
		if err != nil {
			log.Fatalf("contract address: %v", err)
		}
		cfg.ContractAddress = addr
	}
	if *startBlock != 0 {
		cfg.StartBlock = *startBlock
	}
	if *maxRange != 0 {
		cfg.GetLogsMaxRange = *maxRange
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := rpcclient.Dial(ctx, cfg.HTTPURL, cfg.ContractAddress, entry)
	if err != nil {
		log.Fatalf("dial http: %v", err)
	}
	defer chain.Close()

	dial := func(ctx context.Context) (indexer.Streamer, func(), error) {
		ws, err := rpcclient.DialWS(ctx, cfg.WSURL, cfg.ContractAddress, entry)
		if err != nil {
			return nil, nil, err
		}
		return ws, ws.Close, nil
	}

	reg := metrics.New()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
		go func() {
			entry.WithField("addr", *metricsAddr).Info("serving /metrics")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				entry.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ix := indexer.New(indexer.Config{
		Address:         cfg.ContractAddress,
		StartBlock:      cfg.StartBlock,
		GetLogsMaxRange: cfg.GetLogsMaxRange,
		Reconnect: indexer.ReconnectPolicy{
			InitialBackoff: time.Duration(cfg.Reconnection.InitialBackoffSecs) * time.Second,
			MaxBackoff:     time.Duration(cfg.Reconnection.MaxBackoffSecs) * time.Second,
		},
		Metrics: reg,
	}, chain, dial, entry)

	sub := ix.Subscribe()
	go func() {
		for ev := range sub.C() {
			entry.WithFields(logrus.Fields{
				"seq":          ev.Seq,
				"block_number": ev.BlockNumber,
				"log_index":    ev.LogIndex,
			}).Info("observed event")
		}
	}()

	if err := ix.Run(ctx); err != nil {
		log.Fatalf("indexer: %v", err)
	}
}
