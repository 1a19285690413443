// Command chainhead-finalizer polls a chain endpoint for the current tip
// and calls DrainEligible with a configured ConfirmationDepth strategy,
// logging any finalized events. It runs no indexer and never calls Feed,
// so its pending buffer stays empty and no event is ever logged; the
// combined indexer+finalizer pipeline is cmd/chainhead-sink. C4 has no
// run loop of its own — its caller decides when to feed and drain.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/config"
	"github.com/dando385/chainhead/internal/finalizer"
	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/rpcclient"
)

func main() {
	log := logrus.New()
	entry := logrus.NewEntry(log)

	defaultHTTP := os.Getenv("CHAINHEAD_HTTP_URL")
	httpURL := flag.String("http-url", defaultHTTP, "request/response RPC endpoint")
	contractHex := flag.String("contract", "", "contract address, 20-byte hex")
	depth := flag.Uint64("confirmation-depth", finalizer.DefaultConfirmationDepth, "confirmation depth K")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "interval between drain attempts")
	metricsAddr := flag.String("metrics-listen", "", "optional address to serve /metrics on")
	flag.Parse()

	var cfg config.FinalizerConfig
	cfg.HTTPURL = *httpURL
	cfg.ConfirmationDepth = *depth
	if *contractHex != "" {
		addr, err := config.ParseAddressHex(*contractHex)
		if err != nil {
			log.Fatalf("contract address: %v", err)
		}
		cfg.ContractAddress = addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	chain, err := rpcclient.Dial(ctx, cfg.HTTPURL, cfg.ContractAddress, entry)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer chain.Close()

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

	f, err := finalizer.NewBuilder().
		WithConfirmationDepth(cfg.ConfirmationDepth).
		WithChain(chain).
		WithMetrics(reg).
		Build()
	if err != nil {
		log.Fatalf("finalizer: %v", err)
	}

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		tip, err := f.CurrentTip(ctx)
		if err != nil {
			entry.WithError(err).Warn("current_tip failed")
			continue
		}
		events, err := f.DrainEligible(ctx, tip)
		if err != nil {
			entry.WithError(err).Warn("drain_eligible failed")
			continue
		}
		for _, ev := range events {
			entry.WithFields(logrus.Fields{
				"seq": ev.Seq, "block_number": ev.BlockNumber, "tx_hash": ev.TxHashHex,
			}).Info("finalized event")
		}
	}
}
