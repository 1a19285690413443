// Command chainhead-sink runs the indexer and finalizer together and
// persists finalized events into a local SQLite database, a thin
// end-to-end wrapper mirroring geth-17-indexer's own
// decode-then-persist-to-sqlite main.go, generalized from its
// hardcoded ERC-20 Transfer scan into the full backfill+subscribe+
// finalize pipeline.
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
	"github.com/dando385/chainhead/internal/finalizer"
	"github.com/dando385/chainhead/internal/indexer"
	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/rpcclient"
	"github.com/dando385/chainhead/internal/sink"
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
	depth := flag.Uint64("confirmation-depth", finalizer.DefaultConfirmationDepth, "confirmation depth K")
	dbPath := flag.String("db", "chainhead.db", "sqlite output path")
	drainInterval := flag.Duration("drain-interval", 5*time.Second, "interval between finalizer drains")
	metricsAddr := flag.String("metrics-listen", "", "optional address to serve /metrics on")
	flag.Parse()

	var addr [20]byte
	if *contractHex != "" {
		a, err := config.ParseAddressHex(*contractHex)
		if err != nil {
			log.Fatalf("contract address: %v", err)
		}
		addr = a
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := rpcclient.Dial(ctx, *httpURL, addr, entry)
	if err != nil {
		log.Fatalf("dial http: %v", err)
	}
	defer chain.Close()

	dial := func(ctx context.Context) (indexer.Streamer, func(), error) {
		ws, err := rpcclient.DialWS(ctx, *wsURL, addr, entry)
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

	ix := indexer.New(indexer.Config{Address: addr, StartBlock: *startBlock, Metrics: reg}, chain, dial, entry)

	f, err := finalizer.NewBuilder().WithConfirmationDepth(*depth).WithChain(chain).WithMetrics(reg).Build()
	if err != nil {
		log.Fatalf("finalizer: %v", err)
	}

	store, err := sink.Open(*dbPath)
	if err != nil {
		log.Fatalf("sink: %v", err)
	}
	defer store.Close()

	sub := ix.Subscribe()
	go func() {
		for ev := range sub.C() {
			f.Feed(ev)
		}
	}()

	go func() {
		if err := ix.Run(ctx); err != nil {
			entry.WithError(err).Error("indexer stopped")
		}
	}()

	ticker := time.NewTicker(*drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
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
				if err := store.Persist(ctx, ev); err != nil {
					entry.WithError(err).Error("persist failed")
					continue
				}
				entry.WithFields(logrus.Fields{"seq": ev.Seq, "tx_hash": ev.TxHashHex}).Info("persisted finalized event")
			}
		}
	}
}
