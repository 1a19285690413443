// Command chainhead-monitor serves Prometheus metrics and a liveness
// probe for a running indexer/finalizer pair. This is the "Production:
// expose Prometheus metrics (head age, RPC latency, error counts)"
// step geth-24-monitor's own commentary names as the next step beyond
// its one-shot status line; chainhead-monitor takes that step.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/config"
	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/rpcclient"
)

func main() {
	log := logrus.New()
	entry := logrus.NewEntry(log)

	defaultHTTP := os.Getenv("CHAINHEAD_HTTP_URL")
	httpURL := flag.String("http-url", defaultHTTP, "request/response RPC endpoint")
	contractHex := flag.String("contract", "", "contract address, 20-byte hex")
	listenAddr := flag.String("listen", ":9400", "address to serve /metrics and /healthz on")
	maxLag := flag.Uint64("max-lag-blocks", 3, "max acceptable block lag before reporting unhealthy")
	flag.Parse()

	var addr [20]byte
	if *contractHex != "" {
		a, err := config.ParseAddressHex(*contractHex)
		if err != nil {
			log.Fatalf("contract address: %v", err)
		}
		addr = a
	}

	ctx := context.Background()
	chain, err := rpcclient.Dial(ctx, *httpURL, addr, entry)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer chain.Close()

	reg := metrics.New()

	lastSeenTip := uint64(0)
	lastSeenAt := time.Now()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		tip, err := chain.BlockNumber(r.Context())
		if err != nil {
			reg.IndexerRPCErrorsTotal.WithLabelValues("eth_blockNumber").Inc()
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "rpc error: %v\n", err)
			return
		}
		if tip > lastSeenTip {
			lastSeenTip = tip
			lastSeenAt = time.Now()
		}
		reg.IndexerCursorBlock.Set(float64(tip))
		if time.Since(lastSeenAt) > time.Duration(*maxLag)*12*time.Second {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "stale: tip=%d last advance %s ago\n", tip, time.Since(lastSeenAt))
			return
		}
		fmt.Fprintf(w, "ok: tip=%d\n", tip)
	})

	entry.WithField("addr", *listenAddr).Info("serving /metrics and /healthz")
	log.Fatal(http.ListenAndServe(*listenAddr, mux))
}
