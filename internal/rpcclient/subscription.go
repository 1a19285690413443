package rpcclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/wireabi"
)

// WSClient holds the streaming-transport connection. One is opened per
// indexer run cycle (spec.md §4.2): when it closes or errs, the whole
// cycle fails and the indexer restarts it.
type WSClient struct {
	rpc     *rpc.Client
	address [20]byte
	log     *logrus.Entry
}

// DialWS opens a WebSocket JSON-RPC client against url, using an explicit
// gorilla/websocket.Dialer so the transport is pinned to the same library
// go-ethereum's own rpc package already pulls in for ws:// URLs.
func DialWS(ctx context.Context, url string, address [20]byte, log *logrus.Entry) (*WSClient, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dialer := websocket.Dialer{Proxy: nil}
	c, err := rpc.DialOptions(ctx, url, rpc.WithWebsocketDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial ws %s: %w", url, err)
	}
	return &WSClient{rpc: c, address: address, log: log}, nil
}

// Close releases the underlying connection.
func (w *WSClient) Close() {
	w.rpc.Close()
}

// Subscription is a lazy, infinite sequence of raw log records delivered
// over the streaming transport until the connection fails.
type Subscription struct {
	Logs              <-chan wireabi.Log
	NeedsClientFilter bool

	sub     *rpc.ClientSubscription
	topic0  [4]byte
	address [20]byte
}

// Err returns the subscription's error channel; it fires once when the
// connection fails.
func (s *Subscription) Err() <-chan error {
	return s.sub.Err()
}

// Unsubscribe tears down the subscription.
func (s *Subscription) Unsubscribe() {
	s.sub.Unsubscribe()
}

// Accept reports whether a raw log that arrived over a filter-less
// subscription should be kept, applying the client-side address/topic0
// check spec.md §4.2 requires when the server rejected the filtered
// variant. When NeedsClientFilter is false this always returns true — the
// server already filtered for us.
func (s *Subscription) Accept(log wireabi.Log) bool {
	if !s.NeedsClientFilter {
		return true
	}
	if !strings.EqualFold(log.Address, "0x"+addrHex(s.address)) {
		return false
	}
	if len(log.Topics) == 0 {
		return false
	}
	return matchesTopic0(log.Topics[0], s.topic0)
}

func addrHex(a [20]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 40)
	for i, b := range a {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// SubscribeLogs opens a push subscription for HeadUpdated logs at the
// configured address. It first attempts the filtered variant (address +
// topic0); if the endpoint rejects it with a schema-mismatch-shaped error,
// it retries with no filter at all and leaves NeedsClientFilter set so the
// caller filters client-side.
func (w *WSClient) SubscribeLogs(ctx context.Context, topic0 [4]byte) (*Subscription, error) {
	ch := make(chan wireabi.Log, 256)
	filter := buildFilter(w.address, &topic0, nil, nil)
	sub, err := w.rpc.EthSubscribe(ctx, ch, "logs", filter)
	if err == nil {
		return &Subscription{Logs: ch, sub: sub, topic0: topic0, address: w.address}, nil
	}
	if !looksLikeSchemaMismatch(err) {
		return nil, fmt.Errorf("rpcclient: subscribe logs: %w", err)
	}
	w.log.WithError(err).Warn("endpoint rejected filtered logs subscription, retrying without filter")
	ch2 := make(chan wireabi.Log, 256)
	sub2, err2 := w.rpc.EthSubscribe(ctx, ch2, "logs")
	if err2 != nil {
		return nil, fmt.Errorf("rpcclient: subscribe logs (unfiltered fallback): %w", err2)
	}
	return &Subscription{
		Logs:              ch2,
		NeedsClientFilter: true,
		sub:               sub2,
		topic0:            topic0,
		address:           w.address,
	}, nil
}

// looksLikeSchemaMismatch reports whether err's text matches the shape
// some JSON-RPC servers use when they don't understand a filter object,
// per spec.md §4.2/§4.3 ("error text mentions schema mismatch").
func looksLikeSchemaMismatch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "data did not match") ||
		strings.Contains(msg, "did not match any variant") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "invalid params")
}

// noProxyHTTPClient returns an *http.Client configured to ignore
// HTTP_PROXY/HTTPS_PROXY/NO_PROXY, matching spec.md §4.2's "proxy-less by
// configuration" requirement for HTTP calls.
func noProxyHTTPClient() *http.Client {
	transport := &http.Transport{Proxy: nil}
	return &http.Client{Transport: transport}
}
