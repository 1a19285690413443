// Package indexer combines backfill with a push subscription, maintains
// an in-memory cursor and the latest-known CurrentHead, and publishes a
// strictly (block, log_index)-ordered stream of ObservedEvents to a
// lossy broadcast fan-out (C3). Modeled on the teacher's own
// geth-18-reorgs/geth-17-indexer run loops: read tip, backfill in
// bounded getLogs slices, then subscribe and drain until the
// connection fails, with a bounded-base-plus-jitter backoff between
// cycles (geth-16-concurrency's worker-pool backoff idiom).
package indexer

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/broadcast"
	"github.com/dando385/chainhead/internal/cursor"
	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/rpcclient"
	"github.com/dando385/chainhead/internal/wireabi"
)

// Chain is the subset of rpcclient.Client the indexer's backfill and
// authoritative head() cross-check need. Narrow on purpose so tests
// don't need a live transport.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, topic0 [4]byte, from, to uint64) ([]wireabi.Log, error)
	Call(ctx context.Context, calldata []byte) ([]byte, error)
}

// Streamer is the subset of rpcclient.WSClient the indexer's drain loop
// needs.
type Streamer interface {
	SubscribeLogs(ctx context.Context, topic0 [4]byte) (*rpcclient.Subscription, error)
}

// Dialer opens a fresh streaming connection for one run cycle. Letting
// the indexer own reconnection (rather than the caller) means a single
// Streamer value never has to survive a connection failure.
type Dialer func(ctx context.Context) (Streamer, func(), error)

// ReconnectPolicy is the bounded-base-plus-jitter backoff spec.md §4.3
// mandates: "not exponentially multiplied beyond the cap".
type ReconnectPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy matches spec.md §6's documented defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second}
}

// next computes the backoff for any failed cycle, fresh from
// InitialBackoff every time rather than from the previous retry's
// value: spec.md §4.3 calls for "min(initial_backoff × 2, max_backoff)"
// recomputed on each failure, deliberately not full exponential
// backoff.
func (p ReconnectPolicy) next() time.Duration {
	doubled := p.InitialBackoff * 2
	if doubled > p.MaxBackoff {
		doubled = p.MaxBackoff
	}
	if doubled < p.InitialBackoff {
		doubled = p.InitialBackoff
	}
	return doubled
}

// Config is the indexer's construction-time parameters.
type Config struct {
	Address         [20]byte
	StartBlock      uint64
	GetLogsMaxRange uint64
	Reconnect       ReconnectPolicy

	// Metrics is optional; a nil Registry means the indexer runs without
	// instrumentation, matching every existing test and cmd/ call site
	// that predates C9's metrics wiring.
	Metrics *metrics.Registry
}

// Indexer is the C3 component: it owns the cursor and the
// monotonically-advancing CurrentHead, and fans ObservedEvents out to
// any number of subscribers.
type Indexer struct {
	cfg    Config
	chain  Chain
	dial   Dialer
	log    *logrus.Entry
	hub    *broadcast.Hub[wireabi.ObservedEvent]
	cursor *cursor.Cursor

	mu   sync.RWMutex
	head *wireabi.CurrentHead

	// sleepFn is swapped in tests to avoid real backoff waits.
	sleepFn func(ctx context.Context, d time.Duration)
}

// New constructs an Indexer. chain supplies block_number/get_logs/call;
// dial opens one streaming connection per run cycle and returns a
// cleanup func to close it.
func New(cfg Config, chain Chain, dial Dialer, log *logrus.Entry) *Indexer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.GetLogsMaxRange == 0 {
		cfg.GetLogsMaxRange = 1000
	}
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	return &Indexer{
		cfg:     cfg,
		chain:   chain,
		dial:    dial,
		log:     log,
		hub:     broadcast.New[wireabi.ObservedEvent](),
		cursor:  cursor.New(saturatingSub1(cfg.StartBlock)),
		sleepFn: realSleep,
	}
}

// saturatingSub1 seeds the cursor one block before StartBlock so that
// cursor.Next() (last_processed_block + 1) yields StartBlock itself as
// the first block backfilled, matching start_block's definition as
// "first block to backfill" (spec.md §6). The one exception is
// StartBlock 0: the cursor is seeded at 0 as well, so backfill begins at
// block 1 and block 0 is never scanned.
func saturatingSub1(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	return v - 1
}

func realSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Subscribe returns a lossy broadcast reader of ObservedEvents
// (spec.md §4.3: "capacity >= 256; slow readers may lag ... but never
// see reordered events").
func (ix *Indexer) Subscribe() *broadcast.Subscription[wireabi.ObservedEvent] {
	return ix.hub.Subscribe(broadcast.DefaultCapacity)
}

// CurrentHead returns the latest known head, or false if none has been
// observed yet.
func (ix *Indexer) CurrentHead() (wireabi.CurrentHead, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.head == nil {
		return wireabi.CurrentHead{}, false
	}
	return *ix.head, true
}

// CursorBlock exposes the current cursor value, mostly for metrics.
func (ix *Indexer) CursorBlock() uint64 {
	return ix.cursor.LastProcessedBlock()
}

// updateHead applies the monotonicity rule from spec.md §4.3: "iff
// H.seq >= current_head.seq or current_head is absent. Never regress."
// The candidate is computed outside the lock by callers; this method
// only performs the compare-and-write under the lock, per spec.md §5's
// "no operation holds a lock across an RPC call" resource policy.
func (ix *Indexer) updateHead(candidate wireabi.CurrentHead) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.head == nil || candidate.Seq >= ix.head.Seq {
		h := candidate
		ix.head = &h
		if m := ix.cfg.Metrics; m != nil {
			m.IndexerCurrentHeadSeq.Set(float64(h.Seq))
		}
	}
}

// setCursorMetric mirrors the cursor's current value into
// IndexerCursorBlock at the same point the cursor itself advances,
// rather than leaving that gauge to be polled externally.
func (ix *Indexer) setCursorMetric() {
	if m := ix.cfg.Metrics; m != nil {
		m.IndexerCursorBlock.Set(float64(ix.cursor.LastProcessedBlock()))
	}
}

// Run is the long-lived task described in spec.md §4.3: it never
// returns on success, restarting runOnce with backoff until ctx is
// cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := ix.runOnce(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		ix.log.WithError(err).Warn("indexer run cycle failed, backing off")
		if m := ix.cfg.Metrics; m != nil {
			m.IndexerReconnectsTotal.Inc()
		}
		backoff := ix.cfg.Reconnect.next()
		jitter := time.Duration(rand.Intn(500)) * time.Millisecond
		ix.sleepFn(ctx, backoff+jitter)
	}
}

// runOnce performs exactly one cycle: backfill then drain-until-error,
// per spec.md §4.3's numbered run cycle.
func (ix *Indexer) runOnce(ctx context.Context) error {
	tip, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if err := ix.backfill(ctx, ix.cursor.Next(), tip); err != nil {
		return err
	}

	stream, closeStream, err := ix.dial(ctx)
	if err != nil {
		return err
	}
	defer closeStream()

	headBytes, err := ix.chain.Call(ctx, wireabi.HeadCalldata())
	if err != nil {
		return err
	}
	head, err := wireabi.DecodeHeadReturn(headBytes)
	if err != nil {
		return err
	}
	ix.updateHead(head)

	sub, err := stream.SubscribeLogs(ctx, wireabi.HeadUpdatedTopic0)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	return ix.drain(ctx, sub)
}

// backfill scans [from, tip] in slices of at most GetLogsMaxRange
// blocks, publishing each slice's decoded events in ascending
// (block_number, log_index) order before advancing the cursor past it.
func (ix *Indexer) backfill(ctx context.Context, from, tip uint64) error {
	if from > tip {
		return nil
	}
	step := ix.cfg.GetLogsMaxRange
	for start := from; start <= tip; start += step {
		end := start + step - 1
		if end > tip {
			end = tip
		}
		logs, err := ix.chain.GetLogs(ctx, wireabi.HeadUpdatedTopic0, start, end)
		if err != nil {
			return err
		}
		events := ix.decodeAndSort(logs)
		for _, ev := range events {
			ix.publish(ev)
		}
		ix.cursor.Set(end)
		ix.setCursorMetric()
		if end == tip {
			break
		}
	}
	return nil
}

// drain reads the subscription until it errs, applying the
// discriminator/address client-side filter when the server rejected
// the filtered subscribe variant.
func (ix *Indexer) drain(ctx context.Context, sub *rpcclient.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case log, ok := <-sub.Logs:
			if !ok {
				return errors.New("indexer: subscription channel closed")
			}
			if !sub.Accept(log) {
				continue
			}
			ev, err := wireabi.DecodeLog(log)
			if err != nil {
				ix.log.WithError(err).Warn("dropping malformed log")
				continue
			}
			ix.cursor.Advance(ev.BlockNumber)
			ix.setCursorMetric()
			ix.publish(ev)
			ix.updateHead(wireabi.CurrentHead{Seq: ev.Seq, CID: ev.CID})
		}
	}
}

func (ix *Indexer) decodeAndSort(logs []wireabi.Log) []wireabi.ObservedEvent {
	events := make([]wireabi.ObservedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := wireabi.DecodeLog(l)
		if err != nil {
			ix.log.WithError(err).Warn("dropping malformed log")
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events
}

func (ix *Indexer) publish(ev wireabi.ObservedEvent) {
	ix.hub.Publish(ev)
}
