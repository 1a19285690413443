// Package finalizer buffers observed events and emits only those that are
// both strategy-eligible and pass a canonical cross-check against the
// chain's authoritative head() view call (C4).
package finalizer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dando385/chainhead/internal/metrics"
	"github.com/dando385/chainhead/internal/wireabi"
)

// Chain is the subset of the RPC client the finalizer needs: the current
// tip and the authoritative head() call. Kept narrow and interface-typed so
// tests can supply a fake without depending on internal/rpcclient.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Call(ctx context.Context, calldata []byte) ([]byte, error)
}

// Strategy decides whether an observed event has accrued enough
// confirmation to be considered for finalization.
type Strategy interface {
	IsEligible(ev wireabi.ObservedEvent, tip uint64) bool
}

// ConfirmationDepth is the concrete Strategy named in the spec: eligible
// once tip >= event.BlockNumber + K. Saturating addition means an event
// whose block number is so large it would overflow is never eligible,
// rather than wrapping around into a false positive.
type ConfirmationDepth struct {
	K uint64
}

// IsEligible implements Strategy.
func (c ConfirmationDepth) IsEligible(ev wireabi.ObservedEvent, tip uint64) bool {
	threshold := ev.BlockNumber + c.K
	if threshold < ev.BlockNumber {
		return false // overflow: never eligible
	}
	return tip >= threshold
}

// DefaultConfirmationDepth is used when no Strategy is configured.
const DefaultConfirmationDepth = 6

// FinalizedEvent is an ObservedEvent that has cleared both the strategy and
// the canonical cross-check. Once emitted it is never re-emitted for the
// same (TxHash, LogIndex).
type FinalizedEvent struct {
	Seq         uint64
	CID         []byte
	CIDHashHex  string
	BlockNumber uint64
	TxHashHex   string
	LogIndex    uint64
	WriterHex   string
}

func finalizedFromObserved(ev wireabi.ObservedEvent) FinalizedEvent {
	return FinalizedEvent{
		Seq:         ev.Seq,
		CID:         ev.CID,
		CIDHashHex:  hex.EncodeToString(ev.CIDHash[:]),
		BlockNumber: ev.BlockNumber,
		TxHashHex:   hex.EncodeToString(ev.TxHash[:]),
		LogIndex:    ev.LogIndex,
		WriterHex:   hex.EncodeToString(ev.Writer[:]),
	}
}

func dedupKey(ev wireabi.ObservedEvent) [40]byte {
	var k [40]byte
	copy(k[:32], ev.TxHash[:])
	for i := 0; i < 8; i++ {
		k[32+i] = byte(ev.LogIndex >> (8 * (7 - i)))
	}
	return k
}

// ErrMissingRequiredField is returned by Build when a required builder
// field was never set.
var ErrMissingRequiredField = errors.New("finalizer: missing required field")

// Builder constructs a Finalizer. The zero value is ready to use.
type Builder struct {
	strategy Strategy
	chain    Chain
	metrics  *metrics.Registry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithStrategy sets the eligibility strategy.
func (b *Builder) WithStrategy(s Strategy) *Builder {
	b.strategy = s
	return b
}

// WithConfirmationDepth is shorthand for WithStrategy(ConfirmationDepth{K: k}).
func (b *Builder) WithConfirmationDepth(k uint64) *Builder {
	b.strategy = ConfirmationDepth{K: k}
	return b
}

// WithChain sets the RPC client used for current_tip and the canonical
// cross-check call.
func (b *Builder) WithChain(c Chain) *Builder {
	b.chain = c
	return b
}

// WithMetrics attaches a Registry so DrainEligible/Feed report
// FinalizerDrainDuration, FinalizerEmittedTotal and FinalizerPendingGauge.
// Optional: a nil Registry (the default) leaves the Finalizer
// uninstrumented, matching every call site that predates C9's metrics
// wiring.
func (b *Builder) WithMetrics(m *metrics.Registry) *Builder {
	b.metrics = m
	return b
}

// Build validates required fields and returns a ready Finalizer.
func (b *Builder) Build() (*Finalizer, error) {
	strategy := b.strategy
	if strategy == nil {
		strategy = ConfirmationDepth{K: DefaultConfirmationDepth}
	}
	if b.chain == nil {
		return nil, fmt.Errorf("%w: chain", ErrMissingRequiredField)
	}
	return &Finalizer{
		strategy: strategy,
		chain:    b.chain,
		metrics:  b.metrics,
		emitted:  make(map[[40]byte]struct{}),
	}, nil
}

// Finalizer is single-threaded: concurrent Feed/DrainEligible calls on the
// same instance are not supported, matching the concurrency model in which
// the finalizer has exactly one caller.
type Finalizer struct {
	strategy Strategy
	chain    Chain
	metrics  *metrics.Registry
	pending  []wireabi.ObservedEvent
	emitted  map[[40]byte]struct{}
}

// Feed appends an observed event to the pending buffer, kept sorted by
// (block_number, log_index).
func (f *Finalizer) Feed(ev wireabi.ObservedEvent) {
	f.pending = append(f.pending, ev)
	sort.SliceStable(f.pending, func(i, j int) bool {
		a, b := f.pending[i], f.pending[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
	if f.metrics != nil {
		f.metrics.FinalizerPendingGauge.Set(float64(len(f.pending)))
	}
}

// PendingLen reports the current pending-buffer size, for callers that want
// to impose a cap (the spec leaves the buffer unbounded; see Open
// Questions).
func (f *Finalizer) PendingLen() int {
	return len(f.pending)
}

// CurrentTip returns the chain tip via the RPC client.
func (f *Finalizer) CurrentTip(ctx context.Context) (uint64, error) {
	return f.chain.BlockNumber(ctx)
}

// DrainEligible returns the events that are both strategy-eligible for the
// given tip and pass the canonical cross-check, in ascending
// (block_number, log_index) order. Idempotent: events already emitted are
// silently skipped, and ineligible events remain pending for a future call.
func (f *Finalizer) DrainEligible(ctx context.Context, tip uint64) ([]FinalizedEvent, error) {
	if f.metrics != nil {
		start := time.Now()
		defer func() { f.metrics.FinalizerDrainDuration.Observe(time.Since(start).Seconds()) }()
	}

	var eligible, remaining []wireabi.ObservedEvent
	for _, ev := range f.pending {
		if f.strategy.IsEligible(ev, tip) {
			eligible = append(eligible, ev)
		} else {
			remaining = append(remaining, ev)
		}
	}
	// Eligible events are removed from pending unconditionally: a reorg'd
	// event that cleared the confirmation threshold drops out here and
	// never returns to pending, even if the cross-check below rejects it.
	f.pending = remaining
	if f.metrics != nil {
		f.metrics.FinalizerPendingGauge.Set(float64(len(f.pending)))
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})

	var out []FinalizedEvent
	for _, ev := range eligible {
		key := dedupKey(ev)
		if _, ok := f.emitted[key]; ok {
			continue
		}
		headBytes, err := f.chain.Call(ctx, wireabi.HeadCalldata())
		if err != nil {
			return out, fmt.Errorf("finalizer: head() call: %w", err)
		}
		head, err := wireabi.DecodeHeadReturn(headBytes)
		if err != nil {
			return out, fmt.Errorf("finalizer: decode head() return: %w", err)
		}
		if head.Equal(wireabi.CurrentHead{Seq: ev.Seq, CID: ev.CID}) {
			f.emitted[key] = struct{}{}
			out = append(out, finalizedFromObserved(ev))
		}
		// Mismatch: ev was already dropped from pending above and is not
		// emitted — either an orphan branch, or superseded after eligibility.
	}
	if f.metrics != nil && len(out) > 0 {
		f.metrics.FinalizerEmittedTotal.Add(float64(len(out)))
	}
	return out, nil
}
