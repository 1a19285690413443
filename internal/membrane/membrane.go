// Package membrane implements the epoch-scoped capability surface (C6): a
// process-lifetime Membrane that mints Sessions bound to the epoch current
// at issuance, and Sessions whose single operation hard-fails the instant
// the adopted epoch advances.
//
// The capability layer's wire format is explicitly out of scope for this
// runtime (spec.md §1); Membrane and Session are plain in-process values.
// A transport binding (gRPC, capnp, a bespoke RPC framing) would wrap these
// without needing to touch this package.
package membrane

import (
	"context"
	"errors"
	"fmt"

	"github.com/dando385/chainhead/internal/epochchan"
)

// Status is the outcome of a successful session operation.
type Status int

const (
	StatusOk Status = iota
	StatusUnauthorized
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// staleEpochToken is the literal substring a StaleEpochError's message must
// contain, per spec.md §4.6/§7, so a caller that forgot to check can't
// mistake it for a legitimate Status value.
const staleEpochToken = "staleEpoch"

// StaleEpochError is returned by a Session operation once the epoch channel
// has moved past the epoch the session was issued against.
type StaleEpochError struct {
	IssuedSeq  uint64
	CurrentSeq uint64
}

func (e *StaleEpochError) Error() string {
	return fmt.Sprintf("staleEpoch: session issued at seq=%d, current seq=%d", e.IssuedSeq, e.CurrentSeq)
}

// IsStaleEpoch reports whether err is (or wraps) a StaleEpochError.
func IsStaleEpoch(err error) bool {
	var se *StaleEpochError
	return errors.As(err, &se)
}

// Signer is an opaque, invokable capability the server may call during
// graft (e.g. to prove writer identity). The core does not specify how a
// Membrane implementation uses it; NoopSigner is a minimal valid one that
// ignores it entirely.
type Signer interface {
	Sign(ctx context.Context, digest [32]byte) (signature []byte, err error)
}

// NoopSigner never signs; Graft implementations that don't need the signer
// capability can pass this.
type NoopSigner struct{}

// Sign implements Signer by returning an empty signature.
func (NoopSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	return nil, nil
}

// Membrane is the bootstrap capability: stable for the entire process
// lifetime, minting Sessions bound to whatever epoch is current at Graft
// time.
type Membrane struct {
	epochs epochchan.Observer
}

// New constructs a Membrane reading from the given epoch observer.
func New(epochs epochchan.Observer) *Membrane {
	return &Membrane{epochs: epochs.Clone()}
}

// Graft mints a Session bound to the epoch current at call time. signer may
// be invoked zero or more times by a richer Membrane implementation; this
// one does not call it, matching the "minimal valid implementation ignores
// it" allowance in spec.md §4.6.
func (m *Membrane) Graft(ctx context.Context, signer Signer) (*Session, error) {
	issued := m.epochs.Borrow()
	return &Session{issued: issued, epochs: m.epochs.Clone()}, nil
}

// Session is an immutable handle bound to the epoch current when it was
// minted. It does not hold a reference back to the Membrane — only a
// read-only observer of the epoch channel and the issuance epoch by value —
// so sessions and their bootstrap never form a cycle.
type Session struct {
	issued epochchan.Epoch
	epochs epochchan.Observer
}

// IssuedEpoch returns the epoch this session was minted against.
func (s *Session) IssuedEpoch() epochchan.Epoch {
	return s.issued
}

// PollStatus is the session's one operation. It fails hard the moment the
// epoch channel's current seq no longer matches the issuance seq: the
// caller is expected to re-graft rather than branch on a Stale status,
// since a returned Stale value could be mistaken for a legitimate response
// by code that forgot to check it.
func (s *Session) PollStatus(ctx context.Context) (Status, error) {
	current := s.epochs.Borrow()
	if current.Seq != s.issued.Seq {
		return 0, &StaleEpochError{IssuedSeq: s.issued.Seq, CurrentSeq: current.Seq}
	}
	return StatusOk, nil
}
