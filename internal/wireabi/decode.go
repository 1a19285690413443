// Package wireabi decodes HeadUpdated event logs and head() view-call
// returns from the chain's binary calling convention.
//
// Layout (see module 09-events / 10-filters for the indexed-topic
// conventions this builds on):
//
//	event HeadUpdated(uint64 indexed seq, address indexed writer, bytes cid, bytes32 indexed cidHash)
//	function head() view returns (uint64 seq, bytes cid)
//
// Both the event's dynamic `cid` payload and the view call's `cid` return
// value are ABI-encoded as a single dynamic `bytes` value: a 32-byte offset
// word followed, at that offset, by a 32-byte length word and the
// right-padded payload. Most compilers emit offset 32; this package also
// accepts offset 64, a variant observed from at least one contract in the
// wild, without treating it as malformed.
package wireabi

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// DecodeError reports a malformed or truncated wire payload.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wireabi: decode %s: %s", e.Field, e.Reason)
}

func decErr(field, reason string) error {
	return &DecodeError{Field: field, Reason: reason}
}

// Log is the subset of a JSON-RPC log record this package decodes. Field
// names match the wire shape returned by eth_getLogs / eth_subscription
// ("logs") verbatim so callers can unmarshal straight off the transport.
type Log struct {
	BlockNumber     string   `json:"blockNumber"`
	LogIndex        string   `json:"logIndex"`
	TransactionHash string   `json:"transactionHash"`
	Data            string   `json:"data"`
	Topics          []string `json:"topics"`
	Address         string   `json:"address"`
}

// ObservedEvent is a decoded HeadUpdated log, with no finality guarantee.
type ObservedEvent struct {
	Seq         uint64
	Writer      [20]byte
	CID         []byte
	CIDHash     [32]byte
	BlockNumber uint64
	TxHash      [32]byte
	LogIndex    uint64
}

// CurrentHead is the result of the head() view call: no chain metadata.
type CurrentHead struct {
	Seq uint64
	CID []byte
}

// Equal reports whether two heads carry the same (seq, cid); used by the
// finalizer's canonical cross-check.
func (h CurrentHead) Equal(other CurrentHead) bool {
	if h.Seq != other.Seq {
		return false
	}
	if len(h.CID) != len(other.CID) {
		return false
	}
	for i := range h.CID {
		if h.CID[i] != other.CID[i] {
			return false
		}
	}
	return true
}

// DecodeLog decodes a structured log record into an ObservedEvent. The
// caller is responsible for verifying topics[0] against the expected event
// discriminator before calling this function.
func DecodeLog(log Log) (ObservedEvent, error) {
	var ev ObservedEvent

	blockNumber, err := parseHexUint64(log.BlockNumber)
	if err != nil {
		return ev, decErr("blockNumber", err.Error())
	}
	logIndex, err := parseHexUint64(log.LogIndex)
	if err != nil {
		return ev, decErr("logIndex", err.Error())
	}
	txHash, err := parseHexBytesN(log.TransactionHash, 32)
	if err != nil {
		return ev, decErr("transactionHash", err.Error())
	}
	data, err := parseHexBytes(log.Data)
	if err != nil {
		return ev, decErr("data", err.Error())
	}
	if len(log.Topics) < 4 {
		return ev, decErr("topics", fmt.Sprintf("expected at least 4 topics, got %d", len(log.Topics)))
	}

	topic1, err := parseHexBytesN(log.Topics[1], 32)
	if err != nil {
		return ev, decErr("topics[1]", err.Error())
	}
	seq := beUint64(topic1[len(topic1)-8:])

	topic2, err := parseHexBytesN(log.Topics[2], 32)
	if err != nil {
		return ev, decErr("topics[2]", err.Error())
	}
	var writer [20]byte
	copy(writer[:], topic2[12:32])

	topic3, err := parseHexBytesN(log.Topics[3], 32)
	if err != nil {
		return ev, decErr("topics[3]", err.Error())
	}
	var cidHash [32]byte
	copy(cidHash[:], topic3)

	cid, err := decodeDynamicBytes(data)
	if err != nil {
		return ev, err
	}

	var txHashArr [32]byte
	copy(txHashArr[:], txHash)

	ev.Seq = seq
	ev.Writer = writer
	ev.CID = cid
	ev.CIDHash = cidHash
	ev.BlockNumber = blockNumber
	ev.TxHash = txHashArr
	ev.LogIndex = logIndex
	return ev, nil
}

// DecodeHeadReturn decodes the raw return bytes of the head() view call:
// (uint64 seq, bytes cid) per the standard calling convention. Everything
// from word 1 onward is decoded as a single dynamic `bytes` value, so the
// offset in word 1 is measured from the start of word 1.
func DecodeHeadReturn(data []byte) (CurrentHead, error) {
	var head CurrentHead
	if len(data) < 64 {
		return head, decErr("headReturn", "return data shorter than one word pair")
	}
	head.Seq = beUint64(data[24:32])

	cid, err := decodeDynamicBytes(data[32:])
	if err != nil {
		return head, err
	}
	head.CID = cid
	return head, nil
}

// decodeDynamicBytes decodes a single ABI-encoded dynamic `bytes` value: an
// offset word (accepting both 32, the canonical layout, and 64, an observed
// variant) followed by a length word and the payload at that offset.
func decodeDynamicBytes(data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, decErr("data", "shorter than one word")
	}
	offset := beUint64(data[28:32])
	return decodeDynamicBytesAt(data, int(offset))
}

func decodeDynamicBytesAt(data []byte, offset int) ([]byte, error) {
	if offset < 0 || len(data) < offset+32 {
		return nil, decErr("data", "offset exceeds buffer")
	}
	length := beUint64(data[offset+28 : offset+32])
	end := offset + 32 + int(length)
	if end < offset || uint64(end-offset-32) != length {
		return nil, decErr("data", "declared length overflows")
	}
	if len(data) < end {
		return nil, decErr("data", "payload shorter than declared length")
	}
	cid := make([]byte, length)
	copy(cid, data[offset+32:end])
	return cid, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		s = "0"
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex uint64 %q: %w", s, err)
	}
	return v, nil
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse hex bytes %q: %w", s, err)
	}
	return b, nil
}

func parseHexBytesN(s string, n int) ([]byte, error) {
	b, err := parseHexBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}
