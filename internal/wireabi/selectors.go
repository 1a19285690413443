package wireabi

// HeadUpdatedTopic0 is the first 4 bytes of
// keccak256("HeadUpdated(uint64,address,bytes,bytes32)"), right-padded to
// 32 bytes when compared against topics[0] on the wire.
var HeadUpdatedTopic0 = [4]byte{0x85, 0xf2, 0xcb, 0x2e}

// HeadSelector is the first 4 bytes of keccak256("head()"), the calldata
// prefix for the view call.
var HeadSelector = [4]byte{0x8f, 0x7d, 0xcf, 0xa3}

// MatchesHeadUpdated reports whether a topic0 hex string (as found on a raw
// log record, 32 bytes, discriminator right-padded) matches HeadUpdatedTopic0.
func MatchesHeadUpdated(topic0Hex string) bool {
	b, err := parseHexBytes(topic0Hex)
	if err != nil || len(b) < 4 {
		return false
	}
	return b[0] == HeadUpdatedTopic0[0] && b[1] == HeadUpdatedTopic0[1] &&
		b[2] == HeadUpdatedTopic0[2] && b[3] == HeadUpdatedTopic0[3]
}

// HeadCalldata returns the calldata for invoking head(): just the selector,
// since head() takes no arguments.
func HeadCalldata() []byte {
	return HeadSelector[:]
}
