package codec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Hash32Hex renders a 32-byte value as lowercase 0x hex.
func Hash32Hex(h common.Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

// BytesHex renders arbitrary bytes as lowercase 0x hex.
func BytesHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// ParseHash32 parses exactly 32 bytes of hex, with or without 0x.
func ParseHash32(s string) (common.Hash, error) {
	b, err := decodeHex(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X"))
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid 32-byte hex %q: got %d bytes", s, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseBytesHex parses 0x-prefixed hex of any even length.
func ParseBytesHex(s string) ([]byte, error) {
	return decodeHex(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X"))
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
