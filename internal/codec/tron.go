// Package codec converts addresses and 32-byte values between their wire,
// in-memory and canonical string forms.
package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// TronMainnetPrefix is the version byte of Tron mainnet addresses.
const TronMainnetPrefix byte = 0x41

const (
	tronAddressLen  = 21
	checksumLen     = 4
	tronEncodedLen  = tronAddressLen + checksumLen
	tronBase58Chars = 34
)

var (
	ErrInvalidBase58   = errors.New("invalid base58 string")
	ErrInvalidChecksum = errors.New("invalid base58check checksum")
	ErrInvalidPrefix   = errors.New("invalid tron address prefix")
)

// TronAddress is a Tron account address. Its in-memory representation is the
// 20-byte EVM form; the 0x41 prefix is applied only when rendering.
type TronAddress common.Address

// TronAddressFromEVM wraps a 20-byte EVM address.
func TronAddressFromEVM(addr common.Address) TronAddress {
	return TronAddress(addr)
}

// EVM returns the 20-byte EVM form.
func (a TronAddress) EVM() common.Address {
	return common.Address(a)
}

// String renders the base58check form, e.g. T...
func (a TronAddress) String() string {
	payload := make([]byte, 0, tronEncodedLen)
	payload = append(payload, TronMainnetPrefix)
	payload = append(payload, a[:]...)
	payload = append(payload, checksum(payload)...)
	return base58.Encode(payload)
}

// Hex renders the 0x-prefixed lowercase EVM form.
func (a TronAddress) Hex() string {
	return strings.ToLower(common.Address(a).Hex())
}

// ParseTronBase58 decodes a base58check Tron address.
func ParseTronBase58(s string) (TronAddress, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return TronAddress{}, fmt.Errorf("%w: %s", ErrInvalidBase58, s)
	}
	if len(raw) != tronEncodedLen {
		return TronAddress{}, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidBase58, len(raw), tronEncodedLen)
	}

	payload, sum := raw[:tronAddressLen], raw[tronAddressLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return TronAddress{}, fmt.Errorf("%w: %s", ErrInvalidChecksum, s)
	}
	if payload[0] != TronMainnetPrefix {
		return TronAddress{}, fmt.Errorf("%w: 0x%02x", ErrInvalidPrefix, payload[0])
	}

	var out TronAddress
	copy(out[:], payload[1:])
	return out, nil
}

// ParseTronAddress accepts base58check, 0x-prefixed 20-byte hex, or 41-prefixed 21-byte hex.
func ParseTronAddress(s string) (TronAddress, error) {
	s = strings.TrimSpace(s)
	if len(s) == tronBase58Chars && (s[0] == 'T') {
		return ParseTronBase58(s)
	}

	hexStr := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch len(hexStr) {
	case 2 * common.AddressLength:
		b, err := decodeHex(hexStr)
		if err != nil {
			return TronAddress{}, err
		}
		var out TronAddress
		copy(out[:], b)
		return out, nil
	case 2 * tronAddressLen:
		b, err := decodeHex(hexStr)
		if err != nil {
			return TronAddress{}, err
		}
		if b[0] != TronMainnetPrefix {
			return TronAddress{}, fmt.Errorf("%w: 0x%02x", ErrInvalidPrefix, b[0])
		}
		var out TronAddress
		copy(out[:], b[1:])
		return out, nil
	default:
		return ParseTronBase58(s)
	}
}

// ParseEVMAddress parses a 0x-prefixed 20-byte hex address strictly.
func ParseEVMAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid evm address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// AddressHex renders an EVM address as lowercase 0x hex.
func AddressHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
