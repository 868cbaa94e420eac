// Package receiver indexes token transfers credited to the controller's
// CREATE2-derived receiver addresses.
package receiver

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
)

// DefaultCreate2Prefix is the address prefix byte Tron uses in CREATE2 derivation.
const DefaultCreate2Prefix byte = codec.TronMainnetPrefix

// DeriveAddress computes keccak256(prefix || deployer || salt || initCodeHash)[12:].
func DeriveAddress(prefix byte, deployer common.Address, salt, initCodeHash common.Hash) common.Address {
	buf := make([]byte, 0, 1+common.AddressLength+2*common.HashLength)
	buf = append(buf, prefix)
	buf = append(buf, deployer.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, initCodeHash.Bytes()...)

	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// Set maps receiver addresses to the salts they were derived from.
type Set map[common.Address]common.Hash

// Addresses returns the members sorted by address.
func (s Set) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s))
	for addr := range s {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Without returns the members of s whose address is not in covered.
func (s Set) Without(covered map[common.Address]struct{}) Set {
	out := make(Set)
	for addr, salt := range s {
		if _, ok := covered[addr]; !ok {
			out[addr] = salt
		}
	}
	return out
}

// batches splits addrs into groups of at most size.
func batches(addrs []common.Address, size int) [][]common.Address {
	if size <= 0 {
		size = len(addrs)
	}
	var out [][]common.Address
	for start := 0; start < len(addrs); start += size {
		out = append(out, addrs[start:min(start+size, len(addrs))])
	}
	return out
}
