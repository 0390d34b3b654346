package mpt

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Hasher computes node digests. Verifier hosts that ship an accelerated
// Keccak implementation pass their own Hasher instead of relying on any
// process-wide registration.
type Hasher interface {
	Hash(data []byte) common.Hash
}

type keccakHasher struct{}

func (keccakHasher) Hash(data []byte) common.Hash {
	var out common.Hash
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

// Keccak is the default Hasher, a plain Keccak-256.
var Keccak Hasher = keccakHasher{}

// HashKey returns the secure trie key for raw key bytes, e.g. an address or a
// storage slot.
func HashKey(h Hasher, key []byte) []byte {
	if h == nil {
		h = Keccak
	}
	sum := h.Hash(key)
	return sum[:]
}
