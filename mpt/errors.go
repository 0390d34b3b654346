package mpt

import "errors"

var (
	// ErrMalformedNode is returned when a proof node is not a valid RLP trie node.
	ErrMalformedNode = errors.New("mpt: malformed node")
	// ErrHashMismatch is returned when no known node hashes to a parent's reference.
	ErrHashMismatch = errors.New("mpt: node hash mismatch")
	// ErrKeyNotCovered is returned when a lookup or mutation reaches a part of
	// the trie that no inserted proof resolved.
	ErrKeyNotCovered = errors.New("mpt: key not covered by any proof")
	// ErrRootMismatch is returned when a proof claims a root different from the
	// one the trie is anchored to.
	ErrRootMismatch = errors.New("mpt: root mismatch")
	// ErrTrieModified is returned when proofs are inserted into, or a snapshot
	// is taken of, a trie that has already been mutated.
	ErrTrieModified = errors.New("mpt: trie already modified")
)
