package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Prove returns the Merkle proof for key: the encodings of every
// hash-referenced node from the root to the leaf, or to the point where the
// path proves the key absent. The root is always included.
func (t *Trie) Prove(key []byte) ([][]byte, error) {
	var (
		path  = toNibbles(key)
		r     = t.root
		proof [][]byte
	)
	for r != nilRef {
		n := &t.nodes[r]
		if n.kind == kindDigest {
			return nil, fmt.Errorf("%w: %x", ErrKeyNotCovered, key)
		}
		if enc := t.encode(r); len(proof) == 0 || len(enc) >= common.HashLength {
			proof = append(proof, enc)
		}
		switch n.kind {
		case kindLeaf:
			r = nilRef
		case kindExtension:
			if !bytes.HasPrefix(path, n.path) {
				r = nilRef
				break
			}
			path, r = path[len(n.path):], n.child
		case kindBranch:
			if len(path) == 0 {
				r = nilRef
				break
			}
			path, r = path[1:], n.children[path[0]]
		}
	}
	return proof, nil
}

// resolveForUpdate links the pool node with hash h for a mutation. A missing
// node means the mutation touches a part of the trie no proof covered.
func (t *Trie) resolveForUpdate(h common.Hash) (ref, error) {
	if _, ok := t.pool[h]; !ok {
		return nilRef, fmt.Errorf("%w: unresolved node %x", ErrKeyNotCovered, h)
	}
	return t.resolve(h)
}

// resolveSibling returns the node left alone in a branch after a deletion.
// If it is known only by hash and its encoding is not in the pool, it is
// recovered from post-state proof nodes: the collapsed node that replaced the
// branch carries the sibling's path extended by a prefix, so some suffix of
// its path re-encodes to the sibling. A digest that a post-state extension
// points at is a branch and needs no resolution.
func (t *Trie) resolveSibling(r ref) (node, error) {
	n := t.nodes[r]
	if n.kind != kindDigest {
		return n, nil
	}
	if _, ok := t.pool[n.digest]; ok {
		resolved, err := t.resolve(n.digest)
		if err != nil {
			return node{}, err
		}
		return t.nodes[resolved], nil
	}
	if enc, ok := t.findOrphan(n.digest); ok {
		resolved, err := t.decodeNode(enc)
		if err != nil {
			return node{}, err
		}
		return t.nodes[resolved], nil
	}
	if t.referencedByExtension(n.digest) {
		return n, nil
	}
	return node{}, fmt.Errorf("%w: cannot resolve orphaned sibling %x", ErrKeyNotCovered, n.digest)
}

func (t *Trie) findOrphan(h common.Hash) ([]byte, bool) {
	var found []byte
	for _, raw := range t.pool {
		visitShortNodes(raw, func(path []byte, leaf bool, tail []byte) {
			for i := 1; i <= len(path) && found == nil; i++ {
				if !leaf && i == len(path) {
					break
				}
				enc := encodeList([]rlp.RawValue{encodeString(encodePath(path[i:], leaf)), tail})
				if len(enc) >= common.HashLength && t.hasher.Hash(enc) == h {
					found = enc
				}
			}
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

func (t *Trie) referencedByExtension(h common.Hash) bool {
	var ok bool
	for _, raw := range t.pool {
		visitShortNodes(raw, func(_ []byte, leaf bool, tail []byte) {
			if leaf {
				return
			}
			if child, _, err := rlp.SplitString(tail); err == nil && bytes.Equal(child, h[:]) {
				ok = true
			}
		})
		if ok {
			return true
		}
	}
	return false
}

// visitShortNodes calls fn for every leaf and extension node in raw,
// including embedded ones. tail is the raw encoding of the leaf value or the
// extension's child reference.
func visitShortNodes(raw []byte, fn func(path []byte, leaf bool, tail []byte)) {
	elems, _, err := rlp.SplitList(raw)
	if err != nil {
		return
	}
	count, err := rlp.CountValues(elems)
	if err != nil {
		return
	}
	switch count {
	case 2:
		compact, rest, err := rlp.SplitString(elems)
		if err != nil {
			return
		}
		path, leaf, err := decodePath(compact)
		if err != nil {
			return
		}
		k, _, after, err := rlp.Split(rest)
		if err != nil {
			return
		}
		tail := rest[:len(rest)-len(after)]
		fn(path, leaf, tail)
		if !leaf && k == rlp.List {
			visitShortNodes(tail, fn)
		}
	case 17:
		for i := 0; i < 16; i++ {
			k, _, rest, err := rlp.Split(elems)
			if err != nil {
				return
			}
			if k == rlp.List {
				visitShortNodes(elems[:len(elems)-len(rest)], fn)
			}
			elems = rest
		}
	}
}
