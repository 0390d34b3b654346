// Package mpt implements a partial Merkle Patricia Trie: an arena of nodes
// built from Merkle proofs that holds only the parts of a trie needed to read,
// and then update, a known set of keys. Every node that is resolved from a
// proof is checked against the reference in its parent, so the root computed
// from a partial trie is always the root of the full trie it was proven
// against.
package mpt

import (
	"bytes"
	"fmt"
	"maps"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Trie is a partial Merkle Patricia Trie. The zero value is not usable, use
// New or FromSnapshot.
type Trie struct {
	hasher Hasher
	nodes  []node
	root   ref

	anchored bool
	anchor   common.Hash
	dirty    bool

	// pool holds every raw node seen in a proof, by hash. Nodes in the pool
	// are only linked into the arena when a parent reference asks for them.
	pool map[common.Hash][]byte
}

// New returns an empty trie. A nil hasher selects Keccak.
func New(hasher Hasher) *Trie {
	if hasher == nil {
		hasher = Keccak
	}
	return &Trie{
		hasher: hasher,
		root:   nilRef,
		pool:   make(map[common.Hash][]byte),
	}
}

// FromSnapshot rebuilds a trie anchored at root from a set of raw nodes, such
// as the output of Nodes. Everything reachable from root through the given
// nodes is resolved; the rest stays a digest.
func FromSnapshot(hasher Hasher, root common.Hash, nodes [][]byte) (*Trie, error) {
	t := New(hasher)
	if err := t.anchorTo(root); err != nil {
		return nil, err
	}
	if err := t.AddNodes(nodes); err != nil {
		return nil, err
	}
	r, err := t.expandAll(t.root)
	if err != nil {
		return nil, err
	}
	t.root = r
	return t, nil
}

// Root returns the root hash the trie is anchored to.
func (t *Trie) Root() common.Hash {
	if !t.anchored {
		return types.EmptyRootHash
	}
	return t.anchor
}

// AddNodes adds raw nodes to the node pool without linking them into the
// trie. They are used to resolve references reached later by updates and
// deletions, e.g. the nodes of a proof taken against the post-state.
func (t *Trie) AddNodes(nodes [][]byte) error {
	for _, raw := range nodes {
		if _, err := New(t.hasher).decodeNode(raw); err != nil {
			return err
		}
		t.pool[t.hasher.Hash(raw)] = common.CopyBytes(raw)
	}
	return nil
}

// InsertProof verifies a Merkle proof for key against root and links its
// nodes into the trie. Inserting the same proof twice is a no-op. All proofs
// inserted into one trie must share the same root, and proofs can only be
// inserted before the trie is first mutated.
func (t *Trie) InsertProof(root common.Hash, proof [][]byte, key []byte) error {
	if t.dirty {
		return ErrTrieModified
	}
	if err := t.anchorTo(root); err != nil {
		return err
	}
	if err := t.AddNodes(proof); err != nil {
		return err
	}
	r, err := t.expand(t.root, toNibbles(key))
	if err != nil {
		return fmt.Errorf("key %x: %w", key, err)
	}
	t.root = r
	return nil
}

func (t *Trie) anchorTo(root common.Hash) error {
	if t.anchored {
		if root != t.anchor {
			return fmt.Errorf("%w: anchored at %x, proof for %x", ErrRootMismatch, t.anchor, root)
		}
		return nil
	}
	if t.root != nilRef {
		return ErrTrieModified
	}
	t.anchored, t.anchor = true, root
	if root != types.EmptyRootHash {
		t.root = t.add(digestNode(root))
	}
	return nil
}

// resolve links the pool node with hash h into the arena.
func (t *Trie) resolve(h common.Hash) (ref, error) {
	raw, ok := t.pool[h]
	if !ok {
		return nilRef, fmt.Errorf("%w: no node for reference %x", ErrHashMismatch, h)
	}
	return t.decodeNode(raw)
}

// expand resolves every digest on the path of key.
func (t *Trie) expand(r ref, path []byte) (ref, error) {
	if r == nilRef {
		return r, nil
	}
	n := t.nodes[r]
	switch n.kind {
	case kindDigest:
		resolved, err := t.resolve(n.digest)
		if err != nil {
			return r, err
		}
		return t.expand(resolved, path)
	case kindExtension:
		if !bytes.HasPrefix(path, n.path) {
			return r, nil
		}
		child, err := t.expand(n.child, path[len(n.path):])
		if err != nil || child == n.child {
			return r, err
		}
		n.child = child
		return t.add(n), nil
	case kindBranch:
		if len(path) == 0 {
			return r, nil
		}
		child, err := t.expand(n.children[path[0]], path[1:])
		if err != nil || child == n.children[path[0]] {
			return r, err
		}
		n.children[path[0]] = child
		return t.add(n), nil
	default:
		return r, nil
	}
}

// expandAll resolves every digest reachable through the node pool.
func (t *Trie) expandAll(r ref) (ref, error) {
	if r == nilRef {
		return r, nil
	}
	n := t.nodes[r]
	switch n.kind {
	case kindDigest:
		if _, ok := t.pool[n.digest]; !ok {
			return r, nil
		}
		resolved, err := t.resolve(n.digest)
		if err != nil {
			return r, err
		}
		return t.expandAll(resolved)
	case kindExtension:
		child, err := t.expandAll(n.child)
		if err != nil {
			return r, err
		}
		n.child = child
		return t.add(n), nil
	case kindBranch:
		for i, c := range n.children {
			child, err := t.expandAll(c)
			if err != nil {
				return r, err
			}
			n.children[i] = child
		}
		return t.add(n), nil
	default:
		return r, nil
	}
}

// Get returns the value stored under key. A nil value with a nil error means
// the trie proves the key is absent; ErrKeyNotCovered means no inserted proof
// says anything about the key.
func (t *Trie) Get(key []byte) ([]byte, error) {
	path := toNibbles(key)
	r := t.root
	for {
		if r == nilRef {
			return nil, nil
		}
		n := &t.nodes[r]
		switch n.kind {
		case kindDigest:
			return nil, fmt.Errorf("%w: %x", ErrKeyNotCovered, key)
		case kindLeaf:
			if bytes.Equal(n.path, path) {
				return common.CopyBytes(n.value), nil
			}
			return nil, nil
		case kindExtension:
			if !bytes.HasPrefix(path, n.path) {
				return nil, nil
			}
			path, r = path[len(n.path):], n.child
		case kindBranch:
			if len(path) == 0 {
				return common.CopyBytes(n.value), nil
			}
			path, r = path[1:], n.children[path[0]]
		}
	}
}

// Update stores value under key. An empty value deletes the key.
func (t *Trie) Update(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	r, err := t.insert(t.root, toNibbles(key), common.CopyBytes(value))
	if err != nil {
		return fmt.Errorf("update %x: %w", key, err)
	}
	t.root, t.dirty = r, true
	return nil
}

func (t *Trie) insert(r ref, path, value []byte) (ref, error) {
	if r == nilRef {
		return t.add(leafNode(path, value)), nil
	}
	n := t.nodes[r]
	switch n.kind {
	case kindDigest:
		resolved, err := t.resolveForUpdate(n.digest)
		if err != nil {
			return r, err
		}
		return t.insert(resolved, path, value)

	case kindLeaf:
		if bytes.Equal(n.path, path) {
			return t.add(leafNode(path, value)), nil
		}
		m := prefixLen(n.path, path)
		b := branchNode()
		t.placeInBranch(&b, n.path[m:], n.value)
		t.placeInBranch(&b, path[m:], value)
		return t.withPrefix(path[:m], t.add(b)), nil

	case kindExtension:
		m := prefixLen(n.path, path)
		if m == len(n.path) {
			child, err := t.insert(n.child, path[m:], value)
			if err != nil {
				return r, err
			}
			n.child = child
			return t.add(n), nil
		}
		b := branchNode()
		if rest := n.path[m+1:]; len(rest) > 0 {
			b.children[n.path[m]] = t.add(extensionNode(rest, n.child))
		} else {
			b.children[n.path[m]] = n.child
		}
		t.placeInBranch(&b, path[m:], value)
		return t.withPrefix(path[:m], t.add(b)), nil

	case kindBranch:
		if len(path) == 0 {
			n.value = value
			return t.add(n), nil
		}
		child, err := t.insert(n.children[path[0]], path[1:], value)
		if err != nil {
			return r, err
		}
		n.children[path[0]] = child
		return t.add(n), nil
	}
	return r, fmt.Errorf("mpt: unknown node kind %d", n.kind)
}

func (t *Trie) placeInBranch(b *node, path, value []byte) {
	if len(path) == 0 {
		b.value = value
		return
	}
	b.children[path[0]] = t.add(leafNode(path[1:], value))
}

func (t *Trie) withPrefix(prefix []byte, r ref) ref {
	if len(prefix) == 0 {
		return r
	}
	return t.add(extensionNode(common.CopyBytes(prefix), r))
}

// Delete removes key from the trie. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	r, _, err := t.delete(t.root, toNibbles(key))
	if err != nil {
		return fmt.Errorf("delete %x: %w", key, err)
	}
	t.root, t.dirty = r, true
	return nil
}

func (t *Trie) delete(r ref, path []byte) (ref, bool, error) {
	if r == nilRef {
		return r, false, nil
	}
	n := t.nodes[r]
	switch n.kind {
	case kindDigest:
		resolved, err := t.resolveForUpdate(n.digest)
		if err != nil {
			return r, false, err
		}
		return t.delete(resolved, path)

	case kindLeaf:
		if bytes.Equal(n.path, path) {
			return nilRef, true, nil
		}
		return r, false, nil

	case kindExtension:
		if !bytes.HasPrefix(path, n.path) {
			return r, false, nil
		}
		child, changed, err := t.delete(n.child, path[len(n.path):])
		if err != nil || !changed {
			return r, false, err
		}
		if child == nilRef {
			return nilRef, true, nil
		}
		switch c := t.nodes[child]; c.kind {
		case kindLeaf:
			return t.add(leafNode(concat(n.path, c.path), c.value)), true, nil
		case kindExtension:
			return t.add(extensionNode(concat(n.path, c.path), c.child)), true, nil
		default:
			n.child = child
			return t.add(n), true, nil
		}

	case kindBranch:
		if len(path) == 0 {
			if n.value == nil {
				return r, false, nil
			}
			n.value = nil
		} else {
			child, changed, err := t.delete(n.children[path[0]], path[1:])
			if err != nil || !changed {
				return r, false, err
			}
			n.children[path[0]] = child
		}
		collapsed, err := t.collapse(n)
		return collapsed, true, err
	}
	return r, false, fmt.Errorf("mpt: unknown node kind %d", n.kind)
}

// collapse normalizes a branch that may have been left with a single entry.
func (t *Trie) collapse(b node) (ref, error) {
	pos, count := -1, 0
	for i, c := range b.children {
		if c != nilRef {
			pos, count = i, count+1
		}
	}
	if b.value != nil {
		pos, count = 16, count+1
	}
	switch {
	case count == 0:
		return nilRef, nil
	case count > 1:
		return t.add(b), nil
	case pos == 16:
		return t.add(leafNode(nil, b.value)), nil
	}

	only := b.children[pos]
	sibling, err := t.resolveSibling(only)
	if err != nil {
		return nilRef, err
	}
	prefix := []byte{byte(pos)}
	switch sibling.kind {
	case kindLeaf:
		return t.add(leafNode(concat(prefix, sibling.path), sibling.value)), nil
	case kindExtension:
		return t.add(extensionNode(concat(prefix, sibling.path), sibling.child)), nil
	default:
		return t.add(extensionNode(prefix, only)), nil
	}
}

// Hash computes the root hash bottom-up from the retained nodes. For an
// unmodified trie this equals Root.
func (t *Trie) Hash() common.Hash {
	if t.root == nilRef {
		return types.EmptyRootHash
	}
	if n := &t.nodes[t.root]; n.kind == kindDigest {
		return n.digest
	}
	return t.hasher.Hash(t.encode(t.root))
}

// Clone returns an independent copy of the trie.
func (t *Trie) Clone() *Trie {
	return &Trie{
		hasher:   t.hasher,
		nodes:    append([]node(nil), t.nodes...),
		root:     t.root,
		anchored: t.anchored,
		anchor:   t.anchor,
		dirty:    t.dirty,
		pool:     maps.Clone(t.pool),
	}
}

// Nodes returns the node pool sorted by hash. Together with Root it is a
// deterministic snapshot of the trie that FromSnapshot can rebuild.
func (t *Trie) Nodes() ([][]byte, error) {
	if t.dirty {
		return nil, ErrTrieModified
	}
	hashes := make([]common.Hash, 0, len(t.pool))
	for h := range t.pool {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = t.pool[h]
	}
	return out, nil
}
