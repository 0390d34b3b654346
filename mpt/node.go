package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

type kind uint8

const (
	kindLeaf kind = iota + 1
	kindExtension
	kindBranch
	// kindDigest is a node known only by its hash.
	kindDigest
)

// ref addresses a node in the trie arena. nilRef is the empty node.
type ref int32

const nilRef ref = -1

// node is an arena entry. Nodes are never mutated after being added; an
// update appends new nodes and rewires the path to the root.
type node struct {
	kind     kind
	path     []byte // nibbles, leaf and extension
	value    []byte // leaf value, or optional branch value
	child    ref    // extension
	children [16]ref
	digest   common.Hash
}

func leafNode(path, value []byte) node {
	return node{kind: kindLeaf, path: path, value: value, child: nilRef, children: emptyChildren}
}

func extensionNode(path []byte, child ref) node {
	return node{kind: kindExtension, path: path, child: child, children: emptyChildren}
}

func branchNode() node {
	return node{kind: kindBranch, child: nilRef, children: emptyChildren}
}

func digestNode(h common.Hash) node {
	return node{kind: kindDigest, digest: h, child: nilRef, children: emptyChildren}
}

var emptyChildren = [16]ref{
	nilRef, nilRef, nilRef, nilRef, nilRef, nilRef, nilRef, nilRef,
	nilRef, nilRef, nilRef, nilRef, nilRef, nilRef, nilRef, nilRef,
}

func (t *Trie) add(n node) ref {
	t.nodes = append(t.nodes, n)
	return ref(len(t.nodes) - 1)
}

// decodeNode parses one RLP encoded trie node, including any nodes embedded in
// it, into the arena.
func (t *Trie) decodeNode(raw []byte) (ref, error) {
	elems, rest, err := rlp.SplitList(raw)
	if err != nil {
		return nilRef, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	if len(rest) != 0 {
		return nilRef, fmt.Errorf("%w: trailing bytes after node", ErrMalformedNode)
	}
	count, err := rlp.CountValues(elems)
	if err != nil {
		return nilRef, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	switch count {
	case 2:
		return t.decodeShort(elems)
	case 17:
		return t.decodeBranch(elems)
	default:
		return nilRef, fmt.Errorf("%w: invalid number of list elements: %d", ErrMalformedNode, count)
	}
}

func (t *Trie) decodeShort(elems []byte) (ref, error) {
	compact, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nilRef, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	path, leaf, err := decodePath(compact)
	if err != nil {
		return nilRef, err
	}
	if leaf {
		value, _, err := rlp.SplitString(rest)
		if err != nil {
			return nilRef, fmt.Errorf("%w: invalid leaf value: %v", ErrMalformedNode, err)
		}
		return t.add(leafNode(path, common.CopyBytes(value))), nil
	}
	if len(path) == 0 {
		return nilRef, fmt.Errorf("%w: extension with empty path", ErrMalformedNode)
	}
	child, _, err := t.decodeRef(rest)
	if err != nil {
		return nilRef, err
	}
	if child == nilRef {
		return nilRef, fmt.Errorf("%w: extension without child", ErrMalformedNode)
	}
	return t.add(extensionNode(path, child)), nil
}

func (t *Trie) decodeBranch(elems []byte) (ref, error) {
	n := branchNode()
	for i := 0; i < 16; i++ {
		child, rest, err := t.decodeRef(elems)
		if err != nil {
			return nilRef, err
		}
		n.children[i] = child
		elems = rest
	}
	value, _, err := rlp.SplitString(elems)
	if err != nil {
		return nilRef, fmt.Errorf("%w: invalid branch value: %v", ErrMalformedNode, err)
	}
	if len(value) > 0 {
		n.value = common.CopyBytes(value)
	}
	return t.add(n), nil
}

// decodeRef parses a child reference: empty, a 32 byte digest, or an embedded
// node shorter than 32 bytes.
func (t *Trie) decodeRef(buf []byte) (ref, []byte, error) {
	k, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nilRef, buf, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	switch {
	case k == rlp.List:
		size := len(buf) - len(rest)
		if size >= common.HashLength {
			return nilRef, buf, fmt.Errorf("%w: oversized embedded node (%d bytes)", ErrMalformedNode, size)
		}
		r, err := t.decodeNode(buf[:size])
		return r, rest, err
	case k == rlp.String && len(val) == 0:
		return nilRef, rest, nil
	case k == rlp.String && len(val) == common.HashLength:
		return t.add(digestNode(common.BytesToHash(val))), rest, nil
	default:
		return nilRef, buf, fmt.Errorf("%w: invalid reference size %d", ErrMalformedNode, len(val))
	}
}

// encode returns the canonical RLP encoding of the node at r.
func (t *Trie) encode(r ref) []byte {
	n := &t.nodes[r]
	switch n.kind {
	case kindLeaf:
		return encodeList([]rlp.RawValue{encodeString(encodePath(n.path, true)), encodeString(n.value)})
	case kindExtension:
		return encodeList([]rlp.RawValue{encodeString(encodePath(n.path, false)), t.reference(n.child)})
	case kindBranch:
		items := make([]rlp.RawValue, 17)
		for i, c := range n.children {
			items[i] = t.reference(c)
		}
		items[16] = encodeString(n.value)
		return encodeList(items)
	default:
		panic(fmt.Sprintf("mpt: cannot encode node of kind %d", n.kind))
	}
}

// reference returns how a parent embeds the node at r: the node itself when
// its encoding is shorter than 32 bytes, its hash otherwise.
func (t *Trie) reference(r ref) rlp.RawValue {
	if r == nilRef {
		return encodeString(nil)
	}
	if t.nodes[r].kind == kindDigest {
		return encodeString(t.nodes[r].digest[:])
	}
	enc := t.encode(r)
	if len(enc) < common.HashLength {
		return enc
	}
	h := t.hasher.Hash(enc)
	return encodeString(h[:])
}

func encodeString(b []byte) rlp.RawValue {
	enc, err := rlp.EncodeToBytes(b)
	if err != nil {
		panic(fmt.Sprintf("mpt: encoding byte string: %v", err))
	}
	return enc
}

func encodeList(items []rlp.RawValue) []byte {
	enc, err := rlp.EncodeToBytes(items)
	if err != nil {
		panic(fmt.Sprintf("mpt: encoding node list: %v", err))
	}
	return enc
}
