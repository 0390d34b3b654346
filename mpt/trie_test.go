package mpt_test

import (
	"bytes"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/mpt"
)

type entry struct {
	key, value []byte
}

func testEntries(n int) []entry {
	out := make([]entry, n)
	for i := range out {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(i))
		key := crypto.Keccak256(buf[:])
		out[i] = entry{key: key, value: crypto.Keccak256(key)}
	}
	return out
}

func fullTrie(t *testing.T, entries []entry) *mpt.Trie {
	t.Helper()
	tr := mpt.New(nil)
	for _, e := range entries {
		require.NoError(t, tr.Update(e.key, e.value))
	}
	return tr
}

func stackRoot(t *testing.T, entries []entry) common.Hash {
	t.Helper()
	sorted := append([]entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].key, sorted[j].key) < 0 })
	st := trie.NewStackTrie(nil)
	for _, e := range sorted {
		require.NoError(t, st.Update(e.key, e.value))
	}
	return st.Hash()
}

func key32(prefix ...byte) []byte {
	k := make([]byte, 32)
	copy(k, prefix)
	k[31] = 0xff
	return k
}

func value32(seed byte) []byte {
	return crypto.Keccak256([]byte{seed})
}

func TestEmptyTrie(t *testing.T) {
	tr := mpt.New(nil)
	assert.Equal(t, types.EmptyRootHash, tr.Hash())

	require.NoError(t, tr.InsertProof(types.EmptyRootHash, nil, key32(0x01)))
	v, err := tr.Get(key32(0x01))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestHashMatchesStackTrie(t *testing.T) {
	for _, n := range []int{1, 2, 3, 16, 17, 200} {
		entries := testEntries(n)
		assert.Equal(t, stackRoot(t, entries), fullTrie(t, entries).Hash(), "entries: %d", n)
	}
}

func TestProofRoundTrip(t *testing.T) {
	entries := testEntries(200)
	full := fullTrie(t, entries)
	root := full.Hash()

	partial := mpt.New(nil)
	for _, e := range entries[:20] {
		proof, err := full.Prove(e.key)
		require.NoError(t, err)
		require.NoError(t, partial.InsertProof(root, proof, e.key))
	}
	for _, e := range entries[:20] {
		v, err := partial.Get(e.key)
		require.NoError(t, err)
		assert.Equal(t, e.value, v)
	}
	assert.Equal(t, root, partial.Hash())
	assert.Equal(t, root, partial.Root())
}

func TestAbsenceIsNotUncovered(t *testing.T) {
	entries := testEntries(200)
	full := fullTrie(t, entries)
	root := full.Hash()

	absent := crypto.Keccak256([]byte("absent"))
	proof, err := full.Prove(absent)
	require.NoError(t, err)

	partial := mpt.New(nil)
	require.NoError(t, partial.InsertProof(root, proof, absent))

	v, err := partial.Get(absent)
	require.NoError(t, err)
	assert.Nil(t, v)

	// A key under a different root child than the proven one stays unresolved.
	var other []byte
	for _, e := range entries {
		if e.key[0]>>4 != absent[0]>>4 {
			other = e.key
			break
		}
	}
	require.NotNil(t, other)
	_, err = partial.Get(other)
	assert.ErrorIs(t, err, mpt.ErrKeyNotCovered)
}

func TestInsertProofIdempotent(t *testing.T) {
	entries := testEntries(50)
	full := fullTrie(t, entries)
	proof, err := full.Prove(entries[7].key)
	require.NoError(t, err)

	tr := mpt.New(nil)
	require.NoError(t, tr.InsertProof(full.Hash(), proof, entries[7].key))
	first, err := tr.Nodes()
	require.NoError(t, err)

	require.NoError(t, tr.InsertProof(full.Hash(), proof, entries[7].key))
	second, err := tr.Nodes()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, full.Hash(), tr.Hash())
}

func TestInsertProofErrors(t *testing.T) {
	entries := testEntries(50)
	full := fullTrie(t, entries)
	root := full.Hash()
	key := entries[3].key
	proof, err := full.Prove(key)
	require.NoError(t, err)

	tamper := func(i, pos int) [][]byte {
		out := make([][]byte, len(proof))
		for j := range proof {
			out[j] = common.CopyBytes(proof[j])
		}
		out[i][pos] ^= 0x01
		return out
	}
	last := len(proof) - 1
	// first byte of the first child hash in the root branch
	inHash := bytes.IndexByte(proof[0][3:], 0xa0) + 4

	tests := []struct {
		name  string
		root  common.Hash
		proof [][]byte
		want  error
	}{
		{"tampered leaf", root, tamper(last, len(proof[last])-1), mpt.ErrHashMismatch},
		{"tampered root", root, tamper(0, inHash), mpt.ErrHashMismatch},
		{"missing node", root, proof[:len(proof)-1], mpt.ErrHashMismatch},
		{"not a list", root, [][]byte{{0x80}}, mpt.ErrMalformedNode},
		{"wrong arity", root, [][]byte{{0xc2, 0x80, 0x80}}, mpt.ErrMalformedNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mpt.New(nil).InsertProof(tt.root, tt.proof, key)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("second root", func(t *testing.T) {
		tr := mpt.New(nil)
		require.NoError(t, tr.InsertProof(root, proof, key))
		err := tr.InsertProof(common.Hash{1}, proof, key)
		assert.ErrorIs(t, err, mpt.ErrRootMismatch)
	})

	t.Run("after update", func(t *testing.T) {
		tr := mpt.New(nil)
		require.NoError(t, tr.InsertProof(root, proof, key))
		require.NoError(t, tr.Update(key, []byte{1}))
		assert.ErrorIs(t, tr.InsertProof(root, proof, key), mpt.ErrTrieModified)
	})
}

func TestPartialUpdatesMatchFullTrie(t *testing.T) {
	entries := testEntries(200)
	full := fullTrie(t, entries)
	root := full.Hash()

	updated := entries[:5]
	deleted := entries[5:10]
	inserted := testEntries(210)[200:]

	post := full.Clone()
	for _, e := range updated {
		require.NoError(t, post.Update(e.key, []byte("updated")))
	}
	for _, e := range inserted {
		require.NoError(t, post.Update(e.key, e.value))
	}
	for _, e := range deleted {
		require.NoError(t, post.Delete(e.key))
	}

	partial := mpt.New(nil)
	for _, group := range [][]entry{updated, deleted, inserted} {
		for _, e := range group {
			proof, err := full.Prove(e.key)
			require.NoError(t, err)
			require.NoError(t, partial.InsertProof(root, proof, e.key))
		}
	}
	for _, e := range deleted {
		proof, err := post.Prove(e.key)
		require.NoError(t, err)
		require.NoError(t, partial.AddNodes(proof))
	}

	// Deletions go last so that every collapse they cause is final.
	for _, e := range updated {
		require.NoError(t, partial.Update(e.key, []byte("updated")))
	}
	for _, e := range inserted {
		require.NoError(t, partial.Update(e.key, e.value))
	}
	for _, e := range deleted {
		require.NoError(t, partial.Delete(e.key))
	}

	assert.Equal(t, post.Hash(), partial.Hash())

	var remaining []entry
	remaining = append(remaining, entries[10:]...)
	remaining = append(remaining, inserted...)
	for _, e := range updated {
		remaining = append(remaining, entry{key: e.key, value: []byte("updated")})
	}
	assert.Equal(t, stackRoot(t, remaining), partial.Hash())
}

func TestDeleteCollapsesOntoProofOnlySibling(t *testing.T) {
	a := entry{key32(0x00), value32(1)}
	tests := []struct {
		name   string
		others []entry
	}{
		{"leaf sibling", []entry{{key32(0x10), value32(2)}}},
		{"branch sibling", []entry{{key32(0x10), value32(2)}, {key32(0x11), value32(3)}}},
		{"extension sibling", []entry{{key32(0x10, 0x00), value32(2)}, {key32(0x10, 0x01), value32(3)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full := fullTrie(t, append([]entry{a}, tt.others...))
			post := fullTrie(t, tt.others)

			proof, err := full.Prove(a.key)
			require.NoError(t, err)

			partial := mpt.New(nil)
			require.NoError(t, partial.InsertProof(full.Hash(), proof, a.key))

			assert.ErrorIs(t, partial.Clone().Delete(a.key), mpt.ErrKeyNotCovered)

			postProof, err := post.Prove(a.key)
			require.NoError(t, err)
			require.NoError(t, partial.AddNodes(postProof))
			require.NoError(t, partial.Delete(a.key))
			assert.Equal(t, post.Hash(), partial.Hash())
			assert.Equal(t, stackRoot(t, tt.others), partial.Hash())
		})
	}
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	entries := testEntries(30)
	full := fullTrie(t, entries)
	absent := crypto.Keccak256([]byte("nope"))
	proof, err := full.Prove(absent)
	require.NoError(t, err)

	tr := mpt.New(nil)
	require.NoError(t, tr.InsertProof(full.Hash(), proof, absent))
	require.NoError(t, tr.Delete(absent))
	assert.Equal(t, full.Hash(), tr.Hash())
}

func TestSnapshotRoundTrip(t *testing.T) {
	entries := testEntries(100)
	full := fullTrie(t, entries)
	root := full.Hash()

	partial := mpt.New(nil)
	for _, e := range entries[:10] {
		proof, err := full.Prove(e.key)
		require.NoError(t, err)
		require.NoError(t, partial.InsertProof(root, proof, e.key))
	}
	nodes, err := partial.Nodes()
	require.NoError(t, err)

	restored, err := mpt.FromSnapshot(nil, root, nodes)
	require.NoError(t, err)
	assert.Equal(t, root, restored.Hash())
	for _, e := range entries[:10] {
		v, err := restored.Get(e.key)
		require.NoError(t, err)
		assert.Equal(t, e.value, v)
	}
	again, err := restored.Nodes()
	require.NoError(t, err)
	assert.Equal(t, nodes, again)

	require.NoError(t, partial.Update(entries[0].key, []byte{1}))
	_, err = partial.Nodes()
	assert.ErrorIs(t, err, mpt.ErrTrieModified)
}

func TestCloneIsIndependent(t *testing.T) {
	entries := testEntries(20)
	tr := fullTrie(t, entries)
	before := tr.Hash()

	c := tr.Clone()
	require.NoError(t, c.Update(entries[0].key, []byte("changed")))
	assert.Equal(t, before, tr.Hash())
	assert.NotEqual(t, before, c.Hash())
}

type countingHasher struct {
	calls int
}

func (h *countingHasher) Hash(data []byte) common.Hash {
	h.calls++
	return crypto.Keccak256Hash(data)
}

func TestCustomHasher(t *testing.T) {
	h := &countingHasher{}
	tr := mpt.New(h)
	for _, e := range testEntries(10) {
		require.NoError(t, tr.Update(e.key, e.value))
	}
	assert.Equal(t, stackRoot(t, testEntries(10)), tr.Hash())
	assert.Positive(t, h.calls)
	assert.Equal(t, crypto.Keccak256(common.Address{1}.Bytes()), mpt.HashKey(nil, common.Address{1}.Bytes()))
}
