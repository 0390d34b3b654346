package witness_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/mpt"
	"github.com/airchains-network/stateless-verifier/state"
	"github.com/airchains-network/stateless-verifier/testutil"
	"github.com/airchains-network/stateless-verifier/types"
	"github.com/airchains-network/stateless-verifier/witness"
)

var (
	alice    = common.HexToAddress("0xa11ce")
	contract = common.HexToAddress("0xc0de")
	nobody   = common.HexToAddress("0xdead")
	stranger = common.HexToAddress("0x5eed")
)

// bundle builds a chain of blocks and a hand-made bundle for its head that
// proves alice, contract and nobody.
func bundle(t *testing.T, blocks int) (*testutil.Chain, *types.ClientExecutorInput) {
	t.Helper()
	w := testutil.NewWorld()
	w.Fund(alice, uint256.NewInt(1000))
	w.Deploy(contract, testutil.StoreCode)
	w.SetStorage(contract, testutil.Slot(1), common.HexToHash("0x07"))
	for i := 0; i < 16; i++ {
		w.Fund(common.BytesToAddress([]byte{0xf0, byte(i)}), uint256.NewInt(1))
	}
	chain := testutil.NewChain(w)
	for i := 0; i < blocks; i++ {
		_, err := chain.AddBlock(nil, nil)
		require.NoError(t, err)
	}
	head := chain.Head()
	parentNumber := head.NumberU64() - 1
	parent := chain.World(parentNumber)

	keys := map[common.Address][]common.Hash{
		alice:    nil,
		contract: {testutil.Slot(1), testutil.Slot(2)},
		nobody:   {testutil.Slot(1)},
	}
	var proofs []*state.AccountProof
	for addr, slots := range keys {
		proofs = append(proofs, parent.Proof(addr, slots))
	}
	parentHeader, err := chain.HeaderByNumber(context.Background(), parentNumber)
	require.NoError(t, err)
	st, err := state.FromTransitionProofs(nil, parentHeader.Root, proofs, nil)
	require.NoError(t, err)
	snap, err := st.Snapshot()
	require.NoError(t, err)

	var ancestors []*ethtypes.Header
	for n := int(parentNumber); n >= 0; n-- {
		h, err := chain.HeaderByNumber(context.Background(), uint64(n))
		require.NoError(t, err)
		ancestors = append(ancestors, h)
	}
	return chain, &types.ClientExecutorInput{
		CurrentBlock:    head,
		AncestorHeaders: ancestors,
		ParentState:     snap,
		StateRequests:   types.NewStateRequests(keys),
		Bytecodes:       types.NewBytecodes([][]byte{testutil.StoreCode}),
	}
}

// flipLeaves flips the last byte of every node that does not end in an empty
// branch value, which keeps the nodes well formed but changes their hashes.
func flipLeaves(nodes [][]byte) {
	for _, node := range nodes {
		if last := len(node) - 1; node[last] != 0x80 {
			node[last] ^= 0x01
		}
	}
}

func TestLookups(t *testing.T) {
	chain, in := bundle(t, 3)
	db, err := witness.New(nil, in)
	require.NoError(t, err)

	acct, err := db.Account(alice)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), acct.Balance)

	acct, err = db.Account(nobody)
	require.NoError(t, err)
	assert.Nil(t, acct)

	_, err = db.Account(stranger)
	assert.ErrorIs(t, err, witness.ErrAccountNotCovered)

	v, err := db.Storage(contract, testutil.Slot(1))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x07"), v)

	v, err = db.Storage(contract, testutil.Slot(2))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, v)

	_, err = db.Storage(contract, testutil.Slot(3))
	assert.ErrorIs(t, err, witness.ErrStorageNotCovered)

	code, err := db.Code(contract, crypto.Keccak256Hash(testutil.StoreCode))
	require.NoError(t, err)
	assert.Equal(t, testutil.StoreCode, code)

	code, err = db.Code(alice, ethtypes.EmptyCodeHash)
	require.NoError(t, err)
	assert.Nil(t, code)

	_, err = db.Code(alice, common.Hash{1})
	assert.ErrorIs(t, err, witness.ErrMissingBytecode)

	for n := uint64(0); n < 3; n++ {
		h, err := db.BlockHash(n)
		require.NoError(t, err)
		want, err := chain.HeaderByNumber(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, want.Hash(), h, "block %d", n)
	}
	h, err := db.BlockHash(3)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, h)
}

func TestBlockHashWindow(t *testing.T) {
	_, in := bundle(t, 3)
	// Keep the parent and block 0: block 1 is a gap.
	in.AncestorHeaders = []*ethtypes.Header{in.AncestorHeaders[0], in.AncestorHeaders[2]}
	db, err := witness.New(nil, in)
	require.NoError(t, err)

	_, err = db.BlockHash(2)
	require.NoError(t, err)
	_, err = db.BlockHash(1)
	assert.ErrorIs(t, err, witness.ErrMissingAncestor)
	_, err = db.BlockHash(0)
	assert.ErrorIs(t, err, witness.ErrMissingAncestor)
	h, err := db.BlockHash(100)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, h)
}

func TestNewRejectsInconsistentBundles(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(in *types.ClientExecutorInput)
		want   error
	}{
		{"no ancestors", func(in *types.ClientExecutorInput) { in.AncestorHeaders = nil }, witness.ErrBrokenAncestorChain},
		{"unlinked parent", func(in *types.ClientExecutorInput) { in.AncestorHeaders = in.AncestorHeaders[1:] }, witness.ErrBrokenAncestorChain},
		{"parent root", func(in *types.ClientExecutorInput) { in.ParentState.StateRoot = common.Hash{1} }, witness.ErrParentStateRoot},
		{"bytecode", func(in *types.ClientExecutorInput) { in.Bytecodes = nil }, witness.ErrMissingBytecode},
		{"storage root", func(in *types.ClientExecutorInput) {
			for i := range in.ParentState.Storage {
				if in.ParentState.Storage[i].Address == contract {
					in.ParentState.Storage[i].Root = common.Hash{2}
				}
			}
		}, mpt.ErrRootMismatch},
		{"storage trie", func(in *types.ClientExecutorInput) {
			var kept []state.StorageSnapshot
			for _, s := range in.ParentState.Storage {
				if s.Address != contract {
					kept = append(kept, s)
				}
			}
			in.ParentState.Storage = kept
		}, witness.ErrStorageNotCovered},
		{"account leaf", func(in *types.ClientExecutorInput) { flipLeaves(in.ParentState.StateNodes) }, mpt.ErrHashMismatch},
		{"storage leaf", func(in *types.ClientExecutorInput) {
			for _, s := range in.ParentState.Storage {
				if s.Address == contract {
					flipLeaves(s.Nodes)
				}
			}
		}, mpt.ErrHashMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, in := bundle(t, 2)
			tt.tamper(in)
			_, err := witness.New(nil, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
