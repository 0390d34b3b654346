package types_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/host"
	"github.com/airchains-network/stateless-verifier/testutil"
	"github.com/airchains-network/stateless-verifier/types"
)

var storeAddr = common.HexToAddress("0x5000000000000000000000000000000000000001")

func collected(t *testing.T) *types.ClientExecutorInput {
	t.Helper()
	w := testutil.NewWorld()
	w.Fund(testutil.Address(0), testutil.Ether(10))
	w.Deploy(storeAddr, testutil.StoreCode)
	w.SetStorage(storeAddr, testutil.Slot(1), common.HexToHash("0x07"))
	chain := testutil.NewChain(w)
	for i := 0; i < 2; i++ {
		_, err := chain.AddBlock(nil, nil)
		require.NoError(t, err)
	}
	block, err := chain.AddBlock([]*ethtypes.Transaction{
		chain.Call(0, 0, &storeAddr, nil, testutil.Word(3), 100_000),
	}, nil)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	in, err := host.NewCollector(chain, executor.NewEngine(chain.Config), 2, log).Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)
	return in
}

func TestEncodeDecode(t *testing.T) {
	in := collected(t)
	enc, err := in.Encode()
	require.NoError(t, err)

	out, err := types.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, in.CurrentBlock.Hash(), out.CurrentBlock.Hash())
	assert.Equal(t, in.CurrentBlock.Transactions()[0].Hash(), out.CurrentBlock.Transactions()[0].Hash())
	require.Len(t, out.AncestorHeaders, len(in.AncestorHeaders))
	for i := range in.AncestorHeaders {
		assert.Equal(t, in.AncestorHeaders[i].Hash(), out.AncestorHeaders[i].Hash())
	}
	assert.Equal(t, in.ParentState.StateRoot, out.ParentState.StateRoot)
	assert.Equal(t, in.ParentState.StateNodes, out.ParentState.StateNodes)
	require.Len(t, out.StateRequests, len(in.StateRequests))
	for i, req := range in.StateRequests {
		assert.Equal(t, req.Address, out.StateRequests[i].Address)
		assert.ElementsMatch(t, req.Slots, out.StateRequests[i].Slots)
	}
	assert.Equal(t, in.Bytecodes, out.Bytecodes)
	assert.Equal(t, in.ParentHeader().Hash(), out.CurrentBlock.ParentHash())

	again, err := out.Encode()
	require.NoError(t, err)
	assert.Equal(t, enc, again)
}

func TestDecodeRejectsNonCanonical(t *testing.T) {
	a, b := common.HexToAddress("0x01"), common.HexToAddress("0x02")
	s1, s2 := common.HexToHash("0x01"), common.HexToHash("0x02")
	tests := []struct {
		name   string
		tamper func(in *types.ClientExecutorInput)
	}{
		{"requests out of order", func(in *types.ClientExecutorInput) {
			in.StateRequests = []types.StateRequest{{Address: b}, {Address: a}}
		}},
		{"duplicate request", func(in *types.ClientExecutorInput) {
			in.StateRequests = []types.StateRequest{{Address: a}, {Address: a}}
		}},
		{"slots out of order", func(in *types.ClientExecutorInput) {
			in.StateRequests = []types.StateRequest{{Address: a, Slots: []common.Hash{s2, s1}}}
		}},
		{"duplicate bytecode", func(in *types.ClientExecutorInput) {
			in.Bytecodes = [][]byte{testutil.StoreCode, testutil.StoreCode}
		}},
		{"no ancestors", func(in *types.ClientExecutorInput) { in.AncestorHeaders = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := collected(t)
			tt.tamper(in)
			enc, err := in.Encode()
			require.NoError(t, err)
			_, err = types.Decode(enc)
			assert.ErrorIs(t, err, types.ErrNonCanonical)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := types.Decode([]byte{0xc1, 0xff})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNonCanonical)
}

func TestNewStateRequests(t *testing.T) {
	a, b := common.HexToAddress("0x0a"), common.HexToAddress("0x0b")
	s1, s2 := common.HexToHash("0x01"), common.HexToHash("0x02")
	reqs := types.NewStateRequests(map[common.Address][]common.Hash{
		b: {s2, s1, s2},
		a: nil,
	})
	require.Len(t, reqs, 2)
	assert.Equal(t, a, reqs[0].Address)
	assert.Empty(t, reqs[0].Slots)
	assert.Equal(t, b, reqs[1].Address)
	assert.Equal(t, []common.Hash{s1, s2}, reqs[1].Slots)
}

func TestNewBytecodes(t *testing.T) {
	x, y := []byte{0x60, 0x00}, []byte{0x60, 0x01}
	codes := types.NewBytecodes([][]byte{y, x, y})
	require.Len(t, codes, 2)
	h0, h1 := crypto.Keccak256Hash(codes[0]), crypto.Keccak256Hash(codes[1])
	assert.Negative(t, h0.Cmp(h1))
	assert.ElementsMatch(t, [][]byte{x, y}, codes)
}
