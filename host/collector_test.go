package host_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/host"
	"github.com/airchains-network/stateless-verifier/state"
	"github.com/airchains-network/stateless-verifier/testutil"
)

var (
	storeAddr = common.HexToAddress("0x5000000000000000000000000000000000000001")
	emptyAddr = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

func newChain(t *testing.T) *testutil.Chain {
	t.Helper()
	w := testutil.NewWorld()
	w.Fund(testutil.Address(0), testutil.Ether(100))
	w.Fund(testutil.Address(1), testutil.Ether(5))
	for i := 0; i < 32; i++ {
		w.Fund(common.BytesToAddress([]byte{0xf0, byte(i)}), uint256.NewInt(uint64(i+1)))
	}
	w.Deploy(storeAddr, testutil.StoreCode)
	w.SetStorage(storeAddr, testutil.Slot(1), common.HexToHash("0x07"))
	w.Fund(emptyAddr, new(uint256.Int))
	return testutil.NewChain(w)
}

func newCollector(chain host.ChainSource) *host.Collector {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return host.NewCollector(chain, executor.NewEngine(executor.DevChainConfig()), 4, log)
}

func TestCollectTransfer(t *testing.T) {
	chain := newChain(t)
	block, err := chain.AddBlock([]*ethtypes.Transaction{
		chain.Transfer(0, 0, testutil.Address(1), testutil.Ether(1)),
	}, nil)
	require.NoError(t, err)

	in, err := newCollector(chain).Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)

	assert.Equal(t, block.Hash(), in.CurrentBlock.Hash())
	require.Len(t, in.AncestorHeaders, 1)
	assert.Equal(t, block.ParentHash(), in.ParentHeader().Hash())
	assert.Equal(t, in.ParentHeader().Root, in.ParentState.StateRoot)

	var addrs []common.Address
	for _, req := range in.StateRequests {
		addrs = append(addrs, req.Address)
		assert.Empty(t, req.Slots)
	}
	assert.ElementsMatch(t, []common.Address{
		testutil.Address(0), testutil.Address(1), testutil.Coinbase, executor.BeaconRootsAddress,
	}, addrs)
	assert.Empty(t, in.Bytecodes)
}

func TestCollectContractStorage(t *testing.T) {
	chain := newChain(t)
	block, err := chain.AddBlock([]*ethtypes.Transaction{
		chain.Call(0, 0, &storeAddr, nil, testutil.Word(0), 100_000),
		chain.Transfer(0, 1, emptyAddr, new(uint256.Int)),
	}, nil)
	require.NoError(t, err)
	require.NotContains(t, chain.World(1).Accounts, emptyAddr)

	in, err := newCollector(chain).Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)

	var found bool
	for _, req := range in.StateRequests {
		if req.Address == storeAddr {
			found = true
			assert.Equal(t, []common.Hash{testutil.Slot(1)}, req.Slots)
		}
	}
	assert.True(t, found)
	assert.Equal(t, [][]byte{testutil.StoreCode}, in.Bytecodes)
}

func TestCollectIsDeterministic(t *testing.T) {
	chain := newChain(t)
	block, err := chain.AddBlock([]*ethtypes.Transaction{
		chain.Transfer(0, 0, common.HexToAddress("0x1111"), testutil.Ether(1)),
		chain.Call(0, 1, &storeAddr, nil, testutil.Word(9), 100_000),
		chain.Transfer(1, 0, testutil.Address(0), testutil.Ether(1)),
	}, nil)
	require.NoError(t, err)

	c := newCollector(chain)
	first, err := c.Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)
	second, err := c.Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)

	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// tamperedChain serves a different block in place of the real one.
type tamperedChain struct {
	*testutil.Chain
	block *ethtypes.Block
}

func (c *tamperedChain) BlockByNumber(ctx context.Context, number uint64) (*ethtypes.Block, error) {
	if number == c.block.NumberU64() {
		return c.block, nil
	}
	return c.Chain.BlockByNumber(ctx, number)
}

func TestCollectSanityChecks(t *testing.T) {
	chain := newChain(t)
	block, err := chain.AddBlock([]*ethtypes.Transaction{
		chain.Transfer(0, 0, testutil.Address(1), testutil.Ether(1)),
	}, nil)
	require.NoError(t, err)

	t.Run("gas used", func(t *testing.T) {
		h := block.Header()
		h.GasUsed++
		_, err := newCollector(&tamperedChain{chain, block.WithSeal(h)}).Collect(context.Background(), 1)
		assert.ErrorIs(t, err, host.ErrSanityCheckFailed)
		assert.ErrorIs(t, err, executor.ErrGasUsedMismatch)
	})
	t.Run("state root", func(t *testing.T) {
		h := block.Header()
		h.Root = common.Hash{1}
		_, err := newCollector(&tamperedChain{chain, block.WithSeal(h)}).Collect(context.Background(), 1)
		assert.ErrorIs(t, err, host.ErrStateRootMismatch)
	})
	t.Run("parent", func(t *testing.T) {
		h := block.Header()
		h.ParentHash = common.Hash{1}
		_, err := newCollector(&tamperedChain{chain, block.WithSeal(h)}).Collect(context.Background(), 1)
		assert.ErrorIs(t, err, host.ErrSanityCheckFailed)
	})
	t.Run("genesis", func(t *testing.T) {
		_, err := newCollector(chain).Collect(context.Background(), 0)
		assert.ErrorIs(t, err, host.ErrSanityCheckFailed)
	})
}

// flakyChain fails proof requests at one block and tracks how many run at
// once.
type flakyChain struct {
	*testutil.Chain
	failAt  uint64
	err     error
	running atomic.Int32
	peak    atomic.Int32
}

func (c *flakyChain) Proof(ctx context.Context, addr common.Address, slots []common.Hash, number uint64) (*state.AccountProof, error) {
	n := c.running.Add(1)
	defer c.running.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	if c.err != nil && number == c.failAt {
		return nil, c.err
	}
	return c.Chain.Proof(ctx, addr, slots, number)
}

func TestCollectFetchesProofsConcurrently(t *testing.T) {
	chain := newChain(t)
	var txs []*ethtypes.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, chain.Transfer(0, uint64(i), common.BytesToAddress([]byte{0xf0, byte(i)}), uint256.NewInt(1)))
	}
	block, err := chain.AddBlock(txs, nil)
	require.NoError(t, err)

	flaky := &flakyChain{Chain: chain}
	_, err = newCollector(flaky).Collect(context.Background(), block.NumberU64())
	require.NoError(t, err)
	assert.LessOrEqual(t, flaky.peak.Load(), int32(4))

	errDown := errors.New("node unavailable")
	flaky = &flakyChain{Chain: chain, failAt: block.NumberU64(), err: errDown}
	in, err := newCollector(flaky).Collect(context.Background(), block.NumberU64())
	assert.ErrorIs(t, err, errDown)
	assert.Nil(t, in)
}
