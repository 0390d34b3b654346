package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/state"
)

// Coinbase receives the fees of every block built by a Chain.
var Coinbase = common.HexToAddress("0xc0ffee0000000000000000000000000000000000")

const (
	blockGasLimit = 30_000_000
	blockTime     = 12
)

// Key returns the i-th deterministic test key.
func Key(i int) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(fmt.Sprintf("stateless-test-key-%d", i))))
	if err != nil {
		panic(err)
	}
	return key
}

// Address returns the address of Key(i).
func Address(i int) common.Address {
	return crypto.PubkeyToAddress(Key(i).PublicKey)
}

// Ether returns n ether in wei.
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(params.Ether))
}

// Chain is an in-memory chain of blocks executed with the executor, with the
// full world state after every block. It serves proofs like a node would.
type Chain struct {
	Config *params.ChainConfig
	Signer ethtypes.Signer

	engine *executor.Engine

	mu     sync.Mutex
	blocks []*ethtypes.Block
	worlds []*World
	proofs int
}

// NewChain starts a dev chain from genesis.
func NewChain(genesis *World) *Chain {
	config := executor.DevChainConfig()
	genesis = genesis.Copy()
	header := &ethtypes.Header{
		Number:        new(big.Int),
		GasLimit:      blockGasLimit,
		Difficulty:    new(big.Int),
		BaseFee:       big.NewInt(params.InitialBaseFee),
		Root:          genesis.Root(),
		BlobGasUsed:   new(uint64),
		ExcessBlobGas: new(uint64),
	}
	header.ParentBeaconRoot = new(common.Hash)
	block := ethtypes.NewBlockWithWithdrawals(header, nil, nil, nil, []*ethtypes.Withdrawal{}, trie.NewStackTrie(nil))
	return &Chain{
		Config: config,
		Signer: ethtypes.LatestSigner(config),
		engine: executor.NewEngine(config),
		blocks: []*ethtypes.Block{block},
		worlds: []*World{genesis},
	}
}

// Head returns the latest block.
func (c *Chain) Head() *ethtypes.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1]
}

// World returns a copy of the state after block number.
func (c *Chain) World(number uint64) *World {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worlds[number].Copy()
}

// Transfer returns a signed transfer of value wei from Key(from) to to.
func (c *Chain) Transfer(from int, nonce uint64, to common.Address, value *uint256.Int) *ethtypes.Transaction {
	return c.Call(from, nonce, &to, value, nil, params.TxGas)
}

// Call returns a signed dynamic fee transaction. A nil to deploys data.
func (c *Chain) Call(from int, nonce uint64, to *common.Address, value *uint256.Int, data []byte, gas uint64) *ethtypes.Transaction {
	if value == nil {
		value = new(uint256.Int)
	}
	return ethtypes.MustSignNewTx(Key(from), c.Signer, &ethtypes.DynamicFeeTx{
		ChainID:   c.Config.ChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(params.GWei),
		GasFeeCap: big.NewInt(10 * params.GWei),
		Gas:       gas,
		To:        to,
		Value:     value.ToBig(),
		Data:      data,
	})
}

// AddBlock executes txs and withdrawals on top of the head and appends the
// resulting block.
func (c *Chain) AddBlock(txs []*ethtypes.Transaction, withdrawals []*ethtypes.Withdrawal) (*ethtypes.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent := c.blocks[len(c.blocks)-1]
	world := c.worlds[len(c.worlds)-1]
	if withdrawals == nil {
		withdrawals = []*ethtypes.Withdrawal{}
	}
	beaconRoot := crypto.Keccak256Hash(parent.Hash().Bytes())
	header := &ethtypes.Header{
		ParentHash:       parent.Hash(),
		Coinbase:         Coinbase,
		Number:           new(big.Int).Add(parent.Number(), common.Big1),
		GasLimit:         blockGasLimit,
		Time:             parent.Time() + blockTime,
		Difficulty:       new(big.Int),
		BaseFee:          big.NewInt(params.InitialBaseFee),
		BlobGasUsed:      new(uint64),
		ExcessBlobGas:    new(uint64),
		ParentBeaconRoot: &beaconRoot,
	}
	proto := ethtypes.NewBlockWithWithdrawals(header, txs, nil, nil, withdrawals, trie.NewStackTrie(nil))
	out, err := c.engine.ExecuteBlock(proto, &worldSource{chain: c, world: world})
	if err != nil {
		return nil, err
	}
	post := world.Copy()
	post.Apply(out.Diff)
	for h, code := range out.Codes {
		post.Code[h] = code
	}
	header.GasUsed = out.GasUsed
	header.Root = post.Root()
	block := ethtypes.NewBlockWithWithdrawals(header, txs, nil, out.Receipts, withdrawals, trie.NewStackTrie(nil))

	c.blocks = append(c.blocks, block)
	c.worlds = append(c.worlds, post)
	return block, nil
}

// ProofCalls returns the number of Proof calls served.
func (c *Chain) ProofCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proofs
}

func (c *Chain) BlockByNumber(_ context.Context, number uint64) (*ethtypes.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.blocks)) {
		return nil, ethereum.NotFound
	}
	return c.blocks[number], nil
}

func (c *Chain) HeaderByNumber(_ context.Context, number uint64) (*ethtypes.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.blocks)) {
		return nil, ethereum.NotFound
	}
	return c.blocks[number].Header(), nil
}

func (c *Chain) Proof(_ context.Context, addr common.Address, slots []common.Hash, number uint64) (*state.AccountProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.worlds)) {
		return nil, ethereum.NotFound
	}
	c.proofs++
	return c.worlds[number].Proof(addr, slots), nil
}

func (c *Chain) Code(_ context.Context, addr common.Address, number uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.worlds)) {
		return nil, ethereum.NotFound
	}
	w := c.worlds[number]
	acct, ok := w.Accounts[addr]
	if !ok {
		return nil, nil
	}
	return common.CopyBytes(w.Code[acct.CodeHash]), nil
}

// worldSource serves a World to the executor. It is used while c.mu is held.
type worldSource struct {
	chain *Chain
	world *World
}

func (s *worldSource) Account(addr common.Address) (*state.Account, error) {
	acct, ok := s.world.Accounts[addr]
	if !ok {
		return nil, nil
	}
	return acct.Copy(), nil
}

func (s *worldSource) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return s.world.Storage[addr][slot], nil
}

func (s *worldSource) Code(_ common.Address, codeHash common.Hash) ([]byte, error) {
	code, ok := s.world.Code[codeHash]
	if !ok {
		return nil, fmt.Errorf("no code with hash %s", codeHash)
	}
	return code, nil
}

func (s *worldSource) BlockHash(number uint64) (common.Hash, error) {
	head := uint64(len(s.chain.blocks))
	if number >= head || head-number > 256 {
		return common.Hash{}, nil
	}
	return s.chain.blocks[number].Hash(), nil
}
