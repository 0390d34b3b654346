// Package executor runs a block's transactions against a StateSource with the
// go-ethereum EVM and returns the receipts and the state diff. The collector
// and the verifier share it and differ only in the source they plug in.
package executor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/airchains-network/stateless-verifier/state"
)

var (
	ErrUnsupportedBlock = errors.New("executor: unsupported block")
	ErrInvalidTx        = errors.New("executor: invalid transaction")
	ErrStateAccess      = errors.New("executor: state access failed")
)

var (
	// SystemAddress is the caller of system calls.
	SystemAddress = common.HexToAddress("0xfffffffffffffffffffffffffffffffffffffffe")
	// BeaconRootsAddress is the EIP-4788 beacon roots contract.
	BeaconRootsAddress = common.HexToAddress("0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02")
)

const systemCallGas = 30_000_000

// Output is the result of executing a block.
type Output struct {
	Receipts    ethtypes.Receipts
	GasUsed     uint64
	BlobGasUsed uint64
	Diff        state.Diff
	// Codes holds the code deployed by the block, by hash.
	Codes map[common.Hash][]byte
}

// Engine executes blocks of one chain.
type Engine struct {
	config   *params.ChainConfig
	vmConfig vm.Config
}

func NewEngine(config *params.ChainConfig) *Engine {
	return &Engine{config: config}
}

// Config returns the chain configuration the engine executes with.
func (e *Engine) Config() *params.ChainConfig {
	return e.config
}

// ExecuteBlock runs every transaction of block in order, then the block's
// withdrawals. Only post-merge blocks are supported: there is no block reward.
func (e *Engine) ExecuteBlock(block *ethtypes.Block, source StateSource) (*Output, error) {
	header := block.Header()
	if !e.config.IsByzantium(header.Number) {
		return nil, fmt.Errorf("%w: block %d predates Byzantium", ErrUnsupportedBlock, header.Number)
	}
	if header.Difficulty == nil || header.Difficulty.Sign() != 0 {
		return nil, fmt.Errorf("%w: block %d is not a proof-of-stake block", ErrUnsupportedBlock, header.Number)
	}
	if block.Withdrawals() != nil && !e.config.IsShanghai(header.Number, header.Time) {
		return nil, fmt.Errorf("%w: withdrawals before Shanghai", ErrUnsupportedBlock)
	}

	sdb := NewStateDB(source)
	blockCtx := core.NewEVMBlockContext(header, nil, &header.Coinbase)
	blockCtx.GetHash = func(n uint64) common.Hash {
		h, err := source.BlockHash(n)
		if err != nil {
			sdb.setError(fmt.Errorf("hash of block %d: %w", n, err))
		}
		return h
	}
	evm := vm.NewEVM(blockCtx, vm.TxContext{}, sdb, e.config, e.vmConfig)

	if root := header.ParentBeaconRoot; root != nil && e.config.IsCancun(header.Number, header.Time) {
		processBeaconBlockRoot(*root, evm, sdb)
		if err := sdb.Error(); err != nil {
			return nil, fmt.Errorf("%w: beacon root: %w", ErrStateAccess, err)
		}
	}

	var (
		out    = &Output{Receipts: make(ethtypes.Receipts, 0, len(block.Transactions()))}
		signer = ethtypes.MakeSigner(e.config, header.Number, header.Time)
		gp     = new(core.GasPool).AddGas(header.GasLimit)
	)
	for i, tx := range block.Transactions() {
		msg, err := core.TransactionToMessage(tx, signer, header.BaseFee)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %d [%s]: %v", ErrInvalidTx, i, tx.Hash(), err)
		}
		sdb.SetTxContext(tx.Hash(), i)
		evm.Reset(core.NewEVMTxContext(msg), sdb)

		result, err := core.ApplyMessage(evm, msg, gp)
		if serr := sdb.Error(); serr != nil {
			return nil, fmt.Errorf("%w: tx %d [%s]: %w", ErrStateAccess, i, tx.Hash(), serr)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tx %d [%s]: %v", ErrInvalidTx, i, tx.Hash(), err)
		}
		sdb.Finalise(true)

		out.GasUsed += result.UsedGas
		receipt := &ethtypes.Receipt{
			Type:              tx.Type(),
			CumulativeGasUsed: out.GasUsed,
			TxHash:            tx.Hash(),
			GasUsed:           result.UsedGas,
			EffectiveGasPrice: msg.GasPrice,
			BlockHash:         block.Hash(),
			BlockNumber:       new(big.Int).Set(header.Number),
			TransactionIndex:  uint(i),
		}
		if result.Failed() {
			receipt.Status = ethtypes.ReceiptStatusFailed
		} else {
			receipt.Status = ethtypes.ReceiptStatusSuccessful
		}
		if tx.Type() == ethtypes.BlobTxType {
			receipt.BlobGasUsed = tx.BlobGas()
			receipt.BlobGasPrice = evm.Context.BlobBaseFee
			out.BlobGasUsed += receipt.BlobGasUsed
		}
		if msg.To == nil {
			receipt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
		}
		receipt.Logs = sdb.GetLogs(tx.Hash(), header.Number.Uint64(), block.Hash())
		receipt.Bloom = ethtypes.CreateBloom(ethtypes.Receipts{receipt})
		out.Receipts = append(out.Receipts, receipt)
	}

	for _, w := range block.Withdrawals() {
		amount := new(uint256.Int).Mul(uint256.NewInt(w.Amount), uint256.NewInt(params.GWei))
		sdb.AddBalance(w.Address, amount)
	}
	sdb.Finalise(true)
	if err := sdb.Error(); err != nil {
		return nil, fmt.Errorf("%w: withdrawals: %w", ErrStateAccess, err)
	}

	out.Diff = sdb.Diff()
	out.Codes = sdb.Codes()
	return out, nil
}

// processBeaconBlockRoot stores the parent beacon block root in the EIP-4788
// contract with a system call.
func processBeaconBlockRoot(root common.Hash, evm *vm.EVM, sdb *StateDB) {
	msg := &core.Message{
		From:      SystemAddress,
		GasLimit:  systemCallGas,
		GasPrice:  common.Big0,
		GasFeeCap: common.Big0,
		GasTipCap: common.Big0,
		To:        &BeaconRootsAddress,
		Data:      root[:],
	}
	evm.Reset(core.NewEVMTxContext(msg), sdb)
	sdb.AddAddressToAccessList(BeaconRootsAddress)
	_, _, _ = evm.Call(vm.AccountRef(msg.From), *msg.To, msg.Data, systemCallGas, new(uint256.Int))
	sdb.Finalise(true)
}
