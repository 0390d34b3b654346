// Package client verifies a block from a bundle alone. Execute is a pure
// function of its input: it does no I/O, keeps no state between calls and
// does not log.
package client

import (
	"errors"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/mpt"
	"github.com/airchains-network/stateless-verifier/types"
	"github.com/airchains-network/stateless-verifier/witness"
)

// Verifier re-executes blocks of one chain.
type Verifier struct {
	hasher mpt.Hasher
	engine *executor.Engine
}

// NewVerifier returns a verifier for config. A nil hasher selects Keccak.
func NewVerifier(config *params.ChainConfig, hasher mpt.Hasher) *Verifier {
	if hasher == nil {
		hasher = mpt.Keccak
	}
	return &Verifier{hasher: hasher, engine: executor.NewEngine(config)}
}

// Execute checks the bundle, re-executes its block against it and returns the
// header derived from the execution. The header's hash is the block's hash.
func (v *Verifier) Execute(in *types.ClientExecutorInput) (*ethtypes.Header, error) {
	if in == nil || in.CurrentBlock == nil {
		return nil, fail(ErrInvalidWitness, "empty bundle")
	}
	block := in.CurrentBlock

	db, err := witness.New(v.hasher, in)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidWitness, Err: err}
	}

	out, err := v.engine.ExecuteBlock(block, db)
	if err != nil {
		if errors.Is(err, executor.ErrStateAccess) {
			return nil, &Error{Kind: ErrInvalidWitness, Err: err}
		}
		return nil, &Error{Kind: ErrExecutionFailed, Err: err}
	}

	if err := executor.ValidatePostExecution(block.Header(), out); err != nil {
		return nil, &Error{Kind: ErrPostExecutionInvalid, Err: err}
	}

	post := db.State().Clone()
	if err := post.Update(out.Diff); err != nil {
		return nil, &Error{Kind: ErrInvalidWitness, Err: err}
	}
	root := post.StateRoot()
	if root != block.Root() {
		return nil, fail(ErrMismatchedStateRoot, "computed %s, block %s", root, block.Root())
	}

	header := ethtypes.CopyHeader(block.Header())
	header.ParentHash = in.ParentHeader().Hash()
	header.UncleHash = ethtypes.CalcUncleHash(block.Uncles())
	header.TxHash = ethtypes.DeriveSha(block.Transactions(), trie.NewStackTrie(nil))
	if withdrawals := block.Withdrawals(); withdrawals != nil {
		h := ethtypes.DeriveSha(withdrawals, trie.NewStackTrie(nil))
		header.WithdrawalsHash = &h
	}
	header.ReceiptHash = ethtypes.DeriveSha(out.Receipts, trie.NewStackTrie(nil))
	header.Bloom = ethtypes.CreateBloom(out.Receipts)
	header.GasUsed = out.GasUsed
	header.Root = root

	if h := header.Hash(); h != block.Hash() {
		return nil, fail(ErrHeaderMismatch, "derived %s, block %s", h, block.Hash())
	}
	return header, nil
}
