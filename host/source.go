package host

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/airchains-network/stateless-verifier/state"
)

// blockHashWindow is how far back BLOCKHASH can look.
const blockHashWindow = 256

// ChainSource is where the collector reads chain data from. Proof returns
// eth_getProof style proofs: an account that does not exist has a nil
// Account.
type ChainSource interface {
	BlockByNumber(ctx context.Context, number uint64) (*ethtypes.Block, error)
	HeaderByNumber(ctx context.Context, number uint64) (*ethtypes.Header, error)
	Proof(ctx context.Context, addr common.Address, slots []common.Hash, number uint64) (*state.AccountProof, error)
	Code(ctx context.Context, addr common.Address, number uint64) ([]byte, error)
}

// remoteSource serves the parent state of a block from a ChainSource and
// records every key read into an Accumulator.
type remoteSource struct {
	ctx    context.Context
	chain  ChainSource
	acc    *Accumulator
	parent uint64

	accounts map[common.Address]*state.Account
	storage  map[common.Address]map[common.Hash]common.Hash
	code     map[common.Hash][]byte
	hashes   map[uint64]common.Hash
}

func newRemoteSource(ctx context.Context, chain ChainSource, acc *Accumulator, parent uint64) *remoteSource {
	return &remoteSource{
		ctx:      ctx,
		chain:    chain,
		acc:      acc,
		parent:   parent,
		accounts: make(map[common.Address]*state.Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		code:     make(map[common.Hash][]byte),
		hashes:   make(map[uint64]common.Hash),
	}
}

func (s *remoteSource) Account(addr common.Address) (*state.Account, error) {
	s.acc.RecordRead(addr)
	if acct, ok := s.accounts[addr]; ok {
		if acct == nil {
			return nil, nil
		}
		return acct.Copy(), nil
	}
	p, err := s.chain.Proof(s.ctx, addr, nil, s.parent)
	if err != nil {
		return nil, err
	}
	s.accounts[addr] = p.Account
	if p.Account == nil {
		return nil, nil
	}
	return p.Account.Copy(), nil
}

func (s *remoteSource) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	s.acc.RecordRead(addr, slot)
	if v, ok := s.storage[addr][slot]; ok {
		return v, nil
	}
	p, err := s.chain.Proof(s.ctx, addr, []common.Hash{slot}, s.parent)
	if err != nil {
		return common.Hash{}, err
	}
	if len(p.StorageProof) != 1 || p.StorageProof[0].Key != slot {
		return common.Hash{}, fmt.Errorf("%w: proof of %s does not cover slot %s", ErrSanityCheckFailed, addr, slot)
	}
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = p.StorageProof[0].Value
	return p.StorageProof[0].Value, nil
}

func (s *remoteSource) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	s.acc.RecordRead(addr)
	if code, ok := s.code[codeHash]; ok {
		return code, nil
	}
	code, err := s.chain.Code(s.ctx, addr, s.parent)
	if err != nil {
		return nil, err
	}
	if h := crypto.Keccak256Hash(code); h != codeHash {
		return nil, fmt.Errorf("%w: code of %s hashes to %s, account commits to %s", ErrSanityCheckFailed, addr, h, codeHash)
	}
	s.code[codeHash] = code
	return code, nil
}

func (s *remoteSource) BlockHash(number uint64) (common.Hash, error) {
	current := s.parent + 1
	if number >= current || current-number > blockHashWindow {
		return common.Hash{}, nil
	}
	s.acc.RecordBlockHash(number)
	if h, ok := s.hashes[number]; ok {
		return h, nil
	}
	header, err := s.chain.HeaderByNumber(s.ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	s.hashes[number] = header.Hash()
	return s.hashes[number], nil
}
