// Package witness is the verifier's read-only view of the parent state: the
// accounts, storage slots, bytecodes and ancestor block hashes a bundle
// proves, checked against the parent header once at construction.
package witness

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/airchains-network/stateless-verifier/mpt"
	"github.com/airchains-network/stateless-verifier/state"
	"github.com/airchains-network/stateless-verifier/types"
)

var (
	ErrParentStateRoot     = errors.New("witness: parent state root mismatch")
	ErrBrokenAncestorChain = errors.New("witness: ancestor headers do not link to the block")
	ErrMissingAncestor     = errors.New("witness: block hash requested from a gap in the ancestor chain")
	ErrMissingBytecode     = errors.New("witness: missing bytecode")
	ErrAccountNotCovered   = errors.New("witness: account not covered by the witness")
	ErrStorageNotCovered   = errors.New("witness: storage slot not covered by the witness")
)

// blockHashWindow is how far back BLOCKHASH can look.
const blockHashWindow = 256

// DB serves lookups from a verified bundle. It is owned by a single
// verification and never mutated after New returns.
type DB struct {
	state       *state.EthereumState
	number      uint64
	accounts    map[common.Address]*state.Account // nil value: proven absent
	storage     map[common.Address]map[common.Hash]common.Hash
	code        map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
}

// New links the ancestor headers to the block, rebuilds the parent state from
// the bundle and resolves every requested account, slot and bytecode.
func New(hasher mpt.Hasher, in *types.ClientExecutorInput) (*DB, error) {
	if hasher == nil {
		hasher = mpt.Keccak
	}
	if len(in.AncestorHeaders) == 0 {
		return nil, fmt.Errorf("%w: no ancestor headers", ErrBrokenAncestorChain)
	}
	db := &DB{
		number:      in.CurrentBlock.NumberU64(),
		accounts:    make(map[common.Address]*state.Account, len(in.StateRequests)),
		storage:     make(map[common.Address]map[common.Hash]common.Hash, len(in.StateRequests)),
		code:        make(map[common.Hash][]byte, len(in.Bytecodes)),
		blockHashes: make(map[uint64]common.Hash, len(in.AncestorHeaders)),
	}
	if err := db.linkAncestors(in.CurrentBlock.Header(), in.AncestorHeaders); err != nil {
		return nil, err
	}
	parent := in.ParentHeader()
	if in.ParentState == nil || in.ParentState.StateRoot != parent.Root {
		return nil, fmt.Errorf("%w: parent header commits to %s", ErrParentStateRoot, parent.Root)
	}
	st, err := state.FromSnapshot(hasher, in.ParentState)
	if err != nil {
		return nil, err
	}
	db.state = st

	for _, code := range in.Bytecodes {
		db.code[hasher.Hash(code)] = code
	}
	for _, req := range in.StateRequests {
		if err := db.load(req); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) load(req types.StateRequest) error {
	acct, err := db.state.Account(req.Address)
	if err != nil {
		return unresolved(err)
	}
	storageRoot := ethtypes.EmptyRootHash
	if acct != nil {
		if _, err := db.Code(req.Address, acct.CodeHash); err != nil {
			return err
		}
		storageRoot = acct.StorageRoot
	}
	db.accounts[req.Address] = acct

	st, ok := db.state.StorageTries[req.Address]
	if !ok {
		return fmt.Errorf("%w: no storage trie for %s", ErrStorageNotCovered, req.Address)
	}
	if st.Root() != storageRoot {
		return fmt.Errorf("%w: storage trie of %s anchored at %s, account commits to %s",
			mpt.ErrRootMismatch, req.Address, st.Root(), storageRoot)
	}
	slots := make(map[common.Hash]common.Hash, len(req.Slots))
	for _, slot := range req.Slots {
		value, err := db.state.Storage(req.Address, slot)
		if err != nil {
			return unresolved(err)
		}
		slots[slot] = value
	}
	db.storage[req.Address] = slots
	return nil
}

// unresolved reports a requested key that the snapshot does not reach as a
// hash mismatch: the bundle claims the key, so some node on its path failed
// to hash to its parent's reference.
func unresolved(err error) error {
	if errors.Is(err, mpt.ErrKeyNotCovered) {
		return fmt.Errorf("%w: %w", mpt.ErrHashMismatch, err)
	}
	return err
}

// linkAncestors records the hash of every ancestor reachable from the block
// through consecutive, hash-linked headers. The parent must link; headers
// past the first break are unusable and lookups into them fail.
func (db *DB) linkAncestors(current *ethtypes.Header, ancestors []*ethtypes.Header) error {
	child := current
	for i, h := range ancestors {
		linked := h.Number.Uint64()+1 == child.Number.Uint64() && h.Hash() == child.ParentHash
		if !linked {
			if i == 0 {
				return fmt.Errorf("%w: parent %d (%s) is not linked to block %d",
					ErrBrokenAncestorChain, h.Number, h.Hash(), current.Number)
			}
			break
		}
		db.blockHashes[h.Number.Uint64()] = child.ParentHash
		child = h
	}
	return nil
}

// State returns the partial parent state backing the witness.
func (db *DB) State() *state.EthereumState {
	return db.state
}

// Account returns the account at addr, or nil if it does not exist.
func (db *DB) Account(addr common.Address) (*state.Account, error) {
	acct, ok := db.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotCovered, addr)
	}
	if acct == nil {
		return nil, nil
	}
	return acct.Copy(), nil
}

// Storage returns the value of a slot. Slots proven absent are zero.
func (db *DB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	value, ok := db.storage[addr][slot]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s slot %s", ErrStorageNotCovered, addr, slot)
	}
	return value, nil
}

// Code returns the bytecode of addr, which must hash to codeHash.
func (db *DB) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if codeHash == ethtypes.EmptyCodeHash {
		return nil, nil
	}
	code, ok := db.code[codeHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s of account %s", ErrMissingBytecode, codeHash, addr)
	}
	return code, nil
}

// BlockHash returns the hash of an ancestor. Numbers outside the BLOCKHASH
// window yield the zero hash: the hash is unavailable, which is not an error.
func (db *DB) BlockHash(number uint64) (common.Hash, error) {
	if number >= db.number || db.number-number > blockHashWindow {
		return common.Hash{}, nil
	}
	h, ok := db.blockHashes[number]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: block %d", ErrMissingAncestor, number)
	}
	return h, nil
}
