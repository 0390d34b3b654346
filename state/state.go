// Package state holds the account model shared by the collector and the
// verifier: a partial state trie plus one partial storage trie per proven
// account, built from Merkle proofs and updated with the diff of a block.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airchains-network/stateless-verifier/mpt"
)

var (
	// ErrProofMismatch is returned when a proof verifies but proves a value
	// other than the one it claims.
	ErrProofMismatch = errors.New("state: proof does not match claimed value")
	// ErrStorageNotProven is returned when an account's storage trie is needed
	// but no proof for the account was inserted.
	ErrStorageNotProven = errors.New("state: storage trie not proven")
)

// EthereumState is a partial view of the Ethereum world state.
type EthereumState struct {
	hasher       mpt.Hasher
	StateTrie    *mpt.Trie
	StorageTries map[common.Address]*mpt.Trie
}

// New returns an empty partial state anchored at root.
func New(hasher mpt.Hasher, root common.Hash) (*EthereumState, error) {
	if hasher == nil {
		hasher = mpt.Keccak
	}
	tr, err := mpt.FromSnapshot(hasher, root, nil)
	if err != nil {
		return nil, err
	}
	return &EthereumState{
		hasher:       hasher,
		StateTrie:    tr,
		StorageTries: make(map[common.Address]*mpt.Trie),
	}, nil
}

// FromTransitionProofs builds the partial state at root from proofs taken
// against it (before) and adds the nodes of proofs taken against the state
// after the block (after). The after nodes are never anchored and are not
// checked here: they are hints that let deletions resolve siblings the before
// proofs do not reach. Whatever a hint contributes ends up under the
// recomputed root, so a bad hint shows up as a root mismatch.
func FromTransitionProofs(hasher mpt.Hasher, root common.Hash, before, after []*AccountProof) (*EthereumState, error) {
	s, err := New(hasher, root)
	if err != nil {
		return nil, err
	}
	for _, p := range before {
		if err := s.InsertProof(root, p); err != nil {
			return nil, err
		}
	}
	for _, p := range after {
		if err := s.StateTrie.AddNodes(p.Proof); err != nil {
			return nil, fmt.Errorf("account %s: %w", p.Address, err)
		}
		st, ok := s.StorageTries[p.Address]
		if !ok {
			continue
		}
		for _, sp := range p.StorageProof {
			if err := st.AddNodes(sp.Proof); err != nil {
				return nil, fmt.Errorf("account %s slot %s: %w", p.Address, sp.Key, err)
			}
		}
	}
	return s, nil
}

// InsertProof verifies an account proof and its storage proofs against the
// state root and checks that they prove the values they claim.
func (s *EthereumState) InsertProof(root common.Hash, p *AccountProof) error {
	if err := s.StateTrie.InsertProof(root, p.Proof, mpt.HashKey(s.hasher, p.Address[:])); err != nil {
		return fmt.Errorf("account %s: %w", p.Address, err)
	}
	got, err := s.Account(p.Address)
	if err != nil {
		return err
	}
	if !sameAccount(got, p.Account) {
		return fmt.Errorf("%w: account %s", ErrProofMismatch, p.Address)
	}

	storageRoot := p.StorageRoot()
	st, ok := s.StorageTries[p.Address]
	if !ok {
		if st, err = mpt.FromSnapshot(s.hasher, storageRoot, nil); err != nil {
			return err
		}
		s.StorageTries[p.Address] = st
	}
	for _, sp := range p.StorageProof {
		if err := st.InsertProof(storageRoot, sp.Proof, mpt.HashKey(s.hasher, sp.Key[:])); err != nil {
			return fmt.Errorf("account %s slot %s: %w", p.Address, sp.Key, err)
		}
		value, err := s.Storage(p.Address, sp.Key)
		if err != nil {
			return err
		}
		if value != sp.Value {
			return fmt.Errorf("%w: account %s slot %s", ErrProofMismatch, p.Address, sp.Key)
		}
	}
	return nil
}

func sameAccount(a, b *Account) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Nonce == b.Nonce && a.Balance.Eq(b.Balance) &&
		a.StorageRoot == b.StorageRoot && a.CodeHash == b.CodeHash
}

// Account returns the account stored at addr, or nil if the trie proves it
// does not exist.
func (s *EthereumState) Account(addr common.Address) (*Account, error) {
	enc, err := s.StateTrie.Get(mpt.HashKey(s.hasher, addr[:]))
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr, err)
	}
	if enc == nil {
		return nil, nil
	}
	return DecodeAccount(enc)
}

// Storage returns the value of a storage slot. Slots proven absent are zero.
func (s *EthereumState) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	st, ok := s.StorageTries[addr]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrStorageNotProven, addr)
	}
	enc, err := st.Get(mpt.HashKey(s.hasher, slot[:]))
	if err != nil {
		return common.Hash{}, fmt.Errorf("account %s slot %s: %w", addr, slot, err)
	}
	if enc == nil {
		return common.Hash{}, nil
	}
	return DecodeStorageValue(enc)
}

// StateRoot recomputes the state root from the retained nodes.
func (s *EthereumState) StateRoot() common.Hash {
	return s.StateTrie.Hash()
}

// AccountDiff is the state of one account after a block.
type AccountDiff struct {
	// Account is nil when the account no longer exists. Its storage root is
	// ignored; it is recomputed from the storage trie.
	Account *Account
	// Created is set when the account's storage was reset during the block.
	Created bool
	// Storage holds the final value of every written slot.
	Storage map[common.Hash]common.Hash
}

// Diff is the set of accounts changed by a block.
type Diff map[common.Address]*AccountDiff

// Update applies a block diff. Removals are applied after all writes, so a
// branch collapsed by a removal is never split again by a later write.
func (s *EthereumState) Update(diff Diff) error {
	addrs := make([]common.Address, 0, len(diff))
	for addr := range diff {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	var removed []common.Address
	for _, addr := range addrs {
		d := diff[addr]
		if d.Account == nil {
			removed = append(removed, addr)
			continue
		}
		st, ok := s.StorageTries[addr]
		switch {
		case d.Created:
			st = mpt.New(s.hasher)
			s.StorageTries[addr] = st
		case !ok:
			return fmt.Errorf("%w: %s", ErrStorageNotProven, addr)
		}
		if err := s.updateStorage(st, d.Storage); err != nil {
			return fmt.Errorf("account %s: %w", addr, err)
		}
		acct := d.Account.Copy()
		acct.StorageRoot = st.Hash()
		if err := s.StateTrie.Update(mpt.HashKey(s.hasher, addr[:]), acct.Encode()); err != nil {
			return fmt.Errorf("account %s: %w", addr, err)
		}
	}
	for _, addr := range removed {
		if err := s.StateTrie.Delete(mpt.HashKey(s.hasher, addr[:])); err != nil {
			return fmt.Errorf("account %s: %w", addr, err)
		}
		delete(s.StorageTries, addr)
	}
	return nil
}

func (s *EthereumState) updateStorage(st *mpt.Trie, slots map[common.Hash]common.Hash) error {
	keys := make([]common.Hash, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })

	var cleared []common.Hash
	for _, k := range keys {
		v := slots[k]
		if v == (common.Hash{}) {
			cleared = append(cleared, k)
			continue
		}
		if err := st.Update(mpt.HashKey(s.hasher, k[:]), EncodeStorageValue(v)); err != nil {
			return fmt.Errorf("slot %s: %w", k, err)
		}
	}
	for _, k := range cleared {
		if err := st.Delete(mpt.HashKey(s.hasher, k[:])); err != nil {
			return fmt.Errorf("slot %s: %w", k, err)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (s *EthereumState) Clone() *EthereumState {
	cpy := &EthereumState{
		hasher:       s.hasher,
		StateTrie:    s.StateTrie.Clone(),
		StorageTries: make(map[common.Address]*mpt.Trie, len(s.StorageTries)),
	}
	for addr, st := range s.StorageTries {
		cpy.StorageTries[addr] = st.Clone()
	}
	return cpy
}
