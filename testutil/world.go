// Package testutil builds complete in-memory chains for tests: a full world
// state that can produce Merkle proofs, and blocks whose roots and hashes are
// consistent with it.
package testutil

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/airchains-network/stateless-verifier/mpt"
	"github.com/airchains-network/stateless-verifier/state"
)

// World is a complete world state. Storage roots of Accounts are derived from
// Storage whenever tries are built.
type World struct {
	Accounts map[common.Address]*state.Account
	Storage  map[common.Address]map[common.Hash]common.Hash
	Code     map[common.Hash][]byte
}

func NewWorld() *World {
	return &World{
		Accounts: make(map[common.Address]*state.Account),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash),
		Code:     make(map[common.Hash][]byte),
	}
}

func (w *World) account(addr common.Address) *state.Account {
	acct, ok := w.Accounts[addr]
	if !ok {
		acct = state.NewAccount()
		w.Accounts[addr] = acct
	}
	return acct
}

// Fund creates addr if needed and sets its balance.
func (w *World) Fund(addr common.Address, balance *uint256.Int) {
	w.account(addr).Balance = new(uint256.Int).Set(balance)
}

// Deploy installs code at addr.
func (w *World) Deploy(addr common.Address, code []byte) {
	h := crypto.Keccak256Hash(code)
	w.Code[h] = common.CopyBytes(code)
	acct := w.account(addr)
	acct.CodeHash = h
	acct.Nonce = max(acct.Nonce, 1)
}

// SetStorage writes a slot of addr, creating the account if needed.
func (w *World) SetStorage(addr common.Address, slot, value common.Hash) {
	w.account(addr)
	if w.Storage[addr] == nil {
		w.Storage[addr] = make(map[common.Hash]common.Hash)
	}
	if value == (common.Hash{}) {
		delete(w.Storage[addr], slot)
		return
	}
	w.Storage[addr][slot] = value
}

// Copy returns a deep copy.
func (w *World) Copy() *World {
	cpy := NewWorld()
	for addr, acct := range w.Accounts {
		cpy.Accounts[addr] = acct.Copy()
	}
	for addr, slots := range w.Storage {
		cpy.Storage[addr] = maps.Clone(slots)
	}
	maps.Copy(cpy.Code, w.Code)
	return cpy
}

// Tries builds the full state trie and storage tries.
func (w *World) Tries() (*mpt.Trie, map[common.Address]*mpt.Trie) {
	stateTrie := mpt.New(nil)
	storage := make(map[common.Address]*mpt.Trie, len(w.Accounts))
	for addr, acct := range w.Accounts {
		st := mpt.New(nil)
		for slot, value := range w.Storage[addr] {
			if err := st.Update(crypto.Keccak256(slot[:]), state.EncodeStorageValue(value)); err != nil {
				panic(err)
			}
		}
		acct.StorageRoot = st.Hash()
		storage[addr] = st
		if err := stateTrie.Update(crypto.Keccak256(addr[:]), acct.Encode()); err != nil {
			panic(err)
		}
	}
	return stateTrie, storage
}

// Root returns the state root.
func (w *World) Root() common.Hash {
	tr, _ := w.Tries()
	return tr.Hash()
}

// Proof returns the eth_getProof style proof of addr and slots.
func (w *World) Proof(addr common.Address, slots []common.Hash) *state.AccountProof {
	stateTrie, storage := w.Tries()
	return proof(stateTrie, storage, w, addr, slots)
}

func proof(stateTrie *mpt.Trie, storage map[common.Address]*mpt.Trie, w *World, addr common.Address, slots []common.Hash) *state.AccountProof {
	accountProof, err := stateTrie.Prove(crypto.Keccak256(addr[:]))
	if err != nil {
		panic(err)
	}
	out := &state.AccountProof{Address: addr, Proof: accountProof}
	st := mpt.New(nil)
	if acct, ok := w.Accounts[addr]; ok {
		out.Account = acct.Copy()
		st = storage[addr]
	}
	for _, slot := range slots {
		p, err := st.Prove(crypto.Keccak256(slot[:]))
		if err != nil {
			panic(err)
		}
		out.StorageProof = append(out.StorageProof, state.StorageProof{
			Key:   slot,
			Value: w.Storage[addr][slot],
			Proof: p,
		})
	}
	return out
}

// Apply writes a block diff into the world.
func (w *World) Apply(diff state.Diff) {
	for addr, d := range diff {
		if d.Account == nil {
			delete(w.Accounts, addr)
			delete(w.Storage, addr)
			continue
		}
		if d.Created {
			delete(w.Storage, addr)
		}
		acct := d.Account.Copy()
		w.Accounts[addr] = acct
		for slot, value := range d.Storage {
			w.SetStorage(addr, slot, value)
		}
	}
}
