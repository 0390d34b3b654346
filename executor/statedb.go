package executor

import (
	"fmt"
	"maps"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/airchains-network/stateless-verifier/state"
)

// stateObject is an account as seen by the block being executed.
type stateObject struct {
	address   common.Address
	data      state.Account
	code      []byte
	dirtyCode bool

	// reset is set once the account is (re)created in this block: its storage
	// starts empty and is never read from the source.
	reset bool
	// newContract is set while the transaction that created the account runs.
	newContract    bool
	selfDestructed bool
	deleted        bool

	origin    map[common.Hash]common.Hash // source reads
	committed map[common.Hash]common.Hash // writes of finished transactions
	dirty     map[common.Hash]common.Hash // writes of the running transaction
}

func newObject(addr common.Address, acct *state.Account) *stateObject {
	obj := &stateObject{
		address:   addr,
		origin:    make(map[common.Hash]common.Hash),
		committed: make(map[common.Hash]common.Hash),
		dirty:     make(map[common.Hash]common.Hash),
	}
	if acct == nil {
		obj.data = *state.NewAccount()
		obj.reset = true
	} else {
		obj.data = *acct.Copy()
	}
	return obj
}

func (o *stateObject) empty() bool {
	return o.data.IsEmpty()
}

type revision struct {
	id           int
	journalIndex int
}

// StateDB is a journaled vm.StateDB overlay over a StateSource. Reads fall
// through to the source and writes stay in memory until Diff. It cannot
// return errors through the vm.StateDB interface, so the first source error
// is kept and must be checked with Error after every transaction.
type StateDB struct {
	source  StateSource
	objects map[common.Address]*stateObject
	// mutated holds every account changed by a finished transaction.
	mutated map[common.Address]struct{}

	journal        *journal
	validRevisions []revision
	nextRevisionID int

	refund     uint64
	accessList map[common.Address]map[common.Hash]struct{}
	transient  map[common.Address]map[common.Hash]common.Hash

	thash   common.Hash
	txIndex int
	logs    map[common.Hash][]*ethtypes.Log
	logSize uint

	err error
}

// NewStateDB returns an overlay with no changes over source.
func NewStateDB(source StateSource) *StateDB {
	return &StateDB{
		source:     source,
		objects:    make(map[common.Address]*stateObject),
		mutated:    make(map[common.Address]struct{}),
		journal:    newJournal(),
		accessList: make(map[common.Address]map[common.Hash]struct{}),
		transient:  make(map[common.Address]map[common.Hash]common.Hash),
		logs:       make(map[common.Hash][]*ethtypes.Log),
	}
}

func (s *StateDB) setError(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Error returns the first error reported by the source.
func (s *StateDB) Error() error {
	return s.err
}

func (s *StateDB) getStateObject(addr common.Address) *stateObject {
	if obj, ok := s.objects[addr]; ok {
		if obj.deleted {
			return nil
		}
		return obj
	}
	acct, err := s.source.Account(addr)
	if err != nil {
		s.setError(fmt.Errorf("account %s: %w", addr, err))
		return nil
	}
	if acct == nil {
		return nil
	}
	obj := newObject(addr, acct)
	s.objects[addr] = obj
	return obj
}

func (s *StateDB) getOrNewStateObject(addr common.Address) *stateObject {
	if obj := s.getStateObject(addr); obj != nil {
		return obj
	}
	return s.createObject(addr)
}

// createObject replaces whatever is at addr with a fresh account.
func (s *StateDB) createObject(addr common.Address) *stateObject {
	s.getStateObject(addr)
	prev := s.objects[addr]
	obj := newObject(addr, nil)
	obj.newContract = true
	s.journal.append(replaceObjectChange{account: addr, prev: prev})
	s.objects[addr] = obj
	return obj
}

// CreateAccount creates a new account at addr, keeping the balance of any
// account already there.
func (s *StateDB) CreateAccount(addr common.Address) {
	prev := s.getStateObject(addr)
	obj := s.createObject(addr)
	if prev != nil {
		obj.data.Balance = new(uint256.Int).Set(prev.data.Balance)
	}
}

func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	if amount.IsZero() {
		return
	}
	s.setBalance(obj, new(uint256.Int).Sub(obj.data.Balance, amount))
}

func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	if amount.IsZero() {
		if obj.empty() {
			s.journal.append(touchChange{account: addr})
		}
		return
	}
	s.setBalance(obj, new(uint256.Int).Add(obj.data.Balance, amount))
}

func (s *StateDB) setBalance(obj *stateObject, balance *uint256.Int) {
	s.journal.append(balanceChange{account: obj.address, prev: obj.data.Balance})
	obj.data.Balance = balance
}

func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if obj := s.getStateObject(addr); obj != nil {
		return new(uint256.Int).Set(obj.data.Balance)
	}
	return new(uint256.Int)
}

func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.data.Nonce
	}
	return 0
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(nonceChange{account: addr, prev: obj.data.Nonce})
	obj.data.Nonce = nonce
}

func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.data.CodeHash
	}
	return common.Hash{}
}

func (s *StateDB) GetCode(addr common.Address) []byte {
	obj := s.getStateObject(addr)
	if obj == nil || obj.data.CodeHash == ethtypes.EmptyCodeHash {
		return nil
	}
	if obj.code != nil {
		return obj.code
	}
	code, err := s.source.Code(addr, obj.data.CodeHash)
	if err != nil {
		s.setError(fmt.Errorf("code of %s: %w", addr, err))
		return nil
	}
	obj.code = code
	return code
}

func (s *StateDB) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *StateDB) SetCode(addr common.Address, code []byte) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(codeChange{account: addr, prevCode: obj.code, prevHash: obj.data.CodeHash, prevDirty: obj.dirtyCode})
	obj.code, obj.data.CodeHash = code, crypto.Keccak256Hash(code)
	obj.dirtyCode = true
}

func (s *StateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

func (s *StateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
	}
	s.refund -= gas
}

func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// GetCommittedState returns the value of a slot at the start of the running
// transaction.
func (s *StateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	obj := s.getStateObject(addr)
	if obj == nil {
		return common.Hash{}
	}
	if v, ok := obj.committed[key]; ok {
		return v
	}
	if obj.reset {
		return common.Hash{}
	}
	if v, ok := obj.origin[key]; ok {
		return v
	}
	v, err := s.source.Storage(addr, key)
	if err != nil {
		s.setError(fmt.Errorf("storage of %s: %w", addr, err))
		return common.Hash{}
	}
	obj.origin[key] = v
	return v
}

func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		if v, ok := obj.dirty[key]; ok {
			return v
		}
	}
	return s.GetCommittedState(addr, key)
}

func (s *StateDB) SetState(addr common.Address, key, value common.Hash) {
	obj := s.getOrNewStateObject(addr)
	prev := s.GetState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(storageChange{account: addr, key: key, prev: prev})
	obj.dirty[key] = value
}

func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return s.transient[addr][key]
}

func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := s.GetTransientState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{account: addr, key: key, prev: prev})
	s.setTransientState(addr, key, value)
}

func (s *StateDB) setTransientState(addr common.Address, key, value common.Hash) {
	slots, ok := s.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.transient[addr] = slots
	}
	slots[key] = value
}

// SelfDestruct marks the account for deletion at the end of the transaction
// and clears its balance.
func (s *StateDB) SelfDestruct(addr common.Address) {
	obj := s.getStateObject(addr)
	if obj == nil {
		return
	}
	s.journal.append(selfDestructChange{account: addr, prev: obj.selfDestructed, prevBalance: obj.data.Balance})
	obj.selfDestructed = true
	obj.data.Balance = new(uint256.Int)
}

func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.selfDestructed
	}
	return false
}

// Selfdestruct6780 only destroys accounts created by the running transaction.
func (s *StateDB) Selfdestruct6780(addr common.Address) {
	if obj := s.getStateObject(addr); obj != nil && obj.newContract {
		s.SelfDestruct(addr)
	}
}

func (s *StateDB) Exist(addr common.Address) bool {
	return s.getStateObject(addr) != nil
}

func (s *StateDB) Empty(addr common.Address) bool {
	obj := s.getStateObject(addr)
	return obj == nil || obj.empty()
}

func (s *StateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := s.accessList[addr]
	return ok
}

func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (addressOk bool, slotOk bool) {
	slots, addressOk := s.accessList[addr]
	if !addressOk {
		return false, false
	}
	_, slotOk = slots[slot]
	return addressOk, slotOk
}

func (s *StateDB) AddAddressToAccessList(addr common.Address) {
	if _, ok := s.accessList[addr]; ok {
		return
	}
	s.accessList[addr] = make(map[common.Hash]struct{})
	s.journal.append(accessListAddAccountChange{address: addr})
}

func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.AddAddressToAccessList(addr)
	if _, ok := s.accessList[addr][slot]; ok {
		return
	}
	s.accessList[addr][slot] = struct{}{}
	s.journal.append(accessListAddSlotChange{address: addr, slot: slot})
}

// Prepare resets the access list and transient storage for a new transaction
// and warms the addresses EIP-2929, EIP-2930 and EIP-3651 require.
func (s *StateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses ethtypes.AccessList) {
	if rules.IsBerlin {
		s.accessList = make(map[common.Address]map[common.Hash]struct{})
		s.AddAddressToAccessList(sender)
		if dest != nil {
			s.AddAddressToAccessList(*dest)
		}
		for _, addr := range precompiles {
			s.AddAddressToAccessList(addr)
		}
		for _, el := range txAccesses {
			s.AddAddressToAccessList(el.Address)
			for _, key := range el.StorageKeys {
				s.AddSlotToAccessList(el.Address, key)
			}
		}
		if rules.IsShanghai {
			s.AddAddressToAccessList(coinbase)
		}
	}
	s.transient = make(map[common.Address]map[common.Hash]common.Hash)
}

func (s *StateDB) Snapshot() int {
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id: id, journalIndex: s.journal.length()})
	return id
}

func (s *StateDB) RevertToSnapshot(revid int) {
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	s.journal.revert(s, s.validRevisions[idx].journalIndex)
	s.validRevisions = s.validRevisions[:idx]
}

// SetTxContext sets the hash and index of the transaction about to run, used
// to annotate its logs.
func (s *StateDB) SetTxContext(thash common.Hash, ti int) {
	s.thash, s.txIndex = thash, ti
}

func (s *StateDB) AddLog(log *ethtypes.Log) {
	s.journal.append(addLogChange{txHash: s.thash})
	log.TxHash = s.thash
	log.TxIndex = uint(s.txIndex)
	log.Index = s.logSize
	s.logs[s.thash] = append(s.logs[s.thash], log)
	s.logSize++
}

// GetLogs returns the logs of a transaction stamped with the block.
func (s *StateDB) GetLogs(hash common.Hash, blockNumber uint64, blockHash common.Hash) []*ethtypes.Log {
	logs := s.logs[hash]
	for _, l := range logs {
		l.BlockNumber = blockNumber
		l.BlockHash = blockHash
	}
	return logs
}

func (s *StateDB) AddPreimage(common.Hash, []byte) {}

// Finalise ends a transaction: destructed accounts, and empty touched
// accounts when deleteEmptyObjects is set, are deleted and pending storage
// writes become committed.
func (s *StateDB) Finalise(deleteEmptyObjects bool) {
	for addr := range s.journal.dirties {
		obj, ok := s.objects[addr]
		if !ok || obj.deleted {
			continue
		}
		if obj.selfDestructed || (deleteEmptyObjects && obj.empty()) {
			obj.deleted = true
			obj.committed = make(map[common.Hash]common.Hash)
		} else {
			for k, v := range obj.dirty {
				obj.committed[k] = v
			}
		}
		obj.dirty = make(map[common.Hash]common.Hash)
		obj.newContract = false
		s.mutated[addr] = struct{}{}
	}
	s.journal = newJournal()
	s.validRevisions = s.validRevisions[:0]
	s.refund = 0
}

// Diff returns the final state of every account changed so far.
func (s *StateDB) Diff() state.Diff {
	diff := make(state.Diff, len(s.mutated))
	for addr := range s.mutated {
		obj := s.objects[addr]
		if obj.deleted {
			diff[addr] = &state.AccountDiff{}
			continue
		}
		acct := obj.data
		diff[addr] = &state.AccountDiff{
			Account: acct.Copy(),
			Created: obj.reset,
			Storage: maps.Clone(obj.committed),
		}
	}
	return diff
}

// Codes returns the code deployed so far by accounts that still exist, by
// hash.
func (s *StateDB) Codes() map[common.Hash][]byte {
	codes := make(map[common.Hash][]byte)
	for addr := range s.mutated {
		if obj := s.objects[addr]; !obj.deleted && obj.dirtyCode {
			codes[obj.data.CodeHash] = obj.code
		}
	}
	return codes
}
