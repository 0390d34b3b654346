package executor

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is a revertible change to the StateDB.
type journalEntry interface {
	revert(*StateDB)
	// dirtied returns the account the change touches, if any.
	dirtied() *common.Address
}

type journal struct {
	entries []journalEntry
	dirties map[common.Address]int
}

func newJournal() *journal {
	return &journal{dirties: make(map[common.Address]int)}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
	if addr := entry.dirtied(); addr != nil {
		j.dirties[*addr]++
	}
}

func (j *journal) revert(s *StateDB, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(s)
		if addr := j.entries[i].dirtied(); addr != nil {
			if j.dirties[*addr]--; j.dirties[*addr] == 0 {
				delete(j.dirties, *addr)
			}
		}
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) length() int {
	return len(j.entries)
}

type (
	// replaceObjectChange undoes creating an account object; prev is the
	// object it replaced, nil if there was none.
	replaceObjectChange struct {
		account common.Address
		prev    *stateObject
	}
	selfDestructChange struct {
		account     common.Address
		prev        bool
		prevBalance *uint256.Int
	}
	balanceChange struct {
		account common.Address
		prev    *uint256.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	codeChange struct {
		account   common.Address
		prevCode  []byte
		prevHash  common.Hash
		prevDirty bool
	}
	storageChange struct {
		account common.Address
		key     common.Hash
		prev    common.Hash
	}
	transientStorageChange struct {
		account common.Address
		key     common.Hash
		prev    common.Hash
	}
	touchChange struct {
		account common.Address
	}
	refundChange struct {
		prev uint64
	}
	addLogChange struct {
		txHash common.Hash
	}
	accessListAddAccountChange struct {
		address common.Address
	}
	accessListAddSlotChange struct {
		address common.Address
		slot    common.Hash
	}
)

func (ch replaceObjectChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.objects, ch.account)
		return
	}
	s.objects[ch.account] = ch.prev
}

func (ch replaceObjectChange) dirtied() *common.Address { return &ch.account }

func (ch selfDestructChange) revert(s *StateDB) {
	if obj := s.objects[ch.account]; obj != nil {
		obj.selfDestructed = ch.prev
		obj.data.Balance = ch.prevBalance
	}
}

func (ch selfDestructChange) dirtied() *common.Address { return &ch.account }

func (ch balanceChange) revert(s *StateDB) {
	s.objects[ch.account].data.Balance = ch.prev
}

func (ch balanceChange) dirtied() *common.Address { return &ch.account }

func (ch nonceChange) revert(s *StateDB) {
	s.objects[ch.account].data.Nonce = ch.prev
}

func (ch nonceChange) dirtied() *common.Address { return &ch.account }

func (ch codeChange) revert(s *StateDB) {
	obj := s.objects[ch.account]
	obj.code, obj.data.CodeHash, obj.dirtyCode = ch.prevCode, ch.prevHash, ch.prevDirty
}

func (ch codeChange) dirtied() *common.Address { return &ch.account }

func (ch storageChange) revert(s *StateDB) {
	s.objects[ch.account].dirty[ch.key] = ch.prev
}

func (ch storageChange) dirtied() *common.Address { return &ch.account }

func (ch transientStorageChange) revert(s *StateDB) {
	s.setTransientState(ch.account, ch.key, ch.prev)
}

func (ch transientStorageChange) dirtied() *common.Address { return nil }

func (ch touchChange) revert(*StateDB) {}

func (ch touchChange) dirtied() *common.Address { return &ch.account }

func (ch refundChange) revert(s *StateDB) {
	s.refund = ch.prev
}

func (ch refundChange) dirtied() *common.Address { return nil }

func (ch addLogChange) revert(s *StateDB) {
	logs := s.logs[ch.txHash]
	if len(logs) == 1 {
		delete(s.logs, ch.txHash)
	} else {
		s.logs[ch.txHash] = logs[:len(logs)-1]
	}
	s.logSize--
}

func (ch addLogChange) dirtied() *common.Address { return nil }

func (ch accessListAddAccountChange) revert(s *StateDB) {
	delete(s.accessList, ch.address)
}

func (ch accessListAddAccountChange) dirtied() *common.Address { return nil }

func (ch accessListAddSlotChange) revert(s *StateDB) {
	delete(s.accessList[ch.address], ch.slot)
}

func (ch accessListAddSlotChange) dirtied() *common.Address { return nil }
