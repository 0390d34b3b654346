package host

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// Accumulator records the keys one execution pass touches. It is not safe
// for concurrent use.
type Accumulator struct {
	used      map[common.Address]map[common.Hash]struct{}
	modified  map[common.Address]map[common.Hash]struct{}
	oldest    uint64
	blockHash bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		used:     make(map[common.Address]map[common.Hash]struct{}),
		modified: make(map[common.Address]map[common.Hash]struct{}),
	}
}

func record(set map[common.Address]map[common.Hash]struct{}, addr common.Address, slots []common.Hash) {
	s, ok := set[addr]
	if !ok {
		s = make(map[common.Hash]struct{})
		set[addr] = s
	}
	for _, slot := range slots {
		s[slot] = struct{}{}
	}
}

// RecordRead marks addr, and the given slots of it, as read.
func (a *Accumulator) RecordRead(addr common.Address, slots ...common.Hash) {
	record(a.used, addr, slots)
}

// RecordWrite marks addr, and the given slots of it, as written.
func (a *Accumulator) RecordWrite(addr common.Address, slots ...common.Hash) {
	record(a.modified, addr, slots)
}

// RecordBlockHash marks the hash of block number as read.
func (a *Accumulator) RecordBlockHash(number uint64) {
	if !a.blockHash || number < a.oldest {
		a.oldest = number
	}
	a.blockHash = true
}

// Touched is the drained content of an Accumulator. Slot lists are sorted.
type Touched struct {
	Used     map[common.Address][]common.Hash
	Modified map[common.Address][]common.Hash
	// OldestBlockHash is the oldest block whose hash was read. Only valid when
	// BlockHashes is set.
	OldestBlockHash uint64
	BlockHashes     bool
}

// Drain returns everything recorded so far and resets the accumulator.
func (a *Accumulator) Drain() *Touched {
	t := &Touched{
		Used:            flatten(a.used),
		Modified:        flatten(a.modified),
		OldestBlockHash: a.oldest,
		BlockHashes:     a.blockHash,
	}
	*a = *NewAccumulator()
	return t
}

// Before returns the keys to prove against the parent state: every key read
// or written.
func (t *Touched) Before() map[common.Address][]common.Hash {
	out := make(map[common.Address][]common.Hash, len(t.Used)+len(t.Modified))
	for addr, slots := range t.Used {
		out[addr] = append(out[addr], slots...)
	}
	for addr, slots := range t.Modified {
		out[addr] = append(out[addr], slots...)
	}
	for addr, slots := range out {
		out[addr] = sortSlots(slots)
	}
	return out
}

func flatten(set map[common.Address]map[common.Hash]struct{}) map[common.Address][]common.Hash {
	out := make(map[common.Address][]common.Hash, len(set))
	for addr, s := range set {
		slots := make([]common.Hash, 0, len(s))
		for slot := range s {
			slots = append(slots, slot)
		}
		out[addr] = sortSlots(slots)
	}
	return out
}

func sortSlots(slots []common.Hash) []common.Hash {
	slices.SortFunc(slots, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(slots)
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	addrs := make([]common.Address, 0, len(m))
	for addr := range m {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return addrs
}
