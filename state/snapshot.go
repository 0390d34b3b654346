package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airchains-network/stateless-verifier/mpt"
)

// ErrNonCanonicalSnapshot is returned for snapshots whose storage entries are
// not strictly ordered by address.
var ErrNonCanonicalSnapshot = errors.New("state: non-canonical snapshot")

// Snapshot is the serializable form of an EthereumState. Node lists are sorted
// by hash and storage entries by address, so equal states produce equal
// snapshots. Node lists may include post-state hints that nothing in the
// trie references yet.
type Snapshot struct {
	StateRoot  common.Hash
	StateNodes [][]byte
	Storage    []StorageSnapshot
}

// StorageSnapshot is the partial storage trie of one account.
type StorageSnapshot struct {
	Address common.Address
	Root    common.Hash
	Nodes   [][]byte
}

// Snapshot captures the state. It fails once the state has been updated.
func (s *EthereumState) Snapshot() (*Snapshot, error) {
	nodes, err := s.StateTrie.Nodes()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		StateRoot:  s.StateTrie.Root(),
		StateNodes: nodes,
		Storage:    make([]StorageSnapshot, 0, len(s.StorageTries)),
	}
	for addr, st := range s.StorageTries {
		nodes, err := st.Nodes()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addr, err)
		}
		snap.Storage = append(snap.Storage, StorageSnapshot{Address: addr, Root: st.Root(), Nodes: nodes})
	}
	sort.Slice(snap.Storage, func(i, j int) bool {
		return bytes.Compare(snap.Storage[i].Address[:], snap.Storage[j].Address[:]) < 0
	})
	return snap, nil
}

// FromSnapshot rebuilds a state from a snapshot using the given hasher.
func FromSnapshot(hasher mpt.Hasher, snap *Snapshot) (*EthereumState, error) {
	if hasher == nil {
		hasher = mpt.Keccak
	}
	tr, err := mpt.FromSnapshot(hasher, snap.StateRoot, snap.StateNodes)
	if err != nil {
		return nil, fmt.Errorf("state trie: %w", err)
	}
	s := &EthereumState{
		hasher:       hasher,
		StateTrie:    tr,
		StorageTries: make(map[common.Address]*mpt.Trie, len(snap.Storage)),
	}
	for i, ss := range snap.Storage {
		if i > 0 && bytes.Compare(snap.Storage[i-1].Address[:], ss.Address[:]) >= 0 {
			return nil, fmt.Errorf("%w: storage entry %s out of order", ErrNonCanonicalSnapshot, ss.Address)
		}
		st, err := mpt.FromSnapshot(hasher, ss.Root, ss.Nodes)
		if err != nil {
			return nil, fmt.Errorf("storage trie of %s: %w", ss.Address, err)
		}
		s.StorageTries[ss.Address] = st
	}
	return s, nil
}
