package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// StorageProof is the Merkle proof of one storage slot.
type StorageProof struct {
	Key   common.Hash
	Value common.Hash
	Proof [][]byte
}

// AccountProof is the Merkle proof of one account and some of its storage
// slots, as returned by eth_getProof.
type AccountProof struct {
	Address common.Address
	// Account is nil when the proof shows the account does not exist.
	Account      *Account
	Proof        [][]byte
	StorageProof []StorageProof
}

// StorageRoot returns the root the storage proofs are taken against.
func (p *AccountProof) StorageRoot() common.Hash {
	if p.Account == nil {
		return NewAccount().StorageRoot
	}
	return p.Account.StorageRoot
}
