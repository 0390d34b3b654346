package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Account is the value stored in the state trie under keccak256(address).
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot common.Hash
	CodeHash    common.Hash
}

// NewAccount returns an account with no balance, code or storage.
func NewAccount() *Account {
	return &Account{
		Balance:     new(uint256.Int),
		StorageRoot: types.EmptyRootHash,
		CodeHash:    types.EmptyCodeHash,
	}
}

// IsEmpty reports whether the account is empty in the EIP-161 sense.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.CodeHash == types.EmptyCodeHash
}

func (a *Account) Copy() *Account {
	cpy := *a
	cpy.Balance = new(uint256.Int).Set(a.Balance)
	return &cpy
}

// rlpAccount is the consensus encoding of an account.
type rlpAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     common.Hash
	CodeHash []byte
}

// Encode returns the RLP encoding of the account as stored in the trie.
func (a *Account) Encode() []byte {
	enc, err := rlp.EncodeToBytes(&rlpAccount{
		Nonce:    a.Nonce,
		Balance:  a.Balance.ToBig(),
		Root:     a.StorageRoot,
		CodeHash: a.CodeHash[:],
	})
	if err != nil {
		panic(fmt.Sprintf("state: encoding account: %v", err))
	}
	return enc
}

// DecodeAccount parses a state trie leaf.
func DecodeAccount(enc []byte) (*Account, error) {
	var dec rlpAccount
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	balance, overflow := uint256.FromBig(dec.Balance)
	if overflow {
		return nil, fmt.Errorf("failed to decode account: balance overflows 256 bits")
	}
	if len(dec.CodeHash) != common.HashLength {
		return nil, fmt.Errorf("failed to decode account: invalid code hash length %d", len(dec.CodeHash))
	}
	return &Account{
		Nonce:       dec.Nonce,
		Balance:     balance,
		StorageRoot: dec.Root,
		CodeHash:    common.BytesToHash(dec.CodeHash),
	}, nil
}

// EncodeStorageValue returns the trie encoding of a storage word. Zero is not
// stored; callers delete the slot instead.
func EncodeStorageValue(v common.Hash) []byte {
	enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(v[:]))
	if err != nil {
		panic(fmt.Sprintf("state: encoding storage value: %v", err))
	}
	return enc
}

// DecodeStorageValue parses a storage trie leaf.
func DecodeStorageValue(enc []byte) (common.Hash, error) {
	content, rest, err := rlp.SplitString(enc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode storage value: %w", err)
	}
	if len(rest) != 0 || len(content) > common.HashLength {
		return common.Hash{}, fmt.Errorf("failed to decode storage value: invalid encoding %x", enc)
	}
	return common.BytesToHash(content), nil
}
