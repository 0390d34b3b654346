// Package types defines the bundle handed from the collector to the verifier
// and its canonical binary encoding.
package types

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/airchains-network/stateless-verifier/state"
)

// ErrNonCanonical is returned when a decoded bundle would not re-encode to the
// same bytes.
var ErrNonCanonical = errors.New("types: non-canonical bundle")

// StateRequest lists the storage slots of one account the block touches.
type StateRequest struct {
	Address common.Address
	Slots   []common.Hash
}

// ClientExecutorInput is everything the verifier needs to re-execute one
// block: the block, the headers of its ancestors starting with the parent,
// the partial parent state, the touched keys and the code of touched
// contracts.
type ClientExecutorInput struct {
	CurrentBlock    *ethtypes.Block
	AncestorHeaders []*ethtypes.Header
	ParentState     *state.Snapshot
	StateRequests   []StateRequest
	Bytecodes       [][]byte
}

// ParentHeader returns the header of the block's parent.
func (in *ClientExecutorInput) ParentHeader() *ethtypes.Header {
	return in.AncestorHeaders[0]
}

// Encode serializes the bundle.
func (in *ClientExecutorInput) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(in)
}

// Decode parses a bundle and checks it is in canonical form: requests sorted
// by address with sorted slots, bytecodes sorted by hash, no duplicates.
func Decode(data []byte) (*ClientExecutorInput, error) {
	in := new(ClientExecutorInput)
	if err := rlp.DecodeBytes(data, in); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	if err := in.checkCanonical(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *ClientExecutorInput) checkCanonical() error {
	if len(in.AncestorHeaders) == 0 {
		return fmt.Errorf("%w: no ancestor headers", ErrNonCanonical)
	}
	if in.ParentState == nil {
		return fmt.Errorf("%w: no parent state", ErrNonCanonical)
	}
	for i, req := range in.StateRequests {
		if i > 0 && bytes.Compare(in.StateRequests[i-1].Address[:], req.Address[:]) >= 0 {
			return fmt.Errorf("%w: state request %s out of order", ErrNonCanonical, req.Address)
		}
		for j := 1; j < len(req.Slots); j++ {
			if bytes.Compare(req.Slots[j-1][:], req.Slots[j][:]) >= 0 {
				return fmt.Errorf("%w: slot %s of %s out of order", ErrNonCanonical, req.Slots[j], req.Address)
			}
		}
	}
	for i := 1; i < len(in.Bytecodes); i++ {
		prev, cur := crypto.Keccak256Hash(in.Bytecodes[i-1]), crypto.Keccak256Hash(in.Bytecodes[i])
		if bytes.Compare(prev[:], cur[:]) >= 0 {
			return fmt.Errorf("%w: bytecode %s out of order", ErrNonCanonical, cur)
		}
	}
	return nil
}

// NewStateRequests returns the requests for the given keys in canonical order.
func NewStateRequests(keys map[common.Address][]common.Hash) []StateRequest {
	out := make([]StateRequest, 0, len(keys))
	for addr, slots := range keys {
		sorted := append([]common.Hash(nil), slots...)
		slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
		out = append(out, StateRequest{Address: addr, Slots: slices.Compact(sorted)})
	}
	slices.SortFunc(out, func(a, b StateRequest) int { return bytes.Compare(a.Address[:], b.Address[:]) })
	return out
}

// NewBytecodes returns the given codes deduplicated and sorted by hash.
func NewBytecodes(codes [][]byte) [][]byte {
	byHash := make(map[common.Hash][]byte, len(codes))
	for _, code := range codes {
		byHash[crypto.Keccak256Hash(code)] = code
	}
	hashes := make([]common.Hash, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	slices.SortFunc(hashes, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = byHash[h]
	}
	return out
}
