package prover

import (
	"github.com/ethereum/go-ethereum/common"
)

// ProveRequest carries one encoded bundle and the header fields the proof
// must commit to.
type ProveRequest struct {
	BlockNumber     uint64      `json:"block_number"`
	BlockHash       common.Hash `json:"block_hash"`
	ParentStateRoot common.Hash `json:"parent_state_root"`
	StateRoot       common.Hash `json:"state_root"`
	Input           []byte      `json:"input"`
}

// ProofData is the proof of one block. PublicValues commits to the verified
// header hash.
type ProofData struct {
	Proof        []byte `json:"proof,omitempty"`
	PublicValues []byte `json:"public_values,omitempty"`
}

type ProofResponse struct {
	Status      int       `json:"status"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Description string    `json:"description"`
	Data        ProofData `json:"data,omitempty"`
}
