package executor

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/airchains-network/stateless-verifier/state"
)

// StateSource is the pre-block state a block executes against. The collector
// backs it with a remote node, the verifier with a witness.
type StateSource interface {
	// Account returns nil for accounts that do not exist.
	Account(addr common.Address) (*state.Account, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	Code(addr common.Address, codeHash common.Hash) ([]byte, error)
	// BlockHash returns the zero hash for blocks outside the BLOCKHASH window.
	BlockHash(number uint64) (common.Hash, error)
}
