package executor

import (
	"errors"
	"fmt"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
)

var (
	ErrGasUsedMismatch      = errors.New("executor: gas used mismatch")
	ErrReceiptsRootMismatch = errors.New("executor: receipts root mismatch")
	ErrBloomMismatch        = errors.New("executor: logs bloom mismatch")
	ErrBlobGasUsedMismatch  = errors.New("executor: blob gas used mismatch")
)

// ValidatePostExecution checks the execution output against the commitments
// of the block header.
func ValidatePostExecution(header *ethtypes.Header, out *Output) error {
	if out.GasUsed != header.GasUsed {
		return fmt.Errorf("%w: executed %d, header %d", ErrGasUsedMismatch, out.GasUsed, header.GasUsed)
	}
	if root := ethtypes.DeriveSha(out.Receipts, trie.NewStackTrie(nil)); root != header.ReceiptHash {
		return fmt.Errorf("%w: executed %s, header %s", ErrReceiptsRootMismatch, root, header.ReceiptHash)
	}
	if bloom := ethtypes.CreateBloom(out.Receipts); bloom != header.Bloom {
		return fmt.Errorf("%w: executed %x, header %x", ErrBloomMismatch, bloom, header.Bloom)
	}
	if header.BlobGasUsed != nil && *header.BlobGasUsed != out.BlobGasUsed {
		return fmt.Errorf("%w: executed %d, header %d", ErrBlobGasUsedMismatch, out.BlobGasUsed, *header.BlobGasUsed)
	}
	return nil
}
