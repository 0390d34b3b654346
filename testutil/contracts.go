package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	// StoreCode stores the first calldata word in slot 1.
	StoreCode = []byte{
		byte(vm.PUSH1), 0x00, byte(vm.CALLDATALOAD),
		byte(vm.PUSH1), 0x01, byte(vm.SSTORE),
		byte(vm.STOP),
	}
	// BlockHashCode stores blockhash(number - k) in slot 0, k being the first
	// calldata word.
	BlockHashCode = []byte{
		byte(vm.PUSH1), 0x00, byte(vm.CALLDATALOAD),
		byte(vm.NUMBER), byte(vm.SUB), byte(vm.BLOCKHASH),
		byte(vm.PUSH1), 0x00, byte(vm.SSTORE),
		byte(vm.STOP),
	}
	// RevertCode always reverts.
	RevertCode = []byte{
		byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.REVERT),
	}
	// LogCode emits a LOG1 with the first calldata word as topic.
	LogCode = []byte{
		byte(vm.PUSH1), 0x00, byte(vm.CALLDATALOAD),
		byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.LOG1),
		byte(vm.STOP),
	}
)

// Slot returns the storage key of slot n.
func Slot(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// Word returns v as a 32 byte calldata word.
func Word(v uint64) []byte {
	return Slot(v).Bytes()
}

// InitCode returns creation code deploying runtime, which must be at most 32
// bytes long.
func InitCode(runtime []byte) []byte {
	if len(runtime) == 0 || len(runtime) > 32 {
		panic("runtime code must be 1 to 32 bytes")
	}
	code := []byte{byte(vm.PUSH1) + byte(len(runtime)-1)}
	code = append(code, runtime...)
	return append(code,
		byte(vm.PUSH1), 0x00, byte(vm.MSTORE),
		byte(vm.PUSH1), byte(len(runtime)),
		byte(vm.PUSH1), byte(32-len(runtime)),
		byte(vm.RETURN),
	)
}
