package host_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/airchains-network/stateless-verifier/host"
)

func TestAccumulator(t *testing.T) {
	a, b := common.HexToAddress("0xaa"), common.HexToAddress("0xbb")
	s1, s2, s3 := common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")

	acc := host.NewAccumulator()
	acc.RecordRead(a, s2, s1)
	acc.RecordRead(a, s1)
	acc.RecordRead(b)
	acc.RecordWrite(a, s3)
	acc.RecordWrite(b, s1)
	acc.RecordBlockHash(90)
	acc.RecordBlockHash(80)
	acc.RecordBlockHash(95)

	touched := acc.Drain()
	assert.Equal(t, map[common.Address][]common.Hash{a: {s1, s2}, b: {}}, touched.Used)
	assert.Equal(t, map[common.Address][]common.Hash{a: {s3}, b: {s1}}, touched.Modified)
	assert.True(t, touched.BlockHashes)
	assert.Equal(t, uint64(80), touched.OldestBlockHash)
	assert.Equal(t, map[common.Address][]common.Hash{a: {s1, s2, s3}, b: {s1}}, touched.Before())

	empty := acc.Drain()
	assert.Empty(t, empty.Used)
	assert.Empty(t, empty.Modified)
	assert.False(t, empty.BlockHashes)
}
