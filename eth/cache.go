package eth

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/airchains-network/stateless-verifier/db"
	"github.com/airchains-network/stateless-verifier/host"
	"github.com/airchains-network/stateless-verifier/state"
)

var (
	blockPrefix  = []byte("b")
	headerPrefix = []byte("h")
	proofPrefix  = []byte("p")
	codePrefix   = []byte("c")
)

// CachedSource is a read-through cache of chain data keyed by block number.
// Everything it stores is historical and assumed final, so entries are never
// invalidated.
type CachedSource struct {
	chain host.ChainSource
	db    db.DB
	log   *logrus.Logger
}

var _ host.ChainSource = (*CachedSource)(nil)

func NewCachedSource(chain host.ChainSource, store db.DB, log *logrus.Logger) *CachedSource {
	return &CachedSource{chain: chain, db: store, log: log}
}

func numberKey(prefix []byte, number uint64, rest ...[]byte) []byte {
	key := binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), number)
	for _, r := range rest {
		key = append(key, r...)
	}
	return key
}

// lookup decodes the cached entry under key into v. It reports false on a
// miss or an undecodable entry.
func (s *CachedSource) lookup(key []byte, v interface{}) bool {
	data, err := s.db.Get(key)
	if err != nil {
		s.log.Warnf("Failed to read cache entry %x: %v", key, err)
		return false
	}
	if data == nil {
		return false
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		s.log.Warnf("Dropping corrupt cache entry %x: %v", key, err)
		return false
	}
	return true
}

func (s *CachedSource) store(key []byte, v interface{}) {
	data, err := rlp.EncodeToBytes(v)
	if err == nil {
		err = s.db.Put(key, data)
	}
	if err != nil {
		s.log.Warnf("Failed to write cache entry %x: %v", key, err)
	}
}

func (s *CachedSource) BlockByNumber(ctx context.Context, number uint64) (*ethtypes.Block, error) {
	key := numberKey(blockPrefix, number)
	block := new(ethtypes.Block)
	if s.lookup(key, block) {
		return block, nil
	}
	block, err := s.chain.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	s.store(key, block)
	return block, nil
}

func (s *CachedSource) HeaderByNumber(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	key := numberKey(headerPrefix, number)
	header := new(ethtypes.Header)
	if s.lookup(key, header) {
		return header, nil
	}
	header, err := s.chain.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	s.store(key, header)
	return header, nil
}

func (s *CachedSource) Code(ctx context.Context, addr common.Address, number uint64) ([]byte, error) {
	key := numberKey(codePrefix, number, addr[:])
	var code []byte
	if s.lookup(key, &code) {
		return code, nil
	}
	code, err := s.chain.Code(ctx, addr, number)
	if err != nil {
		return nil, err
	}
	s.store(key, code)
	return code, nil
}

// cachedProof is the stored form of an AccountProof. Account holds the trie
// encoding of the account, or nothing when it does not exist.
type cachedProof struct {
	Account      []byte
	Proof        [][]byte
	StorageProof []state.StorageProof
}

func (s *CachedSource) Proof(ctx context.Context, addr common.Address, slots []common.Hash, number uint64) (*state.AccountProof, error) {
	var slotBytes []byte
	for _, slot := range slots {
		slotBytes = append(slotBytes, slot[:]...)
	}
	key := numberKey(proofPrefix, number, addr[:], crypto.Keccak256(slotBytes))

	var entry cachedProof
	if s.lookup(key, &entry) {
		p := &state.AccountProof{Address: addr, Proof: entry.Proof, StorageProof: entry.StorageProof}
		if len(entry.Account) > 0 {
			acct, err := state.DecodeAccount(entry.Account)
			if err != nil {
				return nil, fmt.Errorf("cached proof of %s at %d: %w", addr, number, err)
			}
			p.Account = acct
		}
		return p, nil
	}

	p, err := s.chain.Proof(ctx, addr, slots, number)
	if err != nil {
		return nil, err
	}
	entry = cachedProof{Proof: p.Proof, StorageProof: p.StorageProof}
	if p.Account != nil {
		entry.Account = p.Account.Encode()
	}
	s.store(key, &entry)
	return p, nil
}
