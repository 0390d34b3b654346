package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// NewRPCServer serves the chain over the eth JSON-RPC methods the collector
// uses: eth_getBlockByNumber, eth_getProof and eth_getCode.
func NewRPCServer(chain *Chain) *rpc.Server {
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &ethService{chain: chain}); err != nil {
		panic(err)
	}
	return srv
}

// FailFirst wraps h so that the first n requests get a 503.
func FailFirst(n int, h http.Handler) http.Handler {
	var failed atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failed.Add(1) <= int32(n) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		h.ServeHTTP(w, r)
	})
}

type ethService struct {
	chain *Chain
}

func (s *ethService) GetBlockByNumber(ctx context.Context, number hexutil.Uint64, _ bool) (json.RawMessage, error) {
	block, err := s.chain.BlockByNumber(ctx, uint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	enc, err := json.Marshal(block.Header())
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(enc, &fields); err != nil {
		return nil, err
	}
	for name, v := range map[string]interface{}{
		"transactions": block.Transactions(),
		"uncles":       []common.Hash{},
		"withdrawals":  block.Withdrawals(),
	} {
		if fields[name], err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

type storageResult struct {
	Key   string       `json:"key"`
	Value *hexutil.Big `json:"value"`
	Proof []string     `json:"proof"`
}

type accountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []string        `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []storageResult `json:"storageProof"`
}

func encodeNodes(nodes [][]byte) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = hexutil.Encode(n)
	}
	return out
}

// GetProof reports a missing account with every field zeroed, as geth does.
func (s *ethService) GetProof(ctx context.Context, addr common.Address, keys []string, number hexutil.Uint64) (*accountResult, error) {
	slots := make([]common.Hash, len(keys))
	for i, k := range keys {
		slots[i] = common.HexToHash(k)
	}
	p, err := s.chain.Proof(ctx, addr, slots, uint64(number))
	if err != nil {
		return nil, err
	}
	res := &accountResult{
		Address:      addr,
		AccountProof: encodeNodes(p.Proof),
		Balance:      new(hexutil.Big),
		StorageProof: make([]storageResult, len(p.StorageProof)),
	}
	if p.Account != nil {
		res.Balance = (*hexutil.Big)(p.Account.Balance.ToBig())
		res.CodeHash = p.Account.CodeHash
		res.Nonce = hexutil.Uint64(p.Account.Nonce)
		res.StorageHash = p.Account.StorageRoot
	}
	for i, sp := range p.StorageProof {
		res.StorageProof[i] = storageResult{
			Key:   keys[i],
			Value: (*hexutil.Big)(sp.Value.Big()),
			Proof: encodeNodes(sp.Proof),
		}
	}
	return res, nil
}

func (s *ethService) GetCode(ctx context.Context, addr common.Address, number hexutil.Uint64) (hexutil.Bytes, error) {
	return s.chain.Code(ctx, addr, uint64(number))
}
