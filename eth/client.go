package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/airchains-network/stateless-verifier/host"
	"github.com/airchains-network/stateless-verifier/state"
)

// ErrTransport is returned once every attempt of a call has failed.
var ErrTransport = errors.New("eth: transport failure")

var _ host.ChainSource = (*Client)(nil)

// Client wraps both rpc.Client and ethclient.Client for Ethereum interactions
type Client struct {
	Rpc  *rpc.Client
	Eth  *ethclient.Client
	Geth *gethclient.Client

	maxRetries int
	backoff    time.Duration
	log        *logrus.Logger
}

// NewClient dials url. Every call is tried up to maxRetries times, sleeping
// backoff times the attempt number in between.
func NewClient(ctx context.Context, url string, maxRetries int, backoff time.Duration, log *logrus.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewClientFromRPC(rpcClient, maxRetries, backoff, log), nil
}

// NewClientFromRPC wraps an existing connection.
func NewClientFromRPC(rpcClient *rpc.Client, maxRetries int, backoff time.Duration, log *logrus.Logger) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		Rpc:        rpcClient,
		Eth:        ethclient.NewClient(rpcClient),
		Geth:       gethclient.New(rpcClient),
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
	}
}

func (c *Client) Close() {
	c.Rpc.Close()
}

// retry runs call until it succeeds, fails permanently or runs out of
// attempts.
func (c *Client) retry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		c.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
		}).Warnf("RPC call failed: %v", err)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrTransport, op, c.maxRetries, err)
}

// retryable reports whether err may go away on its own. Missing data and
// errors reported by the node itself will not.
func retryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*ethtypes.Block, error) {
	var block *ethtypes.Block
	err := c.retry(ctx, fmt.Sprintf("block %d", number), func() (err error) {
		block, err = c.Eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	return block, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	var header *ethtypes.Header
	err := c.retry(ctx, fmt.Sprintf("header %d", number), func() (err error) {
		header, err = c.Eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	return header, err
}

func (c *Client) Code(ctx context.Context, addr common.Address, number uint64) ([]byte, error) {
	var code []byte
	err := c.retry(ctx, fmt.Sprintf("code of %s at %d", addr, number), func() (err error) {
		code, err = c.Eth.CodeAt(ctx, addr, new(big.Int).SetUint64(number))
		return err
	})
	return code, err
}

// Proof fetches eth_getProof for addr and slots at the state after block
// number.
func (c *Client) Proof(ctx context.Context, addr common.Address, slots []common.Hash, number uint64) (*state.AccountProof, error) {
	keys := make([]string, len(slots))
	for i, slot := range slots {
		keys[i] = slot.Hex()
	}
	var res *gethclient.AccountResult
	err := c.retry(ctx, fmt.Sprintf("proof of %s at %d", addr, number), func() (err error) {
		res, err = c.Geth.GetProof(ctx, addr, keys, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertProof(addr, slots, res)
}

// convertProof turns an eth_getProof response into an AccountProof. Nodes
// report a missing account with every field zeroed.
func convertProof(addr common.Address, slots []common.Hash, res *gethclient.AccountResult) (*state.AccountProof, error) {
	if res.Address != addr {
		return nil, fmt.Errorf("proof is for %s, requested %s", res.Address, addr)
	}
	if len(res.StorageProof) != len(slots) {
		return nil, fmt.Errorf("proof of %s has %d storage proofs, requested %d", addr, len(res.StorageProof), len(slots))
	}
	nodes, err := decodeNodes(res.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("account proof of %s: %w", addr, err)
	}
	out := &state.AccountProof{Address: addr, Proof: nodes}

	balance := new(uint256.Int)
	if res.Balance != nil {
		var overflow bool
		if balance, overflow = uint256.FromBig(res.Balance); overflow {
			return nil, fmt.Errorf("balance of %s overflows 256 bits", addr)
		}
	}
	absent := res.Nonce == 0 && balance.IsZero() && res.StorageHash == (common.Hash{}) && res.CodeHash == (common.Hash{})
	if !absent {
		out.Account = &state.Account{
			Nonce:       res.Nonce,
			Balance:     balance,
			StorageRoot: res.StorageHash,
			CodeHash:    res.CodeHash,
		}
	}

	for i, sp := range res.StorageProof {
		nodes, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, fmt.Errorf("storage proof of %s slot %s: %w", addr, slots[i], err)
		}
		var value common.Hash
		if sp.Value != nil {
			if sp.Value.Sign() < 0 || sp.Value.BitLen() > 256 {
				return nil, fmt.Errorf("storage value of %s slot %s out of range", addr, slots[i])
			}
			value = common.BigToHash(sp.Value)
		}
		out.StorageProof = append(out.StorageProof, state.StorageProof{Key: slots[i], Value: value, Proof: nodes})
	}
	return out, nil
}

func decodeNodes(proof []string) ([][]byte, error) {
	nodes := make([][]byte, len(proof))
	for i, enc := range proof {
		node, err := hexutil.Decode(enc)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes[i] = node
	}
	return nodes, nil
}
