// Package host collects the bundle the verifier needs for one block: it runs
// the block against a remote chain, records what the run touches and fetches
// the Merkle proofs, ancestor headers and bytecodes that cover it.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/mpt"
	"github.com/airchains-network/stateless-verifier/state"
	"github.com/airchains-network/stateless-verifier/types"
)

var (
	// ErrSanityCheckFailed is returned when the collector's own execution of a
	// block disagrees with the chain. No bundle is produced for the block.
	ErrSanityCheckFailed = errors.New("host: sanity check failed")
	// ErrStateRootMismatch is returned when the state root recomputed from the
	// proofs and the execution diff is not the block's state root.
	ErrStateRootMismatch = errors.New("host: state root mismatch")
)

const defaultConcurrency = 8

// Collector builds bundles from a ChainSource.
type Collector struct {
	chain       ChainSource
	engine      *executor.Engine
	hasher      mpt.Hasher
	concurrency int
	log         *logrus.Logger
}

// NewCollector returns a collector fetching at most concurrency proofs at a
// time. A non-positive concurrency selects the default.
func NewCollector(chain ChainSource, engine *executor.Engine, concurrency int, log *logrus.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{
		chain:       chain,
		engine:      engine,
		hasher:      mpt.Keccak,
		concurrency: concurrency,
		log:         log,
	}
}

// Collect builds the bundle for block number. Either a complete bundle is
// returned or an error; a failed fetch aborts the whole collection.
func (c *Collector) Collect(ctx context.Context, number uint64) (*types.ClientExecutorInput, error) {
	if number == 0 {
		return nil, fmt.Errorf("%w: the genesis block has no parent", ErrSanityCheckFailed)
	}
	start := time.Now()

	block, err := c.chain.BlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", number, err)
	}
	parent, err := c.chain.HeaderByNumber(ctx, number-1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header %d: %w", number-1, err)
	}
	if block.ParentHash() != parent.Hash() {
		return nil, fmt.Errorf("%w: block %d does not build on %s", ErrSanityCheckFailed, number, parent.Hash())
	}

	acc := NewAccumulator()
	src := newRemoteSource(ctx, c.chain, acc, number-1)
	out, err := c.engine.ExecuteBlock(block, src)
	if err != nil {
		return nil, fmt.Errorf("failed to execute block %d: %w", number, err)
	}
	if err := executor.ValidatePostExecution(block.Header(), out); err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrSanityCheckFailed, number, err)
	}
	for addr, d := range out.Diff {
		slots := make([]common.Hash, 0, len(d.Storage))
		for slot := range d.Storage {
			slots = append(slots, slot)
		}
		acc.RecordWrite(addr, slots...)
	}
	touched := acc.Drain()
	keys := touched.Before()

	c.log.WithFields(logrus.Fields{
		"block":    number,
		"txs":      len(block.Transactions()),
		"accounts": len(keys),
		"modified": len(touched.Modified),
	}).Debug("Executed block")

	before, err := c.fetchProofs(ctx, keys, number-1)
	if err != nil {
		return nil, err
	}
	after, err := c.fetchProofs(ctx, touched.Modified, number)
	if err != nil {
		return nil, err
	}

	parentState, err := state.FromTransitionProofs(c.hasher, parent.Root, before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to build parent state of block %d: %w", number, err)
	}
	snap, err := parentState.Snapshot()
	if err != nil {
		return nil, err
	}
	post := parentState.Clone()
	if err := post.Update(out.Diff); err != nil {
		return nil, fmt.Errorf("failed to apply diff of block %d: %w", number, err)
	}
	if root := post.StateRoot(); root != block.Root() {
		return nil, fmt.Errorf("%w: block %d: computed %s, header %s", ErrStateRootMismatch, number, root, block.Root())
	}

	oldest := number - 1
	if touched.BlockHashes && touched.OldestBlockHash < oldest {
		oldest = touched.OldestBlockHash
	}
	ancestors, err := c.fetchAncestors(ctx, parent, oldest)
	if err != nil {
		return nil, err
	}
	codes, err := c.fetchBytecodes(ctx, src, before, number-1)
	if err != nil {
		return nil, err
	}

	in := &types.ClientExecutorInput{
		CurrentBlock:    block,
		AncestorHeaders: ancestors,
		ParentState:     snap,
		StateRequests:   types.NewStateRequests(keys),
		Bytecodes:       types.NewBytecodes(codes),
	}
	c.log.Infof("Collected block %d: %d accounts, %d ancestors, %d bytecodes in %s",
		number, len(in.StateRequests), len(ancestors), len(in.Bytecodes), time.Since(start).Round(time.Millisecond))
	return in, nil
}

// fetchProofs fetches one proof per address at block number. The result is
// ordered by address whatever order the requests complete in.
func (c *Collector) fetchProofs(ctx context.Context, keys map[common.Address][]common.Hash, number uint64) ([]*state.AccountProof, error) {
	addrs := sortedAddresses(keys)
	proofs := make([]*state.AccountProof, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			p, err := c.chain.Proof(gctx, addr, keys[addr], number)
			if err != nil {
				return fmt.Errorf("failed to fetch proof of %s at block %d: %w", addr, number, err)
			}
			if p.Address != addr {
				return fmt.Errorf("%w: asked proof of %s, got %s", ErrSanityCheckFailed, addr, p.Address)
			}
			proofs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}

// fetchAncestors returns the headers from parent back to oldest, newest
// first, checking that each is the parent of the one before it.
func (c *Collector) fetchAncestors(ctx context.Context, parent *ethtypes.Header, oldest uint64) ([]*ethtypes.Header, error) {
	headers := []*ethtypes.Header{parent}
	for child := parent; child.Number.Uint64() > oldest; {
		h, err := c.chain.HeaderByNumber(ctx, child.Number.Uint64()-1)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header %d: %w", child.Number.Uint64()-1, err)
		}
		if h.Hash() != child.ParentHash {
			return nil, fmt.Errorf("%w: header %d is not the parent of %d", ErrSanityCheckFailed, h.Number, child.Number)
		}
		headers = append(headers, h)
		child = h
	}
	return headers, nil
}

// fetchBytecodes returns the code of every proven contract account. Code the
// execution already loaded is reused.
func (c *Collector) fetchBytecodes(ctx context.Context, src *remoteSource, proofs []*state.AccountProof, number uint64) ([][]byte, error) {
	var codes [][]byte
	for _, p := range proofs {
		if p.Account == nil || p.Account.CodeHash == ethtypes.EmptyCodeHash {
			continue
		}
		if code, ok := src.code[p.Account.CodeHash]; ok {
			codes = append(codes, code)
			continue
		}
		code, err := c.chain.Code(ctx, p.Address, number)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch code of %s: %w", p.Address, err)
		}
		if h := crypto.Keccak256Hash(code); h != p.Account.CodeHash {
			return nil, fmt.Errorf("%w: code of %s hashes to %s, account commits to %s", ErrSanityCheckFailed, p.Address, h, p.Account.CodeHash)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
