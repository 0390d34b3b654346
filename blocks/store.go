// Package blocks keeps collected bundles on disk, one file per block.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/airchains-network/stateless-verifier/types"
)

// ErrNotCollected is returned when no bundle is stored for a block.
var ErrNotCollected = errors.New("blocks: bundle not collected")

// Store is a directory of <number>.bin files holding encoded bundles. A file
// is only ever created complete, so its presence means the block has been
// collected.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Path(number uint64) string {
	return filepath.Join(s.dir, strconv.FormatUint(number, 10)+".bin")
}

func (s *Store) Has(number uint64) bool {
	_, err := os.Stat(s.Path(number))
	return err == nil
}

// LoadRaw returns the encoded bundle of a block.
func (s *Store) LoadRaw(number uint64) ([]byte, error) {
	data, err := os.ReadFile(s.Path(number))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: block %d", ErrNotCollected, number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle of block %d: %w", number, err)
	}
	return data, nil
}

// Load reads and decodes the bundle of a block.
func (s *Store) Load(number uint64) (*types.ClientExecutorInput, error) {
	data, err := s.LoadRaw(number)
	if err != nil {
		return nil, err
	}
	in, err := types.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bundle of block %d: %w", number, err)
	}
	return in, nil
}

// Save encodes and stores the bundle under its block number.
func (s *Store) Save(in *types.ClientExecutorInput) error {
	data, err := in.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	number := in.CurrentBlock.NumberU64()
	tmp, err := os.CreateTemp(s.dir, strconv.FormatUint(number, 10)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save bundle of block %d: %w", number, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save bundle of block %d: %w", number, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save bundle of block %d: %w", number, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(number)); err != nil {
		return fmt.Errorf("failed to save bundle of block %d: %w", number, err)
	}
	return nil
}

// Collector produces the bundle of one block.
type Collector interface {
	Collect(ctx context.Context, number uint64) (*types.ClientExecutorInput, error)
}

// CollectAll collects and saves every listed block that is not stored yet,
// stopping at the first failure. It returns the numbers it collected.
func (s *Store) CollectAll(ctx context.Context, c Collector, numbers []uint64, log *logrus.Logger) ([]uint64, error) {
	var collected []uint64
	for _, n := range numbers {
		if s.Has(n) {
			log.Infof("Block %d already collected, skipping", n)
			continue
		}
		in, err := c.Collect(ctx, n)
		if err != nil {
			return collected, fmt.Errorf("failed to collect block %d: %w", n, err)
		}
		if err := s.Save(in); err != nil {
			return collected, err
		}
		log.WithField("path", s.Path(n)).Infof("Saved bundle of block %d", n)
		collected = append(collected, n)
	}
	return collected, nil
}
