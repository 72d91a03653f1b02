package engine

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

type storeEntry struct {
	op  sync.Mutex
	pos models.Position
}

// Store holds open positions keyed by asset address. Each asset has its own
// exclusive section (Lock) for operations that span network calls; the map
// lock is only held for short reads and writes.
type Store struct {
	mu        sync.RWMutex
	positions map[common.Address]*storeEntry
}

func NewStore() *Store {
	return &Store{positions: make(map[common.Address]*storeEntry)}
}

func (s *Store) Add(p models.Position) error {
	if p.Asset == (common.Address{}) {
		return fmt.Errorf("%w: пустой адрес актива", ErrInvalidPosition)
	}
	if p.EntryAmount == nil || p.EntryAmount.Sign() <= 0 {
		return fmt.Errorf("%w: entry_amount должен быть > 0", ErrInvalidPosition)
	}
	if !(p.EntryPrice > 0) {
		return fmt.Errorf("%w: entry_price должен быть > 0", ErrInvalidPosition)
	}

	p = p.Clone()
	p.Remaining = new(big.Int).Set(p.EntryAmount)
	p.HighestPrice = p.EntryPrice
	p.LowestPrice = p.EntryPrice
	p.LastPrice = p.EntryPrice
	p.PartialExited = false
	p.Closed = false

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.Asset]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Asset.Hex())
	}
	s.positions[p.Asset] = &storeEntry{pos: p}
	return nil
}

func (s *Store) Get(asset common.Address) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.positions[asset]
	if !ok {
		return models.Position{}, false
	}
	return e.pos.Clone(), true
}

func (s *Store) Has(asset common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[asset]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Snapshot returns copies of all open positions ordered by entry time.
func (s *Store) Snapshot() []models.Position {
	s.mu.RLock()
	out := make([]models.Position, 0, len(s.positions))
	for _, e := range s.positions {
		out = append(out, e.pos.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].Asset.Hex() < out[j].Asset.Hex()
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Lock enters the exclusive section of asset. ErrNotFound is returned when the
// position does not exist or was closed while waiting.
func (s *Store) Lock(asset common.Address) (func(), error) {
	s.mu.RLock()
	e, ok := s.positions[asset]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, asset.Hex())
	}

	e.op.Lock()
	s.mu.RLock()
	current := s.positions[asset]
	s.mu.RUnlock()
	if current != e {
		e.op.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, asset.Hex())
	}

	var once sync.Once
	return func() { once.Do(e.op.Unlock) }, nil
}

func (s *Store) Observe(asset common.Address, price float64, at time.Time) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.positions[asset]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNotFound, asset.Hex())
	}
	e.pos = ObservePrice(e.pos, price, at)
	return e.pos.Clone(), nil
}

// Reduce subtracts a partial sale from the remaining amount. A reduction that
// reaches zero closes the position.
func (s *Store) Reduce(asset common.Address, amount *big.Int) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.positions[asset]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNotFound, asset.Hex())
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(e.pos.Remaining) > 0 {
		return e.pos.Clone(), fmt.Errorf("%w: %v > %s", ErrOversell, amount, e.pos.Remaining)
	}

	e.pos.Remaining = new(big.Int).Sub(e.pos.Remaining, amount)
	e.pos.PartialExited = true
	if e.pos.Remaining.Sign() == 0 {
		e.pos.Closed = true
		delete(s.positions, asset)
	}
	return e.pos.Clone(), nil
}

// Close zeroes the remaining amount and stops tracking the asset. It serves
// both full exits and abandoned, unsellable positions.
func (s *Store) Close(asset common.Address) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.positions[asset]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNotFound, asset.Hex())
	}
	e.pos.Remaining = new(big.Int)
	e.pos.Closed = true
	delete(s.positions, asset)
	return e.pos.Clone(), nil
}
