package engine

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddInitializesPosition(t *testing.T) {
	s := NewStore()
	p := testPosition(assetA, pairA, 0.002, 500, time.Now())
	p.Remaining = big.NewInt(1)
	p.Closed = true

	require.NoError(t, s.Add(p))
	got, ok := s.Get(assetA)
	require.True(t, ok)
	assert.Equal(t, 0, got.Remaining.Cmp(p.EntryAmount))
	assert.Equal(t, 0.002, got.HighestPrice)
	assert.Equal(t, 0.002, got.LowestPrice)
	assert.False(t, got.Closed)
	assert.False(t, got.PartialExited)
}

func TestStore_AddRejects(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 1, time.Now())))

	err := s.Add(testPosition(assetA, pairB, 1, 1, time.Now()))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	bad := testPosition(assetB, pairB, 1, 1, time.Now())
	bad.EntryAmount = big.NewInt(0)
	assert.ErrorIs(t, s.Add(bad), ErrInvalidPosition)

	bad = testPosition(assetB, pairB, 0, 1, time.Now())
	assert.ErrorIs(t, s.Add(bad), ErrInvalidPosition)

	assert.ErrorIs(t, s.Add(testPosition(common.Address{}, pairB, 1, 1, time.Now())), ErrInvalidPosition)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ReduceAndClose(t *testing.T) {
	s := NewStore()
	p := testPosition(assetA, pairA, 1, 0, time.Now())
	p.EntryAmount = big.NewInt(10)
	require.NoError(t, s.Add(p))

	got, err := s.Reduce(assetA, big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Remaining.Int64())
	assert.True(t, got.PartialExited)

	_, err = s.Reduce(assetA, big.NewInt(7))
	assert.ErrorIs(t, err, ErrOversell)
	_, err = s.Reduce(assetA, big.NewInt(0))
	assert.ErrorIs(t, err, ErrOversell)

	got, err = s.Reduce(assetA, big.NewInt(6))
	require.NoError(t, err)
	assert.True(t, got.Closed)
	assert.Zero(t, got.Remaining.Sign())
	assert.False(t, s.Has(assetA))

	_, err = s.Close(assetA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CloseZeroesRemaining(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 3, time.Now())))

	got, err := s.Close(assetA)
	require.NoError(t, err)
	assert.True(t, got.Closed)
	assert.Zero(t, got.Remaining.Sign())
	assert.Zero(t, s.Len())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore()
	now := time.Now()
	require.NoError(t, s.Add(testPosition(assetB, pairB, 1, 2, now.Add(time.Second))))
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 1, now)))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, assetA, snap[0].Asset)
	assert.Equal(t, assetB, snap[1].Asset)

	snap[0].Remaining.SetInt64(0)
	got, _ := s.Get(assetA)
	assert.Equal(t, 0, got.Remaining.Cmp(FromBase(1)))
}

func TestStore_ObserveTracksExtremes(t *testing.T) {
	s := NewStore()
	now := time.Now()
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 1, now)))

	_, err := s.Observe(assetA, 2, now)
	require.NoError(t, err)
	got, err := s.Observe(assetA, 0.5, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.HighestPrice)
	assert.Equal(t, 0.5, got.LowestPrice)
	assert.Equal(t, 0.5, got.LastPrice)

	_, err = s.Observe(assetB, 1, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LockIsExclusivePerAsset(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 1, time.Now())))
	require.NoError(t, s.Add(testPosition(assetB, pairB, 1, 1, time.Now())))

	unlockA, err := s.Lock(assetA)
	require.NoError(t, err)

	unlockB, err := s.Lock(assetB)
	require.NoError(t, err)
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock, err := s.Lock(assetA)
		if err == nil {
			unlock()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock entered while the first was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	unlockA()
	<-acquired
}

func TestStore_LockAfterCloseIsNotFound(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(testPosition(assetA, pairA, 1, 1, time.Now())))

	unlock, err := s.Lock(assetA)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Lock(assetA)
		errCh <- err
	}()

	_, err = s.Close(assetA)
	require.NoError(t, err)
	unlock()

	assert.ErrorIs(t, <-errCh, ErrNotFound)
}

func TestStore_ConcurrentAddDuringSnapshot(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			asset := common.BigToAddress(big.NewInt(int64(i)))
			_ = s.Add(models.Position{Asset: asset, EntryPrice: 1, EntryAmount: big.NewInt(1)})
		}(i)
		go func() {
			defer wg.Done()
			for _, p := range s.Snapshot() {
				assert.NotNil(t, p.Remaining)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
