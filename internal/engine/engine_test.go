package engine

import (
	"context"
	"testing"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_ConsumeAcquiresDiscoveries(t *testing.T) {
	cfg := config.Default()
	cfg.Snipe = testSnipeConfig()
	chain := newFakeChain()
	chain.setPrice(pairA, assetA, 0.001, 10)
	chain.buyReceived = FromBase(45)

	e := New(cfg, chain, logger.Discard())
	e.acquirer.retryBackoff = time.Millisecond

	discoveries := make(chan models.Discovery, 2)
	discoveries <- models.Discovery{Asset: assetA, Pair: pairA}
	discoveries <- models.Discovery{Asset: assetA, Pair: pairA}
	close(discoveries)

	require.NoError(t, e.Consume(context.Background(), discoveries))
	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, assetA, positions[0].Asset)
	assert.Equal(t, 1, chain.buyCount())
	assert.Equal(t, 1, e.Summary().HeldCount)
}

func TestEngine_TrackAndForceSell(t *testing.T) {
	chain := newFakeChain()
	chain.setPrice(pairA, assetA, 2, 10)
	e := New(config.Default(), chain, logger.Discard())

	p := testPosition(assetA, pairA, 1, 1, time.Now())
	require.NoError(t, e.Track(p))
	chain.setBalance(assetA, p.EntryAmount)

	rec, err := e.ForceSell(context.Background(), assetA)
	require.NoError(t, err)
	assert.Equal(t, models.ExitReasonManualOverride, rec.Reason)
	assert.Empty(t, e.Positions())
	require.Len(t, e.History(), 1)
	assert.Equal(t, 1, e.Summary().TotalSells)
}

func TestEngine_ShutdownWithdrawsOnce(t *testing.T) {
	chain := newFakeChain()
	e := New(config.Default(), chain, logger.Discard())

	e.Shutdown(context.Background())
	e.Shutdown(context.Background())
	e.HandleFatal(context.Background(), ErrTransient)

	assert.Equal(t, 1, chain.withdraws)
	select {
	case <-e.emergency.Done():
	default:
		t.Fatal("вывод не выполнен")
	}
}
