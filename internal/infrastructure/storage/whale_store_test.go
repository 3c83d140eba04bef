package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
)

func TestWhaleStore_InsertIsIdempotent(t *testing.T) {
	s, err := NewWhaleStore(filepath.Join(t.TempDir(), "whales.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	w := domain.WhaleTrade{
		TradeID:   "t-1",
		Timestamp: time.Now().UTC(),
		Price:     2.5,
		Quantity:  4000,
		USDValue:  10000,
		Direction: domain.DirectionBuy,
	}

	inserted, err := s.InsertWhale(ctx, w)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertWhale(ctx, w)
	require.NoError(t, err)
	assert.False(t, inserted)

	whales, err := s.RecentWhales(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, whales, 1)
	assert.Equal(t, "t-1", whales[0].TradeID)
	assert.Equal(t, domain.DirectionBuy, whales[0].Direction)
}

func TestWhaleStore_Totals(t *testing.T) {
	s, err := NewWhaleStore(filepath.Join(t.TempDir(), "whales.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	trades := []domain.WhaleTrade{
		{TradeID: "a", Timestamp: now, USDValue: 6000, Direction: domain.DirectionBuy},
		{TradeID: "b", Timestamp: now, USDValue: 9000, Direction: domain.DirectionBuy},
		{TradeID: "c", Timestamp: now, USDValue: 7000, Direction: domain.DirectionSell, IsBuyerMaker: true},
		{TradeID: "old", Timestamp: now.Add(-3 * time.Hour), USDValue: 50000, Direction: domain.DirectionSell},
	}
	for _, w := range trades {
		_, err := s.InsertWhale(ctx, w)
		require.NoError(t, err)
	}

	sum, err := s.WhaleTotalsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.BuyCount)
	assert.Equal(t, 1, sum.SellCount)
	assert.InDelta(t, 15000, sum.BuyVolumeUSD, 1e-9)
	assert.InDelta(t, 7000, sum.SellVolumeUSD, 1e-9)
}
