package usecase

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/infrastructure/storage"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func newPriceStore(t *testing.T) *storage.PriceStore {
	t.Helper()
	s, err := storage.NewPriceStore(filepath.Join(t.TempDir(), "price_history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newWhaleStore(t *testing.T) *storage.WhaleStore {
	t.Helper()
	s, err := storage.NewWhaleStore(filepath.Join(t.TempDir(), "whales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPredictionStore(t *testing.T) *storage.PredictionStore {
	t.Helper()
	s, err := storage.NewPredictionStore(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}
