package policy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryPolicyStore struct {
	active *LateFeePolicy
	err    error
	reads  int
}

func (s *memoryPolicyStore) GetActive(ctx context.Context) (*LateFeePolicy, error) {
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	return s.active, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProviderCachesActivePolicy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &memoryPolicyStore{active: &LateFeePolicy{
		ID: 1, Name: "standard", DailyRate: 50, GraceDays: 2, MaxLateFee: 500, IsActive: true,
	}}
	provider := NewProvider(store, client, time.Minute, newTestLogger())

	pol, err := provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50.0, pol.DailyRate)
	require.Equal(t, 2, pol.GraceDays)
	require.Equal(t, 500.0, pol.MaxLateFee)
	require.Equal(t, 1, store.reads)

	// Second read is served from the cache.
	_, err = provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.reads)
}

func TestProviderCacheExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &memoryPolicyStore{active: &LateFeePolicy{ID: 1, DailyRate: 50}}
	provider := NewProvider(store, client, time.Minute, newTestLogger())

	_, err := provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.reads)

	mr.FastForward(2 * time.Minute)

	_, err = provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, store.reads)
}

func TestProviderInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &memoryPolicyStore{active: &LateFeePolicy{ID: 1, DailyRate: 50}}
	provider := NewProvider(store, client, time.Minute, newTestLogger())

	_, err := provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)

	store.active = &LateFeePolicy{ID: 2, DailyRate: 75, IsActive: true}
	provider.Invalidate(context.Background())

	pol, err := provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 75.0, pol.DailyRate)
	require.Equal(t, 2, store.reads)
}

func TestProviderPropagatesStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &memoryPolicyStore{err: ErrPolicyNotFound}
	provider := NewProvider(store, client, time.Minute, newTestLogger())

	_, err := provider.ActiveAccrualPolicy(context.Background())
	require.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestProviderWithoutRedis(t *testing.T) {
	store := &memoryPolicyStore{active: &LateFeePolicy{ID: 1, DailyRate: 50}}
	provider := NewProvider(store, nil, time.Minute, newTestLogger())

	_, err := provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	_, err = provider.ActiveAccrualPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, store.reads)
}
