package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

// unreachableRedis points at a port nothing listens on.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

const testCacheKey = "sfx:test:latest"

func newMiniredisCache(t *testing.T, primary interfaces.ReadingStore) (*CachedReadingStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewCachedReadingStore(primary, rdb, testCacheKey, time.Minute, logger.NewNopLogger())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, mr
}

func cachedReading(t *testing.T, mr *miniredis.Miniredis) sfxmodels.Reading {
	t.Helper()

	raw, err := mr.Get(testCacheKey)
	require.NoError(t, err)
	var r sfxmodels.Reading
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, r sfxmodels.Reading) (sfxmodels.Reading, error) {
	return sfxmodels.Reading{}, unavailable("insert reading", errors.New("connection refused"))
}

func (failingStore) Latest(ctx context.Context) (*sfxmodels.Reading, error) {
	return nil, unavailable("find latest", errors.New("connection refused"))
}

func (failingStore) Ping(ctx context.Context) error { return errors.New("down") }

func (failingStore) Close(ctx context.Context) error { return nil }

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryReadingStore()
	s := NewCachedReadingStore(primary, unreachableRedis(), testCacheKey, time.Minute, logger.NewNopLogger())
	defer s.Close(ctx)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	stored, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(88)})
	require.NoError(t, err, "cache failures must not fail the durable append")
	assert.Equal(t, 1, primary.Count())

	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, stored, *latest)
}

func TestCachedStorePropagatesPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	s := NewCachedReadingStore(failingStore{}, unreachableRedis(), testCacheKey, time.Minute, logger.NewNopLogger())
	defer s.Close(ctx)

	_, err := s.Append(ctx, sfxmodels.Reading{})
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)

	_, err = s.Latest(ctx)
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)

	assert.Error(t, s.Ping(ctx))
}

func TestCachedStoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisCache(t, NewMemoryReadingStore())

	stored, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(80)})
	require.NoError(t, err)

	assert.Equal(t, stored, cachedReading(t, mr))
	assert.Equal(t, time.Minute, mr.TTL(testCacheKey))
}

func TestCachedStoreServesHitsFromRedis(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisCache(t, NewMemoryReadingStore())

	_, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(80)})
	require.NoError(t, err)

	// Replace the value behind the store's back to see where Latest reads.
	planted, err := json.Marshal(sfxmodels.Reading{ID: "from-cache", HeartRateBPM: sfxmodels.Float(99)})
	require.NoError(t, err)
	require.NoError(t, mr.Set(testCacheKey, string(planted)))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "from-cache", latest.ID)
	assert.Equal(t, 99.0, *latest.HeartRateBPM)
}

func TestCachedStoreMissAndBadValueUsePrimary(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryReadingStore()
	s, mr := newMiniredisCache(t, primary)

	stored, err := primary.Append(ctx, sfxmodels.Reading{SpO2Percent: sfxmodels.Float(96)})
	require.NoError(t, err)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, *latest, "a miss reads the primary")
	assert.False(t, mr.Exists(testCacheKey), "readers never fill the cache")

	require.NoError(t, mr.Set(testCacheKey, "{not json"))
	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, *latest)
}

func TestCachedStoreBypassesValueItCouldNotInvalidate(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisCache(t, NewMemoryReadingStore())
	s.retryInterval = 10 * time.Millisecond

	first, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(70)})
	require.NoError(t, err)

	// Both SET and DEL fail, so Redis keeps the older reading.
	mr.SetError("ERR injected failure")
	second, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(140)})
	require.NoError(t, err, "the durable write succeeded")

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, *latest)

	mr.SetError("")
	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, *latest, "the older cached reading is never served")
	assert.NotEqual(t, first.ID, latest.ID)

	require.Eventually(t, func() bool { return !mr.Exists(testCacheKey) }, 2*time.Second, 5*time.Millisecond,
		"the stale key is removed once Redis is back")

	third, err := s.Append(ctx, sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(75)})
	require.NoError(t, err)
	assert.Equal(t, third, cachedReading(t, mr))

	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, third, *latest)
}
