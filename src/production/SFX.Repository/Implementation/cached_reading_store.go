package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

const (
	defaultInvalidateRetry = time.Second
	invalidateTimeout      = 2 * time.Second
)

// CachedReadingStore keeps the newest reading in Redis in front of a durable
// store. Only Append writes the key, after the durable write has succeeded.
// Readers never fill it, so a slow reader cannot overwrite a newer value.
// Any Redis problem falls through to the durable store.
//
// If an append can neither refresh nor delete the key, the cached value is
// older than the durable store. Until a later write fixes that, Latest skips
// the cache here and a background loop keeps retrying the delete so other
// processes reading the same key stop seeing the old value once Redis is back.
type CachedReadingStore struct {
	primary interfaces.ReadingStore
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	logger  *logger.Logger

	stale         atomic.Bool
	repairing     atomic.Bool
	retryInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

func NewCachedReadingStore(primary interfaces.ReadingStore, rdb *redis.Client, key string, ttl time.Duration, log *logger.Logger) *CachedReadingStore {
	return &CachedReadingStore{
		primary:       primary,
		rdb:           rdb,
		key:           key,
		ttl:           ttl,
		logger:        log.WithComponent("reading-cache"),
		retryInterval: defaultInvalidateRetry,
		done:          make(chan struct{}),
	}
}

func (s *CachedReadingStore) Append(ctx context.Context, reading sfxmodels.Reading) (sfxmodels.Reading, error) {
	stored, err := s.primary.Append(ctx, reading)
	if err != nil {
		return stored, err
	}

	data, err := json.Marshal(stored)
	if err == nil {
		err = s.rdb.Set(ctx, s.key, data, s.ttl).Err()
	}
	if err == nil {
		s.stale.Store(false)
		return stored, nil
	}

	// A stale key would hide this reading from readers, so drop it.
	s.logger.Logger.Warn().Err(err).Str("key", s.key).Msg("Failed to cache latest reading, invalidating")
	if delErr := s.rdb.Del(ctx, s.key).Err(); delErr != nil {
		s.logger.Logger.Error().Err(delErr).Str("key", s.key).Msg("Failed to invalidate latest reading cache, bypassing it until repaired")
		s.stale.Store(true)
		s.startRepair()
	}
	return stored, nil
}

func (s *CachedReadingStore) Latest(ctx context.Context) (*sfxmodels.Reading, error) {
	if s.stale.Load() {
		return s.primary.Latest(ctx)
	}

	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == nil {
		var reading sfxmodels.Reading
		jsonErr := json.Unmarshal(data, &reading)
		if jsonErr == nil {
			return &reading, nil
		}
		s.logger.Logger.Warn().Err(jsonErr).Msg("Discarding undecodable cached reading")
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Logger.Debug().Err(err).Msg("Cache read failed, using primary store")
	}

	return s.primary.Latest(ctx)
}

// startRepair runs at most one invalidation loop at a time.
func (s *CachedReadingStore) startRepair() {
	if !s.repairing.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.repair()
		s.repairing.Store(false)

		// The key may have gone stale again while the loop was exiting.
		select {
		case <-s.done:
		default:
			if s.stale.Load() {
				s.startRepair()
			}
		}
	}()
}

func (s *CachedReadingStore) repair() {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		// A successful Set since the failure already replaced the value.
		if !s.stale.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		err := s.rdb.Del(ctx, s.key).Err()
		cancel()
		if err != nil {
			s.logger.Logger.Debug().Err(err).Msg("Cache invalidation retry failed")
			continue
		}

		s.stale.Store(false)
		s.logger.Logger.Info().Str("key", s.key).Msg("Stale latest reading removed from cache")
		return
	}
}

// Ping checks the durable store only; the cache is optional.
func (s *CachedReadingStore) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

func (s *CachedReadingStore) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()

	if err := s.rdb.Close(); err != nil {
		s.logger.Logger.Warn().Err(err).Msg("Failed to close Redis client")
	}
	return s.primary.Close(ctx)
}
