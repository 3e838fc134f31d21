package implementation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// MemoryReadingStore keeps readings in process memory. Used for local runs
// (STORE_BACKEND=memory) and tests.
type MemoryReadingStore struct {
	mu       sync.RWMutex
	clock    *receiptClock
	readings []sfxmodels.Reading
}

func NewMemoryReadingStore(opts ...Option) *MemoryReadingStore {
	o := buildOptions(opts)
	return &MemoryReadingStore{clock: newReceiptClock(o.now)}
}

func (s *MemoryReadingStore) Append(ctx context.Context, reading sfxmodels.Reading) (sfxmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sfxmodels.Reading{}, unavailable("append", err)
	}

	stored := cloneReading(reading)
	stored.ID = uuid.NewString()

	s.mu.Lock()
	stored.ReceivedAt = s.clock.stamp()
	s.readings = append(s.readings, stored)
	s.mu.Unlock()

	return cloneReading(stored), nil
}

// Latest returns the last appended reading. Stamps never decrease, so the
// last element is also the newest by ReceivedAt.
func (s *MemoryReadingStore) Latest(ctx context.Context) (*sfxmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("latest", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return nil, nil
	}
	latest := cloneReading(s.readings[len(s.readings)-1])
	return &latest, nil
}

// Count returns the number of stored readings.
func (s *MemoryReadingStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

func (s *MemoryReadingStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryReadingStore) Close(ctx context.Context) error {
	return nil
}
