package implementation

import (
	"fmt"
	"sync"
	"time"

	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now as the source of receipt timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// receiptClock hands out received_at stamps that never go backwards, even if
// the wall clock does. Stamps are millisecond precision so they survive a
// BSON round trip unchanged.
type receiptClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newReceiptClock(now func() time.Time) *receiptClock {
	return &receiptClock{now: now}
}

func (c *receiptClock) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// seed moves the floor up to t, used after reading the newest stored stamp.
func (c *receiptClock) seed(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, err)
}

// cloneReading copies the pointer fields so callers cannot mutate stored data.
func cloneReading(r sfxmodels.Reading) sfxmodels.Reading {
	out := r
	out.DeviceID = cloneString(r.DeviceID)
	out.HeartRateBPM = cloneFloat(r.HeartRateBPM)
	out.SpO2Percent = cloneFloat(r.SpO2Percent)
	out.TemperatureC = cloneFloat(r.TemperatureC)
	out.HumidityPercent = cloneFloat(r.HumidityPercent)
	out.MQ7Volt = cloneFloat(r.MQ7Volt)
	out.MQ6Volt = cloneFloat(r.MQ6Volt)
	if r.Extra != nil {
		out.Extra = make(map[string]interface{}, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
