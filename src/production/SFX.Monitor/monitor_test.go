package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/safex/safex.telemetry/src/production/SFX.Config"
	evaluator "gitlab.com/safex/safex.telemetry/src/production/SFX.Evaluator"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	"gitlab.com/safex/safex.telemetry/src/production/SFX.MonitorService/client"
)

var alerts = config.AlertConfig{
	StaleAfter:    60 * time.Second,
	HeartRateLow:  70,
	HeartRateHigh: 130,
	SpO2Low:       95,
	COVoltHigh:    0.6,
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedSource answers with whatever next is set to.
type scriptedSource struct {
	mu   sync.Mutex
	next sfxmodels.LatestResult
	err  error
}

func (s *scriptedSource) set(res sfxmodels.LatestResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next, s.err = res, err
}

func (s *scriptedSource) GetLatest(ctx context.Context) (sfxmodels.LatestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.err
}

func setup() (*Monitor, *scriptedSource, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &scriptedSource{}
	eval := evaluator.New(alerts, evaluator.WithClock(clock.Now))
	return New(src, eval, 5*time.Second, logger.NewNopLogger()), src, clock
}

func found(r sfxmodels.Reading) sfxmodels.LatestResult {
	return sfxmodels.LatestResult{Status: sfxmodels.QueryFound, Reading: &r}
}

func TestMonitorBeforeFirstPollIsOffline(t *testing.T) {
	m, _, _ := setup()
	v := m.Verdict()
	assert.False(t, v.Online)
	assert.Equal(t, sfxmodels.StatusOffline, v.Status)
}

func TestMonitorGoesOfflineWhenDataStops(t *testing.T) {
	m, src, clock := setup()
	ctx := context.Background()

	src.set(found(sfxmodels.Reading{HeartRateBPM: sfxmodels.Float(80), ReceivedAt: clock.Now()}), nil)
	assert.Equal(t, sfxmodels.StatusNominal, m.Poll(ctx).Status)

	// The same reading keeps coming back while the device is silent.
	for i := 0; i < 11; i++ {
		clock.Advance(5 * time.Second)
		assert.True(t, m.Poll(ctx).Online, "still within threshold after %ds", (i+1)*5)
	}
	clock.Advance(6 * time.Second)
	v := m.Poll(ctx)
	assert.False(t, v.Online)
	assert.True(t, v.Has(sfxmodels.AlertDeviceOffline))
}

func TestMonitorUnavailableKeepsLastReading(t *testing.T) {
	m, src, clock := setup()
	ctx := context.Background()

	src.set(found(sfxmodels.Reading{SpO2Percent: sfxmodels.Float(92), ReceivedAt: clock.Now()}), nil)
	require.True(t, m.Poll(ctx).Has(sfxmodels.AlertLowSpO2))

	src.set(sfxmodels.LatestResult{Status: sfxmodels.QueryUnavailable, Error: "503"}, errors.New("503"))
	clock.Advance(10 * time.Second)
	v := m.Poll(ctx)
	assert.True(t, v.Online)
	assert.True(t, v.Has(sfxmodels.AlertLowSpO2))
	snap := m.Snapshot()
	assert.Equal(t, sfxmodels.QueryUnavailable, snap.PollStatus)
	assert.Equal(t, "503", snap.PollError)
	require.NotNil(t, snap.Reading)

	clock.Advance(60 * time.Second)
	v = m.Poll(ctx)
	assert.False(t, v.Online, "an outage ages the last reading out")
	assert.Equal(t, []sfxmodels.Alert{{Kind: sfxmodels.AlertDeviceOffline, Message: v.Alerts[0].Message}}, v.Alerts)
}

func TestMonitorNotFoundClearsReading(t *testing.T) {
	m, src, clock := setup()
	ctx := context.Background()

	src.set(found(sfxmodels.Reading{ReceivedAt: clock.Now()}), nil)
	require.True(t, m.Poll(ctx).Online)

	src.set(sfxmodels.LatestResult{Status: sfxmodels.QueryNotFound}, nil)
	v := m.Poll(ctx)
	assert.False(t, v.Online)
	assert.Nil(t, m.Snapshot().Reading)
}

func TestMonitorErrorWithoutStatusIsUnavailable(t *testing.T) {
	m, src, _ := setup()
	src.set(sfxmodels.LatestResult{}, errors.New("dial tcp: connection refused"))

	m.Poll(context.Background())
	assert.Equal(t, sfxmodels.QueryUnavailable, m.Snapshot().PollStatus)
}

func TestMonitorRunPollsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"heart_rate_bpm":140,"received_at":"` + time.Now().UTC().Format(time.RFC3339Nano) + `"}`))
	}))
	defer srv.Close()

	eval := evaluator.New(alerts)
	m := New(client.NewAPIClient(srv.URL, time.Second), eval, 10*time.Millisecond, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	v := m.Verdict()
	assert.True(t, v.Online)
	assert.True(t, v.Has(sfxmodels.AlertCriticalHeartRate))
}
