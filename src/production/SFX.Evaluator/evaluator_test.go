package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/safex/safex.telemetry/src/production/SFX.Config"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

var (
	now        = time.Date(2025, 6, 1, 9, 42, 0, 0, time.UTC)
	defaultCfg = config.AlertConfig{
		StaleAfter:    60 * time.Second,
		HeartRateLow:  70,
		HeartRateHigh: 130,
		SpO2Low:       95,
		COVoltHigh:    0.6,
	}
)

func newEvaluator() *Evaluator {
	return New(defaultCfg, WithClock(func() time.Time { return now }))
}

// fresh returns a healthy reading received age ago.
func fresh(age time.Duration) *sfxmodels.Reading {
	return &sfxmodels.Reading{
		DeviceID:     sfxmodels.String("device-01"),
		HeartRateBPM: sfxmodels.Float(80),
		SpO2Percent:  sfxmodels.Float(98),
		MQ7Volt:      sfxmodels.Float(0.2),
		ReceivedAt:   now.Add(-age),
	}
}

func kinds(v sfxmodels.Verdict) []sfxmodels.AlertKind {
	out := make([]sfxmodels.AlertKind, 0, len(v.Alerts))
	for _, a := range v.Alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestStalenessBoundary(t *testing.T) {
	e := newEvaluator()

	assert.False(t, e.Evaluate(fresh(61*time.Second)).Online)
	assert.True(t, e.Evaluate(fresh(59*time.Second)).Online)
	assert.True(t, e.Evaluate(fresh(60*time.Second)).Online, "exactly the threshold is still online")
}

func TestNominal(t *testing.T) {
	v := newEvaluator().Evaluate(fresh(5 * time.Second))

	assert.True(t, v.Online)
	assert.Equal(t, sfxmodels.StatusNominal, v.Status)
	assert.Empty(t, v.Alerts)
	assert.NotNil(t, v.Alerts)
	assert.Equal(t, "device-01", v.DeviceID)
	require.NotNil(t, v.LastSeen)
	assert.Equal(t, now.Add(-5*time.Second), *v.LastSeen)
	assert.Equal(t, 5*time.Second, v.Staleness)
}

func TestNoReadingEverIsOffline(t *testing.T) {
	v := newEvaluator().Evaluate(nil)

	assert.False(t, v.Online)
	assert.Equal(t, sfxmodels.StatusOffline, v.Status)
	assert.Equal(t, []sfxmodels.AlertKind{sfxmodels.AlertDeviceOffline}, kinds(v))
	assert.Nil(t, v.LastSeen)
}

func TestOfflineSuppressesThresholdAlerts(t *testing.T) {
	r := fresh(5 * time.Minute)
	r.HeartRateBPM = sfxmodels.Float(40)
	r.SpO2Percent = sfxmodels.Float(80)
	r.MQ7Volt = sfxmodels.Float(3.1)

	v := newEvaluator().Evaluate(r)

	assert.Equal(t, sfxmodels.StatusOffline, v.Status)
	assert.Equal(t, []sfxmodels.AlertKind{sfxmodels.AlertDeviceOffline}, kinds(v))
}

func TestHeartRate(t *testing.T) {
	tests := []struct {
		name  string
		hr    float64
		alert bool
		trend sfxmodels.Trend
	}{
		{"low", 65, true, sfxmodels.TrendFalling},
		{"normal", 100, false, ""},
		{"lower bound inclusive", 70, false, ""},
		{"upper bound inclusive", 130, false, ""},
		{"high", 131, true, sfxmodels.TrendRising},
		{"zero", 0, true, sfxmodels.TrendFalling},
	}
	e := newEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fresh(time.Second)
			r.HeartRateBPM = sfxmodels.Float(tt.hr)
			v := e.Evaluate(r)

			assert.Equal(t, tt.alert, v.Has(sfxmodels.AlertCriticalHeartRate))
			if tt.alert {
				assert.Equal(t, sfxmodels.StatusAlert, v.Status)
				assert.Equal(t, tt.trend, v.Alerts[0].Trend)
				assert.Equal(t, tt.hr, *v.Alerts[0].Value)
			}
		})
	}
}

func TestSpO2(t *testing.T) {
	tests := []struct {
		name  string
		spo2  float64
		alert bool
	}{
		{"zero means no sensor", 0, false},
		{"low", 93, true},
		{"threshold", 95, false},
		{"normal", 98, false},
		{"barely positive", 0.5, true},
	}
	e := newEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fresh(time.Second)
			r.SpO2Percent = sfxmodels.Float(tt.spo2)
			assert.Equal(t, tt.alert, e.Evaluate(r).Has(sfxmodels.AlertLowSpO2))
		})
	}
}

func TestCarbonMonoxide(t *testing.T) {
	e := newEvaluator()

	r := fresh(time.Second)
	r.MQ7Volt = sfxmodels.Float(0.61)
	assert.True(t, e.Evaluate(r).Has(sfxmodels.AlertHighCO))

	r.MQ7Volt = sfxmodels.Float(0.60)
	assert.False(t, e.Evaluate(r).Has(sfxmodels.AlertHighCO))
}

func TestAbsentFieldsRaiseNothing(t *testing.T) {
	r := &sfxmodels.Reading{ReceivedAt: now.Add(-time.Second)}

	v := newEvaluator().Evaluate(r)
	assert.True(t, v.Online)
	assert.Equal(t, sfxmodels.StatusNominal, v.Status)
}

func TestAlertsAreIndependent(t *testing.T) {
	r := fresh(time.Second)
	r.HeartRateBPM = sfxmodels.Float(150)
	r.SpO2Percent = sfxmodels.Float(90)
	r.MQ7Volt = sfxmodels.Float(1.2)

	v := newEvaluator().Evaluate(r)

	assert.Equal(t, sfxmodels.StatusAlert, v.Status)
	assert.ElementsMatch(t, []sfxmodels.AlertKind{
		sfxmodels.AlertCriticalHeartRate,
		sfxmodels.AlertLowSpO2,
		sfxmodels.AlertHighCO,
	}, kinds(v))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	e := newEvaluator()
	r := fresh(10 * time.Second)
	r.SpO2Percent = sfxmodels.Float(91)

	assert.Equal(t, e.Evaluate(r), e.Evaluate(r))
}

func TestCustomThresholds(t *testing.T) {
	cfg := defaultCfg
	cfg.StaleAfter = 10 * time.Second
	cfg.HeartRateHigh = 100
	e := New(cfg, WithClock(func() time.Time { return now }))

	r := fresh(5 * time.Second)
	r.HeartRateBPM = sfxmodels.Float(110)
	assert.True(t, e.Evaluate(r).Has(sfxmodels.AlertCriticalHeartRate))
	assert.False(t, e.Evaluate(fresh(11*time.Second)).Online)
}
