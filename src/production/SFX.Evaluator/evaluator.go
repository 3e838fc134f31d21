package evaluator

import (
	"fmt"
	"time"

	config "gitlab.com/safex/safex.telemetry/src/production/SFX.Config"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// Evaluator derives liveness and alerts from the latest reading. It keeps no
// state between calls; the same reading at the same instant always yields
// the same verdict.
type Evaluator struct {
	cfg config.AlertConfig
	now func() time.Time
}

type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

func New(cfg config.AlertConfig, opts ...Option) *Evaluator {
	e := &Evaluator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate judges reading against the injected clock. A nil reading means
// nothing was ever received.
func (e *Evaluator) Evaluate(reading *sfxmodels.Reading) sfxmodels.Verdict {
	return e.EvaluateAt(reading, e.now())
}

func (e *Evaluator) EvaluateAt(reading *sfxmodels.Reading, now time.Time) sfxmodels.Verdict {
	v := sfxmodels.Verdict{EvaluatedAt: now.UTC()}

	if reading != nil {
		seen := reading.ReceivedAt
		v.LastSeen = &seen
		v.Staleness = now.Sub(seen)
		if reading.DeviceID != nil {
			v.DeviceID = *reading.DeviceID
		}
		v.Online = v.Staleness <= e.cfg.StaleAfter
	}

	if !v.Online {
		// Field values of a stale reading say nothing about the wearer now.
		msg := "No data ever received"
		if reading != nil {
			msg = fmt.Sprintf("No data for %s", v.Staleness.Truncate(time.Second))
		}
		v.Status = sfxmodels.StatusOffline
		v.Alerts = []sfxmodels.Alert{{Kind: sfxmodels.AlertDeviceOffline, Message: msg}}
		return v
	}

	v.Alerts = e.thresholdAlerts(reading)
	if len(v.Alerts) == 0 {
		v.Status = sfxmodels.StatusNominal
		v.Alerts = []sfxmodels.Alert{}
	} else {
		v.Status = sfxmodels.StatusAlert
	}
	return v
}

func (e *Evaluator) thresholdAlerts(r *sfxmodels.Reading) []sfxmodels.Alert {
	var alerts []sfxmodels.Alert

	if hr := r.HeartRateBPM; hr != nil {
		switch {
		case *hr < e.cfg.HeartRateLow:
			alerts = append(alerts, sfxmodels.Alert{
				Kind:    sfxmodels.AlertCriticalHeartRate,
				Message: fmt.Sprintf("Critical heart rate: %.0f bpm (below %.0f)", *hr, e.cfg.HeartRateLow),
				Value:   sfxmodels.Float(*hr),
				Trend:   sfxmodels.TrendFalling,
			})
		case *hr > e.cfg.HeartRateHigh:
			alerts = append(alerts, sfxmodels.Alert{
				Kind:    sfxmodels.AlertCriticalHeartRate,
				Message: fmt.Sprintf("Critical heart rate: %.0f bpm (above %.0f)", *hr, e.cfg.HeartRateHigh),
				Value:   sfxmodels.Float(*hr),
				Trend:   sfxmodels.TrendRising,
			})
		}
	}

	// A zero SpO2 is a sensor without a finger on it, not a reading.
	if spo2 := r.SpO2Percent; spo2 != nil && *spo2 > 0 && *spo2 < e.cfg.SpO2Low {
		alerts = append(alerts, sfxmodels.Alert{
			Kind:    sfxmodels.AlertLowSpO2,
			Message: fmt.Sprintf("Low SpO2 warning: %.1f%%", *spo2),
			Value:   sfxmodels.Float(*spo2),
			Trend:   sfxmodels.TrendFalling,
		})
	}

	if co := r.MQ7Volt; co != nil && *co > e.cfg.COVoltHigh {
		alerts = append(alerts, sfxmodels.Alert{
			Kind:    sfxmodels.AlertHighCO,
			Message: fmt.Sprintf("High CO detected: %.2f V", *co),
			Value:   sfxmodels.Float(*co),
			Trend:   sfxmodels.TrendRising,
		})
	}

	return alerts
}
