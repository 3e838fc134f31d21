package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

func TestSetVerdict(t *testing.T) {
	SetVerdict(sfxmodels.Verdict{
		Online: true,
		Status: sfxmodels.StatusAlert,
		Alerts: []sfxmodels.Alert{{Kind: sfxmodels.AlertLowSpO2}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(MonitorOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(MonitorAlertActive.WithLabelValues(string(sfxmodels.AlertLowSpO2))))
	assert.Equal(t, 0.0, testutil.ToFloat64(MonitorAlertActive.WithLabelValues(string(sfxmodels.AlertHighCO))))

	SetVerdict(sfxmodels.Verdict{
		Status: sfxmodels.StatusOffline,
		Alerts: []sfxmodels.Alert{{Kind: sfxmodels.AlertDeviceOffline}},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(MonitorOnline))
	assert.Equal(t, 0.0, testutil.ToFloat64(MonitorAlertActive.WithLabelValues(string(sfxmodels.AlertLowSpO2))))
	assert.Equal(t, 1.0, testutil.ToFloat64(MonitorAlertActive.WithLabelValues(string(sfxmodels.AlertDeviceOffline))))
}
