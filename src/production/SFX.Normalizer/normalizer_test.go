package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFullReading(t *testing.T) {
	payload := []byte(`{
		"device_id": "device-01",
		"heart_rate_bpm": 82,
		"spo2_percent": 97.5,
		"temperature_C": 31.2,
		"humidity_percent": 48,
		"mq7_volt": 0.21,
		"mq6_volt": 0.35
	}`)

	r, err := New(false).Normalize(payload)
	require.NoError(t, err)

	require.NotNil(t, r.DeviceID)
	assert.Equal(t, "device-01", *r.DeviceID)
	assert.Equal(t, 82.0, *r.HeartRateBPM)
	assert.Equal(t, 97.5, *r.SpO2Percent)
	assert.Equal(t, 31.2, *r.TemperatureC)
	assert.Equal(t, 48.0, *r.HumidityPercent)
	assert.Equal(t, 0.21, *r.MQ7Volt)
	assert.Equal(t, 0.35, *r.MQ6Volt)
	assert.True(t, r.ReceivedAt.IsZero(), "receipt time belongs to the store")
}

func TestNormalizeAbsentIsNotZero(t *testing.T) {
	r, err := New(false).Normalize([]byte(`{"heart_rate_bpm": 0, "spo2_percent": null}`))
	require.NoError(t, err)

	require.NotNil(t, r.HeartRateBPM)
	assert.Equal(t, 0.0, *r.HeartRateBPM)
	assert.Nil(t, r.SpO2Percent)
	assert.Nil(t, r.MQ7Volt)
	assert.Nil(t, r.DeviceID)
}

func TestNormalizeEmptyObjectIsAccepted(t *testing.T) {
	r, err := New(false).Normalize([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, r.HeartRateBPM)
}

func TestNormalizeMalformed(t *testing.T) {
	payloads := map[string]string{
		"not json":          `heart_rate=80`,
		"truncated":         `{"heart_rate_bpm": 8`,
		"empty":             ``,
		"null":              `null`,
		"array":             `[{"heart_rate_bpm": 80}]`,
		"scalar":            `42`,
		"string":            `"heart_rate_bpm"`,
	}
	n := New(true)
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestNormalizeDropsWrongTypedFields(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		dropped []string
	}{
		{"string number", `{"heart_rate_bpm": "80", "spo2_percent": 97}`, []string{"heart_rate_bpm"}},
		{"bool number", `{"mq7_volt": true, "spo2_percent": 97}`, []string{"mq7_volt"}},
		{"object for number", `{"temperature_C": {"v": 30}, "spo2_percent": 97}`, []string{"temperature_C"}},
		{"bool device id", `{"device_id": true, "spo2_percent": 97}`, []string{"device_id"}},
		{"several", `{"device_id": {"id": 1}, "mq6_volt": "x", "spo2_percent": 97}`, []string{"device_id", "mq6_volt"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, dropped, err := New(true).NormalizeFields([]byte(tc.payload))
			require.NoError(t, err, "a bad field does not reject the reading")
			assert.Equal(t, tc.dropped, dropped)

			require.NotNil(t, r.SpO2Percent)
			assert.Equal(t, 97.0, *r.SpO2Percent)
			assert.Nil(t, r.HeartRateBPM)
			assert.Nil(t, r.MQ7Volt)
			assert.Nil(t, r.MQ6Volt)
			assert.Nil(t, r.TemperatureC)
			assert.Nil(t, r.DeviceID)
			assert.Nil(t, r.Extra, "dropped fields are not carried as extras")
		})
	}
}

func TestNormalizeReportsNothingForCleanPayload(t *testing.T) {
	r, dropped, err := New(false).NormalizeFields([]byte(`{"heart_rate_bpm": 75, "spo2_percent": null}`))
	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Equal(t, 75.0, *r.HeartRateBPM)
}

func TestNormalizeNumericDeviceID(t *testing.T) {
	r, err := New(false).Normalize([]byte(`{"device_id": 7}`))
	require.NoError(t, err)
	require.NotNil(t, r.DeviceID)
	assert.Equal(t, "7", *r.DeviceID)
}

func TestNormalizeUnknownFields(t *testing.T) {
	payload := []byte(`{"heart_rate_bpm": 90, "battery": 88, "fw": "1.4.2"}`)

	dropped, err := New(false).Normalize(payload)
	require.NoError(t, err)
	assert.Nil(t, dropped.Extra)

	kept, err := New(true).Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"battery": 88.0, "fw": "1.4.2"}, kept.Extra)
	assert.Equal(t, 90.0, *kept.HeartRateBPM)
}

func TestNormalizeIsPure(t *testing.T) {
	n := New(true)
	payload := []byte(`{"heart_rate_bpm": 65, "x": [1,2]}`)

	a, errA := n.Normalize(payload)
	b, errB := n.Normalize(payload)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}
