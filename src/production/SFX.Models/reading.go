package sfxmodels

import (
	"time"
)

// Reading is one normalized telemetry sample from the wearable.
// Sensor fields are pointers: nil means the device did not send the field,
// which is not the same as a real zero.
type Reading struct {
	ID              string                 `bson:"-" json:"id,omitempty"`
	DeviceID        *string                `bson:"device_id,omitempty" json:"device_id,omitempty"`
	HeartRateBPM    *float64               `bson:"heart_rate_bpm,omitempty" json:"heart_rate_bpm,omitempty"`
	SpO2Percent     *float64               `bson:"spo2_percent,omitempty" json:"spo2_percent,omitempty"`
	TemperatureC    *float64               `bson:"temperature_C,omitempty" json:"temperature_C,omitempty"`
	HumidityPercent *float64               `bson:"humidity_percent,omitempty" json:"humidity_percent,omitempty"`
	MQ7Volt         *float64               `bson:"mq7_volt,omitempty" json:"mq7_volt,omitempty"`
	MQ6Volt         *float64               `bson:"mq6_volt,omitempty" json:"mq6_volt,omitempty"`
	Extra           map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
	ReceivedAt      time.Time              `bson:"received_at" json:"received_at"`
}

// Float returns a pointer to v, for building readings by hand.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
