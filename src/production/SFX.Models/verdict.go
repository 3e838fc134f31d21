package sfxmodels

import "time"

// DeviceStatus is the one-word synthesis the evaluator always produces.
type DeviceStatus string

const (
	StatusOffline DeviceStatus = "offline"
	StatusNominal DeviceStatus = "nominal"
	StatusAlert   DeviceStatus = "alert"
)

// AlertKind names a derived condition.
type AlertKind string

const (
	AlertDeviceOffline     AlertKind = "device_offline"
	AlertCriticalHeartRate AlertKind = "critical_heart_rate"
	AlertLowSpO2           AlertKind = "low_spo2"
	AlertHighCO            AlertKind = "high_co"
)

// AllAlertKinds lists every kind, in display order.
var AllAlertKinds = []AlertKind{
	AlertDeviceOffline,
	AlertCriticalHeartRate,
	AlertLowSpO2,
	AlertHighCO,
}

// Trend is a presentation hint for which side of a band was breached.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
)

type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	Value   *float64  `json:"value,omitempty"`
	Trend   Trend     `json:"trend,omitempty"`
}

// Verdict is what the evaluator derives from the latest reading at one instant.
type Verdict struct {
	Online      bool          `json:"online"`
	Status      DeviceStatus  `json:"status"`
	Alerts      []Alert       `json:"alerts"`
	DeviceID    string        `json:"device_id,omitempty"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"`
	Staleness   time.Duration `json:"staleness_ns,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Has reports whether an alert of the given kind is active.
func (v Verdict) Has(kind AlertKind) bool {
	for _, a := range v.Alerts {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
