package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// Reasons used with ReadingsRejected.
const (
	RejectMalformed = "malformed_payload"
	RejectStore     = "store_unavailable"
)

// Subscriber states reported by SubscriberState.
const (
	SubscriberDisconnected = 0
	SubscriberConnecting   = 1
	SubscriberSubscribed   = 2
)

var ReadingsReceived = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sfx_readings_received_total",
		Help: "MQTT messages delivered to the ingestor",
	},
)

var ReadingsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sfx_readings_rejected_total",
		Help: "Messages that were not persisted, by reason",
	},
	[]string{"reason"},
)

var ReadingsStored = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sfx_readings_stored_total",
		Help: "Readings appended to the store",
	},
)

var FieldsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sfx_fields_dropped_total",
		Help: "Known fields dropped from a reading because of a wrong JSON type",
	},
	[]string{"field"},
)

var StoreAppendFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sfx_store_append_failures_total",
		Help: "Store appends that returned an error",
	},
)

var StoreAppendDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "sfx_store_append_duration_seconds",
		Help:    "Latency of store appends",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	},
)

var IngestQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "sfx_ingest_queue_depth",
		Help: "Messages waiting for the ingest worker",
	},
)

var SubscriberState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "sfx_subscriber_state",
		Help: "0 disconnected, 1 connecting, 2 subscribed",
	},
)

var HeartRate = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "sfx_heart_rate_bpm",
		Help:    "Distribution of received heart rate values",
		Buckets: []float64{40, 55, 70, 90, 110, 130, 160, 200},
	},
)

var SpO2 = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "sfx_spo2_percent",
		Help:    "Distribution of received SpO2 values",
		Buckets: []float64{80, 85, 90, 92, 95, 97, 99, 100},
	},
)

var COVolt = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name: "sfx_mq7_volt",
		Help: "Distribution of MQ-7 (CO) sensor voltage",
		// 0.6 V is the alert line
		Buckets: []float64{0.1, 0.2, 0.4, 0.6, 0.8, 1.2, 2, 5},
	},
)

var QueryRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sfx_query_requests_total",
		Help: "Latest-reading queries, by outcome",
	},
	[]string{"status"},
)

var MonitorPolls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sfx_monitor_polls_total",
		Help: "Monitor polls of the query API, by outcome",
	},
	[]string{"status"},
)

var MonitorOnline = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "sfx_monitor_online",
		Help: "1 when the device is considered online",
	},
)

var MonitorAlertActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sfx_monitor_alert_active",
		Help: "1 while an alert of the given kind is active",
	},
	[]string{"kind"},
)

// ObserveReading records the sensor values that are present.
func ObserveReading(r sfxmodels.Reading) {
	if r.HeartRateBPM != nil {
		HeartRate.Observe(*r.HeartRateBPM)
	}
	if r.SpO2Percent != nil {
		SpO2.Observe(*r.SpO2Percent)
	}
	if r.MQ7Volt != nil {
		COVolt.Observe(*r.MQ7Volt)
	}
}

// SetVerdict mirrors an evaluator verdict onto the monitor gauges.
func SetVerdict(v sfxmodels.Verdict) {
	if v.Online {
		MonitorOnline.Set(1)
	} else {
		MonitorOnline.Set(0)
	}
	for _, kind := range sfxmodels.AllAlertKinds {
		active := 0.0
		if v.Has(kind) {
			active = 1
		}
		MonitorAlertActive.WithLabelValues(string(kind)).Set(active)
	}
}
