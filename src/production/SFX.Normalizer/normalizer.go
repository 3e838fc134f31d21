package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// ErrMalformedPayload is returned for any payload that is not a JSON object.
// The message must be dropped, never persisted.
var ErrMalformedPayload = errors.New("malformed payload")

var (
	jsonNull = []byte("null")

	numericFields = map[string]func(r *sfxmodels.Reading, v *float64){
		"heart_rate_bpm":   func(r *sfxmodels.Reading, v *float64) { r.HeartRateBPM = v },
		"spo2_percent":     func(r *sfxmodels.Reading, v *float64) { r.SpO2Percent = v },
		"temperature_C":    func(r *sfxmodels.Reading, v *float64) { r.TemperatureC = v },
		"humidity_percent": func(r *sfxmodels.Reading, v *float64) { r.HumidityPercent = v },
		"mq7_volt":         func(r *sfxmodels.Reading, v *float64) { r.MQ7Volt = v },
		"mq6_volt":         func(r *sfxmodels.Reading, v *float64) { r.MQ6Volt = v },
	}
)

// Normalizer turns raw MQTT payloads into readings.
type Normalizer struct {
	keepUnknown bool
}

// New creates a normalizer. With keepUnknown set, fields the firmware sends
// that we do not model are carried in Reading.Extra instead of being dropped.
func New(keepUnknown bool) *Normalizer {
	return &Normalizer{keepUnknown: keepUnknown}
}

// Normalize decodes one payload. It has no side effects; ReceivedAt is left
// zero for the store to assign.
func (n *Normalizer) Normalize(payload []byte) (sfxmodels.Reading, error) {
	reading, _, err := n.NormalizeFields(payload)
	return reading, err
}

// NormalizeFields is Normalize that also names the known fields it dropped
// because their value had the wrong JSON type. Only a payload that is not a
// JSON object is malformed; a bad field is treated as absent.
func (n *Normalizer) NormalizeFields(payload []byte) (sfxmodels.Reading, []string, error) {
	var reading sfxmodels.Reading

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return reading, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return reading, nil, fmt.Errorf("%w: payload is null", ErrMalformedPayload)
	}

	var dropped []string
	for key, raw := range fields {
		if set, ok := numericFields[key]; ok {
			v, err := decodeNumber(raw)
			if err != nil {
				dropped = append(dropped, key)
				continue
			}
			set(&reading, v)
			continue
		}

		if key == "device_id" {
			id, err := decodeDeviceID(raw)
			if err != nil {
				dropped = append(dropped, key)
				continue
			}
			reading.DeviceID = id
			continue
		}

		if !n.keepUnknown {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return sfxmodels.Reading{}, nil, fmt.Errorf("%w: field %s: %v", ErrMalformedPayload, key, err)
		}
		if reading.Extra == nil {
			reading.Extra = make(map[string]interface{})
		}
		reading.Extra[key] = v
	}

	sort.Strings(dropped)
	return reading, dropped, nil
}

func decodeNumber(raw json.RawMessage) (*float64, error) {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// decodeDeviceID accepts a string or a number; a numeric id keeps its
// literal text so "7" and 7 read the same.
func decodeDeviceID(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, jsonNull) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return &s, nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return nil, fmt.Errorf("expected string or number")
	}
	id := num.String()
	return &id, nil
}
