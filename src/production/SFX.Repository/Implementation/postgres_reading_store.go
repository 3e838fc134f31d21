package implementation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

const createReadingsTable = `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		id               BIGSERIAL PRIMARY KEY,
		device_id        TEXT,
		heart_rate_bpm   DOUBLE PRECISION,
		spo2_percent     DOUBLE PRECISION,
		temperature_c    DOUBLE PRECISION,
		humidity_percent DOUBLE PRECISION,
		mq7_volt         DOUBLE PRECISION,
		mq6_volt         DOUBLE PRECISION,
		extra            JSONB,
		received_at      TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sensor_readings_received_at_desc
		ON sensor_readings (received_at DESC, id DESC);
`

type PostgresReadingStore struct {
	db    *sql.DB
	clock *receiptClock
}

// NewPostgresReadingStore creates the table if needed and seeds the receipt
// clock from the newest row.
func NewPostgresReadingStore(ctx context.Context, db *sql.DB, opts ...Option) (*PostgresReadingStore, error) {
	o := buildOptions(opts)
	s := &PostgresReadingStore{db: db, clock: newReceiptClock(o.now)}

	if _, err := db.ExecContext(ctx, createReadingsTable); err != nil {
		return nil, unavailable("create table", err)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		s.clock.seed(latest.ReceivedAt)
	}
	return s, nil
}

func (s *PostgresReadingStore) Append(ctx context.Context, reading sfxmodels.Reading) (sfxmodels.Reading, error) {
	query := `
		INSERT INTO sensor_readings (device_id, heart_rate_bpm, spo2_percent, temperature_c,
			humidity_percent, mq7_volt, mq6_volt, extra, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	stored := cloneReading(reading)

	// An empty []byte is not NULL to the driver and is not valid JSONB.
	var extra interface{}
	if stored.Extra != nil {
		extraJSON, err := json.Marshal(stored.Extra)
		if err != nil {
			return sfxmodels.Reading{}, fmt.Errorf("failed to marshal extra: %w", err)
		}
		extra = string(extraJSON)
	}

	stored.ReceivedAt = s.clock.stamp()

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		stored.DeviceID, stored.HeartRateBPM, stored.SpO2Percent, stored.TemperatureC,
		stored.HumidityPercent, stored.MQ7Volt, stored.MQ6Volt, extra, stored.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return sfxmodels.Reading{}, unavailable("insert reading", err)
	}

	stored.ID = strconv.FormatInt(id, 10)
	return stored, nil
}

func (s *PostgresReadingStore) Latest(ctx context.Context) (*sfxmodels.Reading, error) {
	query := `
		SELECT id, device_id, heart_rate_bpm, spo2_percent, temperature_c,
			humidity_percent, mq7_volt, mq6_volt, extra, received_at
		FROM sensor_readings
		ORDER BY received_at DESC, id DESC
		LIMIT 1
	`

	var (
		id        int64
		deviceID  sql.NullString
		hr, spo2  sql.NullFloat64
		temp, hum sql.NullFloat64
		mq7, mq6  sql.NullFloat64
		extraJSON []byte
		reading   sfxmodels.Reading
	)

	err := s.db.QueryRowContext(ctx, query).Scan(
		&id, &deviceID, &hr, &spo2, &temp, &hum, &mq7, &mq6, &extraJSON, &reading.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("select latest", err)
	}

	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &reading.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra: %w", err)
		}
	}

	reading.ID = strconv.FormatInt(id, 10)
	if deviceID.Valid {
		reading.DeviceID = sfxmodels.String(deviceID.String)
	}
	reading.HeartRateBPM = nullFloat(hr)
	reading.SpO2Percent = nullFloat(spo2)
	reading.TemperatureC = nullFloat(temp)
	reading.HumidityPercent = nullFloat(hum)
	reading.MQ7Volt = nullFloat(mq7)
	reading.MQ6Volt = nullFloat(mq6)
	reading.ReceivedAt = reading.ReceivedAt.UTC()

	return &reading, nil
}

func (s *PostgresReadingStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresReadingStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return sfxmodels.Float(v.Float64)
}
