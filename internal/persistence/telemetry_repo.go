package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rttgcs/internal/telemetry"
)

// TelemetryRepo records ping detections and transmitter location estimates
// per scan run. Reads are keyed by run number so past sessions stay queryable.
type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) InsertPing(ctx context.Context, runNum int64, p telemetry.PingData) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pings(run_num, frequency, amplitude, latitude, longitude, packet_id, received_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`,
		runNum,
		p.Frequency,
		p.Amplitude,
		p.Lat,
		p.Long,
		p.PacketID,
		toUnixMillis(p.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}

	return nil
}

// UpsertEstimate keeps only the latest estimate per run and frequency. Older
// estimates are superseded, not kept, matching the ping finder's semantics.
func (r *TelemetryRepo) UpsertEstimate(ctx context.Context, runNum int64, e telemetry.LocationEstimate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO location_estimates(run_num, frequency, latitude, longitude, packet_id, received_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_num, frequency) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			packet_id = excluded.packet_id,
			received_at = excluded.received_at
	`,
		runNum,
		e.Frequency,
		e.Lat,
		e.Long,
		e.PacketID,
		toUnixMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("upsert location estimate: %w", err)
	}

	return nil
}

func (r *TelemetryRepo) PingsForRun(ctx context.Context, runNum int64, frequency uint32) ([]telemetry.PingData, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT frequency, amplitude, latitude, longitude, packet_id, received_at
		FROM pings
		WHERE run_num = ? AND frequency = ?
		ORDER BY received_at ASC, id ASC
	`, runNum, frequency)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []telemetry.PingData
	for rows.Next() {
		var (
			p    telemetry.PingData
			rxMS int64
		)
		if err := rows.Scan(&p.Frequency, &p.Amplitude, &p.Lat, &p.Long, &p.PacketID, &rxMS); err != nil {
			return nil, fmt.Errorf("scan ping row: %w", err)
		}
		p.Timestamp = fromUnixMillis(rxMS)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ping rows: %w", err)
	}

	return out, nil
}

func (r *TelemetryRepo) EstimateForRun(ctx context.Context, runNum int64, frequency uint32) (telemetry.LocationEstimate, bool, error) {
	var (
		e    telemetry.LocationEstimate
		rxMS int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT frequency, latitude, longitude, packet_id, received_at
		FROM location_estimates
		WHERE run_num = ? AND frequency = ?
	`, runNum, frequency).Scan(&e.Frequency, &e.Lat, &e.Long, &e.PacketID, &rxMS)
	if err == sql.ErrNoRows {
		return telemetry.LocationEstimate{}, false, nil
	}
	if err != nil {
		return telemetry.LocationEstimate{}, false, fmt.Errorf("query location estimate: %w", err)
	}
	e.Timestamp = fromUnixMillis(rxMS)

	return e, true, nil
}

// DeleteFrequencyData removes all pings and estimates recorded for one target
// frequency within a run.
func (r *TelemetryRepo) DeleteFrequencyData(ctx context.Context, runNum int64, frequency uint32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pings WHERE run_num = ? AND frequency = ?`, runNum, frequency); err != nil {
		return fmt.Errorf("delete pings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM location_estimates WHERE run_num = ? AND frequency = ?`, runNum, frequency); err != nil {
		return fmt.Errorf("delete location estimates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}

	return nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}
