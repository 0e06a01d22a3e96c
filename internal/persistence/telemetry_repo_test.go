package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rttgcs/internal/telemetry"
)

func openTestDB(t *testing.T) *TelemetryRepo {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewTelemetryRepo(db)
}

func TestMigrateSetsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("user_version = %d, want %d", version, len(migrations))
	}

	// Reopening an already-migrated database must be a no-op.
	again, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestPingInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	pings := []telemetry.PingData{
		{Frequency: 173_500_000, Amplitude: 41.2, Lat: 32.885, Long: -117.235, Timestamp: base, PacketID: 10},
		{Frequency: 173_500_000, Amplitude: 47.9, Lat: 32.886, Long: -117.236, Timestamp: base.Add(2 * time.Second), PacketID: 11},
		{Frequency: 174_000_000, Amplitude: 30.0, Lat: 32.887, Long: -117.237, Timestamp: base.Add(3 * time.Second), PacketID: 12},
	}
	for _, p := range pings {
		if err := repo.InsertPing(ctx, 7, p); err != nil {
			t.Fatalf("InsertPing: %v", err)
		}
	}

	got, err := repo.PingsForRun(ctx, 7, 173_500_000)
	if err != nil {
		t.Fatalf("PingsForRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pings, want 2", len(got))
	}
	if got[0].PacketID != 10 || got[1].PacketID != 11 {
		t.Errorf("pings out of order: %v", got)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, base)
	}

	other, err := repo.PingsForRun(ctx, 8, 173_500_000)
	if err != nil {
		t.Fatalf("PingsForRun other run: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("run 8 should be empty, got %v", other)
	}
}

func TestEstimateUpsertKeepsLatest(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	first := telemetry.LocationEstimate{Frequency: 173_500_000, Lat: 32.88, Long: -117.23, Timestamp: time.Now(), PacketID: 1}
	if err := repo.UpsertEstimate(ctx, 3, first); err != nil {
		t.Fatalf("UpsertEstimate: %v", err)
	}

	second := first
	second.Lat = 32.8851
	second.PacketID = 2
	if err := repo.UpsertEstimate(ctx, 3, second); err != nil {
		t.Fatalf("UpsertEstimate update: %v", err)
	}

	got, ok, err := repo.EstimateForRun(ctx, 3, 173_500_000)
	if err != nil {
		t.Fatalf("EstimateForRun: %v", err)
	}
	if !ok {
		t.Fatal("expected estimate to exist")
	}
	if got.Lat != 32.8851 || got.PacketID != 2 {
		t.Errorf("estimate not updated: %+v", got)
	}

	_, ok, err = repo.EstimateForRun(ctx, 3, 174_000_000)
	if err != nil {
		t.Fatalf("EstimateForRun missing freq: %v", err)
	}
	if ok {
		t.Error("estimate for unknown frequency should not exist")
	}
}

func TestDeleteFrequencyData(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	keep := uint32(174_000_000)
	drop := uint32(173_500_000)

	for _, freq := range []uint32{keep, drop} {
		if err := repo.InsertPing(ctx, 1, telemetry.PingData{Frequency: freq, Amplitude: 40, Timestamp: time.Now(), PacketID: 1}); err != nil {
			t.Fatalf("InsertPing: %v", err)
		}
		if err := repo.UpsertEstimate(ctx, 1, telemetry.LocationEstimate{Frequency: freq, Timestamp: time.Now(), PacketID: 1}); err != nil {
			t.Fatalf("UpsertEstimate: %v", err)
		}
	}

	if err := repo.DeleteFrequencyData(ctx, 1, drop); err != nil {
		t.Fatalf("DeleteFrequencyData: %v", err)
	}

	gone, err := repo.PingsForRun(ctx, 1, drop)
	if err != nil {
		t.Fatal(err)
	}
	if len(gone) != 0 {
		t.Errorf("pings for cleared frequency remain: %v", gone)
	}
	_, ok, err := repo.EstimateForRun(ctx, 1, drop)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("estimate for cleared frequency remains")
	}

	kept, err := repo.PingsForRun(ctx, 1, keep)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 {
		t.Errorf("pings for other frequency lost: %v", kept)
	}
}
