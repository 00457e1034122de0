// Package store persists facility availability to the shared courts table.
package store

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/courtwatch/internal/anc"
	"github.com/example/courtwatch/internal/db"
	"github.com/microcosm-cc/bluemonday"
)

// CourtRecord is one row of the courts table, keyed by id and overwritten on
// every run.
type CourtRecord struct {
	ID             int64
	Name           string
	FacilityType   string
	Address        string
	AvailableTimes string
	LastUpdated    time.Time
}

// Courts abstracts the courts table so the run orchestration can be tested
// without Postgres.
type Courts interface {
	Upsert(ctx context.Context, rec CourtRecord) error
	GetByID(ctx context.Context, id int64) (CourtRecord, error)
}

var sanitizer = bluemonday.StrictPolicy()

// CoerceID maps a facility id to the table's integer key. Numeric ids are
// used as-is; anything else gets a stable FNV-1a hash mod 1,000,000 so the
// same facility always lands on the same row.
func CoerceID(id string) int64 {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum32() % 1_000_000)
}

// FormatWindows renders windows as newline-joined "MM/DD/YYYY HH:MM-HH:MM"
// lines. Zero windows is the empty string, never NULL.
func FormatWindows(windows []anc.Window) string {
	lines := make([]string, 0, len(windows))
	for _, w := range windows {
		lines = append(lines, w.Date.Format(anc.DateFormat)+" "+w.StartTime+"-"+w.EndTime)
	}
	return strings.Join(lines, "\n")
}

// BuildRecord normalizes one facility's probe result into the persisted row.
// Upstream strings end up rendered by dashboards, so they are stripped of
// any markup first.
func BuildRecord(f anc.Facility, windows []anc.Window, now time.Time) CourtRecord {
	return CourtRecord{
		ID:             CoerceID(f.ID),
		Name:           sanitizer.Sanitize(f.Name),
		FacilityType:   sanitizer.Sanitize(f.FacilityType),
		Address:        sanitizer.Sanitize(f.Address),
		AvailableTimes: FormatWindows(windows),
		LastUpdated:    now,
	}
}

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) Upsert(ctx context.Context, rec CourtRecord) error {
	return s.db.Exec(ctx, `
INSERT INTO courts (id, name, facility_type, address, available_times, last_updated)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
SET name=EXCLUDED.name,
    facility_type=EXCLUDED.facility_type,
    address=EXCLUDED.address,
    available_times=EXCLUDED.available_times,
    last_updated=EXCLUDED.last_updated`,
		rec.ID, rec.Name, rec.FacilityType, rec.Address, rec.AvailableTimes, rec.LastUpdated,
	)
}

func (s *Store) GetByID(ctx context.Context, id int64) (CourtRecord, error) {
	var rec CourtRecord
	err := s.db.QueryRow(ctx, `
SELECT id, name, facility_type, address, available_times, last_updated
FROM courts WHERE id=$1`, id).
		Scan(&rec.ID, &rec.Name, &rec.FacilityType, &rec.Address, &rec.AvailableTimes, &rec.LastUpdated)
	if err != nil {
		return CourtRecord{}, db.WrapNotFound(err)
	}
	return rec, nil
}

// VerifyWrite reads the row back and logs whether the upsert took. The
// verification is observational: a mismatch is logged, not an error.
func VerifyWrite(ctx context.Context, courts Courts, want CourtRecord) {
	got, err := courts.GetByID(ctx, want.ID)
	if err != nil {
		slog.Warn("read-back after upsert failed", "id", want.ID, "error", err)
		return
	}
	if got.AvailableTimes != want.AvailableTimes || got.Name != want.Name {
		slog.Warn("read-back does not match written record",
			"id", want.ID, "name", got.Name, "available_times", got.AvailableTimes)
		return
	}
	slog.Info("verified stored record", "id", want.ID, "name", got.Name)
}
