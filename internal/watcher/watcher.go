// Package watcher drives one full availability check: authenticate, list
// facilities, probe each one for tomorrow's open slots, and reconcile the
// findings into the courts table.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/courtwatch/internal/anc"
	"github.com/example/courtwatch/internal/metrics"
	"github.com/example/courtwatch/internal/store"
	"github.com/google/uuid"
)

// RunResult is what the trigger endpoint reports: overall success of the
// invocation, not per-facility outcomes (those live in logs).
type RunResult struct {
	Success bool
	Message string
}

// SiteClient is the slice of the anc client a run needs.
type SiteClient interface {
	Authenticate(ctx context.Context) error
	ListFacilities(ctx context.Context) ([]anc.Facility, error)
	DailyAvailability(ctx context.Context, facilityID string, target time.Time) ([]anc.Window, error)
}

type Watcher struct {
	Site    SiteClient
	Courts  store.Courts
	Metrics *metrics.Collector

	// Now is swappable in tests; defaults to time.Now.
	Now func() time.Time
}

func (w *Watcher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// TargetDate is always the day after run start, in UTC.
func (w *Watcher) TargetDate() time.Time {
	return w.now().UTC().AddDate(0, 0, 1)
}

// RunOnce performs one complete run. Per-facility failures are isolated;
// only an authentication failure (or cancellation) ends the run early.
func (w *Watcher) RunOnce(ctx context.Context) RunResult {
	runID := uuid.NewString()
	start := w.now()
	target := w.TargetDate()

	slog.Info("run started", "run_id", runID, "target_date", target.Format(anc.DateFormat))

	if err := w.Site.Authenticate(ctx); err != nil {
		slog.Error("authentication failed, skipping availability phase",
			"run_id", runID, "error", err)
		w.Metrics.RecordRun(false, time.Since(start))
		return RunResult{Success: false, Message: fmt.Sprintf("authentication failed: %v", err)}
	}

	facilities, err := w.Site.ListFacilities(ctx)
	if err != nil {
		if errors.Is(err, anc.ErrAbandoned) {
			// The catalog request was dropped after retries; the run has
			// nothing to probe but the invocation itself did not fail.
			slog.Error("facility catalog abandoned", "run_id", runID, "error", err)
			w.Metrics.RecordRun(true, time.Since(start))
			return RunResult{Success: true, Message: "facility catalog unavailable, nothing probed"}
		}
		slog.Error("facility catalog failed", "run_id", runID, "error", err)
		w.Metrics.RecordRun(false, time.Since(start))
		return RunResult{Success: false, Message: fmt.Sprintf("facility catalog failed: %v", err)}
	}
	slog.Info("facility catalog fetched", "run_id", runID, "count", len(facilities))

	var written, failed atomic.Int64
	var wg sync.WaitGroup
	for _, f := range facilities {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.processFacility(ctx, runID, f, target) {
				written.Add(1)
			} else {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	dur := time.Since(start)
	msg := fmt.Sprintf("checked %d facilities for %s: %d records written, %d failed",
		len(facilities), target.Format(anc.DateFormat), written.Load(), failed.Load())
	slog.Info("run finished", "run_id", runID, "duration_ms", dur.Milliseconds(),
		"written", written.Load(), "failed", failed.Load())

	w.Metrics.RecordRun(true, dur)
	return RunResult{Success: true, Message: msg}
}

// processFacility probes one facility and reconciles the result. Every
// failure here stays local to the facility.
func (w *Watcher) processFacility(ctx context.Context, runID string, f anc.Facility, target time.Time) bool {
	w.Metrics.RecordFacilityProbed()

	windows, err := w.Site.DailyAvailability(ctx, f.ID, target)
	if err != nil {
		slog.Error("availability probe failed",
			"run_id", runID, "facility_id", f.ID, "facility", f.Name, "error", err)
		return false
	}
	slog.Info("availability probed",
		"run_id", runID, "facility_id", f.ID, "facility", f.Name, "open_windows", len(windows))

	rec := store.BuildRecord(f, windows, w.now())
	if err := w.Courts.Upsert(ctx, rec); err != nil {
		// A storage outage is fatal to this facility's record, not the run.
		slog.Error("storage upsert failed",
			"run_id", runID, "facility_id", f.ID, "id", rec.ID, "error", err)
		return false
	}
	w.Metrics.RecordUpsert()

	store.VerifyWrite(ctx, w.Courts, rec)
	return true
}
