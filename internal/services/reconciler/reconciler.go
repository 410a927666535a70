// Package reconciler периодически сверяет леджер user_tracking_assignments
// с фактическими состояниями tracking_ids. Сам ничего не чинит, только сообщает.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/BearBump/TrackPool/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	LedgerDrift(ctx context.Context) ([]models.LedgerDrift, error)
}

type Reconciler struct {
	repo Repository

	interval time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalDrifted        atomic.Int64
	totalErrors         atomic.Int64
	totalEvents         atomic.Int64

	mu        sync.Mutex
	lastDrift []models.LedgerDrift
	lastError string
}

func New(repo Repository) *Reconciler {
	return &Reconciler{
		repo:              repo,
		interval:          5 * time.Minute,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(interval time.Duration) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

// Trigger просит внеочередную сверку, не блокируется.
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// HandleEvent вызывается консьюмером allocation-событий.
func (r *Reconciler) HandleEvent(ctx context.Context, ev messages.AllocationEvent) error {
	if err := ev.Validate(); err != nil {
		return errors.Wrap(err, "invalid allocation event")
	}
	r.totalEvents.Add(1)
	r.Trigger()
	return nil
}

type DriftRow struct {
	UserID        string `json:"userId"`
	TotalAssigned int64  `json:"totalAssigned"`
	TotalUsed     int64  `json:"totalUsed"`
	RowsAssigned  int64  `json:"rowsAssigned"`
	RowsUsed      int64  `json:"rowsUsed"`
	HasLedgerRow  bool   `json:"hasLedgerRow"`
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalDrifted  int64      `json:"totalDrifted"`
	TotalErrors   int64      `json:"totalErrors"`
	EventsSeen    int64      `json:"eventsSeen"`
	LastDrift     []DriftRow `json:"lastDrift"`
	LastError     string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRuns:    r.totalRuns.Load(),
		TotalDrifted: r.totalDrifted.Load(),
		TotalErrors:  r.totalErrors.Load(),
		EventsSeen:   r.totalEvents.Load(),
		LastDrift:    []DriftRow{},
	}
	if n := r.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}

	r.mu.Lock()
	for _, d := range r.lastDrift {
		st.LastDrift = append(st.LastDrift, DriftRow{
			UserID:        d.UserID.String(),
			TotalAssigned: d.TotalAssigned,
			TotalUsed:     d.TotalUsed,
			RowsAssigned:  d.RowsAssigned,
			RowsUsed:      d.RowsUsed,
			HasLedgerRow:  d.HasLedgerRow,
		})
	}
	st.LastError = r.lastError
	r.mu.Unlock()
	return st
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	r.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	r.totalRuns.Add(1)

	drift, err := r.repo.LedgerDrift(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.totalErrors.Add(1)
		slog.Error("ledger reconcile", "error", err.Error())
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		return
	}

	for _, d := range drift {
		slog.Warn("ledger drift",
			"user_id", d.UserID.String(),
			"total_assigned", d.TotalAssigned,
			"total_used", d.TotalUsed,
			"rows_assigned", d.RowsAssigned,
			"rows_used", d.RowsUsed,
			"has_ledger_row", d.HasLedgerRow,
		)
	}
	r.totalDrifted.Add(int64(len(drift)))

	r.mu.Lock()
	r.lastDrift = drift
	r.lastError = ""
	r.mu.Unlock()
}
