// Package reconciliation checks the persisted drive log against the cycle
// sequence the planner emits. The archive writer sheds records under
// pressure, so an archived drive can hold fewer rows than the planner
// produced; the sweep finds those holes and reports how much of each drive
// is actually on disk before anyone trusts it for incident review.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juny6654/longplan/internal/alert"
	"github.com/juny6654/longplan/internal/metrics"
	"github.com/juny6654/longplan/internal/store"
)

// maxGapsPerDrive caps the per-drive gap sample. Detection does not depend
// on it: the total shortfall comes from the drive summary.
const maxGapsPerDrive = 50

// defaultSweepInterval paces RunPeriodic when the caller passes no interval.
const defaultSweepInterval = time.Hour

// ArchiveRepository is the slice of the drive log the sweep reads.
type ArchiveRepository interface {
	RecentDrives(ctx context.Context, limit int) ([]store.DriveSummary, error)
	CycleGaps(ctx context.Context, driveID string, limit int) ([]store.CycleGap, error)
}

// DriveReport is one drive's sweep outcome.
type DriveReport struct {
	DriveID        string           `json:"drive_id"`
	FirstCycle     uint64           `json:"first_cycle"`
	LastCycle      uint64           `json:"last_cycle"`
	Records        int64            `json:"records"`
	Expected       int64            `json:"expected"`
	MissingCycles  int64            `json:"missing_cycles"`
	InvalidRecords int64            `json:"invalid_records"`
	Gaps           []store.CycleGap `json:"gaps,omitempty"`
	Complete       bool             `json:"complete"`
	LastAt         time.Time        `json:"last_at"`
}

// RunResult aggregates one sweep across recent drives.
type RunResult struct {
	Drives        []DriveReport `json:"drives"`
	Total         int           `json:"total"`
	Complete      int           `json:"complete"`
	WithGaps      int           `json:"with_gaps"`
	MissingCycles int64         `json:"missing_cycles"`
	Errors        int           `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Service runs archive sweeps on demand and on a timer, keeping the most
// recent result for the ops API.
type Service struct {
	repo    ArchiveRepository
	alerter alert.Alerter
	logger  *slog.Logger

	mu   sync.RWMutex
	last *RunResult
}

func NewService(repo ArchiveRepository, alerter alert.Alerter, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		alerter: alerter,
		logger:  logger.With("component", "reconciliation"),
	}
}

// Sweep checks the newest drives in the archive. It fails only when the
// drive list itself cannot be read; a broken gap query degrades that one
// drive's report and counts as an error.
func (s *Service) Sweep(ctx context.Context, drives int) (*RunResult, error) {
	if drives <= 0 {
		drives = 1
	}

	result := &RunResult{StartedAt: time.Now().UTC()}

	summaries, err := s.repo.RecentDrives(ctx, drives)
	if err != nil {
		return nil, fmt.Errorf("list recent drives: %w", err)
	}

	for _, sum := range summaries {
		report := DriveReport{
			DriveID:        sum.DriveID,
			FirstCycle:     sum.FirstCycle,
			LastCycle:      sum.LastCycle,
			Records:        sum.Records,
			Expected:       int64(sum.LastCycle-sum.FirstCycle) + 1,
			InvalidRecords: sum.Invalid,
			LastAt:         sum.LastAt,
		}
		report.MissingCycles = report.Expected - report.Records
		if report.MissingCycles < 0 {
			report.MissingCycles = 0
		}
		report.Complete = report.MissingCycles == 0

		if !report.Complete {
			gaps, err := s.repo.CycleGaps(ctx, sum.DriveID, maxGapsPerDrive)
			if err != nil {
				s.logger.Warn("cycle gap query failed", "drive_id", sum.DriveID, "error", err)
				result.Errors++
			} else {
				report.Gaps = gaps
			}
		}

		result.Drives = append(result.Drives, report)
		result.Total++
		if report.Complete {
			result.Complete++
		} else {
			result.WithGaps++
			result.MissingCycles += report.MissingCycles
			metrics.DriveLogSweepGaps.Add(float64(len(report.Gaps)))
		}
	}

	result.FinishedAt = time.Now().UTC()

	metrics.DriveLogSweepsTotal.Inc()
	if result.MissingCycles > 0 {
		metrics.DriveLogSweepMissingCycles.Add(float64(result.MissingCycles))
		s.alertGaps(ctx, result)
	}

	s.logger.Info("drive log sweep completed",
		"drives", result.Total,
		"complete", result.Complete,
		"with_gaps", result.WithGaps,
		"missing_cycles", result.MissingCycles,
		"errors", result.Errors,
	)

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	return result, nil
}

func (s *Service) alertGaps(ctx context.Context, result *RunResult) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Send(ctx, alert.Alert{
		Kind:     alert.KindDriveLogGap,
		Severity: alert.SeverityWarning,
		Title:    "Drive log has missing cycles",
		Message: fmt.Sprintf("%d cycles missing across %d of %d recent drives",
			result.MissingCycles, result.WithGaps, result.Total),
		Fields: map[string]string{
			"drives":         fmt.Sprintf("%d", result.Total),
			"with_gaps":      fmt.Sprintf("%d", result.WithGaps),
			"missing_cycles": fmt.Sprintf("%d", result.MissingCycles),
		},
	})
	if err != nil {
		s.logger.Warn("drive log gap alert failed", "error", err)
	}
}

// LastResult returns the most recent sweep, if any has run.
func (s *Service) LastResult() (*RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, false
	}
	return s.last, true
}

// RunPeriodic sweeps on a timer until the context ends. Sweep failures are
// logged and the next tick tries again.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration, drives int) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	s.logger.Info("periodic drive log sweep started", "interval", interval, "drives", drives)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic drive log sweep stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx, drives); err != nil {
				s.logger.Warn("periodic sweep failed", "error", err)
			}
		}
	}
}
