// Package store archives emitted plans. The repository interface keeps the
// writer independent of the backing database.
package store

import (
	"context"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
)

// DriveLogRepository is the append-only plan archive, keyed by drive id and
// cycle number.
type DriveLogRepository interface {
	// EnsureSchema creates the archive table when it does not exist yet.
	EnsureSchema(ctx context.Context) error

	// InsertPlans appends a batch. Replayed records are ignored, not
	// rewritten: (drive_id, cycle) is immutable once stored.
	InsertPlans(ctx context.Context, plans []model.Plan) error

	// RecentPlans returns the newest plans of a drive, newest first.
	RecentPlans(ctx context.Context, driveID string, limit int) ([]model.Plan, error)

	Close() error
}

// DriveSummary describes one archived drive's extent and record counts.
type DriveSummary struct {
	DriveID    string    `json:"drive_id"`
	FirstCycle uint64    `json:"first_cycle"`
	LastCycle  uint64    `json:"last_cycle"`
	Records    int64     `json:"records"`
	Invalid    int64     `json:"invalid"`
	LastAt     time.Time `json:"last_at"`
}

// CycleGap is a hole in a drive's archived cycle sequence: every cycle
// strictly between After and Before is missing.
type CycleGap struct {
	After   uint64 `json:"after_cycle"`
	Before  uint64 `json:"before_cycle"`
	Missing int64  `json:"missing"`
}
