// Package postgres implements the drive-log repository on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/store"
)

const planColumns = 15

// DriveLogRepo archives plans in the drive_plans table.
type DriveLogRepo struct {
	db *DB
}

func NewDriveLogRepo(db *DB) *DriveLogRepo {
	return &DriveLogRepo{db: db}
}

func (r *DriveLogRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS drive_plans (
			drive_id            UUID             NOT NULL,
			cycle               BIGINT           NOT NULL,
			v_cruise            DOUBLE PRECISION NOT NULL,
			a_cruise            DOUBLE PRECISION NOT NULL,
			v_start             DOUBLE PRECISION NOT NULL,
			a_start             DOUBLE PRECISION NOT NULL,
			v_target            DOUBLE PRECISION NOT NULL,
			a_target            DOUBLE PRECISION NOT NULL,
			v_target_future     DOUBLE PRECISION NOT NULL,
			source              TEXT             NOT NULL,
			has_lead            BOOLEAN          NOT NULL,
			fcw                 BOOLEAN          NOT NULL,
			processing_delay_ns BIGINT           NOT NULL,
			valid               BOOLEAN          NOT NULL,
			created_at          TIMESTAMPTZ      NOT NULL,
			PRIMARY KEY (drive_id, cycle)
		)
	`)
	if err != nil {
		return fmt.Errorf("create drive_plans: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_drive_plans_created_at
		ON drive_plans (created_at)
	`)
	if err != nil {
		return fmt.Errorf("index drive_plans: %w", err)
	}
	return nil
}

// InsertPlans appends a batch in one statement. Conflicting (drive_id,
// cycle) rows are left untouched so a replayed batch is harmless.
func (r *DriveLogRepo) InsertPlans(ctx context.Context, plans []model.Plan) error {
	if len(plans) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO drive_plans (
			drive_id, cycle,
			v_cruise, a_cruise, v_start, a_start,
			v_target, a_target, v_target_future,
			source, has_lead, fcw,
			processing_delay_ns, valid, created_at
		) VALUES `)

	args := make([]any, 0, len(plans)*planColumns)
	for i, p := range plans {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * planColumns
		sb.WriteByte('(')
		for c := 1; c <= planColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteByte(')')

		args = append(args,
			p.DriveID, p.Cycle,
			p.VCruise, p.ACruise, p.VStart, p.AStart,
			p.VTarget, p.ATarget, p.VTargetFuture,
			p.Source.String(), p.HasLead, p.FCW,
			int64(p.ProcessingDelay), p.Valid, p.CreatedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (drive_id, cycle) DO NOTHING")

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert drive plans: %w", err)
	}
	return nil
}

func (r *DriveLogRepo) RecentPlans(ctx context.Context, driveID string, limit int) ([]model.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT drive_id, cycle,
		       v_cruise, a_cruise, v_start, a_start,
		       v_target, a_target, v_target_future,
		       source, has_lead, fcw,
		       processing_delay_ns, valid, created_at
		FROM drive_plans
		WHERE drive_id = $1
		ORDER BY cycle DESC
		LIMIT $2
	`, driveID, limit)
	if err != nil {
		return nil, fmt.Errorf("query drive plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		var (
			p       model.Plan
			source  string
			delayNS int64
		)
		if err := rows.Scan(
			&p.DriveID, &p.Cycle,
			&p.VCruise, &p.ACruise, &p.VStart, &p.AStart,
			&p.VTarget, &p.ATarget, &p.VTargetFuture,
			&source, &p.HasLead, &p.FCW,
			&delayNS, &p.Valid, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan drive plan: %w", err)
		}
		p.Source = model.PlanSource(source)
		p.ProcessingDelay = time.Duration(delayNS)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drive plans: %w", err)
	}
	return plans, nil
}

// RecentDrives lists archived drives by most recent activity.
func (r *DriveLogRepo) RecentDrives(ctx context.Context, limit int) ([]store.DriveSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT drive_id,
		       MIN(cycle), MAX(cycle), COUNT(*),
		       COUNT(*) FILTER (WHERE NOT valid),
		       MAX(created_at)
		FROM drive_plans
		GROUP BY drive_id
		ORDER BY MAX(created_at) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent drives: %w", err)
	}
	defer rows.Close()

	var drives []store.DriveSummary
	for rows.Next() {
		var d store.DriveSummary
		if err := rows.Scan(
			&d.DriveID,
			&d.FirstCycle, &d.LastCycle, &d.Records,
			&d.Invalid,
			&d.LastAt,
		); err != nil {
			return nil, fmt.Errorf("scan drive summary: %w", err)
		}
		drives = append(drives, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drive summaries: %w", err)
	}
	return drives, nil
}

// CycleGaps finds holes in a drive's cycle sequence, oldest first. The
// limit caps diagnostics, not detection: callers derive the total shortfall
// from the drive summary.
func (r *DriveLogRepo) CycleGaps(ctx context.Context, driveID string, limit int) ([]store.CycleGap, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT prev_cycle, cycle, cycle - prev_cycle - 1
		FROM (
			SELECT cycle, LAG(cycle) OVER (ORDER BY cycle) AS prev_cycle
			FROM drive_plans
			WHERE drive_id = $1
		) seq
		WHERE prev_cycle IS NOT NULL AND cycle - prev_cycle > 1
		ORDER BY prev_cycle
		LIMIT $2
	`, driveID, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle gaps: %w", err)
	}
	defer rows.Close()

	var gaps []store.CycleGap
	for rows.Next() {
		var g store.CycleGap
		if err := rows.Scan(&g.After, &g.Before, &g.Missing); err != nil {
			return nil, fmt.Errorf("scan cycle gap: %w", err)
		}
		gaps = append(gaps, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle gaps: %w", err)
	}
	return gaps, nil
}

func (r *DriveLogRepo) Close() error {
	return r.db.Close()
}
