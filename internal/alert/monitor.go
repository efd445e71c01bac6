// Package alert notifies a fleet operations channel about conditions that
// need a human: collision warnings, sustained stale inputs, and recovery.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Detached delivery bound; the webhook channels carry their own shorter
// per-request timeouts.
const sendTimeout = 15 * time.Second

// Monitor watches the emitted plan stream and turns plan-level conditions
// into alerts. It is a plan sink, so it sees exactly what the actuation
// controller sees. Delivery happens on a detached goroutine because sinks
// must not hold the planning loop on network I/O.
type Monitor struct {
	alerter     Alerter
	staleCycles int
	logger      *slog.Logger

	mu           sync.Mutex
	staleRun     int
	staleAlerted bool
}

// NewMonitor builds a monitor that alerts on every collision warning and
// after staleCycles consecutive invalid plans.
func NewMonitor(alerter Alerter, staleCycles int, logger *slog.Logger) *Monitor {
	return &Monitor{
		alerter:     alerter,
		staleCycles: staleCycles,
		logger:      logger.With("component", "alert_monitor"),
	}
}

// Accept inspects one plan. It always returns nil: alerting is advisory and
// must not count against the loop's sink error accounting.
func (m *Monitor) Accept(_ context.Context, plan model.Plan) error {
	if plan.FCW {
		m.dispatch(Alert{
			Kind:     KindCollisionWarning,
			Severity: SeverityCritical,
			DriveID:  plan.DriveID,
			Title:    "Forward collision warning",
			Message:  fmt.Sprintf("planned decel %.2f m/s^2 from source %s", plan.ATarget, plan.Source),
			Fields: map[string]string{
				"cycle":    fmt.Sprintf("%d", plan.Cycle),
				"v_target": fmt.Sprintf("%.2f", plan.VTarget),
			},
		})
	}

	m.mu.Lock()
	if plan.Valid {
		run, alerted := m.staleRun, m.staleAlerted
		m.staleRun, m.staleAlerted = 0, false
		m.mu.Unlock()
		if alerted {
			m.dispatch(Alert{
				Kind:     KindRecovery,
				Severity: SeverityInfo,
				DriveID:  plan.DriveID,
				Title:    "Input feeds recovered",
				Message:  fmt.Sprintf("plans valid again after %d stale cycles", run),
			})
		}
		return nil
	}
	m.staleRun++
	run := m.staleRun
	fire := run >= m.staleCycles && !m.staleAlerted
	if fire {
		m.staleAlerted = true
	}
	m.mu.Unlock()

	if fire {
		m.dispatch(Alert{
			Kind:     KindStaleInput,
			Severity: SeverityWarning,
			DriveID:  plan.DriveID,
			Title:    "Sustained stale input",
			Message:  fmt.Sprintf("%d consecutive cycles planned from stale feeds", run),
			Fields: map[string]string{
				"cycle": fmt.Sprintf("%d", plan.Cycle),
			},
		})
	}
	return nil
}

func (m *Monitor) dispatch(alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := m.alerter.Send(ctx, alert); err != nil {
			m.logger.Warn("alert dispatch failed", "kind", alert.Kind, "error", err)
		}
	}()
}
