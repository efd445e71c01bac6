package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juny6654/longplan/internal/metrics"
)

// Severity grades how urgently the fleet desk should react.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind categorizes the condition behind an alert.
type Kind string

const (
	KindCollisionWarning Kind = "COLLISION_WARNING"
	KindStaleInput       Kind = "STALE_INPUT"
	KindRecovery         Kind = "RECOVERY"
	KindDriveLogGap      Kind = "DRIVE_LOG_GAP"
)

// Alert represents a single alert event.
type Alert struct {
	Kind     Kind
	Severity Severity
	DriveID  string
	Title    string
	Message  string
	Fields   map[string]string
}

// Alerter is the interface for sending alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// deliveryTimeout bounds a single webhook round trip.
const deliveryTimeout = 10 * time.Second

// MultiAlerter fans an alert out to every configured channel at once and
// suppresses repeats of the same kind inside a cooldown window, so a
// condition that holds across many cycles becomes one notification.
type MultiAlerter struct {
	channels []Alerter
	window   time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	recent map[Kind]time.Time
}

// NewMultiAlerter creates a new multi-channel alerter with cooldown.
func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		channels: alerters,
		window:   cooldown,
		log:      logger.With("component", "alerter"),
		now:      time.Now,
		recent:   make(map[Kind]time.Time),
	}
}

// suppressed reports whether an alert of this kind already fired inside the
// cooldown window. When it did not, the send time is recorded, so concurrent
// callers race for a single slot.
func (m *MultiAlerter) suppressed(k Kind) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.recent[k]; ok && now.Sub(last) < m.window {
		return true
	}
	m.recent[k] = now
	return false
}

// Send dispatches the alert to all channels concurrently. Every channel is
// attempted even when one fails; the joined error covers the failures.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if m.suppressed(alert.Kind) {
		m.log.Debug("alert suppressed by cooldown", "kind", alert.Kind)
		metrics.AlertsSuppressedTotal.WithLabelValues(string(alert.Severity)).Inc()
		return nil
	}

	errs := make([]error, len(m.channels))
	var wg sync.WaitGroup
	for i, ch := range m.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ch.Send(ctx, alert)
		}()
	}
	wg.Wait()

	delivered := false
	for i, err := range errs {
		if err != nil {
			m.log.Warn("alert send failed",
				"channel", channelName(m.channels[i]),
				"kind", alert.Kind,
				"error", err,
			)
			continue
		}
		delivered = true
	}
	if delivered {
		metrics.AlertsSentTotal.WithLabelValues(string(alert.Severity)).Inc()
	}
	return errors.Join(errs...)
}

// named is implemented by channels that identify themselves in logs.
type named interface {
	name() string
}

func channelName(a Alerter) string {
	if n, ok := a.(named); ok {
		return n.name()
	}
	return "unknown"
}

// postJSON marshals payload and posts it to url, treating any non-2xx
// response as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// slackEmoji maps alert kinds to the leading Slack emoji. Unlisted kinds
// fall back to :warning:.
var slackEmoji = map[Kind]string{
	KindCollisionWarning: ":rotating_light:",
	KindStaleInput:       ":hourglass_flowing_sand:",
	KindRecovery:         ":white_check_mark:",
}

// SlackAlerter sends alerts to a Slack webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

// NewSlackAlerter creates a Slack alerter with the given webhook URL.
func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: deliveryTimeout},
	}
}

func (*SlackAlerter) name() string { return "slack" }

// Send formats the alert as a single Slack message and posts it.
func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji, ok := slackEmoji[alert.Kind]
	if !ok {
		emoji = ":warning:"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s *[%s]* drive %s: %s\n%s",
		emoji, alert.Kind, alert.DriveID, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		text.WriteByte('\n')
		for k, v := range alert.Fields {
			fmt.Fprintf(&text, "- *%s*: %s\n", k, v)
		}
	}

	return postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": text.String()})
}

// webhookPayload is the JSON body delivered to generic webhook receivers.
type webhookPayload struct {
	Kind     string            `json:"kind"`
	Severity string            `json:"severity"`
	DriveID  string            `json:"drive_id"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields"`
	Time     string            `json:"time"`
}

// WebhookAlerter sends alerts to a generic HTTP webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a generic webhook alerter.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

func (*WebhookAlerter) name() string { return "webhook" }

// Send posts the alert as a structured JSON document.
func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	return postJSON(ctx, w.client, w.url, webhookPayload{
		Kind:     string(alert.Kind),
		Severity: string(alert.Severity),
		DriveID:  alert.DriveID,
		Title:    alert.Title,
		Message:  alert.Message,
		Fields:   alert.Fields,
		Time:     time.Now().UTC().Format(time.RFC3339),
	})
}

// NoopAlerter does nothing. Used when no alert channels are configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
