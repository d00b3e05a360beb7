package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/config"
	"github.com/sells-group/aminoscout/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReviewRate     AlertType = "review_rate"
	AlertBacklog        AlertType = "backlog"
	AlertProviderOutage AlertType = "provider_outage"
)

// minFinished is how many finished rows the review rate needs before it
// means anything.
const minFinished = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Counts[model.StatusResolved] + snap.Counts[model.StatusNeedsReview]
	if a.cfg.ReviewRateThreshold > 0 && finished >= minFinished && snap.ReviewRate > a.cfg.ReviewRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of extracted queries need review (threshold %.1f%%, %d of %d)",
				snap.ReviewRate*100, a.cfg.ReviewRateThreshold*100,
				snap.Counts[model.StatusNeedsReview], finished,
			),
			Details: map[string]any{
				"review_rate": snap.ReviewRate,
				"threshold":   a.cfg.ReviewRateThreshold,
				"finished":    finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.Backlog > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklog,
			Severity: "medium",
			Message:  fmt.Sprintf("%d failed queries awaiting automation (threshold %d)", snap.Backlog, a.cfg.BacklogThreshold),
			Details: map[string]any{
				"backlog":   snap.Backlog,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RetryThreshold > 0 && snap.RetryPending >= a.cfg.RetryThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProviderOutage,
			Severity: "high",
			Message:  fmt.Sprintf("%d queued queries failed discovery on every provider", snap.RetryPending),
			Details: map[string]any{
				"retry_pending": snap.RetryPending,
				"threshold":     a.cfg.RetryThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
