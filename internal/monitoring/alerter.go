package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/config"
)

// minFinishedForRate is the number of finished jobs needed before the
// failure rate is judged.
const minFinishedForRate = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertStuckJobs      AlertType = "stuck_jobs"
	AlertSourceOpen     AlertType = "source_circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished >= minFinishedForRate && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %s)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.JobsFailed, finished, snap.LookbackWindow,
			),
			Details: map[string]any{
				"failure_rate":    snap.FailRate,
				"threshold":       a.cfg.FailureRateThreshold,
				"failed":          snap.JobsFailed,
				"finished":        finished,
				"module_failures": snap.ModuleFailures,
			},
			Timestamp: now,
		})
	}

	if len(snap.StuckJobs) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckJobs,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d job(s) processing without progress for over %s",
				len(snap.StuckJobs), a.cfg.StuckAfter,
			),
			Details: map[string]any{
				"job_ids": snap.StuckJobs,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenSources) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourceOpen,
			Severity: "medium",
			Message:  "Scrape source circuit open: " + strings.Join(snap.OpenSources, ", "),
			Details: map[string]any{
				"sources": snap.OpenSources,
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
