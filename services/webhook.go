package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chairlink/models"

	"go.uber.org/zap"
)

// WebhookNotifier posts connectivity alerts as JSON to an HTTP endpoint
type WebhookNotifier struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// WebhookPayload is the body posted for every alert
type WebhookPayload struct {
	AlertType       string                    `json:"alert_type"`
	Severity        string                    `json:"severity"`
	Status          models.DeviceHealthStatus `json:"status"`
	Device          models.DeviceIdentity     `json:"device"`
	DownSince       time.Time                 `json:"down_since"`
	DowntimeSeconds float64                   `json:"downtime_seconds"`
	Timestamp       time.Time                 `json:"timestamp"`
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(logger *zap.Logger, url string) *WebhookNotifier {
	return &WebhookNotifier{
		logger: logger,
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendConnectivityAlert sends the alert via HTTP POST
func (w *WebhookNotifier) SendConnectivityAlert(ctx context.Context, alert models.ConnectivityAlert) error {
	payload := WebhookPayload{
		AlertType:       "device_connectivity",
		Severity:        alertSeverity(alert.Status),
		Status:          alert.Status,
		Device:          alert.Device,
		DownSince:       alert.DownSince,
		DowntimeSeconds: alert.Downtime.Seconds(),
		Timestamp:       alert.Timestamp,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		w.logger.Error("Failed to create HTTP request",
			zap.Error(err),
			zap.String("url", w.url),
		)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chairlink/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("Failed to send webhook alert",
			zap.Error(err),
			zap.String("device", alert.Device.Name),
			zap.String("url", w.url),
		)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("Webhook alert sent successfully",
			zap.String("device", alert.Device.Name),
			zap.String("status", string(alert.Status)),
			zap.String("severity", payload.Severity),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	}

	w.logger.Error("Webhook endpoint returned error",
		zap.String("device", alert.Device.Name),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status),
	)
	return fmt.Errorf("webhook error: %s", resp.Status)
}

func alertSeverity(status models.DeviceHealthStatus) string {
	switch status {
	case models.DeviceOffline:
		return "high"
	case models.DeviceRecovered:
		return "info"
	default:
		return "low"
	}
}
