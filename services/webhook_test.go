package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chairlink/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifierPostsAlert(t *testing.T) {
	var got WebhookPayload
	var contentType, userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		userAgent = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	down := mustParse(t, "2024-01-01T09:00:00Z")
	alert := models.ConnectivityAlert{
		Device:    testDevice(),
		Status:    models.DeviceOffline,
		DownSince: down,
		Downtime:  90 * time.Second,
		Timestamp: down.Add(90 * time.Second),
	}

	err := NewWebhookNotifier(zap.NewNop(), srv.URL).SendConnectivityAlert(context.Background(), alert)
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "chairlink/1.0", userAgent)
	assert.Equal(t, "device_connectivity", got.AlertType)
	assert.Equal(t, "high", got.Severity)
	assert.Equal(t, models.DeviceOffline, got.Status)
	assert.Equal(t, 90.0, got.DowntimeSeconds)
	assert.Equal(t, "test_chair", got.Device.UniqueID)
	assert.True(t, got.DownSince.Equal(down))
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(zap.NewNop(), srv.URL).SendConnectivityAlert(context.Background(),
		models.ConnectivityAlert{Device: testDevice(), Status: models.DeviceRecovered})

	assert.ErrorContains(t, err, "503")
}

func TestAlertSeverity(t *testing.T) {
	assert.Equal(t, "high", alertSeverity(models.DeviceOffline))
	assert.Equal(t, "info", alertSeverity(models.DeviceRecovered))
	assert.Equal(t, "low", alertSeverity(models.DeviceOnline))
}
