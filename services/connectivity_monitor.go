package services

import (
	"context"
	"sync"
	"time"

	"chairlink/config"
	"chairlink/models"

	"go.uber.org/zap"
)

// ConnectivityMonitor watches the device connection and alerts when it stays
// down longer than the configured threshold, then again when it recovers.
type ConnectivityMonitor struct {
	alertAfter    time.Duration
	checkInterval time.Duration
	notifiers     []Notifier
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	health models.DeviceHealth
}

// NewConnectivityMonitor creates a new connectivity monitor. The device counts
// as down from construction until the first connect.
func NewConnectivityMonitor(cfg *config.Config, logger *zap.Logger, notifiers ...Notifier) *ConnectivityMonitor {
	now := time.Now()
	return &ConnectivityMonitor{
		alertAfter:    cfg.OfflineAlertAfter,
		checkInterval: 10 * time.Second,
		notifiers:     notifiers,
		logger:        logger,
		now:           time.Now,
		health: models.DeviceHealth{
			Device:     DeviceFromConfig(cfg),
			Status:     models.DeviceOffline,
			LastChange: now,
			DownSince:  now,
		},
	}
}

// Start runs the offline checker until ctx is done
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	m.logger.Info("Starting connectivity monitor",
		zap.Duration("offline_alert_after", m.alertAfter),
		zap.Duration("check_interval", m.checkInterval))

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.checkOffline(ctx)
		}
	}
}

// SetConnected records a connect or disconnect transition
func (m *ConnectivityMonitor) SetConnected(ctx context.Context, connected bool) {
	m.mu.Lock()
	h := &m.health
	if h.Connected == connected {
		m.mu.Unlock()
		return
	}

	now := m.now()
	h.Connected = connected
	h.LastChange = now

	var alert *models.ConnectivityAlert
	if connected {
		if h.EverConnected {
			h.Reconnects++
		}
		h.EverConnected = true

		// only outages that were reported get a recovery alert
		if h.AlertSent {
			alert = &models.ConnectivityAlert{
				Device:    h.Device,
				Status:    models.DeviceRecovered,
				DownSince: h.DownSince,
				Downtime:  now.Sub(h.DownSince),
				Timestamp: now,
			}
			m.logger.Info("Device recovered",
				zap.String("device", h.Device.Name),
				zap.Duration("down_duration", alert.Downtime))
		}
		h.Status = models.DeviceOnline
		h.DownSince = time.Time{}
		h.AlertSent = false
	} else {
		h.Status = models.DeviceOffline
		h.DownSince = now
		m.logger.Info("Device disconnected", zap.String("device", h.Device.Name))
	}
	m.mu.Unlock()

	if alert != nil {
		m.send(ctx, *alert)
	}
}

// checkOffline sends one offline alert per outage once it exceeds the threshold
func (m *ConnectivityMonitor) checkOffline(ctx context.Context) {
	m.mu.Lock()
	h := &m.health
	now := m.now()

	if h.Connected || h.AlertSent || now.Sub(h.DownSince) <= m.alertAfter {
		m.mu.Unlock()
		return
	}

	h.AlertSent = true
	alert := models.ConnectivityAlert{
		Device:    h.Device,
		Status:    models.DeviceOffline,
		DownSince: h.DownSince,
		Downtime:  now.Sub(h.DownSince),
		Timestamp: now,
	}
	m.mu.Unlock()

	m.logger.Warn("Device offline",
		zap.String("device", alert.Device.Name),
		zap.Time("down_since", alert.DownSince),
		zap.Duration("downtime", alert.Downtime))

	m.send(ctx, alert)
}

func (m *ConnectivityMonitor) send(ctx context.Context, alert models.ConnectivityAlert) {
	for _, n := range m.notifiers {
		if err := n.SendConnectivityAlert(ctx, alert); err != nil {
			m.logger.Error("Failed to send connectivity alert",
				zap.String("status", string(alert.Status)),
				zap.Error(err))
		}
	}
}

// Health returns a copy of the tracked device health
func (m *ConnectivityMonitor) Health() models.DeviceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}
