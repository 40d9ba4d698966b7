package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"chairlink/config"
	"chairlink/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// telegramSender is the part of *tgbotapi.BotAPI used to deliver messages
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramService struct {
	bot    telegramSender
	chatID int64
	logger *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}

	// Test Telegram connection with retry
	if err := ts.testConnection(bot); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %v", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection(bot *tgbotapi.BotAPI) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// SendConnectivityAlert sends an offline or recovery alert for the chair
func (ts *TelegramService) SendConnectivityAlert(_ context.Context, alert models.ConnectivityAlert) error {
	var message string
	switch alert.Status {
	case models.DeviceOffline:
		message = formatOfflineMessage(alert)
	case models.DeviceRecovered:
		message = formatRecoveredMessage(alert)
	default:
		return nil
	}

	if err := ts.SendStatusMessage(message); err != nil {
		return fmt.Errorf("error sending %s alert: %v", alert.Status, err)
	}

	ts.logger.Info("Sent connectivity alert",
		zap.String("device", alert.Device.Name),
		zap.String("status", string(alert.Status)),
		zap.Duration("downtime", alert.Downtime))
	return nil
}

func formatOfflineMessage(alert models.ConnectivityAlert) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>DENTAL CHAIR OFFLINE</b> ⚠️\n\n")

	sb.WriteString(fmt.Sprintf("🦷 <b>Device:</b> %s\n", html.EscapeString(alert.Device.Name)))
	sb.WriteString(fmt.Sprintf("🏷️ <b>Model:</b> %s %s\n", html.EscapeString(alert.Device.Manufacturer), html.EscapeString(alert.Device.Model)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Down Since:</b> %s\n", alert.DownSince.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Offline For:</b> %s\n\n", formatDuration(alert.Downtime)))

	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("The chair controller is unreachable. Telemetry and the hygiene plan are not being updated.\n\n")

	sb.WriteString("🔴 <b>Status:</b> DEVICE OFFLINE")
	return sb.String()
}

func formatRecoveredMessage(alert models.ConnectivityAlert) string {
	var sb strings.Builder

	sb.WriteString("✅ <b>DENTAL CHAIR RECOVERED</b> ✅\n\n")

	sb.WriteString(fmt.Sprintf("🦷 <b>Device:</b> %s\n", html.EscapeString(alert.Device.Name)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", alert.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(alert.Downtime)))

	sb.WriteString("🟢 <b>Status:</b> DEVICE ONLINE")
	return sb.String()
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage(device models.DeviceIdentity, url string) error {
	message := "🟢 <b>Chairlink Service Started</b>\n\n" +
		fmt.Sprintf("🦷 Device: %s\n", html.EscapeString(device.Name)) +
		fmt.Sprintf("📡 Endpoint: <code>%s</code>\n", html.EscapeString(url)) +
		"🤖 Telegram notifications active\n\n" +
		"✅ Waiting for the chair to connect..."

	return ts.SendStatusMessage(message)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
