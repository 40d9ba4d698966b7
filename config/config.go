package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the persisted hygiene calendar
const (
	StorageFile     = "file"
	StorageFirebase = "firebase"
	StorageNATS     = "nats"
)

type Config struct {
	// Device connection
	ChairHost        string
	ChairPort        int
	ChairPath        string
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration

	// Device identity, immutable for the process lifetime
	DeviceName         string
	DeviceManufacturer string
	DeviceModel        string
	DeviceVersion      string
	DeviceUniqueID     string
	DeviceTimezone     string
	CalendarPrefix     string

	// Calendar persistence
	StorageBackend             string
	StorageDir                 string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	NATSURL                    string
	NATSBucket                 string

	// Downstream sinks
	MQTTBroker          string
	MQTTUser            string
	MQTTPass            string
	MQTTDiscoveryPrefix string
	MQTTBaseTopic       string
	RabbitMQURL         string
	RabbitMQExchange    string

	// Connectivity alerts
	TelegramBotToken  string
	TelegramChatID    string
	WebhookURL        string
	OfflineAlertAfter time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	deviceName := getEnv("DEVICE_NAME", "Test Chair")

	config := &Config{
		ChairHost:        getEnv("CHAIR_HOST", ""),
		ChairPort:        getEnvInt("CHAIR_PORT", 8765),
		ChairPath:        getEnv("CHAIR_PATH", "/"),
		RetryDelay:       getEnvDuration("RETRY_DELAY", 5*time.Second),
		HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),

		DeviceName:         deviceName,
		DeviceManufacturer: getEnv("DEVICE_MANUFACTURER", "KaVo"),
		DeviceModel:        getEnv("DEVICE_MODEL", "SmartChair-X"),
		DeviceVersion:      getEnv("DEVICE_VERSION", "1.0"),
		DeviceUniqueID:     getEnv("DEVICE_UNIQUE_ID", Slug(deviceName)),
		DeviceTimezone:     getEnv("DEVICE_TIMEZONE", "Local"),
		CalendarPrefix:     getEnv("CALENDAR_PREFIX", "CAL_"),

		StorageBackend:             strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
		StorageDir:                 getEnv("STORAGE_DIR", "./data"),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		NATSURL:                    getEnv("NATS_URL", ""),
		NATSBucket:                 getEnv("NATS_BUCKET", "chairlink"),

		MQTTBroker:          getEnv("MQTT_BROKER", ""),
		MQTTUser:            getEnv("MQTT_USER", ""),
		MQTTPass:            getEnv("MQTT_PASS", ""),
		MQTTDiscoveryPrefix: getEnv("MQTT_DISCOVERY_PREFIX", "homeassistant"),
		MQTTBaseTopic:       getEnv("MQTT_BASE_TOPIC", "chairlink"),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:    getEnv("RABBITMQ_EXCHANGE", "chairlink.entities"),

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		OfflineAlertAfter: getEnvDuration("OFFLINE_ALERT_AFTER", time.Minute),

		MetricsAddr: getEnv("METRICS_ADDR", ":9108"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}

	return config, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.ChairHost == "" {
		return fmt.Errorf("CHAIR_HOST is required")
	}
	if c.ChairPort <= 0 || c.ChairPort > 65535 {
		return fmt.Errorf("CHAIR_PORT %d out of range", c.ChairPort)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("RETRY_DELAY must be positive")
	}
	if c.DeviceUniqueID == "" {
		return fmt.Errorf("DEVICE_UNIQUE_ID is required")
	}
	if c.CalendarPrefix == "" {
		return fmt.Errorf("CALENDAR_PREFIX must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.StorageBackend {
	case StorageFile:
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required for file storage")
		}
	case StorageFirebase:
		if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
			return fmt.Errorf("firebase storage requires FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON")
		}
	case StorageNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("nats storage requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("telegram alerts require both TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}

	return nil
}

// DeviceURL is the websocket endpoint of the chair controller
func (c *Config) DeviceURL() string {
	path := c.ChairPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", c.ChairHost, c.ChairPort, path)
}

// Location resolves DeviceTimezone; naive calendar timestamps are read in it
func (c *Config) Location() (*time.Location, error) {
	if c.DeviceTimezone == "" || c.DeviceTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.DeviceTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DEVICE_TIMEZONE %q: %w", c.DeviceTimezone, err)
	}
	return loc, nil
}

// Slug lower-cases a name and replaces spaces with underscores
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
