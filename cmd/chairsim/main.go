package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	addr       = flag.String("addr", ":8765", "Websocket listen address")
	interval   = flag.Duration("interval", 2*time.Second, "Interval between snapshots")
	clearProb  = flag.Float64("clear", 0.05, "Probability that a hygiene field is cleared (0.0-1.0)")
	mqttBroker = flag.String("broker", "", "Optional MQTT broker (host:port) to mirror snapshots to")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "chairsim/snapshot", "MQTT topic for mirrored snapshots")
)

// hygiene programs the simulated chair schedules
var hygienePrograms = []string{"CAL_flush_a", "CAL_flush_b", "CAL_disinfection", "CAL_suction_clean"}

type ChairSimulator struct {
	clearProbability float64
	baseWaterTemp    float64
	basePressure     float64
	logger           *zap.Logger

	mu       sync.Mutex
	schedule map[string]time.Time
}

func NewChairSimulator(clearProb float64, logger *zap.Logger) *ChairSimulator {
	now := time.Now().Truncate(time.Minute)
	schedule := make(map[string]time.Time, len(hygienePrograms))
	for i, name := range hygienePrograms {
		schedule[name] = now.Add(time.Duration(i+1) * 15 * time.Minute)
	}
	return &ChairSimulator{
		clearProbability: clearProb,
		baseWaterTemp:    36.5,
		basePressure:     2.2,
		schedule:         schedule,
		logger:           logger,
	}
}

// Snapshot generates one flat telemetry frame
func (c *ChairSimulator) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	waterTemp := c.baseWaterTemp + rand.Float64()*1.0 - 0.5
	pressure := c.basePressure + rand.Float64()*0.4 - 0.2

	snap := map[string]any{
		"water_temperature": math.Round(waterTemp*10) / 10,
		"water_pressure":    math.Round(pressure*100) / 100,
		"suction_power":     rand.Intn(30) + 70,
		"chair_position":    []string{"upright", "reclined", "trendelenburg"}[rand.Intn(3)],
		"treatment_light":   rand.Float64() < 0.5,
		"operating_hours":   fmt.Sprintf("%d", 1200+int(time.Now().Unix()/3600)%1000),
	}

	for _, name := range hygienePrograms {
		if rand.Float64() < c.clearProbability {
			snap[name] = ""
			continue
		}
		if time.Now().After(c.schedule[name].Add(3 * time.Minute)) {
			c.schedule[name] = c.schedule[name].Add(time.Hour)
		}
		snap[name] = c.schedule[name].Format(time.RFC3339)
	}
	return snap
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Dental chair simulator started",
		zap.String("addr", *addr),
		zap.Duration("interval", *interval),
		zap.Float64("clear_probability", *clearProb),
		zap.String("mqtt_broker", *mqttBroker),
	)

	var mqttClient mqtt.Client
	if *mqttBroker != "" {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
		opts.SetClientID(fmt.Sprintf("chairsim-%s", uuid.NewString()[:8]))
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
		opts.SetKeepAlive(60 * time.Second)
		opts.SetAutoReconnect(true)

		opts.OnConnect = func(client mqtt.Client) {
			logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
		}
		opts.OnConnectionLost = func(client mqtt.Client, err error) {
			logger.Error("MQTT connection lost", zap.Error(err))
		}

		mqttClient = mqtt.NewClient(opts)
		if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
		}
		defer mqttClient.Disconnect(250)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sim := NewChairSimulator(*clearProb, logger)
	var messageCount atomic.Int64

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		logger.Info("Bridge connected", zap.String("remote", r.RemoteAddr))

		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulator shutting down"))
				return
			case <-ticker.C:
				jsonData, err := json.Marshal(sim.Snapshot())
				if err != nil {
					logger.Error("Failed to marshal snapshot", zap.Error(err))
					continue
				}

				if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
					logger.Info("Bridge disconnected", zap.String("remote", r.RemoteAddr), zap.Error(err))
					return
				}
				count := messageCount.Add(1)

				if mqttClient != nil {
					token := mqttClient.Publish(*mqttTopic, 0, false, jsonData)
					if token.Wait() && token.Error() != nil {
						logger.Error("Failed to publish MQTT message", zap.Error(token.Error()))
					}
				}

				if count%100 == 0 {
					logger.Info("📊 Snapshots sent", zap.Int64("count", count))
				}
				logger.Debug("Snapshot sent", zap.String("data", string(jsonData)))
			}
		}
	})

	server := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Simulator server failed", zap.Error(err))
	}

	logger.Info("Shutdown complete",
		zap.Int64("total_messages", messageCount.Load()))
}
