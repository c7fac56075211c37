// Package telemetry publishes tracker observations over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/config"
	"github.com/sourcewatch-project/sourcewatch/internal/events"
	"github.com/sourcewatch-project/sourcewatch/internal/util"
)

// MQTT topics
const (
	TopicStatus      = "sourcewatch/status"
	TopicTransitions = "sourcewatch/transitions"
	TopicSweeps      = "sourcewatch/sweeps"
	TopicAdmin       = "sourcewatch/admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	// Build system metadata
	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": "1.0.0",
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	// Configure MQTT client
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("sourcewatch-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	// TLS configuration
	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	// Connection callbacks
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.MQTT.BrokerURL).
		Int("port", h.cfg.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	// Subscribe to EventBus events for publishing
	h.subscribeEvents()

	// Block until context cancelled
	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventServerStatus, "mqtt.serverStatus", h.onServerStatus)
	h.eventBus.Subscribe(events.EventServerOnline, "mqtt.serverOnline", h.onTransition)
	h.eventBus.Subscribe(events.EventServerOffline, "mqtt.serverOffline", h.onTransition)
	h.eventBus.Subscribe(events.EventMasterSweepDone, "mqtt.masterSweep", h.onMasterSweep)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	// Merge metadata with payload
	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	// Add metadata
	for k, v := range h.metadata {
		msg[k] = v
	}

	// Add payload
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onServerStatus(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, event.Payload)
	return nil
}

func (h *MQTTHandler) onTransition(ctx context.Context, event events.Event) error {
	h.publish(TopicTransitions, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMasterSweep(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MasterSweepPayload)
	if !ok {
		return nil
	}

	// The full endpoint list can run to thousands of entries; publish the
	// summary only.
	h.publish(TopicSweeps, map[string]interface{}{
		"master":      payload.MasterAddr,
		"filter":      payload.Filter,
		"servers":     len(payload.Servers),
		"duration_ms": payload.Duration.Milliseconds(),
	})
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
