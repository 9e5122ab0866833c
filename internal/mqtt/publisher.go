package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// CommandHandler handles MQTT commands
type CommandHandler interface {
	HandlePause(chargerName string) error
	HandleResume(chargerName string) error
	HandleLock(chargerName string, locked bool) error
	HandleSetSetpoint(chargerName, field string, value int) error
	HandleSetKmToCharge(chargerName string, km float64) error
	HandleSetMaxPrice(chargerName string, price float64) error
	HandleSetPvpc(chargerName string, on bool) error
}

// CommandRequest represents an MQTT command request. Action may also arrive
// as a bare string payload for the argument-less verbs.
type CommandRequest struct {
	Action        string  `json:"action,omitempty"`
	Field         string  `json:"field,omitempty"`          // for set_setpoint
	Value         float64 `json:"value,omitempty"`          // numeric argument
	ResponseTopic string  `json:"response_topic,omitempty"` // Optional topic to publish response to
}

// CommandResponse represents an MQTT command response
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// MqttHandler handles MQTT message publishing and command subscriptions
type MqttHandler struct {
	client      mqtt.Client
	topicPrefix string
	logger      *zap.Logger
	enabled     bool
	handler     CommandHandler // Optional command handler
}

// NewMqttHandler creates a new MQTT handler for publishing and subscribing
func NewMqttHandler(broker string, port int, username, password, clientID, topicPrefix string, logger *zap.Logger) (*MqttHandler, error) {
	span := tracer.StartSpan("mqtt.new_handler")
	defer span.Finish()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connected to broker", zap.String("broker", broker))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("MQTT handler initialized", zap.String("broker", broker), zap.String("topic_prefix", topicPrefix))

	return &MqttHandler{
		client:      client,
		topicPrefix: topicPrefix,
		logger:      logger,
		enabled:     true,
	}, nil
}

// SubscribeToCommands subscribes to command topics and handles incoming commands
func (h *MqttHandler) SubscribeToCommands(handler CommandHandler) error {
	if !h.enabled {
		return nil
	}

	h.handler = handler

	// Subscribe to command topic: {prefix}/chargers/+/command
	commandTopic := fmt.Sprintf("%s/chargers/+/command", h.topicPrefix)
	token := h.client.Subscribe(commandTopic, 1, h.handleCommandMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", commandTopic, token.Error())
	}

	h.logger.Info("Subscribed to MQTT command topics", zap.String("topic", commandTopic))
	return nil
}

// handleCommandMessage processes incoming MQTT command messages
func (h *MqttHandler) handleCommandMessage(client mqtt.Client, msg mqtt.Message) {
	if !h.enabled || h.handler == nil {
		return
	}

	span := tracer.StartSpan("mqtt.handle_command", tracer.Tag("topic", msg.Topic()))
	defer span.Finish()

	topic := msg.Topic()
	payload := msg.Payload()

	h.logger.Debug("Received MQTT command", zap.String("topic", topic), zap.String("payload", string(payload)))

	// Parse topic: {prefix}/chargers/{chargerName}/command
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] != "command" {
		h.logger.Warn("Invalid command topic format", zap.String("topic", topic))
		return
	}

	chargerName := parts[len(parts)-2]

	payloadStr := strings.TrimSpace(string(payload))
	if payloadStr == "" {
		h.logger.Warn("Empty payload for command topic", zap.String("topic", topic))
		return
	}

	var cmdReq CommandRequest
	if err := json.Unmarshal(payload, &cmdReq); err != nil || cmdReq.Action == "" {
		// Bare string verb (pause/resume/lock/unlock)
		cmdReq.Action = payloadStr
	}

	span.SetTag("charger", chargerName)
	span.SetTag("action", cmdReq.Action)

	resp := h.executeCommand(chargerName, cmdReq)

	// Publish response if response_topic is provided
	if cmdReq.ResponseTopic != "" {
		respJSON, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("Failed to marshal command response", zap.Error(err))
			return
		}

		token := h.client.Publish(cmdReq.ResponseTopic, 0, false, respJSON) // QoS 0, not retained
		if token.Wait() && token.Error() != nil {
			h.logger.Error("Failed to publish command response",
				zap.String("topic", cmdReq.ResponseTopic),
				zap.Error(token.Error()))
		}
	}
}

func (h *MqttHandler) executeCommand(chargerName string, req CommandRequest) CommandResponse {
	var err error
	var message string

	switch req.Action {
	case "pause":
		err = h.handler.HandlePause(chargerName)
		message = "Charging paused"
	case "resume":
		err = h.handler.HandleResume(chargerName)
		message = "Charging resumed"
	case "lock":
		err = h.handler.HandleLock(chargerName, true)
		message = "Charger locked"
	case "unlock":
		err = h.handler.HandleLock(chargerName, false)
		message = "Charger unlocked"
	case "set_intensity":
		err = h.handler.HandleSetSetpoint(chargerName, trydan.FieldIntensity, int(req.Value))
		message = fmt.Sprintf("Intensity set to %dA", int(req.Value))
	case "set_min_intensity":
		err = h.handler.HandleSetSetpoint(chargerName, trydan.FieldMinIntensity, int(req.Value))
		message = fmt.Sprintf("Min intensity set to %dA", int(req.Value))
	case "set_max_intensity":
		err = h.handler.HandleSetSetpoint(chargerName, trydan.FieldMaxIntensity, int(req.Value))
		message = fmt.Sprintf("Max intensity set to %dA", int(req.Value))
	case "set_dynamic_power_mode":
		err = h.handler.HandleSetSetpoint(chargerName, trydan.FieldDynamicPowerMode, int(req.Value))
		message = fmt.Sprintf("Dynamic power mode set to %d", int(req.Value))
	case "set_km_to_charge":
		err = h.handler.HandleSetKmToCharge(chargerName, req.Value)
		message = fmt.Sprintf("Distance target set to %.0f km", req.Value)
	case "set_max_price":
		err = h.handler.HandleSetMaxPrice(chargerName, req.Value)
		message = fmt.Sprintf("Max price set to %.3f", req.Value)
	case "pvpc_on":
		err = h.handler.HandleSetPvpc(chargerName, true)
		message = "PVPC charge gating enabled"
	case "pvpc_off":
		err = h.handler.HandleSetPvpc(chargerName, false)
		message = "PVPC charge gating disabled"
	default:
		h.logger.Warn("Unknown command action", zap.String("action", req.Action))
		return CommandResponse{
			Success: false,
			Message: "Unknown command",
			Error:   fmt.Sprintf("unknown action: %s", req.Action),
		}
	}

	if err != nil {
		return CommandResponse{
			Success: false,
			Message: fmt.Sprintf("Command %s failed", req.Action),
			Error:   err.Error(),
		}
	}
	return CommandResponse{Success: true, Message: message}
}

// PublishChargerState publishes per-field retained topics for one charger
// plus the derived values. Individual topics keep Home Assistant MQTT
// discovery simple.
func (h *MqttHandler) PublishChargerState(chargerName string, snap trydan.Snapshot, derived map[string]interface{}) error {
	if !h.enabled {
		return nil
	}

	span := tracer.StartSpan("mqtt.publish_charger_state", tracer.Tag("charger", chargerName))
	defer span.Finish()

	baseTopic := fmt.Sprintf("%s/chargers/%s", h.topicPrefix, chargerName)

	for key, value := range snap {
		if err := h.publish(fmt.Sprintf("%s/%s", baseTopic, key), value); err != nil {
			return err
		}
	}
	for key, value := range derived {
		if err := h.publish(fmt.Sprintf("%s/%s", baseTopic, key), value); err != nil {
			return err
		}
	}

	return h.publish(baseTopic+"/availability", "online")
}

// PublishAvailability marks a charger online/offline.
func (h *MqttHandler) PublishAvailability(chargerName string, online bool) error {
	if !h.enabled {
		return nil
	}
	state := "offline"
	if online {
		state = "online"
	}
	return h.publish(fmt.Sprintf("%s/chargers/%s/availability", h.topicPrefix, chargerName), state)
}

// PublishEvent publishes a custom event (e.g. charging complete) for
// external automations.
func (h *MqttHandler) PublishEvent(chargerName, event string, data map[string]interface{}) error {
	if !h.enabled {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	topic := fmt.Sprintf("%s/chargers/%s/events/%s", h.topicPrefix, chargerName, event)
	token := h.client.Publish(topic, 0, false, payload) // QoS 0, not retained: events are moments
	if token.Wait() && token.Error() != nil {
		h.logger.Error("Failed to publish event", zap.String("topic", topic), zap.Error(token.Error()))
		return token.Error()
	}

	h.logger.Debug("Published event", zap.String("topic", topic))
	return nil
}

// ChargerInfo represents charger information for the list
type ChargerInfo struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Available bool   `json:"available"`
}

// PublishChargerList publishes the list of configured chargers
func (h *MqttHandler) PublishChargerList(chargers []ChargerInfo) error {
	if !h.enabled {
		return nil
	}

	span := tracer.StartSpan("mqtt.publish_charger_list")
	defer span.Finish()

	listJSON, err := json.Marshal(chargers)
	if err != nil {
		return fmt.Errorf("failed to marshal charger list: %w", err)
	}

	// Publish as retained message so clients can discover chargers on startup
	topic := fmt.Sprintf("%s/chargers", h.topicPrefix)
	token := h.client.Publish(topic, 0, true, listJSON) // QoS 0, retained
	if token.Wait() && token.Error() != nil {
		h.logger.Error("Failed to publish charger list", zap.String("topic", topic), zap.Error(token.Error()))
		return token.Error()
	}

	h.logger.Debug("Published charger list", zap.String("topic", topic), zap.Int("count", len(chargers)))
	return nil
}

// publish publishes a value to a topic (handles different types)
func (h *MqttHandler) publish(topic string, value interface{}) error {
	var payload string
	switch v := value.(type) {
	case bool:
		if v {
			payload = "true"
		} else {
			payload = "false"
		}
	case string:
		payload = v
	case float64:
		payload = fmt.Sprintf("%g", v)
	case int:
		payload = fmt.Sprintf("%d", v)
	default:
		payload = fmt.Sprintf("%v", v)
	}

	token := h.client.Publish(topic, 0, true, payload) // QoS 0, retained
	if token.Wait() && token.Error() != nil {
		h.logger.Error("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(token.Error()))
		return token.Error()
	}

	return nil
}

// Close closes the MQTT connection
func (h *MqttHandler) Close() {
	if h.client != nil && h.client.IsConnected() {
		h.client.Disconnect(250)
		h.logger.Info("MQTT handler closed")
	}
}
