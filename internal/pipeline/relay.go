package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/hub"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// stateQoS is the delivery guarantee for state and ack publishes.
// At-least-once with retained state gives late subscribers the current
// picture without replaying the bus.
const stateQoS byte = 1

// commandTimeout bounds one command execution, bus send included.
const commandTimeout = 5 * time.Second

// MQTTClient defines the MQTT operations the relay needs. Implemented
// by the infrastructure MQTT wrapper; mocked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Relay bridges the pipeline onto MQTT: state-change events out as
// retained per-entity messages, command messages in through the
// Commander, acknowledgements back out.
type Relay struct {
	mqtt      MQTTClient
	events    *hub.Hub
	commander *Commander

	sub    *hub.Subscription
	wg     sync.WaitGroup
	logger Logger
}

// NewRelay creates a relay. Start must be called to begin relaying.
func NewRelay(mqtt MQTTClient, events *hub.Hub, commander *Commander, logger Logger) *Relay {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Relay{
		mqtt:      mqtt,
		events:    events,
		commander: commander,
		logger:    logger,
	}
}

// Start subscribes to the command topic and begins publishing state
// changes. The initial hub snapshot republishes every known entity
// state, refreshing the broker's retained messages after a restart.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.mqtt.Subscribe(CommandSubscribeTopic(), stateQoS, r.handleCommand); err != nil {
		return err
	}

	r.sub = r.events.Subscribe(true)

	r.wg.Add(1)
	go r.stateLoop(ctx)

	r.logger.Info("mqtt relay started", "command_topic", CommandSubscribeTopic())
	return nil
}

// Stop ends the state loop. Safe to call once after Start.
func (r *Relay) Stop() {
	if r.sub != nil {
		r.sub.Close()
	}
	r.wg.Wait()
	r.logger.Info("mqtt relay stopped")
}

// stateLoop drains the hub subscription and publishes each event as a
// retained state message.
func (r *Relay) stateLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.publishState(event)
		}
	}
}

// publishState serialises one change event onto its entity topic.
func (r *Relay) publishState(event entity.StateChangeEvent) {
	msg := StateMessage{
		EntityID:  event.EntityID,
		Timestamp: event.Timestamp,
		Revision:  event.Revision,
		Values:    event.State.Values(),
		Cause:     string(event.Cause),
		Pending:   event.State.Pending,
		Stale:     event.State.Stale,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("state message marshal failed", "entity_id", event.EntityID, "error", err)
		return
	}

	if err := r.mqtt.Publish(StateTopic(event.EntityID), payload, stateQoS, true); err != nil {
		r.logger.Warn("state publish failed", "entity_id", event.EntityID, "error", err)
	}
}

// handleCommand processes one inbound command message. The entity is
// taken from the topic; a mismatching entity_id in the payload is
// rejected rather than silently redirected.
func (r *Relay) handleCommand(topic string, payload []byte) {
	entityID := entityFromCommandTopic(topic)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		r.logger.Warn("command parse failed", "topic", topic, "error", err)
		r.publishAck(entityID, AckMessage{
			CommandID: uuid.New().String(),
			EntityID:  entityID,
			Status:    AckFailed,
			Error:     &AckError{Code: ErrCodeInvalidParameters, Message: "malformed command payload"},
		})
		return
	}

	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	if cmd.EntityID != "" && cmd.EntityID != entityID {
		r.publishAck(entityID, AckMessage{
			CommandID: cmd.ID,
			EntityID:  entityID,
			Status:    AckFailed,
			Error:     &AckError{Code: ErrCodeInvalidParameters, Message: "entity_id does not match topic"},
		})
		return
	}
	cmd.EntityID = entityID

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ack := AckMessage{
		CommandID: cmd.ID,
		EntityID:  entityID,
		Status:    AckAccepted,
	}
	if err := r.commander.Execute(ctx, cmd.EntityID, cmd.Action, cmd.Parameters); err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
		r.logger.Warn("command failed",
			"entity_id", entityID, "action", cmd.Action, "code", ack.Error.Code, "error", err)
	}

	r.publishAck(entityID, ack)
}

// publishAck serialises one acknowledgement onto the entity's ack topic.
func (r *Relay) publishAck(entityID string, ack AckMessage) {
	ack.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(ack)
	if err != nil {
		r.logger.Error("ack marshal failed", "entity_id", entityID, "error", err)
		return
	}
	if err := r.mqtt.Publish(AckTopic(entityID), payload, stateQoS, false); err != nil {
		r.logger.Warn("ack publish failed", "entity_id", entityID, "error", err)
	}
}

// entityFromCommandTopic extracts the entity ID from a command topic
// (rvlink/command/{entity_id}).
func entityFromCommandTopic(topic string) string {
	prefix := TopicPrefix + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, prefix)
}

// ErrorCode maps a command execution error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, entity.ErrEntityNotFound):
		return ErrCodeUnknownEntity
	case errors.Is(err, ErrUnknownAction):
		return ErrCodeUnknownAction
	case errors.Is(err, entity.ErrUnsupportedCapability):
		return ErrCodeUnsupportedCapability
	case errors.Is(err, entity.ErrInvalidParameter),
		errors.Is(err, rvc.ErrValueOutOfRange),
		errors.Is(err, rvc.ErrUnknownSignal),
		errors.Is(err, rvc.ErrNotEncodable):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrNoInterface),
		errors.Is(err, canbus.ErrNotConnected),
		errors.Is(err, canbus.ErrSendFailed),
		errors.Is(err, canbus.ErrClosed):
		return ErrCodeBusUnavailable
	default:
		return ErrCodeBridgeError
	}
}
