// Package mqtt publishes room state to an MQTT broker, so home automation
// systems can consume intuis-monitor's view of the home without polling its API.
package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client is the subset of paho's mqtt.Client used by the bridge.
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends out the room states to publish.
type Publisher interface {
	Subscribe() chan []controller.RoomState
	Unsubscribe(ch chan []controller.RoomState)
}

// Bridge publishes each room's state as a retained JSON message at
// <prefix>/room/<id>/state whenever the controller produces a new set of states.
type Bridge struct {
	client Client
	states Publisher
	prefix string
	logger *slog.Logger
}

// New creates a Bridge publishing to the broker at brokerURL.
func New(brokerURL string, prefix string, states Publisher, logger *slog.Logger) *Bridge {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("intuis-monitor").
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	return NewWithClient(paho.NewClient(opts), prefix, states, logger)
}

// NewWithClient creates a Bridge using the provided MQTT client.
func NewWithClient(client Client, prefix string, states Publisher, logger *slog.Logger) *Bridge {
	return &Bridge{
		client: client,
		states: states,
		prefix: prefix,
		logger: logger,
	}
}

// Run connects to the broker and publishes room states until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer b.client.Disconnect(250)
	b.logger.Debug("mqtt bridge started")
	defer b.logger.Debug("mqtt bridge stopped")

	ch := b.states.Subscribe()
	defer b.states.Unsubscribe(ch)

	for {
		select {
		case states := <-ch:
			b.publish(states)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) publish(states []controller.RoomState) {
	for _, state := range states {
		payload, err := json.Marshal(roomMessage(state))
		if err != nil {
			b.logger.Error("failed to marshal room state", "err", err, slog.String("room", state.Name))
			continue
		}
		topic := b.prefix + "/room/" + state.ID + "/state"
		if token := b.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			b.logger.Error("failed to publish room state", "err", token.Error(), slog.String("topic", topic))
		}
	}
}

type message struct {
	Name           string  `json:"name"`
	Mode           string  `json:"mode"`
	HVACMode       string  `json:"hvac_mode"`
	Temperature    float64 `json:"temperature"`
	Target         float64 `json:"target"`
	ScheduledTemp  float64 `json:"scheduled_temp"`
	OverrideExpiry string  `json:"override_expiry,omitempty"`
	Anticipating   bool    `json:"anticipating"`
	Heating        bool    `json:"heating"`
	OpenWindow     bool    `json:"open_window"`
	Reachable      bool    `json:"reachable"`
	NextChange     string  `json:"next_change,omitempty"`
	NextTarget     string  `json:"next_target,omitempty"`
	EnergyKWh      float64 `json:"energy_kwh"`
	HeatingMinutes float64 `json:"heating_minutes"`
}

func roomMessage(state controller.RoomState) message {
	m := message{
		Name:           state.Name,
		Mode:           state.Mode.String(),
		HVACMode:       state.HVACMode,
		Temperature:    state.Temperature,
		Target:         state.Target,
		ScheduledTemp:  state.ScheduledTemp,
		Anticipating:   state.Anticipating,
		Heating:        state.Heating,
		OpenWindow:     state.OpenWindow,
		Reachable:      state.Reachable,
		EnergyKWh:      state.Consumption,
		HeatingMinutes: state.HeatingMinutes,
	}
	if !state.OverrideExpiry.IsZero() {
		m.OverrideExpiry = state.OverrideExpiry.Format(time.RFC3339)
	}
	if !state.NextChange.IsZero() {
		m.NextChange = state.NextChange.Format(time.RFC3339)
		m.NextTarget = strconv.FormatFloat(state.NextTarget, 'f', 1, 64)
	}
	return m
}
