// Package collector exposes the resolved room states as Prometheus metrics.
package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	roomTargetTempCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "target_temp_celsius"),
		"Effective target temperature of this room in degrees celsius",
		[]string{"room"},
		nil,
	)
	roomScheduledTempCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "scheduled_temp_celsius"),
		"Temperature the schedule alone would target for this room",
		[]string{"room"},
		nil,
	)
	roomTemperatureCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "temperature_celsius"),
		"Measured temperature of this room in degrees celsius",
		[]string{"room"},
		nil,
	)
	roomMode = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "override_mode"),
		"1 if an override of the given kind is active for this room",
		[]string{"room", "kind"},
		nil,
	)
	roomHeating = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "heating"),
		"1 if this room's radiator is currently on",
		[]string{"room"},
		nil,
	)
	roomAnticipating = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "anticipating"),
		"1 if this room is pre-heating ahead of a scheduled zone change",
		[]string{"room"},
		nil,
	)
	roomReachable = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "reachable"),
		"1 if this room's modules are reachable",
		[]string{"room"},
		nil,
	)
	roomEnergyKWh = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "energy_kwh"),
		"Energy consumed by this room in the current period. Label 'partial' is true when one or more tariff buckets had no data",
		[]string{"room", "partial"},
		nil,
	)
	roomHeatingMinutes = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "heating_minutes"),
		"Minutes this room's radiator has been on today",
		[]string{"room"},
		nil,
	)
	roomPresence = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "presence"),
		"1 if presence is detected in this room",
		[]string{"room"},
		nil,
	)
	roomOpenWindow = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "open_window"),
		"1 if an open window is detected in this room",
		[]string{"room"},
		nil,
	)
	roomOverrideExpiry = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "override_expiry_timestamp_seconds"),
		"Unix time the room's override expires. 0 when no override is active",
		[]string{"room"},
		nil,
	)
)

// Publisher is the source of room states, usually the controller.
type Publisher interface {
	Subscribe() chan []controller.RoomState
	Unsubscribe(ch chan []controller.RoomState)
}

type Collector struct {
	Publisher  Publisher
	Logger     *slog.Logger
	lock       sync.RWMutex
	lastStates []controller.RoomState
}

var _ prometheus.Collector = &Collector{}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Publisher.Subscribe()
	defer c.Publisher.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case states := <-ch:
			c.lock.Lock()
			c.lastStates = states
			c.lock.Unlock()
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- roomAnticipating
	ch <- roomEnergyKWh
	ch <- roomHeating
	ch <- roomHeatingMinutes
	ch <- roomMode
	ch <- roomOpenWindow
	ch <- roomOverrideExpiry
	ch <- roomPresence
	ch <- roomReachable
	ch <- roomScheduledTempCelsius
	ch <- roomTargetTempCelsius
	ch <- roomTemperatureCelsius
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for _, state := range c.lastStates {
		ch <- prometheus.MustNewConstMetric(roomTargetTempCelsius, prometheus.GaugeValue, state.Target, state.Name)
		ch <- prometheus.MustNewConstMetric(roomScheduledTempCelsius, prometheus.GaugeValue, state.ScheduledTemp, state.Name)
		ch <- prometheus.MustNewConstMetric(roomTemperatureCelsius, prometheus.GaugeValue, state.Temperature, state.Name)
		ch <- prometheus.MustNewConstMetric(roomMode, prometheus.GaugeValue, boolValue(state.Mode != controller.Scheduled), state.Name, state.Mode.String())
		ch <- prometheus.MustNewConstMetric(roomHeating, prometheus.GaugeValue, boolValue(state.Heating), state.Name)
		ch <- prometheus.MustNewConstMetric(roomAnticipating, prometheus.GaugeValue, boolValue(state.Anticipating), state.Name)
		ch <- prometheus.MustNewConstMetric(roomReachable, prometheus.GaugeValue, boolValue(state.Reachable), state.Name)
		ch <- prometheus.MustNewConstMetric(roomPresence, prometheus.GaugeValue, boolValue(state.Presence), state.Name)
		ch <- prometheus.MustNewConstMetric(roomOpenWindow, prometheus.GaugeValue, boolValue(state.OpenWindow), state.Name)
		ch <- prometheus.MustNewConstMetric(roomEnergyKWh, prometheus.GaugeValue, state.Consumption, state.Name, partialLabel(state.EnergyPartial))
		ch <- prometheus.MustNewConstMetric(roomHeatingMinutes, prometheus.GaugeValue, state.HeatingMinutes, state.Name)
		var expiry float64
		if !state.OverrideExpiry.IsZero() {
			expiry = float64(state.OverrideExpiry.Unix())
		}
		ch <- prometheus.MustNewConstMetric(roomOverrideExpiry, prometheus.GaugeValue, expiry, state.Name)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func partialLabel(partial bool) string {
	if partial {
		return "true"
	}
	return "false"
}
