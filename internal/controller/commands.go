package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/schedule"
)

// ParseKind maps a preset name to an override kind. "home" (and "schedule")
// mean no override.
func ParseKind(preset string) (Kind, error) {
	switch preset {
	case "home", "schedule", "scheduled", "auto":
		return Scheduled, nil
	case "manual":
		return Manual, nil
	case "away":
		return Away, nil
	case "boost":
		return Boost, nil
	}
	return Scheduled, fmt.Errorf("invalid preset %q", preset)
}

// SetPreset creates or replaces the room's override. A zero temperature or
// duration selects the configured default for the kind; manual overrides
// require an explicit temperature. Setting the Scheduled kind clears any
// override.
func (c *Controller) SetPreset(ctx context.Context, room string, kind Kind, temperature float64, duration time.Duration) error {
	if kind == Scheduled {
		return c.SetHVACMode(ctx, room, "auto")
	}
	if temperature == 0 {
		var ok bool
		if temperature, ok = c.config.temperature(kind); !ok {
			return fmt.Errorf("%s override requires a temperature", kind)
		}
	}
	if duration == 0 {
		duration = c.config.duration(kind)
	}

	lock := c.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	ov := Override{
		Room:        room,
		Kind:        kind,
		Temperature: temperature,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
		Indefinite:  c.config.Indefinite && kind == Manual,
	}
	if err := c.pushOverride(ctx, ov); err != nil {
		return fmt.Errorf("set %s override: %w", kind, err)
	}
	c.overrides.set(ov)
	c.saveOverride(ctx, ov)
	c.logger.Info("override set",
		slog.String("room", room), slog.String("kind", kind.String()),
		slog.Float64("temperature", temperature), slog.Time("until", ov.ExpiresAt))
	c.poller.Refresh()
	return nil
}

// SetTargetTemperature creates a manual override at the given temperature
// for the configured manual duration.
func (c *Controller) SetTargetTemperature(ctx context.Context, room string, temperature float64) error {
	return c.SetPreset(ctx, room, Manual, temperature, 0)
}

// SetHVACMode switches the room between auto (follow the schedule), heat
// (manual override at the current target) and off (frost protection).
func (c *Controller) SetHVACMode(ctx context.Context, room string, mode string) error {
	switch mode {
	case "auto":
		return c.clearOverride(ctx, room, intuis.ModeHome)
	case "off":
		return c.clearOverride(ctx, room, intuis.ModeOff)
	case "heat":
		target := c.config.BoostTemperature
		if state, ok := c.lastState(room); ok && state.Target > 0 {
			target = state.Target
		}
		return c.SetPreset(ctx, room, Manual, target, 0)
	}
	return fmt.Errorf("invalid hvac mode %q", mode)
}

func (c *Controller) clearOverride(ctx context.Context, room string, cloudMode string) error {
	lock := c.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	if err := c.client.SetRoomState(ctx, intuis.RoomCommand{RoomID: room, Mode: cloudMode}); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	c.overrides.clear(room)
	c.deleteOverride(ctx, room)
	c.logger.Info("override cleared", slog.String("room", room), slog.String("mode", cloudMode))
	c.poller.Refresh()
	return nil
}

// SwitchSchedule makes the named schedule the home's active one.
func (c *Controller) SwitchSchedule(ctx context.Context, name string) error {
	update, ok := c.Update()
	if !ok {
		return fmt.Errorf("no update received yet")
	}
	raw, ok := update.Home.ScheduleByName(name)
	if !ok {
		return fmt.Errorf("unknown schedule %q", name)
	}
	if err := c.client.SwitchSchedule(ctx, raw.ID); err != nil {
		return fmt.Errorf("switch schedule: %w", err)
	}
	c.logger.Info("schedule switched", slog.String("schedule", name))
	c.poller.Refresh()
	return nil
}

// SetScheduleSlot edits the active schedule's timetable and writes it back
// to the cloud. An empty room applies the edit to all rooms.
func (c *Controller) SetScheduleSlot(ctx context.Context, room string, startDay int, startTime string, endDay int, endTime string, zoneName string) error {
	update, ok := c.Update()
	if !ok {
		return fmt.Errorf("no update received yet")
	}
	raw, ok := update.Home.ActiveSchedule()
	if !ok {
		return fmt.Errorf("no active schedule")
	}
	edited, err := schedule.FromRaw(raw)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}
	if err = edited.SetSlot(room, startDay, startTime, endDay, endTime, zoneName); err != nil {
		return err
	}
	if err = c.client.SyncSchedule(ctx, edited.Payload()); err != nil {
		return fmt.Errorf("sync schedule: %w", err)
	}
	c.logger.Info("schedule slot set", slog.String("schedule", raw.Name), slog.String("zone", zoneName))
	c.poller.Refresh()
	return nil
}

// Refresh requests an immediate poll.
func (c *Controller) Refresh() {
	c.poller.Refresh()
}
