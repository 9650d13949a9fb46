// Package controller resolves each room's effective heating target from
// three competing inputs: the weekly schedule, user-issued overrides with
// expiry, and live telemetry. It consumes updates from a Poller, runs the
// override state machine and publishes the resulting room states.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/poller"
	"github.com/clambin/intuis-monitor/pkg/pubsub"
	"golang.org/x/sync/errgroup"
)

// IntuisClient is the part of the cloud API the controller mutates through.
type IntuisClient interface {
	SetRoomState(ctx context.Context, cmd intuis.RoomCommand) error
	SwitchSchedule(ctx context.Context, scheduleID string) error
	SyncSchedule(ctx context.Context, payload intuis.SchedulePayload) error
}

// OverrideStore persists active overrides across restarts. May be nil.
type OverrideStore interface {
	SaveOverride(ctx context.Context, ov Override) error
	DeleteOverride(ctx context.Context, room string) error
	Overrides(ctx context.Context) ([]Override, error)
}

type Controller struct {
	client IntuisClient
	poller poller.Poller
	config Configuration
	store  OverrideStore
	logger *slog.Logger
	*pubsub.Publisher[[]RoomState]
	overrides *overrides
	update    atomic.Pointer[poller.Update]
	states    atomic.Pointer[[]RoomState]
	roomLocks sync.Map
}

func New(client IntuisClient, p poller.Poller, config Configuration, store OverrideStore, logger *slog.Logger) *Controller {
	return &Controller{
		client:    client,
		poller:    p,
		config:    config,
		store:     store,
		logger:    logger,
		Publisher: pubsub.New[[]RoomState](logger.With(slog.String("component", "registry"))),
		overrides: newOverrides(),
	}
}

// Run restores persisted overrides and then consumes poller updates until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.RestoreOverrides(ctx); err != nil {
		c.logger.Error("failed to restore overrides", slog.Any("err", err))
	}
	ch := c.poller.Subscribe()
	defer c.poller.Unsubscribe(ch)

	c.logger.Debug("started")
	defer c.logger.Debug("stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.processUpdate(ctx, update)
		}
	}
}

// RoomStates returns the most recently published room states.
func (c *Controller) RoomStates() []RoomState {
	if states := c.states.Load(); states != nil {
		return *states
	}
	return nil
}

// Update returns the most recent poller snapshot.
func (c *Controller) Update() (poller.Update, bool) {
	if update := c.update.Load(); update != nil {
		return *update, true
	}
	return poller.Update{}, false
}

func (c *Controller) processUpdate(ctx context.Context, update poller.Update) {
	c.update.Store(&update)

	renewed, expired := c.overrides.tick(update.Timestamp, c.config.PollInterval, c.config.duration)
	for _, ov := range renewed {
		if err := c.pushOverride(ctx, ov); err != nil {
			c.logger.Error("failed to renew override", slog.String("room", ov.Room), slog.Any("err", err))
		}
		c.saveOverride(ctx, ov)
	}
	for _, room := range expired {
		c.logger.Info("override expired", slog.String("room", room))
		c.deleteOverride(ctx, room)
	}

	// per-room resolution is pure: run it concurrently
	states := make([]RoomState, len(update.Home.Rooms))
	var g errgroup.Group
	for i, room := range update.Home.Rooms {
		g.Go(func() error {
			states[i] = c.roomState(update, room)
			return nil
		})
	}
	_ = g.Wait()

	c.states.Store(&states)
	c.Publisher.Publish(states)
}

// roomState resolves one room. Effective target precedence: active override,
// then the schedule zone's temperature, then the frost-protection floor when
// the room is off.
func (c *Controller) roomState(update poller.Update, room intuis.RoomConfig) RoomState {
	state := RoomState{ID: room.ID, Name: room.Name, Mode: Scheduled, HVACMode: "auto"}

	status, ok := update.Room(room.ID)
	if !ok {
		// not in this update: retain last known values, flagged unreachable
		if last, found := c.lastState(room.ID); found {
			state = last
		}
		state.Reachable = false
		return state
	}

	state.Temperature = status.Temperature
	state.Heating = update.Heating(room.ID)
	state.OpenWindow = status.OpenWindow
	state.Presence = status.Presence
	state.Reachable = true

	if update.Schedule != nil {
		if temp, found := update.Schedule.TargetTemp(room.ID, update.Timestamp); found {
			state.ScheduledTemp = temp
		}
		if at, next, found := update.Schedule.NextChange(room.ID, update.Timestamp); found {
			state.NextChange = at
			if temp, ok := nextTemp(update, room.ID, next.ZoneID); ok {
				state.NextTarget = temp
			}
		}
	}

	ov, hasOverride := c.overrides.get(room.ID)
	switch {
	case hasOverride:
		state.Mode = ov.Kind
		state.HVACMode = "heat"
		state.Target = ov.Temperature
		state.OverrideExpiry = ov.ExpiresAt
	case status.Mode == intuis.ModeOff:
		state.HVACMode = "off"
		state.Target = c.config.frostTemperature(room.Name)
	default:
		state.Target = state.ScheduledTemp
		if !state.NextChange.IsZero() {
			state.Anticipating = shouldAnticipate(
				state.Temperature, state.NextTarget,
				state.NextChange.Sub(update.Timestamp), c.config.warmupPerDegree(room.Name))
		}
	}

	if reading, found := update.Energy[room.ID]; found {
		state.Consumption = reading.Consumption
		state.HeatingMinutes = reading.HeatingMinutes
		state.EnergyPartial = reading.Partial
	}
	return state
}

func nextTemp(update poller.Update, roomID string, zoneID int) (float64, bool) {
	zone, ok := update.Schedule.ZoneByID(zoneID)
	if !ok {
		return 0, false
	}
	temp, ok := zone.RoomTemps[roomID]
	return temp, ok
}

func (c *Controller) lastState(roomID string) (RoomState, bool) {
	for _, state := range c.RoomStates() {
		if state.ID == roomID {
			return state, true
		}
	}
	return RoomState{}, false
}

// pushOverride writes an override to the cloud.
func (c *Controller) pushOverride(ctx context.Context, ov Override) error {
	return c.client.SetRoomState(ctx, intuis.RoomCommand{
		RoomID:      ov.Room,
		Mode:        kindMode(ov.Kind),
		Temperature: ov.Temperature,
		EndTime:     ov.ExpiresAt.Unix(),
	})
}

func kindMode(kind Kind) string {
	switch kind {
	case Away:
		return intuis.ModeAway
	case Boost:
		return intuis.ModeBoost
	default:
		return intuis.ModeManual
	}
}

// RestoreOverrides reloads persisted overrides, dropping any that expired
// while the process was down.
func (c *Controller) RestoreOverrides(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.Overrides(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, ov := range stored {
		if !ov.Indefinite && !now.Before(ov.ExpiresAt) {
			c.deleteOverride(ctx, ov.Room)
			continue
		}
		c.overrides.set(ov)
	}
	return nil
}

func (c *Controller) saveOverride(ctx context.Context, ov Override) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveOverride(ctx, ov); err != nil {
		c.logger.Error("failed to persist override", slog.String("room", ov.Room), slog.Any("err", err))
	}
}

func (c *Controller) deleteOverride(ctx context.Context, room string) {
	if c.store == nil {
		return
	}
	if err := c.store.DeleteOverride(ctx, room); err != nil {
		c.logger.Error("failed to remove persisted override", slog.String("room", room), slog.Any("err", err))
	}
}

// roomLock serializes override writes per room, preserving last-writer-wins
// under concurrent preset calls.
func (c *Controller) roomLock(room string) *sync.Mutex {
	lock, _ := c.roomLocks.LoadOrStore(room, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
