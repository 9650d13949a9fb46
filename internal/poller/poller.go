// Package poller periodically fetches the home's state from the Intuis
// cloud and fans it out to subscribers as a consistent Update snapshot.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/clambin/intuis-monitor/internal/energy"
	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/schedule"
	"github.com/clambin/intuis-monitor/pkg/pubsub"
)

type Poller interface {
	Subscribe() chan Update
	Unsubscribe(ch chan Update)
	Refresh()
}

type IntuisGetter interface {
	GetHomesData(ctx context.Context) (intuis.Home, error)
	GetHomeStatus(ctx context.Context) (intuis.HomeStatus, error)
}

// Update is one snapshot of the home: configuration, live status, the
// parsed active schedule and the latest energy reading per room.
type Update struct {
	Timestamp time.Time
	Home      intuis.Home
	Status    intuis.HomeStatus
	Schedule  *schedule.Schedule
	Energy    map[string]energy.Reading
}

// Room returns the live status of one room.
func (u Update) Room(id string) (intuis.RoomStatus, bool) {
	for _, room := range u.Status.Rooms {
		if room.ID == id {
			return room, true
		}
	}
	return intuis.RoomStatus{}, false
}

// Heating reports whether any of the room's radiators is currently on.
func (u Update) Heating(roomID string) bool {
	var moduleIDs []string
	for _, room := range u.Home.Rooms {
		if room.ID == roomID {
			moduleIDs = room.ModuleIDs
			break
		}
	}
	for _, module := range u.Status.Modules {
		for _, id := range moduleIDs {
			if module.ID == id && module.RadiatorState == "on" {
				return true
			}
		}
	}
	return false
}

var _ Poller = &IntuisPoller{}

type IntuisPoller struct {
	client IntuisGetter
	energy *energy.Aggregator
	*pubsub.Publisher[Update]
	interval   time.Duration
	logger     *slog.Logger
	refresh    chan struct{}
	lastEnergy map[string]energy.Reading
	lastRooms  set.Set[string]
}

func New(client IntuisGetter, aggregator *energy.Aggregator, interval time.Duration, logger *slog.Logger) *IntuisPoller {
	return &IntuisPoller{
		client:     client,
		energy:     aggregator,
		Publisher:  pubsub.New[Update](logger.With(slog.String("component", "registry"))),
		interval:   interval,
		logger:     logger,
		refresh:    make(chan struct{}, 1),
		lastEnergy: make(map[string]energy.Reading),
	}
}

// Run polls the cloud at the configured interval until ctx is cancelled. A
// Refresh request triggers an immediate poll without changing the interval's
// phase.
func (p *IntuisPoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.interval))
	defer p.logger.Debug("stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			p.logger.Error("poll failed", slog.Any("err", err))
			var authErr *intuis.AuthError
			if errors.As(err, &authErr) {
				// revoked credentials: polling won't recover without new ones
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.refresh:
		}
	}
}

// Refresh requests an immediate poll. Requests arriving while a poll is
// already pending are coalesced.
func (p *IntuisPoller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *IntuisPoller) poll(ctx context.Context) error {
	start := time.Now()
	update, err := p.update(ctx)
	if err != nil {
		return err
	}
	p.logRoomChanges(update)
	p.Publisher.Publish(update)
	p.logger.Debug("poll completed", slog.Duration("duration", time.Since(start)))
	return nil
}

// logRoomChanges reports rooms appearing in or dropping out of the home's
// live status between polls.
func (p *IntuisPoller) logRoomChanges(update Update) {
	rooms := set.New[string]()
	for _, room := range update.Status.Rooms {
		rooms.Add(room.ID)
	}
	if p.lastRooms != nil {
		for _, id := range rooms.ListOrdered() {
			if !p.lastRooms.Contains(id) {
				p.logger.Info("room appeared", slog.String("room", id))
			}
		}
		for _, id := range p.lastRooms.ListOrdered() {
			if !rooms.Contains(id) {
				p.logger.Warn("room disappeared", slog.String("room", id))
			}
		}
	}
	p.lastRooms = rooms
}

func (p *IntuisPoller) update(ctx context.Context) (Update, error) {
	update := Update{Timestamp: time.Now()}
	var err error
	if update.Home, err = p.client.GetHomesData(ctx); err != nil {
		return Update{}, err
	}
	if update.Status, err = p.client.GetHomeStatus(ctx); err != nil {
		return Update{}, err
	}
	if raw, ok := update.Home.ActiveSchedule(); ok {
		if update.Schedule, err = schedule.FromRaw(raw); err != nil {
			return Update{}, err
		}
	}
	update.Energy = p.getEnergy(ctx, update)
	return update, nil
}

// getEnergy collects one reading per room. Energy is best-effort: a failed
// fetch keeps the room's last known reading rather than failing the poll.
func (p *IntuisPoller) getEnergy(ctx context.Context, update Update) map[string]energy.Reading {
	if p.energy == nil {
		return nil
	}
	readings := make(map[string]energy.Reading, len(update.Home.Rooms))
	for _, room := range update.Home.Rooms {
		p.energy.TrackHeating(room.ID, update.Heating(room.ID), update.Timestamp)
		reading, err := p.energy.Reading(ctx, room.ID, update.Timestamp)
		if err != nil {
			p.logger.Warn("energy reading failed", slog.String("room", room.Name), slog.Any("err", err))
			if last, ok := p.lastEnergy[room.ID]; ok {
				readings[room.ID] = last
			}
			continue
		}
		readings[room.ID] = reading
		p.lastEnergy[room.ID] = reading
	}
	return readings
}
