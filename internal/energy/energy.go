// Package energy aggregates per-room energy consumption from the cloud's
// measurement endpoint: tariff buckets summed into one figure per period,
// with a daily cache so a day total is fetched at most once per logical day.
package energy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/go-common/cache"
	"github.com/clambin/intuis-monitor/internal/intuis"
)

// Scale is the measurement resolution.
type Scale string

const (
	Scale5Min  Scale = "5min"
	Scale30Min Scale = "30min"
	Scale1Hour Scale = "1hour"
	Scale1Day  Scale = "1day"
)

// Valid reports whether the scale is one the cloud accepts.
func (s Scale) Valid() bool {
	switch s {
	case Scale5Min, Scale30Min, Scale1Hour, Scale1Day:
		return true
	}
	return false
}

// Window returns the length of one period at this scale.
func (s Scale) Window() time.Duration {
	switch s {
	case Scale5Min:
		return 5 * time.Minute
	case Scale30Min:
		return 30 * time.Minute
	case Scale1Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// dayCutoff: a day total fetched before this local time would miss late
// readings, so until then the previous fetch is served from cache.
const dayCutoff = 2 * time.Hour

// Reading is aggregated consumption for one room and one period.
type Reading struct {
	Room           string
	PeriodStart    time.Time
	Consumption    float64 // kWh, all tariffs summed
	HeatingMinutes float64
	Partial        bool // one or more tariff buckets had no data
}

// MeasureGetter fetches raw measurements from the cloud.
type MeasureGetter interface {
	GetRoomMeasure(ctx context.Context, roomID, scale string, from, to time.Time) ([]intuis.Measure, error)
}

// Aggregator produces one Reading per room per tick, caching day totals per
// logical day.
type Aggregator struct {
	client   MeasureGetter
	scale    Scale
	location func() *time.Location
	interval time.Duration
	logger   *slog.Logger
	daily    *cache.Cache[string, Reading]
	heating  map[string]*heatingTracker
}

// New creates an Aggregator. location is resolved on every use: the home's
// timezone is only known after the first homesdata call, so it cannot be
// captured at construction time. interval is the poll interval, used to cap
// heating-time accumulation across missed ticks.
func New(client MeasureGetter, scale Scale, location func() *time.Location, interval time.Duration, logger *slog.Logger) *Aggregator {
	if location == nil {
		location = func() *time.Location { return time.Local }
	}
	return &Aggregator{
		client:   client,
		scale:    scale,
		location: location,
		interval: interval,
		logger:   logger,
		daily:    cache.New[string, Reading](48*time.Hour, time.Hour),
		heating:  make(map[string]*heatingTracker),
	}
}

// logicalDay maps an instant to the day it reports on: before the cutoff an
// instant still belongs to the previous day.
func (a *Aggregator) logicalDay(now time.Time) time.Time {
	loc := a.location()
	t := now.In(loc).Add(-dayCutoff)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Reading returns the room's consumption for the current period at the
// configured scale. Day totals are fetched once per logical day and served
// from cache afterwards; sub-day scales always fetch.
func (a *Aggregator) Reading(ctx context.Context, room string, now time.Time) (Reading, error) {
	var reading Reading
	var err error
	if a.scale == Scale1Day {
		reading, err = a.dayReading(ctx, room, now)
	} else {
		reading, err = a.fetch(ctx, room, now.Add(-a.scale.Window()), now)
	}
	if err != nil {
		return Reading{}, err
	}
	reading.HeatingMinutes = a.heatingMinutes(room, now)
	return reading, nil
}

func (a *Aggregator) dayReading(ctx context.Context, room string, now time.Time) (Reading, error) {
	day := a.logicalDay(now)
	key := dayKey(room, day)
	if reading, ok := a.daily.Get(key); ok {
		return reading, nil
	}
	reading, err := a.fetch(ctx, room, day, now)
	if err != nil {
		return Reading{}, err
	}
	reading.PeriodStart = day
	a.daily.Add(key, reading)
	return reading, nil
}

// fetch retrieves and aggregates one period. Tariff buckets are summed;
// missing buckets count as zero and set Partial.
func (a *Aggregator) fetch(ctx context.Context, room string, from, to time.Time) (Reading, error) {
	measures, err := a.client.GetRoomMeasure(ctx, room, string(a.scale), from, to)
	if err != nil {
		return Reading{}, err
	}
	reading := Reading{Room: room, PeriodStart: from}
	var found bool
	for _, m := range measures {
		for i, row := range m.Values {
			if len(row) == 0 {
				continue
			}
			found = true
			reading.PeriodStart = time.Unix(m.Begin+int64(i)*m.Step, 0).In(a.location())
			reading.Consumption, reading.Partial = sumTariffs(row)
		}
	}
	if !found {
		reading.Partial = true
	}
	return reading, nil
}

// sumTariffs adds all tariff buckets of one period, in kWh. A nil bucket is
// zero-filled and flagged.
func sumTariffs(row []*float64) (float64, bool) {
	var sum float64
	var partial bool
	for _, v := range row {
		if v == nil {
			partial = true
			continue
		}
		sum += *v
	}
	return sum / 1000, partial
}

// ImportHistory backfills day totals for the last days days, paginating
// backward until the requested range is covered or the cloud has no more
// data. Results land in the same cache that serves live day readings.
func (a *Aggregator) ImportHistory(ctx context.Context, room string, days int, now time.Time) ([]Reading, error) {
	const pageDays = 30
	today := a.logicalDay(now)

	readings := make([]Reading, 0, days)
	for remaining := days; remaining > 0; {
		page := min(remaining, pageDays)
		to := today.AddDate(0, 0, -(days - remaining)).Add(24*time.Hour - time.Second)
		from := today.AddDate(0, 0, -(days - remaining + page - 1))

		measures, err := a.client.GetRoomMeasure(ctx, room, string(Scale1Day), from, to)
		if err != nil {
			return readings, fmt.Errorf("history page %s: %w", from.Format(time.DateOnly), err)
		}
		var rows int
		for _, m := range measures {
			for i, row := range m.Values {
				if len(row) == 0 {
					continue
				}
				rows++
				loc := a.location()
				day := time.Unix(m.Begin+int64(i)*m.Step, 0).In(loc)
				day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
				reading := Reading{Room: room, PeriodStart: day}
				reading.Consumption, reading.Partial = sumTariffs(row)
				a.daily.Add(dayKey(room, day), reading)
				readings = append(readings, reading)
			}
		}
		if rows == 0 {
			// the cloud has no older data
			break
		}
		remaining -= page
	}
	a.logger.Debug("history imported", slog.String("room", room), slog.Int("days", len(readings)))
	return readings, nil
}

func dayKey(room string, day time.Time) string {
	return room + "/" + day.Format(time.DateOnly)
}

// heatingTracker accumulates time a room's radiator is on, per logical day.
type heatingTracker struct {
	lastSeen time.Time
	day      time.Time
	minutes  float64
	on       bool
}

// TrackHeating records the room's radiator state at an instant. Heating time
// accrues while the radiator stays on between observations; a gap longer
// than 1.5 poll intervals is capped so missed ticks don't inflate the total.
func (a *Aggregator) TrackHeating(room string, on bool, now time.Time) {
	day := a.logicalDay(now)
	t, ok := a.heating[room]
	if !ok {
		a.heating[room] = &heatingTracker{lastSeen: now, day: day, on: on}
		return
	}
	if !day.Equal(t.day) {
		t.day = day
		t.minutes = 0
	}
	if t.on {
		delta := now.Sub(t.lastSeen)
		if limit := a.interval * 3 / 2; delta > limit {
			delta = limit
		}
		t.minutes += delta.Minutes()
	}
	t.lastSeen = now
	t.on = on
}

func (a *Aggregator) heatingMinutes(room string, now time.Time) float64 {
	t, ok := a.heating[room]
	if !ok || !a.logicalDay(now).Equal(t.day) {
		return 0
	}
	return t.minutes
}
