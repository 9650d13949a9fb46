package energy

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeasureGetter struct {
	calls    int
	measures []intuis.Measure
	pages    [][]intuis.Measure
	err      error
}

func (f *fakeMeasureGetter) GetRoomMeasure(_ context.Context, _, _ string, _, _ time.Time) ([]intuis.Measure, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.pages != nil {
		if len(f.pages) == 0 {
			return nil, nil
		}
		page := f.pages[0]
		f.pages = f.pages[1:]
		return page, nil
	}
	return f.measures, nil
}

func ptr(f float64) *float64 { return &f }

func inUTC() *time.Location { return time.UTC }

func TestAggregator_DayScale_Cutoff(t *testing.T) {
	client := fakeMeasureGetter{measures: []intuis.Measure{
		{Begin: time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC).Unix(), Step: 86400, Values: [][]*float64{{ptr(1500), ptr(250)}}},
	}}
	a := New(&client, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	// 01:00 and 01:30 are before the cutoff: both report on the previous
	// logical day and the second call is served from cache
	first, err := a.Reading(context.Background(), "room-1", time.Date(2026, time.August, 31, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1.75, first.Consumption)
	assert.False(t, first.Partial)

	second, err := a.Reading(context.Background(), "room-1", time.Date(2026, time.August, 31, 1, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, first.Consumption, second.Consumption)
	assert.Equal(t, 1, client.calls)

	// past the cutoff, the logical day advances and a new fetch is made
	_, err = a.Reading(context.Background(), "room-1", time.Date(2026, time.August, 31, 2, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestAggregator_DayScale_HomeTimezone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	client := fakeMeasureGetter{measures: []intuis.Measure{
		{Begin: time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC).Unix(), Step: 86400, Values: [][]*float64{{ptr(1500)}}},
	}}
	// the home's timezone is only learned after the first homesdata call
	loc := time.UTC
	a := New(&client, Scale1Day, func() *time.Location { return loc }, 2*time.Minute, slog.Default())

	// 01:00 UTC is before the cutoff in UTC: previous logical day
	now := time.Date(2026, time.August, 31, 1, 0, 0, 0, time.UTC)
	first, err := a.Reading(context.Background(), "room-1", now)
	require.NoError(t, err)
	assert.Equal(t, time.August, first.PeriodStart.Month())
	assert.Equal(t, 30, first.PeriodStart.Day())

	// once the home's timezone is known (03:00 CEST, past the cutoff), the
	// logical day advances and a new fetch is made
	loc = paris
	_, err = a.Reading(context.Background(), "room-1", now)
	require.NoError(t, err)
	assert.Equal(t, 31, a.logicalDay(now).Day())
	assert.Equal(t, 2, client.calls)
}

func TestAggregator_PartialTariffs(t *testing.T) {
	client := fakeMeasureGetter{measures: []intuis.Measure{
		{Begin: time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC).Unix(), Step: 86400, Values: [][]*float64{{ptr(1000), nil, ptr(500)}}},
	}}
	a := New(&client, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	reading, err := a.Reading(context.Background(), "room-1", time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1.5, reading.Consumption, "missing tariff is zero-filled")
	assert.True(t, reading.Partial)
}

func TestAggregator_SubDayScale_NoCache(t *testing.T) {
	client := fakeMeasureGetter{measures: []intuis.Measure{
		{Begin: time.Date(2026, time.August, 31, 11, 30, 0, 0, time.UTC).Unix(), Step: 1800, Values: [][]*float64{{ptr(100)}}},
	}}
	a := New(&client, Scale30Min, inUTC, 2*time.Minute, slog.Default())

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	_, err := a.Reading(context.Background(), "room-1", now)
	require.NoError(t, err)
	_, err = a.Reading(context.Background(), "room-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls, "sub-day scales fetch on every call")
}

func TestAggregator_FetchError(t *testing.T) {
	client := fakeMeasureGetter{err: errors.New("cloud unavailable")}
	a := New(&client, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	_, err := a.Reading(context.Background(), "room-1", time.Now())
	assert.Error(t, err)
}

func TestAggregator_ImportHistory(t *testing.T) {
	begin := time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)
	client := fakeMeasureGetter{pages: [][]intuis.Measure{
		{{Begin: begin.Unix(), Step: 86400, Values: [][]*float64{
			{ptr(1000)}, {ptr(2000)}, {ptr(3000)}, {ptr(4000)}, {ptr(5000)}, {ptr(6000)}, {ptr(7000)},
		}}},
	}}
	a := New(&client, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	readings, err := a.ImportHistory(context.Background(), "room-1", 7, time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, readings, 7)
	assert.Equal(t, begin, readings[0].PeriodStart)
	assert.Equal(t, 1.0, readings[0].Consumption)

	// the backfilled day total now serves live reads from cache
	cached, ok := a.daily.Get(dayKey("room-1", time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC)))
	require.True(t, ok)
	assert.Equal(t, 7.0, cached.Consumption)
}

func TestAggregator_ImportHistory_NoMoreData(t *testing.T) {
	begin := time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC)
	client := fakeMeasureGetter{pages: [][]intuis.Measure{
		{{Begin: begin.Unix(), Step: 86400, Values: [][]*float64{{ptr(1000)}, {ptr(2000)}}}},
		{}, // the cloud has nothing older
	}}
	a := New(&client, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	readings, err := a.ImportHistory(context.Background(), "room-1", 90, time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, readings, 2)
	assert.Equal(t, 2, client.calls, "backfill stops on an empty page")
}

func TestAggregator_TrackHeating(t *testing.T) {
	a := New(&fakeMeasureGetter{}, Scale1Day, inUTC, 2*time.Minute, slog.Default())

	start := time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC)
	a.TrackHeating("room-1", true, start)
	a.TrackHeating("room-1", true, start.Add(2*time.Minute))
	a.TrackHeating("room-1", false, start.Add(4*time.Minute))
	a.TrackHeating("room-1", false, start.Add(6*time.Minute))
	assert.Equal(t, 4.0, a.heatingMinutes("room-1", start.Add(6*time.Minute)))

	// a long gap between observations is capped at 1.5 poll intervals
	a.TrackHeating("room-2", true, start)
	a.TrackHeating("room-2", true, start.Add(20*time.Minute))
	assert.Equal(t, 3.0, a.heatingMinutes("room-2", start.Add(20*time.Minute)))

	// heating time resets when the logical day rolls over
	next := time.Date(2026, time.September, 1, 3, 0, 0, 0, time.UTC)
	a.TrackHeating("room-1", false, next)
	assert.Zero(t, a.heatingMinutes("room-1", next))
}
