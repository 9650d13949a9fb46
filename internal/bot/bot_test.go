package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/poller"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBot_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	app := fakeSlackApp{commands: make(map[string]func(slack.SlashCommand, *socketmode.Client))}
	p := fakePoller{updates: make(chan poller.Update)}
	b := New(&app, &p, &fakeController{}, slog.Default())

	assert.Len(t, app.commands, 4)

	errCh := make(chan error)
	go func() { errCh <- b.Run(ctx) }()

	_, ok := b.getUpdate()
	assert.False(t, ok)

	p.updates <- poller.Update{}

	assert.Eventually(t, func() bool {
		_, ok = b.getUpdate()
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestBot_Rooms(t *testing.T) {
	tests := []struct {
		name   string
		states []controller.RoomState
		color  string
		text   string
	}{
		{
			name:  "no updates",
			color: "bad",
			text:  "no updates yet. please check back later",
		},
		{
			name: "scheduled",
			states: []controller.RoomState{
				{Name: "Living room", Temperature: 19.5, Target: 21, HVACMode: "auto"},
			},
			color: "good",
			text:  "Living room: 19.5ºC (target: 21.0)",
		},
		{
			name: "override",
			states: []controller.RoomState{
				{
					Name: "Study", Temperature: 18, Target: 30, HVACMode: "auto",
					Mode:           controller.Boost,
					OverrideExpiry: time.Date(2026, time.August, 31, 15, 30, 0, 0, time.UTC),
				},
			},
			color: "good",
			text:  "Study: 18.0ºC (target: 30.0, BOOST until 15:30)",
		},
		{
			name: "anticipating",
			states: []controller.RoomState{
				{Name: "Bedroom", Temperature: 17, Target: 20, HVACMode: "auto", Anticipating: true},
			},
			color: "good",
			text:  "Bedroom: 17.0ºC (target: 20.0, warming up)",
		},
		{
			name: "off",
			states: []controller.RoomState{
				{Name: "Garage", Temperature: 12, Target: 7, HVACMode: "off"},
			},
			color: "good",
			text:  "Garage: 12.0ºC (off)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&fakeSlackApp{}, &fakePoller{}, &fakeController{states: tt.states}, slog.Default())
			a := b.onRooms(context.Background())
			assert.Equal(t, tt.color, a.Color)
			assert.Equal(t, tt.text, a.Text)
		})
	}
}

func TestBot_Room(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		color string
		text  string
		want  string
	}{
		{
			name:  "temperature",
			args:  []string{"Living room", "19.5"},
			color: "good",
			text:  "Setting target temperature for Living room to 19.5ºC",
			want:  "preset room-1 manual 19.5 0s",
		},
		{
			name:  "temperature with duration",
			args:  []string{"Living room", "19.5", "1h"},
			color: "good",
			text:  "Setting target temperature for Living room to 19.5ºC for 1h0m0s",
			want:  "preset room-1 manual 19.5 1h0m0s",
		},
		{
			name:  "boost",
			args:  []string{"Living room", "boost"},
			color: "good",
			text:  "Setting Living room to boost mode",
			want:  "preset room-1 boost 0.0 0s",
		},
		{
			name:  "away",
			args:  []string{"Living room", "away", "24h"},
			color: "good",
			text:  "Setting Living room to away mode",
			want:  "preset room-1 away 0.0 24h0m0s",
		},
		{
			name:  "auto",
			args:  []string{"Living room", "auto"},
			color: "good",
			text:  "Setting Living room to auto mode",
			want:  "hvac room-1 auto",
		},
		{
			name:  "off",
			args:  []string{"Living room", "off"},
			color: "good",
			text:  "Setting Living room to off mode",
			want:  "hvac room-1 off",
		},
		{
			name:  "invalid room",
			args:  []string{"Kitchen", "19.5"},
			color: "bad",
			text:  "invalid room name: Kitchen",
		},
		{
			name:  "invalid temperature",
			args:  []string{"Living room", "hot"},
			color: "bad",
			text:  `invalid command: invalid target temperature: "hot"`,
		},
		{
			name:  "missing arguments",
			args:  []string{"Living room"},
			color: "bad",
			text:  "invalid command: missing parameters\nUsage: /room <room> [auto|off|away|boost|<temperature> [<duration>]]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fakeController{states: []controller.RoomState{{ID: "room-1", Name: "Living room"}}}
			b := New(&fakeSlackApp{}, &fakePoller{}, &c, slog.Default())
			a := b.onRoom(context.Background(), tt.args...)
			assert.Equal(t, tt.color, a.Color)
			assert.Equal(t, tt.text, a.Text)
			assert.Equal(t, tt.want, c.lastCommand)
		})
	}
}

func TestBot_Schedules(t *testing.T) {
	c := fakeController{}
	b := New(&fakeSlackApp{}, &fakePoller{}, &c, slog.Default())

	a := b.onSchedules(context.Background())
	assert.Equal(t, "bad", a.Color)

	b.setUpdate(poller.Update{Home: intuis.Home{Schedules: []intuis.RawSchedule{
		{Name: "winter", Selected: true},
		{Name: "summer"},
	}}})

	a = b.onSchedules(context.Background())
	require.Equal(t, "good", a.Color)
	assert.Equal(t, "summer\nwinter (active)", a.Text)

	a = b.onSchedules(context.Background(), "summer")
	assert.Equal(t, "good", a.Color)
	assert.Equal(t, "Switching to schedule summer", a.Text)
	assert.Equal(t, "switch summer", c.lastCommand)

	c.err = errors.New("schedule not found")
	a = b.onSchedules(context.Background(), "autumn")
	assert.Equal(t, "bad", a.Color)
}

func TestBot_Refresh(t *testing.T) {
	p := fakePoller{}
	b := New(&fakeSlackApp{}, &p, &fakeController{}, slog.Default())
	a := b.onRefresh(context.Background())
	assert.Equal(t, "refreshing heating data", a.Text)
	assert.Equal(t, int32(1), p.refreshes.Load())
}

func TestTokenizeText(t *testing.T) {
	assert.Equal(t, []string{"Living room", "19.5", "1h"}, tokenizeText(`“Living room” 19.5 1h`))
	assert.Equal(t, []string{"boost"}, tokenizeText("boost"))
}

var _ SlackApp = &fakeSlackApp{}

type fakeSlackApp struct {
	commands map[string]func(slack.SlashCommand, *socketmode.Client)
}

func (f *fakeSlackApp) AddSlashCommand(cmd string, handler func(slack.SlashCommand, *socketmode.Client)) {
	if f.commands != nil {
		f.commands[cmd] = handler
	}
}

func (f *fakeSlackApp) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

var _ poller.Poller = &fakePoller{}

type fakePoller struct {
	updates   chan poller.Update
	refreshes atomic.Int32
}

func (f *fakePoller) Subscribe() chan poller.Update    { return f.updates }
func (f *fakePoller) Unsubscribe(_ chan poller.Update) {}
func (f *fakePoller) Refresh()                         { f.refreshes.Add(1) }

var _ Controller = &fakeController{}

type fakeController struct {
	states      []controller.RoomState
	lastCommand string
	err         error
}

func (f *fakeController) RoomStates() []controller.RoomState { return f.states }

func (f *fakeController) SetPreset(_ context.Context, room string, kind controller.Kind, temperature float64, duration time.Duration) error {
	f.lastCommand = "preset " + room + " " + kind.String() + " " + formatTemp(temperature) + " " + duration.String()
	return f.err
}

func (f *fakeController) SetHVACMode(_ context.Context, room string, mode string) error {
	f.lastCommand = "hvac " + room + " " + mode
	return f.err
}

func (f *fakeController) SwitchSchedule(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.lastCommand = "switch " + name
	return nil
}

func formatTemp(temperature float64) string {
	return strconv.FormatFloat(temperature, 'f', 1, 64)
}
