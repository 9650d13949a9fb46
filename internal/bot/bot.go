// Package bot implements a Slack bot to inspect and control the heating
// system: list rooms & schedules, set room overrides and trigger a refresh.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/poller"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

type Bot struct {
	SlackApp
	poller     poller.Poller
	controller Controller
	logger     *slog.Logger
	update     poller.Update
	lock       sync.RWMutex
	updated    bool
}

type Controller interface {
	RoomStates() []controller.RoomState
	SetPreset(ctx context.Context, room string, kind controller.Kind, temperature float64, duration time.Duration) error
	SetHVACMode(ctx context.Context, room string, mode string) error
	SwitchSchedule(ctx context.Context, name string) error
}

type SlackApp interface {
	AddSlashCommand(string, func(slack.SlashCommand, *socketmode.Client))
	Run(ctx context.Context) error
}

func New(app SlackApp, p poller.Poller, c Controller, logger *slog.Logger) *Bot {
	b := Bot{
		SlackApp:   app,
		poller:     p,
		controller: c,
		logger:     logger,
	}

	b.SlackApp.AddSlashCommand("/rooms", b.doAndPost(b.onRooms))
	b.SlackApp.AddSlashCommand("/room", b.doAndPost(b.onRoom))
	b.SlackApp.AddSlashCommand("/schedules", b.doAndPost(b.onSchedules))
	b.SlackApp.AddSlashCommand("/refresh", b.doAndPost(b.onRefresh))

	return &b
}

// Run the bot until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Debug("bot started")
	defer b.logger.Debug("bot stopped")
	errCh := make(chan error)
	go func() { errCh <- b.SlackApp.Run(ctx) }()

	ch := b.poller.Subscribe()
	defer b.poller.Unsubscribe(ch)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
		case <-ctx.Done():
			return nil
		case update := <-ch:
			b.setUpdate(update)
		}
	}
}

func (b *Bot) setUpdate(update poller.Update) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.update = update
	b.updated = true
}

func (b *Bot) getUpdate() (poller.Update, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.update, b.updated
}

func (b *Bot) onRooms(_ context.Context, _ ...string) slack.Attachment {
	states := b.controller.RoomStates()
	if len(states) == 0 {
		return slack.Attachment{
			Color: "bad",
			Text:  "no updates yet. please check back later",
		}
	}

	text := make([]string, 0, len(states))
	for _, state := range states {
		text = append(text, fmt.Sprintf("%s: %.1fºC (%s)", state.Name, state.Temperature, roomMode(state)))
	}
	slices.Sort(text)

	return slack.Attachment{
		Color: "good",
		Title: "rooms:",
		Text:  strings.Join(text, "\n"),
	}
}

func roomMode(state controller.RoomState) string {
	if state.HVACMode == "off" {
		return "off"
	}
	mode := fmt.Sprintf("target: %.1f", state.Target)
	if state.Mode != controller.Scheduled {
		mode += ", " + strings.ToUpper(state.Mode.String())
		if !state.OverrideExpiry.IsZero() {
			mode += " until " + state.OverrideExpiry.Format("15:04")
		}
	} else if state.Anticipating {
		mode += ", warming up"
	}
	return mode
}

func (b *Bot) onRoom(ctx context.Context, args ...string) slack.Attachment {
	cmd, err := parseRoomCommand(args...)
	if err != nil {
		return slack.Attachment{Color: "bad", Text: "invalid command: " + err.Error()}
	}

	roomID, ok := b.findRoom(cmd.roomName)
	if !ok {
		return slack.Attachment{Color: "bad", Text: "invalid room name: " + cmd.roomName}
	}

	var text string
	switch cmd.mode {
	case "auto", "off":
		err = b.controller.SetHVACMode(ctx, roomID, cmd.mode)
		text = "Setting " + cmd.roomName + " to " + cmd.mode + " mode"
	case "away", "boost":
		kind, _ := controller.ParseKind(cmd.mode)
		err = b.controller.SetPreset(ctx, roomID, kind, 0, cmd.duration)
		text = "Setting " + cmd.roomName + " to " + cmd.mode + " mode"
	default:
		err = b.controller.SetPreset(ctx, roomID, controller.Manual, cmd.temperature, cmd.duration)
		text = fmt.Sprintf("Setting target temperature for %s to %.1fºC", cmd.roomName, cmd.temperature)
		if cmd.duration > 0 {
			text += " for " + cmd.duration.String()
		}
	}

	if err != nil {
		return slack.Attachment{Color: "bad", Text: "failed: " + err.Error()}
	}
	return slack.Attachment{Color: "good", Text: text}
}

func (b *Bot) findRoom(name string) (string, bool) {
	for _, state := range b.controller.RoomStates() {
		if strings.EqualFold(state.Name, name) {
			return state.ID, true
		}
	}
	return "", false
}

func (b *Bot) onSchedules(ctx context.Context, args ...string) slack.Attachment {
	update, ok := b.getUpdate()
	if !ok {
		return slack.Attachment{
			Color: "bad",
			Text:  "no updates yet. please check back later",
		}
	}

	if len(args) > 0 {
		name := strings.Join(args, " ")
		if err := b.controller.SwitchSchedule(ctx, name); err != nil {
			return slack.Attachment{Color: "bad", Text: "failed: " + err.Error()}
		}
		return slack.Attachment{Color: "good", Text: "Switching to schedule " + name}
	}

	text := make([]string, 0, len(update.Home.Schedules))
	for _, s := range update.Home.Schedules {
		line := s.Name
		if s.Selected {
			line += " (active)"
		}
		text = append(text, line)
	}
	slices.Sort(text)

	return slack.Attachment{
		Color: "good",
		Title: "schedules:",
		Text:  strings.Join(text, "\n"),
	}
}

func (b *Bot) onRefresh(_ context.Context, _ ...string) slack.Attachment {
	b.poller.Refresh()
	return slack.Attachment{Text: "refreshing heating data"}
}

func (b *Bot) doAndPost(f func(context.Context, ...string) slack.Attachment) func(cmd slack.SlashCommand, c *socketmode.Client) {
	return func(cmd slack.SlashCommand, c *socketmode.Client) {
		a := f(context.Background(), tokenizeText(cmd.Text)...)
		if _, _, err := c.PostMessage(cmd.ChannelID, slack.MsgOptionAttachments(a)); err != nil {
			b.logger.Error("failed to post response", "err", err)
		}
	}
}
