// Package monitor assembles and runs all components of the intuis monitor.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/clambin/intuis-monitor/internal/api"
	"github.com/clambin/intuis-monitor/internal/bot"
	"github.com/clambin/intuis-monitor/internal/collector"
	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/energy"
	"github.com/clambin/intuis-monitor/internal/health"
	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/mqtt"
	"github.com/clambin/intuis-monitor/internal/poller"
	"github.com/clambin/intuis-monitor/internal/store"
	"github.com/clambin/intuis-monitor/pkg/intuistools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Monitor & control the heating system",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var opts slog.HandlerOptions
		if viper.GetBool("debug") {
			opts.Level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &opts))

		m, err := New(viper.GetViper(), cmd.Root().Version, logger)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Info("intuis monitor starting", "version", cmd.Root().Version)
		defer logger.Info("intuis monitor stopped")
		return m.Run(ctx)
	},
}

func New(cfg *viper.Viper, version string, logger *slog.Logger) (*taskmanager.Manager, error) {
	username := cfg.GetString("intuis.username")
	password := cfg.GetString("intuis.password")
	if username == "" || password == "" {
		return nil, errors.New("missing intuis credentials")
	}

	callMetrics := intuistools.NewCallMetrics("intuis", "monitor", nil)
	prometheus.MustRegister(callMetrics)
	apiClient := intuistools.GetInstrumentedClient(username, password, callMetrics, logger.With(slog.String("component", "intuis")))

	ctrlConfig, err := makeControllerConfiguration(cfg)
	if err != nil {
		return nil, err
	}

	var s *store.Store
	if path := cfg.GetString("store.path"); path != "" {
		if s, err = store.Open(path); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	tasks, err := makeTasks(cfg, apiClient, ctrlConfig, s, version, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return nil, err
	}
	return taskmanager.New(tasks...), nil
}

func makeControllerConfiguration(cfg *viper.Viper) (controller.Configuration, error) {
	ctrlConfig := controller.Configuration{
		ManualDuration:   cfg.GetDuration("overrides.manualDuration"),
		AwayDuration:     cfg.GetDuration("overrides.awayDuration"),
		BoostDuration:    cfg.GetDuration("overrides.boostDuration"),
		AwayTemperature:  cfg.GetFloat64("overrides.awayTemperature"),
		BoostTemperature: cfg.GetFloat64("overrides.boostTemperature"),
		FrostTemperature: cfg.GetFloat64("overrides.frostTemperature"),
		WarmupPerDegree:  cfg.GetDuration("anticipation.warmupPerDegree"),
		Indefinite:       cfg.GetBool("overrides.indefinite"),
		PollInterval:     cfg.GetDuration("poller.interval"),
	}
	if err := ctrlConfig.Validate(); err != nil {
		return controller.Configuration{}, fmt.Errorf("configuration: %w", err)
	}

	// Do we have per-room settings?
	rooms, err := maybeLoadRoomSettings(filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "rooms.yaml"))
	if err != nil {
		return controller.Configuration{}, err
	}
	ctrlConfig.Rooms = rooms
	return ctrlConfig, nil
}

func maybeLoadRoomSettings(path string) (map[string]controller.RoomSettings, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	return controller.LoadRoomSettings(f)
}

func makeTasks(cfg *viper.Viper, apiClient *intuis.Client, ctrlConfig controller.Configuration, s *store.Store, version string, registry prometheus.Registerer, l *slog.Logger) ([]taskmanager.Task, error) {
	var tasks []taskmanager.Task

	scale := energy.Scale(cfg.GetString("energy.scale"))
	if !scale.Valid() {
		return nil, fmt.Errorf("invalid energy scale %q", scale)
	}
	interval := cfg.GetDuration("poller.interval")

	// Poller. The home's timezone is only known after the first poll, so the
	// aggregator resolves it per call.
	aggregator := energy.New(apiClient, scale, apiClient.Location, interval, l.With("component", "energy"))
	p := poller.New(apiClient, aggregator, interval, l.With("component", "poller"))
	tasks = append(tasks, p)

	// Controller
	var overrideStore controller.OverrideStore
	if s != nil {
		overrideStore = s
	}
	c := controller.New(apiClient, p, ctrlConfig, overrideStore, l.With("component", "controller"))
	tasks = append(tasks, c)

	// Collector
	coll := &collector.Collector{Publisher: c, Logger: l.With("component", "collector")}
	registry.MustRegister(coll)
	tasks = append(tasks, coll)

	// Prometheus Server
	tasks = append(tasks, promserver.New(promserver.WithAddr(cfg.GetString("exporter.addr"))))

	// Health & REST endpoints
	h := health.New(p, l.With("component", "health"))
	tasks = append(tasks, h)
	r := http.NewServeMux()
	r.Handle("/health", h)
	api.New(c, l.With("component", "api")).AddRoutes(r)
	tasks = append(tasks, httpserver.New(cfg.GetString("health.addr"), r))

	// Energy persistence. History is keyed by day, so only day totals are
	// recorded: a sub-day scale would overwrite each day with its last window.
	if s != nil {
		if scale == energy.Scale1Day {
			tasks = append(tasks, &recorder{poller: p, store: s, logger: l.With("component", "recorder")})
		} else {
			l.Warn("energy history is only recorded at 1day scale", "scale", string(scale))
		}
		if cfg.GetBool("energy.importHistory") {
			days := cfg.GetInt("energy.historyDays")
			if !validHistoryDays(days) {
				return nil, fmt.Errorf("invalid history days %d", days)
			}
			tasks = append(tasks, &historyImporter{
				client:     apiClient,
				aggregator: aggregator,
				store:      s,
				days:       days,
				logger:     l.With("component", "importer"),
			})
		}
	}

	// MQTT bridge
	if broker := cfg.GetString("mqtt.broker"); broker != "" {
		tasks = append(tasks, mqtt.New(broker, cfg.GetString("mqtt.topicPrefix"), c, l.With("component", "mqtt")))
	}

	// Slack bot
	if cfg.GetBool("slack.enabled") {
		b := slackbot.New(
			cfg.GetString("slack.token"),
			slackbot.WithName("intuisBot "+version),
			slackbot.WithLogger(l.With(slog.String("component", "slackbot"))),
		)
		tasks = append(tasks, b, bot.New(b, p, c, l.With(slog.String("component", "bot"))))
	}

	return tasks, nil
}

func validHistoryDays(days int) bool {
	switch days {
	case 7, 30, 90, 365:
		return true
	}
	return false
}

// recorder persists each room's energy reading after every poll, so history
// survives restarts.
type recorder struct {
	poller poller.Poller
	store  *store.Store
	logger *slog.Logger
}

func (r *recorder) Run(ctx context.Context) error {
	r.logger.Debug("started")
	defer r.logger.Debug("stopped")

	ch := r.poller.Subscribe()
	defer r.poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			for _, reading := range update.Energy {
				if err := r.store.SaveReading(ctx, reading); err != nil {
					r.logger.Error("failed to save energy reading", slog.String("room", reading.Room), slog.Any("err", err))
				}
			}
		}
	}
}

// historyImporter backfills past energy readings into the store at startup.
type historyImporter struct {
	client     *intuis.Client
	aggregator *energy.Aggregator
	store      *store.Store
	days       int
	logger     *slog.Logger
}

func (h *historyImporter) Run(ctx context.Context) error {
	home, err := h.client.GetHomesData(ctx)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	start := time.Now()
	var count int
	for _, room := range home.Rooms {
		readings, err := h.aggregator.ImportHistory(ctx, room.ID, h.days, time.Now())
		if err != nil {
			h.logger.Error("failed to import history", slog.String("room", room.Name), slog.Any("err", err))
			continue
		}
		for _, reading := range readings {
			if err = h.store.SaveReading(ctx, reading); err != nil {
				return fmt.Errorf("import: %w", err)
			}
		}
		count += len(readings)
	}
	h.logger.Info("energy history imported", slog.Int("readings", count), slog.Duration("elapsed", time.Since(start)))
	return nil
}
