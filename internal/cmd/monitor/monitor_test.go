package monitor

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/clambin/intuis-monitor/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_makeTasks(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		withStore bool
		length    int
		wantErr   bool
	}{
		{
			name: "base",
			config: `
energy:
  scale: 1day
`,
			length: 6,
		},
		{
			name: "with store",
			config: `
energy:
  scale: 1day
`,
			withStore: true,
			length:    7,
		},
		{
			name: "with history import",
			config: `
energy:
  scale: 1day
  importHistory: true
  historyDays: 30
`,
			withStore: true,
			length:    8,
		},
		{
			// sub-day readings can't be stored as day totals: no recorder
			name: "with store, sub-day scale",
			config: `
energy:
  scale: 30min
`,
			withStore: true,
			length:    6,
		},
		{
			name: "mqtt & slack",
			config: `
energy:
  scale: 1day
mqtt:
  broker: tcp://localhost:1883
  topicPrefix: intuis
slack:
  enabled: true
  token: "1234"
`,
			length: 9,
		},
		{
			name: "invalid scale",
			config: `
energy:
  scale: 2days
`,
			wantErr: true,
		},
		{
			name: "invalid history days",
			config: `
energy:
  scale: 1day
  importHistory: true
  historyDays: 12
`,
			withStore: true,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := viper.New()
			cfg.SetConfigType("yaml")
			require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(tt.config)))
			cfg.SetDefault("poller.interval", time.Minute)

			var s *store.Store
			if tt.withStore {
				var err error
				s, err = store.Open(filepath.Join(t.TempDir(), "intuis.db"))
				require.NoError(t, err)
				defer func() { _ = s.Close() }()
			}

			apiClient := intuis.New("user", "password", nil, slog.Default())
			tasks, err := makeTasks(cfg, apiClient, controller.Configuration{}, s, "1.0", prometheus.NewPedanticRegistry(), slog.Default())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tasks, tt.length)
		})
	}
}

func Test_makeControllerConfiguration(t *testing.T) {
	cfg := viper.New()
	cfg.SetDefault("overrides.manualDuration", 5*time.Minute)
	cfg.SetDefault("overrides.awayDuration", 24*time.Hour)
	cfg.SetDefault("overrides.boostDuration", 30*time.Minute)
	cfg.SetDefault("overrides.awayTemperature", 16.0)
	cfg.SetDefault("overrides.boostTemperature", 30.0)
	cfg.SetDefault("overrides.frostTemperature", 7.0)
	cfg.SetDefault("anticipation.warmupPerDegree", 10*time.Minute)
	cfg.SetDefault("poller.interval", 2*time.Minute)

	ctrlConfig, err := makeControllerConfiguration(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, ctrlConfig.ManualDuration)
	assert.Equal(t, 30.0, ctrlConfig.BoostTemperature)
	assert.Empty(t, ctrlConfig.Rooms)

	cfg.Set("overrides.boostTemperature", 40.0)
	_, err = makeControllerConfiguration(cfg)
	assert.Error(t, err)
}

func Test_maybeLoadRoomSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr assert.ErrorAssertionFunc
		want    map[string]controller.RoomSettings
	}{
		{
			name: "valid",
			content: `rooms:
  - name: "Living room"
    warmupPerDegree: 15m
`,
			wantErr: assert.NoError,
			want: map[string]controller.RoomSettings{
				"Living room": {WarmupPerDegree: 15 * time.Minute},
			},
		},
		{
			name:    "invalid",
			content: `invalid yaml`,
			wantErr: assert.Error,
		},
		{
			name:    "missing",
			content: ``,
			wantErr: assert.NoError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := os.CreateTemp("", "")
			require.NoError(t, err)

			if tt.content != "" {
				_, err := f.Write([]byte(tt.content))
				require.NoError(t, err)
				_ = f.Close()
				defer func() { _ = os.Remove(f.Name()) }()
			} else {
				_ = f.Close()
				_ = os.Remove(f.Name())
			}

			settings, err := maybeLoadRoomSettings(f.Name())
			tt.wantErr(t, err)
			assert.Equal(t, tt.want, settings)
		})
	}
}
