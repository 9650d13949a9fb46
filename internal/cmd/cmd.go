// Package cmd implements the intuis command line interface.
package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/intuis-monitor/internal/cmd/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "intuis",
		Short: "Monitor & control Muller Intuitiv (Netatmo) electric heaters",
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&monitor.Cmd)
}

var args = charmer.Arguments{
	"debug":                        charmer.Argument{Default: false, Help: "Log debug messages"},
	"intuis.username":              charmer.Argument{Default: "", Help: "Intuis (Netatmo) username"},
	"intuis.password":              charmer.Argument{Default: "", Help: "Intuis (Netatmo) password"},
	"poller.interval":              charmer.Argument{Default: 2 * time.Minute, Help: "Poller interval"},
	"exporter.addr":                charmer.Argument{Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":                  charmer.Argument{Default: ":8080", Help: "Address of health & REST endpoints"},
	"overrides.manualDuration":     charmer.Argument{Default: 5 * time.Minute, Help: "Default duration for manual overrides"},
	"overrides.awayDuration":       charmer.Argument{Default: 24 * time.Hour, Help: "Default duration for away overrides"},
	"overrides.boostDuration":      charmer.Argument{Default: 30 * time.Minute, Help: "Default duration for boost overrides"},
	"overrides.awayTemperature":    charmer.Argument{Default: 16.0, Help: "Target temperature for away overrides"},
	"overrides.boostTemperature":   charmer.Argument{Default: 30.0, Help: "Target temperature for boost overrides"},
	"overrides.frostTemperature":   charmer.Argument{Default: 7.0, Help: "Frost-protection temperature for rooms that are off"},
	"overrides.indefinite":         charmer.Argument{Default: false, Help: "Renew manual overrides until explicitly cleared"},
	"anticipation.warmupPerDegree": charmer.Argument{Default: 10 * time.Minute, Help: "Estimated warm-up time per degree"},
	"energy.scale":                 charmer.Argument{Default: "1day", Help: "Aggregation period for energy readings (5min, 30min, 1hour, 1day)"},
	"energy.importHistory":         charmer.Argument{Default: false, Help: "Import historical energy readings at startup"},
	"energy.historyDays":           charmer.Argument{Default: 30, Help: "Days of history to import (7, 30, 90 or 365)"},
	"store.path":                   charmer.Argument{Default: "", Help: "Path of the sqlite database (empty: no persistence)"},
	"mqtt.broker":                  charmer.Argument{Default: "", Help: "MQTT broker url (empty: no mqtt)"},
	"mqtt.topicPrefix":             charmer.Argument{Default: "intuis", Help: "MQTT topic prefix"},
	"slack.enabled":                charmer.Argument{Default: false, Help: "Enable the Slack bot"},
	"slack.token":                  charmer.Argument{Default: "", Help: "Slack token"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/intuis-monitor/")
		viper.AddConfigPath("$HOME/.intuis-monitor")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("INTUIS_MONITOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
}
