package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/berfenger/b2500meter/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to a YAML config file (or CONFIG_FILE env)")
	flags.BoolP("skip-powermeter-test", "t", false, "skip the power source test on startup")
	flags.StringSliceP("device-types", "d", nil, "device types to emulate (ct001, ct002, shellypro3em, shellyemg3, shellyproem50)")
	flags.StringSlice("device-ids", nil, "device ids, one per device type")
	flags.BoolP("disable-sum", "s", false, "do not sum phases into phase A")
	flags.BoolP("disable-absolute", "a", false, "do not convert phase values to absolute values")
	flags.UintP("poll-interval", "p", 0, "CT poll interval in seconds")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error, fatal)")

	viper.BindPFlag("skip_powermeter_test", flags.Lookup("skip-powermeter-test"))
	viper.BindPFlag("device_types", flags.Lookup("device-types"))
	viper.BindPFlag("device_ids", flags.Lookup("device-ids"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func initConfig(cmd *cobra.Command) (*config.Config, error) {

	setConfigDefaults()

	viper.SetEnvPrefix("b2500")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	if cfgFile != "" {
		slog.Info("Using config", "file", cfgFile)
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// flags shared by both CT emulators
	flags := cmd.Flags()
	if flags.Changed("disable-sum") {
		v, _ := flags.GetBool("disable-sum")
		cfg.CT001.DisableSumPhases = v
		cfg.CT002.DisableSumPhases = v
	}
	if flags.Changed("disable-absolute") {
		v, _ := flags.GetBool("disable-absolute")
		cfg.CT001.DisableAbsoluteValues = v
		cfg.CT002.DisableAbsoluteValues = v
	}
	if flags.Changed("poll-interval") {
		v, _ := flags.GetUint("poll-interval")
		cfg.CT001.PollIntervalMillis = uint32(v) * 1000
		cfg.CT002.PollIntervalMillis = uint32(v) * 1000
	}

	cfg.LogLevel = parseLogLevel(viper.GetString("log_level"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "trace":
		return zap.DebugLevel
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	}
	return zap.WarnLevel
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("device_types", []string{"ct001"})
	viper.SetDefault("skip_powermeter_test", false)
	viper.SetDefault("throttle_interval_millis", 0)
	for _, ct := range []string{"ct001", "ct002"} {
		viper.SetDefault(ct+".udp_port", 12345)
		viper.SetDefault(ct+".tcp_port", 12345)
		viper.SetDefault(ct+".poll_interval_millis", 1000)
		viper.SetDefault(ct+".dedupe_window_millis", 10000)
		viper.SetDefault(ct+".disable_sum_phases", false)
		viper.SetDefault(ct+".disable_absolute_values", false)
	}
	viper.SetDefault("ct002.ct_mac", "009c17abcdef")
	viper.SetDefault("ct002.ct_type", "HME-4")
	viper.SetDefault("ct002.battery_mac", "001122334455")
	viper.SetDefault("ct002.enforce_battery_mac", false)
	viper.SetDefault("shelly.mdns_advertise", true)
	viper.SetDefault("health.enable", true)
	viper.SetDefault("health.bind", "localhost")
	viper.SetDefault("health.port", 52500)
	viper.SetDefault("health.http_log", false)
}

func safePrintConfig(cfg config.Config) {
	pms := make([]config.PowermeterConfig, len(cfg.Powermeters))
	for i, pm := range cfg.Powermeters {
		if pm.MQTT.Password != "" {
			pm.MQTT.Password = "*redacted*"
		}
		if pm.JSONHTTP.Password != "" {
			pm.JSONHTTP.Password = "*redacted*"
		}
		if len(pm.JSONHTTP.Headers) > 0 {
			headers := make(map[string]string, len(pm.JSONHTTP.Headers))
			for k := range pm.JSONHTTP.Headers {
				headers[k] = "*redacted*"
			}
			pm.JSONHTTP.Headers = headers
		}
		pms[i] = pm
	}
	cfg.Powermeters = pms
	slog.Info("Using", "config", cfg)
}
