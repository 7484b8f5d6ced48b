package util

import (
	"github.com/berfenger/b2500meter/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel:           zap.DebugLevel,
		DeviceTypes:        []string{"ct001"},
		DeviceIDs:          []string{"device-1"},
		SkipPowermeterTest: true,
		CT001: config.CT001Config{
			PollIntervalMillis: 1000,
			DedupeWindowMillis: 10000,
		},
		CT002: config.CT002Config{
			CT001Config: config.CT001Config{
				PollIntervalMillis: 1000,
				DedupeWindowMillis: 10000,
			},
			CTMac:      "009c17abcdef",
			CTType:     "HME-4",
			BatteryMac: "001122334455",
		},
		Powermeters: []config.PowermeterConfig{
			{
				Name:    "script",
				Type:    config.POWERMETER_TYPE_SCRIPT,
				Netmask: []string{"0.0.0.0/0"},
				Script:  config.ScriptConfig{Command: "echo 100; echo 200; echo 300"},
			},
		},
		Health: config.HealthConfig{
			Enable: true,
			Bind:   "localhost",
			Port:   52500,
		},
	}
}
