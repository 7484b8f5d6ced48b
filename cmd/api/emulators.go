package main

import (
	"fmt"
	"time"

	"github.com/berfenger/b2500meter/internal/adapter/ct001"
	"github.com/berfenger/b2500meter/internal/adapter/ct002"
	"github.com/berfenger/b2500meter/internal/adapter/emulator"
	"github.com/berfenger/b2500meter/internal/adapter/shelly"
	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/port"
	"github.com/berfenger/b2500meter/internal/core/service"

	"go.uber.org/zap"
)

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// buildEmulators creates one emulator per configured device type, in order.
func buildEmulators(cfg *config.Config, router *service.Router, logger *zap.Logger, metrics *emulator.Metrics) ([]port.Emulator, error) {
	emulators := make([]port.Emulator, 0, len(cfg.DeviceTypes))
	seen := map[string]bool{}
	for i, deviceType := range cfg.DeviceTypes {
		deviceID := cfg.DeviceIDs[i]
		name := deviceType
		if seen[name] {
			name = fmt.Sprintf("%s-%s", deviceType, deviceID)
		}
		seen[deviceType] = true

		switch deviceType {
		case domain.DEVICE_TYPE_CT001:
			c := cfg.CT001
			shaper := service.PhaseShaper{DisableSum: c.DisableSumPhases, DisableAbsolute: c.DisableAbsoluteValues}
			emulators = append(emulators, ct001.New(ct001.Config{
				Name:         name,
				UDPPort:      c.UDPPort,
				TCPPort:      c.TCPPort,
				PollInterval: millis(c.PollIntervalMillis),
				DedupeWindow: millis(c.DedupeWindowMillis),
				BeforeSend:   emulator.RoutedBeforeSend(router, shaper, logger),
			}, logger, metrics))
		case domain.DEVICE_TYPE_CT002:
			c := cfg.CT002
			shaper := service.PhaseShaper{DisableSum: c.DisableSumPhases, DisableAbsolute: c.DisableAbsoluteValues}
			emulators = append(emulators, ct002.New(ct002.Config{
				Name:                 name,
				UDPPort:              c.UDPPort,
				TCPPort:              c.TCPPort,
				PollInterval:         millis(c.PollIntervalMillis),
				DedupeWindow:         millis(c.DedupeWindowMillis),
				CTMac:                c.CTMac,
				CTType:               c.CTType,
				BatteryMac:           c.BatteryMac,
				EnforceBatteryMAC:    c.EnforceBatteryMAC,
				DiscoveryBatteryMacs: c.DiscoveryBatteryMacs,
				BeforeSend:           emulator.RoutedBeforeSend(router, shaper, logger),
			}, logger, metrics))
		default:
			if !domain.IsShellyDeviceType(deviceType) {
				return nil, fmt.Errorf("unknown device type %q", deviceType)
			}
			emulators = append(emulators, shelly.New(shelly.Config{
				Name:          name,
				DeviceType:    deviceType,
				DeviceID:      deviceID,
				UDPPort:       domain.ShellyDefaultPort(deviceType),
				MDNSAdvertise: cfg.Shelly.MDNSAdvertise,
			}, router, logger, metrics))
		}
	}
	return emulators, nil
}
