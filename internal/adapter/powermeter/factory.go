// Package powermeter builds the power sources that feed the emulators.
package powermeter

import (
	"fmt"
	"time"

	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/port"
	"github.com/berfenger/b2500meter/internal/core/service"
	"github.com/berfenger/b2500meter/pkg/modbusmeter"

	"go.uber.org/zap"
)

// BuildRoutes creates one route per configured power source, in
// configuration order. Sources are throttled when their interval, or the
// global one, is positive.
func BuildRoutes(cfg *config.Config, logger *zap.Logger) ([]service.Route, error) {
	routes := make([]service.Route, 0, len(cfg.Powermeters))
	for i, pm := range cfg.Powermeters {
		name := pm.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", pm.Type, i+1)
		}
		if err := pm.Validate(); err != nil {
			closeRoutes(routes)
			return nil, fmt.Errorf("power source %s: %w", name, err)
		}
		source, err := NewSource(name, pm, logger)
		if err != nil {
			closeRoutes(routes)
			return nil, fmt.Errorf("power source %s: %w", name, err)
		}
		interval := cfg.ThrottleIntervalMillis
		if pm.ThrottleIntervalMillis != nil {
			interval = *pm.ThrottleIntervalMillis
		}
		if interval > 0 {
			source = service.NewThrottledPowerSource(source, time.Duration(interval)*time.Millisecond, logger)
		}
		filter, err := service.NewClientFilter(pm.Netmask, logger)
		if err != nil {
			closeSource(source)
			closeRoutes(routes)
			return nil, fmt.Errorf("power source %s: %w", name, err)
		}
		logger.Info("powermeter@build source ready",
			zap.String("source", name),
			zap.String("type", pm.Type),
			zap.Strings("netmask", pm.Netmask),
			zap.Uint32("throttle_millis", interval))
		routes = append(routes, service.Route{Name: name, Source: source, Filter: filter})
	}
	return routes, nil
}

func NewSource(name string, pm config.PowermeterConfig, logger *zap.Logger) (port.PowerSource, error) {
	switch pm.Type {
	case config.POWERMETER_TYPE_MQTT:
		src := NewMQTTSource(name, pm.MQTT, logger)
		src.Start()
		return src, nil
	case config.POWERMETER_TYPE_MODBUS:
		reader, err := modbusmeter.CreateRegisterPowerReader(modbusmeter.Config{
			Host:         pm.Modbus.Host,
			Port:         pm.Modbus.Port,
			UnitID:       pm.Modbus.UnitID,
			Address:      pm.Modbus.Address,
			Count:        pm.Modbus.Count,
			DataType:     modbusmeter.DataType(pm.Modbus.DataType),
			ByteOrder:    pm.Modbus.ByteOrder,
			WordOrder:    pm.Modbus.WordOrder,
			RegisterType: pm.Modbus.RegisterType,
			Timeout:      time.Duration(pm.Modbus.TimeoutMillis) * time.Millisecond,
		}, logger, nil)
		if err != nil {
			return nil, err
		}
		return NewModbusSource(name, reader), nil
	case config.POWERMETER_TYPE_SCRIPT:
		return NewScriptSource(name, pm.Script.Command, time.Duration(pm.Script.TimeoutMillis)*time.Millisecond), nil
	case config.POWERMETER_TYPE_JSON_HTTP:
		return NewJSONHTTPSource(name, pm.JSONHTTP), nil
	}
	return nil, fmt.Errorf("unknown power source type %q", pm.Type)
}

func closeRoutes(routes []service.Route) {
	for _, r := range routes {
		closeSource(r.Source)
	}
}

func closeSource(source port.PowerSource) error {
	if closer, ok := source.(port.PowerSourceCloser); ok {
		return closer.Close()
	}
	return nil
}
