package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/berfenger/b2500meter/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

const (
	POWERMETER_TYPE_MQTT      = "mqtt"
	POWERMETER_TYPE_MODBUS    = "modbus"
	POWERMETER_TYPE_SCRIPT    = "script"
	POWERMETER_TYPE_JSON_HTTP = "json_http"
)

type Config struct {
	LogLevel               zapcore.Level
	DeviceTypes            []string           `mapstructure:"device_types"`
	DeviceIDs              []string           `mapstructure:"device_ids"`
	SkipPowermeterTest     bool               `mapstructure:"skip_powermeter_test"`
	ThrottleIntervalMillis uint32             `mapstructure:"throttle_interval_millis"`
	CT001                  CT001Config        `mapstructure:"ct001"`
	CT002                  CT002Config        `mapstructure:"ct002"`
	Shelly                 ShellyConfig       `mapstructure:"shelly"`
	Powermeters            []PowermeterConfig `mapstructure:"powermeters"`
	Health                 HealthConfig       `mapstructure:"health"`
}

type CT001Config struct {
	UDPPort               int    `mapstructure:"udp_port"`
	TCPPort               int    `mapstructure:"tcp_port"`
	PollIntervalMillis    uint32 `mapstructure:"poll_interval_millis"`
	DedupeWindowMillis    uint32 `mapstructure:"dedupe_window_millis"`
	DisableSumPhases      bool   `mapstructure:"disable_sum_phases"`
	DisableAbsoluteValues bool   `mapstructure:"disable_absolute_values"`
}

type CT002Config struct {
	CT001Config          `mapstructure:",squash"`
	CTMac                string   `mapstructure:"ct_mac"`
	CTType               string   `mapstructure:"ct_type"`
	BatteryMac           string   `mapstructure:"battery_mac"`
	EnforceBatteryMAC    bool     `mapstructure:"enforce_battery_mac"`
	DiscoveryBatteryMacs []string `mapstructure:"discovery_battery_macs"`
}

type ShellyConfig struct {
	MDNSAdvertise bool `mapstructure:"mdns_advertise"`
}

type HealthConfig struct {
	Enable  bool   `mapstructure:"enable"`
	Bind    string `mapstructure:"bind"`
	Port    uint   `mapstructure:"port"`
	HttpLog bool   `mapstructure:"http_log"`
}

type PowermeterConfig struct {
	Name    string   `mapstructure:"name"`
	Type    string   `mapstructure:"type"`
	Netmask []string `mapstructure:"netmask"`
	// ThrottleIntervalMillis overrides the global interval when set.
	ThrottleIntervalMillis *uint32          `mapstructure:"throttle_interval_millis"`
	MQTT                   MQTTSourceConfig `mapstructure:"mqtt"`
	Modbus                 ModbusConfig     `mapstructure:"modbus"`
	Script                 ScriptConfig     `mapstructure:"script"`
	JSONHTTP               JSONHTTPConfig   `mapstructure:"json_http"`
}

type MQTTSourceConfig struct {
	Host     string
	Port     int
	Topic    string
	JSONPath string `mapstructure:"json_path"`
	Username string
	Password string
}

type ModbusConfig struct {
	Host          string
	Port          uint
	UnitID        uint8  `mapstructure:"unit_id"`
	Address       uint16 `mapstructure:"address"`
	Count         uint16 `mapstructure:"count"`
	DataType      string `mapstructure:"data_type"`
	ByteOrder     string `mapstructure:"byte_order"`
	WordOrder     string `mapstructure:"word_order"`
	RegisterType  string `mapstructure:"register_type"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type ScriptConfig struct {
	Command       string
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type JSONHTTPConfig struct {
	URL           string            `mapstructure:"url"`
	JSONPaths     []string          `mapstructure:"json_paths"`
	Username      string            `mapstructure:"username"`
	Password      string            `mapstructure:"password"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutMillis uint32            `mapstructure:"timeout_millis"`
}

var macRegexp = regexp.MustCompile("^[0-9a-fA-F]{12}$")

// CheckMAC validates a 12 hex digit MAC and returns it lowercased.
func CheckMAC(mac string) (string, error) {
	if !macRegexp.MatchString(mac) {
		return "", fmt.Errorf("invalid mac %q. must be 12 hex digits", mac)
	}
	return strings.ToLower(mac), nil
}

var netmaskRegexp = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}(/\d{1,2})?$`)

func CheckNetmasks(netmasks []string) error {
	for _, mask := range netmasks {
		if !netmaskRegexp.MatchString(strings.TrimSpace(mask)) {
			return fmt.Errorf("invalid netmask %q", mask)
		}
	}
	return nil
}

// DefaultDeviceIDs fills missing device ids in device type order.
func DefaultDeviceIDs(deviceTypes []string, deviceIDs []string, isShelly func(string) bool) []string {
	ids := append([]string(nil), deviceIDs...)
	for len(ids) < len(deviceTypes) {
		n := len(ids) + 1
		deviceType := deviceTypes[len(ids)]
		if isShelly(deviceType) {
			ids = append(ids, fmt.Sprintf("%s-ec4609c439c%d", deviceType, n))
		} else {
			ids = append(ids, fmt.Sprintf("device-%d", n))
		}
	}
	return ids
}

const MIN_POLL_INTERVAL_MILLIS = 100

// Validate checks bounds after unmarshal and fills derived values: MACs are
// lowercased and missing device ids are generated.
func (c *Config) Validate() error {
	if len(c.DeviceTypes) == 0 {
		return errors.New("config param device_types must name at least one device")
	}
	for i, deviceType := range c.DeviceTypes {
		deviceType = strings.ToLower(strings.TrimSpace(deviceType))
		if !domain.IsKnownDeviceType(deviceType) {
			return fmt.Errorf("config param device_types: unknown device type %q", deviceType)
		}
		c.DeviceTypes[i] = deviceType
	}
	if len(c.DeviceIDs) > len(c.DeviceTypes) {
		return errors.New("config param device_ids has more entries than device_types")
	}
	c.DeviceIDs = DefaultDeviceIDs(c.DeviceTypes, c.DeviceIDs, domain.IsShellyDeviceType)
	if err := c.checkPorts(); err != nil {
		return err
	}

	if c.CT001.PollIntervalMillis < MIN_POLL_INTERVAL_MILLIS {
		return fmt.Errorf("config param ct001.poll_interval_millis should be >= %d", MIN_POLL_INTERVAL_MILLIS)
	}
	if c.CT002.PollIntervalMillis < MIN_POLL_INTERVAL_MILLIS {
		return fmt.Errorf("config param ct002.poll_interval_millis should be >= %d", MIN_POLL_INTERVAL_MILLIS)
	}

	var err error
	if c.CT002.CTMac, err = CheckMAC(c.CT002.CTMac); err != nil {
		return fmt.Errorf("config param ct002.ct_mac: %w", err)
	}
	if c.CT002.BatteryMac, err = CheckMAC(c.CT002.BatteryMac); err != nil {
		return fmt.Errorf("config param ct002.battery_mac: %w", err)
	}
	for i, mac := range c.CT002.DiscoveryBatteryMacs {
		if c.CT002.DiscoveryBatteryMacs[i], err = CheckMAC(mac); err != nil {
			return fmt.Errorf("config param ct002.discovery_battery_macs: %w", err)
		}
	}

	if len(c.Powermeters) == 0 {
		return errors.New("config param powermeters must define at least one power source")
	}
	for i, pm := range c.Powermeters {
		if err := pm.Validate(); err != nil {
			return fmt.Errorf("config param powermeters[%d]: %w", i, err)
		}
	}
	return nil
}

// checkPorts rejects device combinations that would bind the same port.
// ct001 and ct002 share default ports, so running both needs one moved.
func (c *Config) checkPorts() error {
	udp := map[int]string{}
	tcp := map[int]string{}
	claim := func(ports map[int]string, proto string, port int, deviceType string) error {
		if port == 0 {
			return nil
		}
		if other, ok := ports[port]; ok {
			return fmt.Errorf("config param device_types: %s and %s both use %s port %d", other, deviceType, proto, port)
		}
		ports[port] = deviceType
		return nil
	}
	for _, deviceType := range c.DeviceTypes {
		var udpPort, tcpPort int
		switch deviceType {
		case domain.DEVICE_TYPE_CT001:
			udpPort, tcpPort = c.CT001.UDPPort, c.CT001.TCPPort
		case domain.DEVICE_TYPE_CT002:
			udpPort, tcpPort = c.CT002.UDPPort, c.CT002.TCPPort
		default:
			udpPort = domain.ShellyDefaultPort(deviceType)
		}
		if err := claim(udp, "udp", udpPort, deviceType); err != nil {
			return err
		}
		if err := claim(tcp, "tcp", tcpPort, deviceType); err != nil {
			return err
		}
	}
	return nil
}

func (p PowermeterConfig) Validate() error {
	switch p.Type {
	case POWERMETER_TYPE_MQTT:
		if p.MQTT.Host == "" || p.MQTT.Topic == "" {
			return errors.New("mqtt power source needs host and topic")
		}
	case POWERMETER_TYPE_MODBUS:
		if p.Modbus.Host == "" {
			return errors.New("modbus power source needs host")
		}
	case POWERMETER_TYPE_SCRIPT:
		if p.Script.Command == "" {
			return errors.New("script power source needs command")
		}
	case POWERMETER_TYPE_JSON_HTTP:
		if p.JSONHTTP.URL == "" || len(p.JSONHTTP.JSONPaths) == 0 {
			return errors.New("json_http power source needs url and json_paths")
		}
	default:
		return fmt.Errorf("unknown power source type %q", p.Type)
	}
	return CheckNetmasks(p.Netmask)
}
