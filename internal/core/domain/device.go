package domain

import "slices"

const (
	DEVICE_TYPE_CT001           = "ct001"
	DEVICE_TYPE_CT002           = "ct002"
	DEVICE_TYPE_SHELLY_PRO_3EM  = "shellypro3em"
	DEVICE_TYPE_SHELLY_EM_G3    = "shellyemg3"
	DEVICE_TYPE_SHELLY_PRO_EM50 = "shellyproem50"
)

var shellyDeviceTypes = []string{
	DEVICE_TYPE_SHELLY_PRO_3EM,
	DEVICE_TYPE_SHELLY_EM_G3,
	DEVICE_TYPE_SHELLY_PRO_EM50,
}

func IsShellyDeviceType(deviceType string) bool {
	return slices.Contains(shellyDeviceTypes, deviceType)
}

func IsKnownDeviceType(deviceType string) bool {
	return deviceType == DEVICE_TYPE_CT001 || deviceType == DEVICE_TYPE_CT002 || IsShellyDeviceType(deviceType)
}

// ShellyDefaultPort returns the UDP port a Shelly model listens on for RPC.
func ShellyDefaultPort(deviceType string) int {
	switch deviceType {
	case DEVICE_TYPE_SHELLY_PRO_3EM:
		return 1010
	case DEVICE_TYPE_SHELLY_EM_G3:
		return 2222
	case DEVICE_TYPE_SHELLY_PRO_EM50:
		return 2223
	}
	return 0
}
