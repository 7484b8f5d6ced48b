package shelly

import (
	"fmt"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/enbility/zeroconf/v3"
)

const (
	mdnsService = "_shelly._tcp"
	mdnsDomain  = "local."
)

// Advertiser publishes the emulated device over mDNS so apps that browse for
// Shelly devices can find it.
type Advertiser struct {
	server *zeroconf.Server
}

func mdnsApp(deviceType string) string {
	switch deviceType {
	case domain.DEVICE_TYPE_SHELLY_PRO_3EM:
		return "Pro3EM"
	case domain.DEVICE_TYPE_SHELLY_EM_G3:
		return "EMG3"
	case domain.DEVICE_TYPE_SHELLY_PRO_EM50:
		return "ProEM"
	}
	return deviceType
}

func mdnsTXT(deviceType string, deviceID string) []string {
	return []string{
		"gen=2",
		"app=" + mdnsApp(deviceType),
		"id=" + deviceID,
	}
}

func Advertise(deviceType string, deviceID string, port int) (*Advertiser, error) {
	server, err := zeroconf.Register(deviceID, mdnsService, mdnsDomain, port, mdnsTXT(deviceType, deviceID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", mdnsService, err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}
