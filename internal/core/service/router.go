package service

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/berfenger/b2500meter/internal/core/port"
	"go.uber.org/zap"
)

const DefaultNetmask = "0.0.0.0/0"

// ClientFilter matches IPv4 client addresses against a set of prefixes.
type ClientFilter struct {
	prefixes []netip.Prefix
	logger   *zap.Logger
}

// NewClientFilter accepts CIDR prefixes or bare IPv4 addresses. An empty list
// matches every IPv4 client.
func NewClientFilter(netmasks []string, logger *zap.Logger) (*ClientFilter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(netmasks) == 0 {
		netmasks = []string{DefaultNetmask}
	}
	prefixes := make([]netip.Prefix, 0, len(netmasks))
	for _, mask := range netmasks {
		prefix, err := ParseNetmask(mask)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix)
	}
	return &ClientFilter{prefixes: prefixes, logger: logger}, nil
}

func ParseNetmask(mask string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(mask); err == nil {
		if !prefix.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("netmask %q is not IPv4", mask)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(mask)
	if err != nil || !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("invalid netmask %q", mask)
	}
	return netip.PrefixFrom(addr, 32), nil
}

func (f *ClientFilter) Matches(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		f.logger.Warn("filter@match invalid client address", zap.String("ip", ip), zap.Error(err))
		return false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		f.logger.Warn("filter@match client address is not IPv4", zap.String("ip", ip))
		return false
	}
	for _, prefix := range f.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

type Route struct {
	Name   string
	Source port.PowerSource
	Filter *ClientFilter
}

// Router picks the power source for a client. Routes are checked in order
// and the first match wins. Routes are never modified after construction.
type Router struct {
	routes []Route
	logger *zap.Logger
}

func NewRouter(routes []Route, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{routes: routes, logger: logger.With(zap.String("component", "router"))}
}

func (r *Router) Routes() []Route {
	return r.routes
}

func (r *Router) Resolve(ip string) (port.PowerSource, bool) {
	for _, route := range r.routes {
		if route.Filter.Matches(ip) {
			r.logger.Debug("router@resolve match", zap.String("ip", ip), zap.String("route", route.Name))
			return route.Source, true
		}
	}
	return nil, false
}

// ResolveAddr resolves a UDP or TCP peer address.
func (r *Router) ResolveAddr(addr net.Addr) (port.PowerSource, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return r.Resolve(a.IP.String())
	case *net.TCPAddr:
		return r.Resolve(a.IP.String())
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		r.logger.Warn("router@resolve bad peer address", zap.String("addr", addr.String()))
		return nil, false
	}
	return r.Resolve(host)
}
