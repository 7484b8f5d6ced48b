package emulator

import (
	"context"
	"net"
	"sync"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/port"
	"github.com/berfenger/b2500meter/internal/core/service"
	"go.uber.org/zap"
)

// BeforeSendFunc refreshes value for the client at addr right before a
// message is produced for it.
type BeforeSendFunc func(ctx context.Context, addr net.Addr, value *SharedValue)

// SharedValue is the last reading computed for an emulator, or the
// unavailable marker when the backend could not deliver one.
type SharedValue struct {
	refreshMu sync.Mutex

	mu        sync.Mutex
	value     domain.Reading
	available bool
}

func NewSharedValue() *SharedValue {
	return &SharedValue{
		value:     domain.Reading{0, 0, 0},
		available: true,
	}
}

func (v *SharedValue) Set(reading domain.Reading) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = reading.Clone()
	v.available = true
}

func (v *SharedValue) SetUnavailable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = nil
	v.available = false
}

func (v *SharedValue) Get() (domain.Reading, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.available {
		return nil, false
	}
	return v.value.Clone(), true
}

// Refresh runs hook and reads the result as one step, so concurrent
// sessions never read a value produced for another client.
func (v *SharedValue) Refresh(ctx context.Context, addr net.Addr, hook BeforeSendFunc) (domain.Reading, bool) {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()
	if hook != nil {
		hook(ctx, addr, v)
	}
	return v.Get()
}

// Resolver finds the power source serving a peer.
type Resolver interface {
	ResolveAddr(addr net.Addr) (port.PowerSource, bool)
}

// RoutedBeforeSend fetches from the source routed to the peer and stores the
// shaped reading. Unrouted peers and failed fetches mark the value
// unavailable.
func RoutedBeforeSend(resolver Resolver, shaper service.PhaseShaper, logger *zap.Logger) BeforeSendFunc {
	return func(ctx context.Context, addr net.Addr, value *SharedValue) {
		source, ok := resolver.ResolveAddr(addr)
		if !ok {
			logger.Warn("emulator@before_send no power source for client", zap.Stringer("peer", addr))
			value.SetUnavailable()
			return
		}
		reading, err := source.Fetch(ctx)
		if err != nil {
			logger.Warn("emulator@before_send fetch failed", zap.Stringer("peer", addr), zap.Error(err))
			value.SetUnavailable()
			return
		}
		value.Set(shaper.Shape(reading))
	}
}
