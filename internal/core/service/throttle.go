package service

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/port"
	"go.uber.org/zap"
)

// ThrottledPowerSource limits how often the wrapped source is hit and serves
// the last good reading when a fetch fails. All callers serialize behind one
// lock, including the wait for the next allowed fetch.
type ThrottledPowerSource struct {
	source      port.PowerSource
	minInterval time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	lastFetch time.Time
	last      domain.Reading
}

func NewThrottledPowerSource(source port.PowerSource, minInterval time.Duration, logger *zap.Logger) *ThrottledPowerSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThrottledPowerSource{
		source:      source,
		minInterval: minInterval,
		logger:      logger.With(zap.String("component", "throttle")),
	}
}

func (t *ThrottledPowerSource) MinInterval() time.Duration {
	return t.minInterval
}

func (t *ThrottledPowerSource) Fetch(ctx context.Context) (domain.Reading, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.minInterval <= 0 {
		reading, err := t.source.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		t.store(reading)
		return reading.Clone(), nil
	}

	if !t.lastFetch.IsZero() {
		if wait := t.minInterval - time.Since(t.lastFetch); wait > 0 {
			t.logger.Debug("throttle@fetch waiting", zap.Duration("wait", wait))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				if t.last != nil {
					return t.last.Clone(), nil
				}
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	reading, err := t.source.Fetch(ctx)
	if err != nil {
		if t.last != nil {
			t.logger.Warn("throttle@fetch failed, serving cached reading", zap.Error(err))
			return t.last.Clone(), nil
		}
		return nil, err
	}
	t.store(reading)
	return reading.Clone(), nil
}

func (t *ThrottledPowerSource) WaitForMessage(ctx context.Context, timeout time.Duration) error {
	return t.source.WaitForMessage(ctx, timeout)
}

// Close releases the wrapped source when it holds connections.
func (t *ThrottledPowerSource) Close() error {
	if closer, ok := t.source.(port.PowerSourceCloser); ok {
		return closer.Close()
	}
	return nil
}

func (t *ThrottledPowerSource) store(reading domain.Reading) {
	t.last = reading.Clone()
	t.lastFetch = time.Now()
}
