package port

import (
	"context"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
)

// PowerSource produces per-phase watt readings on demand.
type PowerSource interface {
	Fetch(ctx context.Context) (domain.Reading, error)
	// WaitForMessage blocks until the source has data to serve or the
	// timeout elapses (domain.ErrTimeout). Sources that poll on demand
	// return immediately.
	WaitForMessage(ctx context.Context, timeout time.Duration) error
}

// PowerSourceCloser is implemented by sources holding connections that must
// be released on shutdown.
type PowerSourceCloser interface {
	PowerSource
	Close() error
}
