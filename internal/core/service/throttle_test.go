package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu      sync.Mutex
	calls   []time.Time
	results []scriptedResult
	waitErr error
}

type scriptedResult struct {
	reading domain.Reading
	err     error
}

func (s *scriptedSource) Fetch(_ context.Context) (domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if len(s.results) == 0 {
		return domain.Reading{1, 2, 3}, nil
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r.reading, r.err
}

func (s *scriptedSource) WaitForMessage(_ context.Context, _ time.Duration) error {
	return s.waitErr
}

func (s *scriptedSource) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

func TestThrottleSpacesBackendCalls(t *testing.T) {

	require := require.New(t)

	src := &scriptedSource{}
	throttled := NewThrottledPowerSource(src, 200*time.Millisecond, nil)

	_, err := throttled.Fetch(context.Background())
	require.NoError(err)
	_, err = throttled.Fetch(context.Background())
	require.NoError(err)

	calls := src.callTimes()
	require.Len(calls, 2)
	require.GreaterOrEqual(calls[1].Sub(calls[0]), 200*time.Millisecond)
}

func TestThrottleFallsBackToCache(t *testing.T) {

	assert := assert.New(t)

	src := &scriptedSource{results: []scriptedResult{
		{reading: domain.Reading{100, 200, 300}},
		{err: errors.New("backend down")},
	}}
	throttled := NewThrottledPowerSource(src, 200*time.Millisecond, nil)

	first, err := throttled.Fetch(context.Background())
	assert.NoError(err)
	second, err := throttled.Fetch(context.Background())
	assert.NoError(err)
	assert.Equal(first, second)
	assert.Len(src.callTimes(), 2)
}

func TestThrottleErrorWithoutCache(t *testing.T) {

	assert := assert.New(t)

	cause := errors.New("backend down")
	src := &scriptedSource{results: []scriptedResult{{err: cause}}}
	throttled := NewThrottledPowerSource(src, 50*time.Millisecond, nil)

	_, err := throttled.Fetch(context.Background())
	assert.ErrorIs(err, cause)
}

func TestThrottleDisabledPropagatesErrors(t *testing.T) {

	assert := assert.New(t)

	cause := errors.New("backend down")
	src := &scriptedSource{results: []scriptedResult{
		{reading: domain.Reading{5}},
		{err: cause},
	}}
	throttled := NewThrottledPowerSource(src, 0, nil)

	start := time.Now()
	r, err := throttled.Fetch(context.Background())
	assert.NoError(err)
	assert.Equal(domain.Reading{5}, r)
	_, err = throttled.Fetch(context.Background())
	assert.ErrorIs(err, cause)
	assert.Less(time.Since(start), 100*time.Millisecond)
}

func TestThrottleWaitCancelledServesCache(t *testing.T) {

	assert := assert.New(t)

	src := &scriptedSource{}
	throttled := NewThrottledPowerSource(src, 5*time.Second, nil)

	_, err := throttled.Fetch(context.Background())
	assert.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r, err := throttled.Fetch(ctx)
	assert.NoError(err)
	assert.Equal(domain.Reading{1, 2, 3}, r)
	assert.Len(src.callTimes(), 1)
}

func TestThrottleSerializesConcurrentCallers(t *testing.T) {

	require := require.New(t)

	src := &scriptedSource{}
	throttled := NewThrottledPowerSource(src, 100*time.Millisecond, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := throttled.Fetch(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	calls := src.callTimes()
	require.Len(calls, 3)
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(calls[i].Sub(calls[i-1]), 100*time.Millisecond)
	}
}

func TestThrottleWaitForMessagePassesThrough(t *testing.T) {

	assert := assert.New(t)

	src := &scriptedSource{waitErr: domain.ErrTimeout}
	throttled := NewThrottledPowerSource(src, time.Second, nil)

	assert.ErrorIs(throttled.WaitForMessage(context.Background(), time.Millisecond), domain.ErrTimeout)
	assert.Empty(src.callTimes())
}
