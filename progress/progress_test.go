package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu      sync.Mutex
	updates []Update
}

func (p *recordingPoster) PostProgress(_ string, update Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type counter struct {
	n int64
}

func (c *counter) add(delta int64) {
	atomic.AddInt64(&c.n, delta)
}

func (c *counter) fraction(total int64) func() float64 {
	return func() float64 {
		return float64(atomic.LoadInt64(&c.n)) / float64(total)
	}
}

func TestProgressNotificationThrottling(t *testing.T) {
	poster, cnt, cleanup := setup(t)
	defer cleanup()

	cnt.add(1)
	forward(Clock.(*clock.Mock), 1*time.Second)

	cnt.add(1)
	forward(Clock.(*clock.Mock), 1*time.Second)

	require.Equal(t, 1, poster.count())
}

func TestProgressNotificationInterval(t *testing.T) {
	poster, cnt, cleanup := setup(t)
	defer cleanup()

	cnt.add(1)
	forward(Clock.(*clock.Mock), 1*time.Second)

	cnt.add(1)
	forward(Clock.(*clock.Mock), 10*time.Second)

	require.Equal(t, 2, poster.count())
}

func TestProgressBucketChange(t *testing.T) {
	poster, cnt, cleanup := setup(t)
	defer cleanup()

	cnt.add(1)
	forward(Clock.(*clock.Mock), 1*time.Second)

	cnt.add(25)
	forward(Clock.(*clock.Mock), 1*time.Second)

	require.Equal(t, 2, poster.count())
}

func TestFastProgressBucketChangeWithinSameBucketWaitsForInterval(t *testing.T) {
	poster, cnt, cleanup := setup(t)
	defer cleanup()

	cnt.add(1)
	forward(Clock.(*clock.Mock), 1*time.Second)

	cnt.add(1)
	forward(Clock.(*clock.Mock), 500*time.Millisecond)

	require.Equal(t, 1, poster.count())
}

func setup(t *testing.T) (*recordingPoster, *counter, func()) {
	realClock := Clock
	mock := clock.NewMock()
	Clock = mock

	poster := &recordingPoster{}
	cnt := &counter{}

	reporter := NewReporter(context.Background(), poster, "http://coordinator/tasks/abc", "abc")
	reporter.Track(cnt.fraction(100), 1)

	return poster, cnt, func() {
		reporter.Stop()
		Clock = realClock
	}
}

func forward(mock *clock.Mock, d time.Duration) {
	time.Sleep(1 * time.Millisecond)
	mock.Add(d)
	time.Sleep(1 * time.Millisecond)
}
