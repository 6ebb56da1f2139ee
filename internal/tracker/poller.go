package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/ensemble/internal/queue"
)

// DefaultPollInterval is used when the poller is given no interval.
const DefaultPollInterval = 2 * time.Second

// Source provides the aggregate job counts the tracker is built from.
// queue.Manager satisfies it.
type Source interface {
	Counts() queue.Counts
}

// Publisher receives every snapshot the poller produces.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, snap Snapshot) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// Poller refreshes a Tracker from a Source at a fixed interval and fans the
// result out to publishers.
type Poller struct {
	tracker    *Tracker
	source     Source
	interval   time.Duration
	publishers []Publisher
	logger     *slog.Logger
}

// NewPoller creates a poller. A non-positive interval means DefaultPollInterval.
func NewPoller(t *Tracker, src Source, interval time.Duration, logger *slog.Logger, pubs ...Publisher) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		tracker:    t,
		source:     src,
		interval:   interval,
		publishers: pubs,
		logger:     logger,
	}
}

// PollOnce reads the source, updates the tracker, and publishes the snapshot.
func (p *Poller) PollOnce(ctx context.Context) Snapshot {
	c := p.source.Counts()
	snap := p.tracker.SetAll([NumStates]int{
		StateWaiting:  c.Waiting - c.Pending,
		StatePending:  c.Pending,
		StateRunning:  c.Running,
		StateFailed:   c.Failed,
		StateFinished: c.Success + c.Failed,
	})
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, snap); err != nil {
			p.logger.Warn("failed to publish status snapshot", "error", err)
		}
	}
	return snap
}

// Run polls until ctx is cancelled, then polls one final time so consumers
// see the last counts.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.PollOnce(context.Background())
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}
