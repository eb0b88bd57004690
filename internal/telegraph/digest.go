package telegraph

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/muster/internal/models"
	"go.uber.org/zap"
)

// SessionLister supplies the sessions a digest summarizes.
type SessionLister interface {
	ListOpenSessions() []*models.Session
}

// Digest periodically posts a summary of listed sessions to the adapter's
// announcement channel. Nothing is posted when no session is listed.
type Digest struct {
	lister    SessionLister
	adapter   Adapter
	schedule  cron.Schedule
	channelID string
	logger    *zap.Logger
	now       func() time.Time
}

// DigestOpts holds parameters for creating a Digest.
type DigestOpts struct {
	Lister    SessionLister
	Adapter   Adapter
	Cron      string // 5-field cron expression
	ChannelID string // empty posts to the adapter's default channel
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewDigest validates opts and parses the schedule.
func NewDigest(opts DigestOpts) (*Digest, error) {
	if opts.Lister == nil {
		return nil, fmt.Errorf("telegraph: digest: lister is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: digest: adapter is required")
	}
	sched, err := ParseSchedule(opts.Cron)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Digest{
		lister:    opts.Lister,
		adapter:   opts.Adapter,
		schedule:  sched,
		channelID: opts.ChannelID,
		logger:    logger,
		now:       now,
	}, nil
}

// Build returns the digest card, or false when there is nothing to report.
func (d *Digest) Build() (FormattedEvent, bool) {
	sessions := d.lister.ListOpenSessions()
	if len(sessions) == 0 {
		return FormattedEvent{}, false
	}
	return FormatDigest(sessions), true
}

// Post sends one digest now. It reports whether anything was sent.
func (d *Digest) Post(ctx context.Context) (bool, error) {
	card, ok := d.Build()
	if !ok {
		return false, nil
	}
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.channelID,
		Events:    []FormattedEvent{card},
	}); err != nil {
		return false, fmt.Errorf("telegraph: send digest: %w", err)
	}
	return true, nil
}

// Run posts digests on schedule until ctx is cancelled.
func (d *Digest) Run(ctx context.Context) {
	timer := time.NewTimer(untilNext(d.schedule, d.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sent, err := d.Post(ctx)
			if err != nil {
				d.logger.Warn("digest", zap.Error(err))
			} else if !sent {
				d.logger.Debug("digest suppressed: no listed sessions")
			}
			timer.Reset(untilNext(d.schedule, d.now()))
		}
	}
}
