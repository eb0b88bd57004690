// Package outbox keeps per-user queues of notifications and attempts
// immediate delivery through a Messenger, buffering whatever it could not
// deliver until the user reads it.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/session"
	"go.uber.org/zap"
)

// DefaultSendTimeout bounds a single Messenger call during a broadcast.
const DefaultSendTimeout = 10 * time.Second

// ErrDeliveryFailed marks a Messenger failure. It is logged and absorbed by
// the outbox; callers never see it.
var ErrDeliveryFailed = errors.New("delivery failed")

// Messenger delivers a text to a single user over the chat transport.
type Messenger interface {
	Send(ctx context.Context, userID, text string) error
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, userID, text string) error

// Send calls f.
func (f MessengerFunc) Send(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// Outbox implements session.Sink: every event recipient gets one delivery
// attempt, and failed attempts land in that recipient's queue.
type Outbox struct {
	messenger   Messenger
	logger      *zap.Logger
	sendTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	queues map[string][]models.Notification // key: recipient user ID, oldest first
}

var _ session.Sink = (*Outbox)(nil)

// Opts holds parameters for creating an Outbox.
type Opts struct {
	Messenger   Messenger
	Logger      *zap.Logger      // defaults to a no-op logger
	SendTimeout time.Duration    // defaults to DefaultSendTimeout
	Now         func() time.Time // defaults to time.Now
}

// New creates an Outbox.
func New(opts Opts) (*Outbox, error) {
	if opts.Messenger == nil {
		return nil, fmt.Errorf("outbox: messenger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Outbox{
		messenger:   opts.Messenger,
		logger:      logger,
		sendTimeout: timeout,
		now:         now,
		queues:      make(map[string][]models.Notification),
	}, nil
}

// Enqueue appends a plain text notification to userID's queue.
func (o *Outbox) Enqueue(userID, text string) models.Notification {
	n := o.newNotification(userID, text)
	o.EnqueueNotification(n)
	return n
}

// EnqueueNotification appends n to its recipient's queue.
func (o *Outbox) EnqueueNotification(n models.Notification) {
	o.mu.Lock()
	o.queues[n.RecipientID] = append(o.queues[n.RecipientID], n)
	o.mu.Unlock()
}

// Flush returns userID's pending notifications, oldest first, and clears
// the queue. Each notification is returned by at most one Flush.
func (o *Outbox) Flush(userID string) []models.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[userID]
	delete(o.queues, userID)
	return q
}

// Pending returns how many notifications wait for userID.
func (o *Outbox) Pending(userID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[userID])
}

// DeliverOrBuffer tries to hand n to the Messenger. On failure the
// notification is queued for the recipient instead. It reports whether the
// immediate delivery succeeded.
func (o *Outbox) DeliverOrBuffer(ctx context.Context, n models.Notification) bool {
	sendCtx, cancel := context.WithTimeout(ctx, o.sendTimeout)
	defer cancel()

	if err := o.messenger.Send(sendCtx, n.RecipientID, n.Text); err != nil {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		o.logger.Warn("notification buffered",
			zap.String("recipient_id", n.RecipientID),
			zap.Int64("session_id", n.SessionID),
			zap.String("kind", n.Kind),
			zap.Error(err))
		o.EnqueueNotification(n)
		return false
	}
	return true
}

// Publish fans ev out to its recipients. Each recipient is attempted
// independently and concurrently; one slow or failing recipient does not
// hold back the others. Publish returns once every attempt has finished.
func (o *Outbox) Publish(ctx context.Context, ev session.Event) {
	if len(ev.Recipients) == 0 {
		return
	}
	text := ev.Text()

	var wg sync.WaitGroup
	for _, userID := range ev.Recipients {
		n := o.newNotification(userID, text)
		n.Kind = string(ev.Kind)
		if ev.Session != nil {
			n.SessionID = ev.Session.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.DeliverOrBuffer(ctx, n)
		}()
	}
	wg.Wait()

	o.logger.Debug("event broadcast",
		zap.String("kind", string(ev.Kind)),
		zap.Int("recipients", len(ev.Recipients)))
}

func (o *Outbox) newNotification(userID, text string) models.Notification {
	return models.Notification{
		ID:          uuid.NewString(),
		RecipientID: userID,
		Text:        text,
		CreatedAt:   o.now(),
	}
}
