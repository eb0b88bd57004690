// Package coordinator is the entry point the chat transport calls into. It
// wires the session store, the creation conversation and the notification
// outbox together and exposes one method per user intent.
package coordinator

import (
	"context"
	"fmt"

	"github.com/zulandar/muster/internal/creation"
	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/outbox"
	"github.com/zulandar/muster/internal/session"
	"go.uber.org/zap"
)

// Coordinator owns the core components for the lifetime of the process.
type Coordinator struct {
	store    *session.Store
	outbox   *outbox.Outbox
	creation *creation.Manager
	logger   *zap.Logger
}

// Opts holds parameters for creating a Coordinator.
type Opts struct {
	Messenger outbox.Messenger // required; delivers notifications to users
	// ExtraSinks also receive every session event, after the outbox.
	ExtraSinks  []session.Sink
	MinCapacity int
	MaxCapacity int
	CancelWords []string
	Outbox      outbox.Opts // Messenger and Logger are filled in from above
	Logger      *zap.Logger
}

// New builds the store, outbox and creation manager and connects them.
func New(opts Opts) (*Coordinator, error) {
	if opts.Messenger == nil {
		return nil, fmt.Errorf("coordinator: messenger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	obOpts := opts.Outbox
	obOpts.Messenger = opts.Messenger
	obOpts.Logger = logger.Named("outbox")
	ob, err := outbox.New(obOpts)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	sinks := append(session.Sinks{ob}, opts.ExtraSinks...)
	store := session.NewStore(session.StoreOpts{
		Sink:   sinks,
		Logger: logger.Named("store"),
	})

	cm, err := creation.New(creation.Opts{
		Committer:   store,
		MinCapacity: opts.MinCapacity,
		MaxCapacity: opts.MaxCapacity,
		CancelWords: opts.CancelWords,
		Logger:      logger.Named("creation"),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	return &Coordinator{
		store:    store,
		outbox:   ob,
		creation: cm,
		logger:   logger,
	}, nil
}

// HandleCreateStart begins (or restarts) the creation conversation.
func (c *Coordinator) HandleCreateStart(userID, userName string) creation.Reply {
	return c.creation.Start(userID, userName)
}

// HandleCreateInput advances the user's creation conversation.
func (c *Coordinator) HandleCreateInput(ctx context.Context, userID, text string) (creation.Reply, error) {
	return c.creation.Input(ctx, userID, text)
}

// HandleCreateCancel abandons the user's creation conversation, reporting
// whether there was one.
func (c *Coordinator) HandleCreateCancel(userID string) bool {
	return c.creation.Cancel(userID)
}

// CreationActive reports whether the user is mid-conversation.
func (c *Coordinator) CreationActive(userID string) bool {
	return c.creation.Active(userID)
}

// HandleJoin adds the user to a session.
func (c *Coordinator) HandleJoin(ctx context.Context, sessionID int64, userID, userName string) error {
	return c.store.Join(ctx, sessionID, userID, userName)
}

// HandleLeave removes the user from a session. A creator leaving cancels it.
func (c *Coordinator) HandleLeave(ctx context.Context, sessionID int64, userID string) (session.LeaveResult, error) {
	return c.store.Leave(ctx, sessionID, userID)
}

// HandleDelete cancels a session on behalf of its creator.
func (c *Coordinator) HandleDelete(ctx context.Context, sessionID int64, userID string) error {
	return c.store.Delete(ctx, sessionID, userID)
}

// ListOpenSessions returns every listed session.
func (c *Coordinator) ListOpenSessions() []*models.Session {
	return c.store.ListOpen()
}

// ListGatheredSessions returns sessions with every slot filled.
func (c *Coordinator) ListGatheredSessions() []*models.Session {
	return c.store.ListGathered()
}

// ListMySessions returns the sessions the user belongs to.
func (c *Coordinator) ListMySessions(userID string) []*models.Session {
	return c.store.ListByMember(userID)
}

// GetSession returns one session by id.
func (c *Coordinator) GetSession(id int64) (*models.Session, error) {
	return c.store.Get(id)
}

// FindSessionByTitleFragment is a best-effort lookup by partial title.
func (c *Coordinator) FindSessionByTitleFragment(text string) (*models.Session, error) {
	return c.store.FindByTitle(text)
}

// FlushNotifications returns and clears the user's pending notifications.
func (c *Coordinator) FlushNotifications(userID string) []models.Notification {
	return c.outbox.Flush(userID)
}

// PendingNotifications returns how many notifications wait for the user.
func (c *Coordinator) PendingNotifications(userID string) int {
	return c.outbox.Pending(userID)
}

// SessionCount returns the number of live sessions.
func (c *Coordinator) SessionCount() int {
	return c.store.Len()
}
