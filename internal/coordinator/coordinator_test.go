package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/muster/internal/creation"
	"github.com/zulandar/muster/internal/outbox"
	"github.com/zulandar/muster/internal/session"
)

// inbox is a Messenger that records what each user received and can be
// told to drop deliveries for some users.
type inbox struct {
	mu       sync.Mutex
	received map[string][]string
	offline  map[string]bool
}

func newInbox() *inbox {
	return &inbox{received: make(map[string][]string), offline: make(map[string]bool)}
}

func (in *inbox) Send(_ context.Context, userID, text string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.offline[userID] {
		return errors.New("user unreachable")
	}
	in.received[userID] = append(in.received[userID], text)
	return nil
}

func (in *inbox) texts(userID string) []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.received[userID]...)
}

func (in *inbox) countContaining(userID, fragment string) int {
	n := 0
	for _, txt := range in.texts(userID) {
		if strings.Contains(txt, fragment) {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, in *inbox, sinks ...session.Sink) *Coordinator {
	t.Helper()
	c, err := New(Opts{Messenger: in, ExtraSinks: sinks})
	require.NoError(t, err)
	return c
}

func createSession(t *testing.T, c *Coordinator, userID, userName, title, capacity string) int64 {
	t.Helper()
	ctx := context.Background()
	c.HandleCreateStart(userID, userName)
	var r creation.Reply
	for _, in := range []string{title, "15.01.2030 19:00", "Park", capacity} {
		var err error
		r, err = c.HandleCreateInput(ctx, userID, in)
		require.NoError(t, err)
	}
	require.NotNil(t, r.Session)
	return r.Session.ID
}

func TestNew_RequiresMessenger(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)
}

func TestScenario_ChessNight(t *testing.T) {
	ctx := context.Background()
	in := newInbox()
	c := newTestCoordinator(t, in)

	id := createSession(t, c, "A", "Alice", "Chess Night", "2")
	s, err := c.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "open", string(s.Status))
	assert.Len(t, s.Members, 1)
	assert.Empty(t, in.texts("A"), "creation notifies nobody")

	require.NoError(t, c.HandleJoin(ctx, id, "B", "Bob"))
	s, _ = c.GetSession(id)
	assert.Equal(t, "gathered", string(s.Status))
	assert.Equal(t, 1, in.countContaining("A", "has gathered"))
	assert.Equal(t, 1, in.countContaining("B", "has gathered"))
	assert.Equal(t, 1, in.countContaining("A", "Bob joined"))

	bobBefore := len(in.texts("B"))
	res, err := c.HandleLeave(ctx, id, "B")
	require.NoError(t, err)
	assert.Equal(t, session.Left, res)

	s, _ = c.GetSession(id)
	assert.Equal(t, "open", string(s.Status))
	assert.Len(t, s.Members, 1)
	assert.Equal(t, 1, in.countContaining("A", "Bob left"))
	assert.Len(t, in.texts("B"), bobBefore, "the leaver receives nothing")
	assert.Equal(t, 1, in.countContaining("A", "has gathered"), "no duplicate gathered notification")
}

func TestCreatorLeaveEqualsDelete(t *testing.T) {
	ctx := context.Background()
	in := newInbox()
	c := newTestCoordinator(t, in)
	id := createSession(t, c, "A", "Alice", "Poker", "4")
	require.NoError(t, c.HandleJoin(ctx, id, "B", "Bob"))

	res, err := c.HandleLeave(ctx, id, "A")
	require.NoError(t, err)
	assert.Equal(t, session.Cancelled, res)

	_, err = c.GetSession(id)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, 1, in.countContaining("B", "was cancelled"))
	assert.Zero(t, in.countContaining("A", "was cancelled"))
}

func TestDeliveryFailure_BufferedUntilFlushed(t *testing.T) {
	ctx := context.Background()
	in := newInbox()
	in.offline["A"] = true
	c := newTestCoordinator(t, in)
	id := createSession(t, c, "A", "Alice", "Go", "3")

	require.NoError(t, c.HandleJoin(ctx, id, "B", "Bob"), "a delivery failure never fails the actor")
	assert.Equal(t, 1, c.PendingNotifications("A"))

	notes := c.FlushNotifications("A")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Text, "Bob joined")
	assert.Equal(t, id, notes[0].SessionID)
	assert.Empty(t, c.FlushNotifications("A"))
}

func TestExtraSinksReceiveEvents(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var kinds []session.EventKind
	sink := session.SinkFunc(func(_ context.Context, ev session.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	c := newTestCoordinator(t, newInbox(), sink)

	id := createSession(t, c, "A", "Alice", "Go", "2")
	require.NoError(t, c.HandleJoin(ctx, id, "B", "Bob"))
	require.NoError(t, c.HandleDelete(ctx, id, "A"))

	assert.Equal(t, []session.EventKind{
		session.EventCreated, session.EventJoined, session.EventGathered, session.EventCancelled,
	}, kinds)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, newInbox())
	a := createSession(t, c, "A", "Alice", "Chess Night", "2")
	createSession(t, c, "B", "Bob", "Mafia", "6")
	require.NoError(t, c.HandleJoin(ctx, a, "C", "Carol"))

	assert.Len(t, c.ListOpenSessions(), 2)
	assert.Len(t, c.ListGatheredSessions(), 1)
	assert.Len(t, c.ListMySessions("C"), 1)
	assert.Equal(t, 2, c.SessionCount())

	s, err := c.FindSessionByTitleFragment("maf")
	require.NoError(t, err)
	assert.Equal(t, "Mafia", s.Title)

	assert.ErrorIs(t, c.HandleDelete(ctx, a, "C"), session.ErrForbidden)
}

func TestCreationCancel(t *testing.T) {
	c := newTestCoordinator(t, newInbox())
	c.HandleCreateStart("A", "Alice")
	assert.True(t, c.CreationActive("A"))
	assert.True(t, c.HandleCreateCancel("A"))
	assert.False(t, c.CreationActive("A"))

	_, err := c.HandleCreateInput(context.Background(), "A", "Chess")
	assert.ErrorIs(t, err, creation.ErrNoFlow)
}

var _ outbox.Messenger = (*inbox)(nil)
