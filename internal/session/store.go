// Package session owns the registry of game sessions, their membership and
// the status state machine.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/muster/internal/models"
	"go.uber.org/zap"
)

// Fields are the validated inputs for a new session.
type Fields struct {
	Title    string
	Date     string
	StartsAt time.Time
	Location string
	Capacity int
}

// LeaveResult tells the caller what a successful Leave did.
type LeaveResult int

const (
	// Left means the user was removed from the member list.
	Left LeaveResult = iota + 1
	// Cancelled means the creator left and the session was deleted.
	Cancelled
)

// Store is the authoritative mapping from session id to Session. The map is
// guarded by mu; each session is guarded by its entry's own mutex so that
// operations on different sessions do not serialize.
//
// Lock order is entry then map. Readers copy the entry list under the map
// lock and release it before touching any entry.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*entry
	nextID   int64

	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

type entry struct {
	mu      sync.Mutex
	s       *models.Session
	removed bool
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Sink   Sink             // optional; receives every event after locks are released
	Logger *zap.Logger      // defaults to a no-op logger
	Now    func() time.Time // defaults to time.Now
}

// NewStore creates an empty Store.
func NewStore(opts StoreOpts) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[int64]*entry),
		sink:     opts.Sink,
		logger:   logger,
		now:      now,
	}
}

// Create registers a new open session with the creator as its first member.
// Fields are expected to be validated already.
func (st *Store) Create(ctx context.Context, f Fields, creatorID, creatorName string) *models.Session {
	now := st.now()

	st.mu.Lock()
	st.nextID++
	s := &models.Session{
		ID:          st.nextID,
		Title:       f.Title,
		Date:        f.Date,
		StartsAt:    f.StartsAt,
		Location:    f.Location,
		Capacity:    f.Capacity,
		CreatorID:   creatorID,
		CreatorName: creatorName,
		Members:     []models.Member{{UserID: creatorID, UserName: creatorName}},
		Declined:    make(map[string]struct{}),
		Status:      models.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st.sessions[s.ID] = &entry{s: s}
	snapshot := s.Clone()
	st.mu.Unlock()

	st.logger.Info("session created",
		zap.Int64("session_id", s.ID),
		zap.String("creator_id", creatorID),
		zap.Int("capacity", f.Capacity))

	// Nobody but the creator is involved yet, so there are no recipients.
	st.publish(ctx, []Event{{
		Kind:      EventCreated,
		Session:   snapshot,
		ActorID:   creatorID,
		ActorName: creatorName,
		At:        now,
	}})
	return snapshot.Clone()
}

// Get returns a copy of the session with the given id.
func (st *Store) Get(id int64) (*models.Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, fmt.Errorf("session: get %d: %w", id, ErrNotFound)
	}
	return e.s.Clone(), nil
}

// ListOpen returns every session that is still listed (open or gathered),
// ordered by id.
func (st *Store) ListOpen() []*models.Session {
	return st.filter(func(s *models.Session) bool {
		return s.Status == models.StatusOpen || s.Status == models.StatusGathered
	})
}

// ListGathered returns sessions whose slots are all taken.
func (st *Store) ListGathered() []*models.Session {
	return st.filter(func(s *models.Session) bool {
		return s.Status == models.StatusGathered
	})
}

// ListByMember returns the sessions userID belongs to.
func (st *Store) ListByMember(userID string) []*models.Session {
	return st.filter(func(s *models.Session) bool {
		return s.HasMember(userID)
	})
}

// FindByTitle returns the first session, in id order, whose title contains
// fragment (case-insensitive). It is a best-effort convenience for callers
// that only have free text; titles are not unique, so the match may not be
// the session the user meant.
func (st *Store) FindByTitle(fragment string) (*models.Session, error) {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil, fmt.Errorf("session: find %q: %w", fragment, ErrNotFound)
	}
	matches := st.filter(func(s *models.Session) bool {
		return strings.Contains(strings.ToLower(s.Title), needle)
	})
	if len(matches) == 0 {
		return nil, fmt.Errorf("session: find %q: %w", fragment, ErrNotFound)
	}
	return matches[0], nil
}

// Len returns the number of registered sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Join adds userID to the session. It fails with ErrAlreadyCreator,
// ErrAlreadyMember or ErrFull and leaves the members untouched in that case.
// On success every other member hears about the join, and everyone hears
// about the session gathering if this join filled it.
func (st *Store) Join(ctx context.Context, id int64, userID, userName string) error {
	e, err := st.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("session: join %d: %w", id, ErrNotFound)
	}
	s := e.s
	switch {
	case userID == s.CreatorID:
		err = ErrAlreadyCreator
	case s.HasMember(userID):
		err = ErrAlreadyMember
	case s.IsFull():
		err = ErrFull
	}
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("session: join %d: %w", id, err)
	}

	now := st.now()
	delete(s.Declined, userID)
	s.Members = append(s.Members, models.Member{UserID: userID, UserName: userName})
	s.UpdatedAt = now

	events := []Event{{
		Kind:       EventJoined,
		Session:    s.Clone(),
		ActorID:    userID,
		ActorName:  userName,
		Recipients: membersExcept(s, userID),
		At:         now,
	}}
	if ev, ok := evaluate(s, now); ok {
		ev.ActorID, ev.ActorName = userID, userName
		events = append(events, ev)
	}
	members := len(s.Members)
	e.mu.Unlock()

	st.logger.Info("member joined",
		zap.Int64("session_id", id),
		zap.String("user_id", userID),
		zap.Int("members", members))
	st.publish(ctx, events)
	return nil
}

// Leave removes userID from the session. When the creator leaves, the whole
// session is deleted exactly as Delete would, and Cancelled is returned.
func (st *Store) Leave(ctx context.Context, id int64, userID string) (LeaveResult, error) {
	e, err := st.lookup(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return 0, fmt.Errorf("session: leave %d: %w", id, ErrNotFound)
	}
	s := e.s
	if !s.HasMember(userID) {
		e.mu.Unlock()
		return 0, fmt.Errorf("session: leave %d: %w", id, ErrNotAMember)
	}

	if userID == s.CreatorID {
		ev := st.cancelLocked(e, userID, s.CreatorName)
		e.mu.Unlock()
		st.unregister(id)
		st.logger.Info("creator left, session cancelled", zap.Int64("session_id", id))
		st.publish(ctx, []Event{ev})
		return Cancelled, nil
	}

	now := st.now()
	userName := memberName(s, userID)
	s.RemoveMember(userID)
	if s.Declined == nil {
		s.Declined = make(map[string]struct{})
	}
	s.Declined[userID] = struct{}{}
	s.UpdatedAt = now

	var events []Event
	reopen, reopened := evaluate(s, now)
	events = append(events, Event{
		Kind:       EventLeft,
		Session:    s.Clone(),
		ActorID:    userID,
		ActorName:  userName,
		Recipients: withCreator(s, membersExcept(s, userID)),
		At:         now,
	})
	if reopened {
		reopen.ActorID, reopen.ActorName = userID, userName
		events = append(events, reopen)
	}
	members := len(s.Members)
	e.mu.Unlock()

	st.logger.Info("member left",
		zap.Int64("session_id", id),
		zap.String("user_id", userID),
		zap.Int("members", members))
	st.publish(ctx, events)
	return Left, nil
}

// Delete removes the session on behalf of its creator. Every other member is
// told it was cancelled.
func (st *Store) Delete(ctx context.Context, id int64, requesterID string) error {
	e, err := st.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("session: delete %d: %w", id, ErrNotFound)
	}
	if e.s.CreatorID != requesterID {
		e.mu.Unlock()
		return fmt.Errorf("session: delete %d: %w", id, ErrForbidden)
	}
	ev := st.cancelLocked(e, requesterID, e.s.CreatorName)
	e.mu.Unlock()

	st.unregister(id)
	st.logger.Info("session deleted", zap.Int64("session_id", id))
	st.publish(ctx, []Event{ev})
	return nil
}

// cancelLocked marks the entry removed and builds the cancellation event.
// The caller holds e.mu.
func (st *Store) cancelLocked(e *entry, actorID, actorName string) Event {
	e.removed = true
	e.s.Status = models.StatusCancelled
	e.s.UpdatedAt = st.now()
	return Event{
		Kind:       EventCancelled,
		Session:    e.s.Clone(),
		ActorID:    actorID,
		ActorName:  actorName,
		Recipients: membersExcept(e.s, actorID),
		At:         e.s.UpdatedAt,
	}
}

func (st *Store) lookup(id int64) (*entry, error) {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func (st *Store) unregister(id int64) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// filter returns copies of matching sessions ordered by id.
func (st *Store) filter(keep func(*models.Session) bool) []*models.Session {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var out []*models.Session
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && keep(e.s) {
			out = append(out, e.s.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *Store) publish(ctx context.Context, events []Event) {
	if st.sink == nil {
		return
	}
	for _, ev := range events {
		st.sink.Publish(ctx, ev)
	}
}

func memberName(s *models.Session, userID string) string {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m.UserName
		}
	}
	return userID
}
