package session

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/muster/internal/models"
)

// EventKind names a change to a session.
type EventKind string

const (
	EventCreated   EventKind = "session_created"
	EventJoined    EventKind = "member_joined"
	EventLeft      EventKind = "member_left"
	EventGathered  EventKind = "session_gathered"
	EventReopened  EventKind = "session_reopened"
	EventCancelled EventKind = "session_cancelled"
)

// Event records that something happened to a session and who must hear
// about it. Deciding the recipients is pure; delivering is the Sink's job.
type Event struct {
	Kind       EventKind
	Session    *models.Session // snapshot taken when the event fired
	ActorID    string
	ActorName  string
	Recipients []string
	At         time.Time
}

// Text renders the notification body shared by every recipient.
func (e Event) Text() string {
	s := e.Session
	switch e.Kind {
	case EventCreated:
		return fmt.Sprintf("🎮 %s created %q (%s, %s).", e.ActorName, s.Title, s.Date, s.Location)
	case EventJoined:
		return fmt.Sprintf("👤 %s joined %q (%d/%d).", e.ActorName, s.Title, len(s.Members), s.Capacity)
	case EventLeft:
		return fmt.Sprintf("🚪 %s left %q (%d/%d).", e.ActorName, s.Title, len(s.Members), s.Capacity)
	case EventGathered:
		return fmt.Sprintf("🎉 %q has gathered: %d/%d players. See you on %s at %s!",
			s.Title, len(s.Members), s.Capacity, s.Date, s.Location)
	case EventReopened:
		return fmt.Sprintf("%q is open again (%d/%d).", s.Title, len(s.Members), s.Capacity)
	case EventCancelled:
		return fmt.Sprintf("❌ %q on %s was cancelled by %s.", s.Title, s.Date, e.ActorName)
	default:
		return fmt.Sprintf("%q changed.", s.Title)
	}
}

// Sink receives events after the store has released its locks.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

// Publish forwards ev to every non-nil sink.
func (ss Sinks) Publish(ctx context.Context, ev Event) {
	for _, s := range ss {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// allMembers returns every member ID, creator included.
func allMembers(s *models.Session) []string {
	return s.MemberIDs()
}

// membersExcept returns member IDs minus the given users.
func membersExcept(s *models.Session, exclude ...string) []string {
	var out []string
	for _, id := range s.MemberIDs() {
		if !contains(exclude, id) {
			out = append(out, id)
		}
	}
	return out
}

// withCreator appends the creator to ids unless already present.
func withCreator(s *models.Session, ids []string) []string {
	if contains(ids, s.CreatorID) {
		return ids
	}
	return append(ids, s.CreatorID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
