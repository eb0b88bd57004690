package session

import (
	"time"

	"github.com/zulandar/muster/internal/models"
)

// evaluate derives the session status from its member count and applies the
// transition in place. The gathered event fires once per fill: the
// GatheredNotified flag blocks repeats until a leave re-arms it.
//
// It returns the transition event, or false when nothing changed.
func evaluate(s *models.Session, now time.Time) (Event, bool) {
	full := len(s.Members) >= s.Capacity

	switch {
	case full && !s.GatheredNotified:
		s.Status = models.StatusGathered
		s.GatheredNotified = true
		return Event{
			Kind:       EventGathered,
			Session:    s.Clone(),
			Recipients: allMembers(s),
			At:         now,
		}, true

	case !full && s.Status == models.StatusGathered:
		s.Status = models.StatusOpen
		s.GatheredNotified = false
		// Reopening is recorded but not broadcast; the member-left event
		// already tells everyone what happened.
		return Event{
			Kind:    EventReopened,
			Session: s.Clone(),
			At:      now,
		}, true
	}
	return Event{}, false
}
