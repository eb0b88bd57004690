package models

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	// StatusOpen means the session still has free slots.
	StatusOpen SessionStatus = "open"
	// StatusGathered means every slot is taken.
	StatusGathered SessionStatus = "gathered"
	// StatusCancelled is terminal. A cancelled session is removed from the
	// store, so this value only appears on events and journal rows.
	StatusCancelled SessionStatus = "cancelled"
)

// Member is a user who has joined a session, including its creator.
type Member struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Session is a proposed group activity with a capacity.
type Session struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	StartsAt    time.Time `json:"starts_at"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	CreatorID   string    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	Members     []Member  `json:"members"`

	// Declined holds users who left and may rejoin at any time.
	Declined map[string]struct{} `json:"-"`

	Status           SessionStatus `json:"status"`
	GatheredNotified bool          `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasMember reports whether userID is in the member list.
func (s *Session) HasMember(userID string) bool {
	return s.memberIndex(userID) >= 0
}

// IsFull reports whether the member count has reached capacity.
func (s *Session) IsFull() bool {
	return len(s.Members) >= s.Capacity
}

// FreeSlots returns how many members can still join.
func (s *Session) FreeSlots() int {
	if n := s.Capacity - len(s.Members); n > 0 {
		return n
	}
	return 0
}

// MemberIDs returns member user IDs in join order.
func (s *Session) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.UserID
	}
	return ids
}

// RemoveMember drops userID from Members, preserving order. It returns
// false if the user was not a member.
func (s *Session) RemoveMember(userID string) bool {
	i := s.memberIndex(userID)
	if i < 0 {
		return false
	}
	s.Members = append(s.Members[:i], s.Members[i+1:]...)
	return true
}

func (s *Session) memberIndex(userID string) int {
	for i, m := range s.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = make([]Member, len(s.Members))
	copy(c.Members, s.Members)
	c.Declined = make(map[string]struct{}, len(s.Declined))
	for id := range s.Declined {
		c.Declined[id] = struct{}{}
	}
	return &c
}
