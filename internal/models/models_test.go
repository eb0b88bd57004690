package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestSessionEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(SessionEvent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "SessionID", "index")
	assertGormTag(t, typ, "SessionID", "not null")
	assertGormTag(t, typ, "Kind", "size:32")
	assertGormTag(t, typ, "Kind", "index")
	assertGormTag(t, typ, "Title", "size:256")
	assertGormTag(t, typ, "Status", "size:16")

	assertFieldType(t, typ, "SessionID", "int64")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestSession_JSONHidesInternalState(t *testing.T) {
	typ := reflect.TypeOf(Session{})
	for _, name := range []string{"Declined", "GatheredNotified"} {
		f, _ := typ.FieldByName(name)
		if tag := f.Tag.Get("json"); tag != "-" {
			t.Errorf("Session.%s json tag = %q, want -", name, tag)
		}
	}
}

func newChessNight() *Session {
	return &Session{
		ID:        1,
		Title:     "Chess Night",
		Capacity:  3,
		CreatorID: "alice",
		Members: []Member{
			{UserID: "alice", UserName: "Alice"},
			{UserID: "bob", UserName: "Bob"},
		},
		Declined:  map[string]struct{}{"carol": {}},
		Status:    StatusOpen,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSession_Membership(t *testing.T) {
	s := newChessNight()

	if !s.HasMember("bob") {
		t.Error("bob should be a member")
	}
	if s.HasMember("carol") {
		t.Error("carol declined and should not be a member")
	}
	if s.IsFull() {
		t.Error("2/3 should not be full")
	}
	if got := s.FreeSlots(); got != 1 {
		t.Errorf("FreeSlots = %d, want 1", got)
	}
	if got := strings.Join(s.MemberIDs(), ","); got != "alice,bob" {
		t.Errorf("MemberIDs = %s, want alice,bob", got)
	}
}

func TestSession_FreeSlotsNeverNegative(t *testing.T) {
	s := newChessNight()
	s.Capacity = 1
	if got := s.FreeSlots(); got != 0 {
		t.Errorf("FreeSlots = %d, want 0", got)
	}
	if !s.IsFull() {
		t.Error("over-capacity session should report full")
	}
}

func TestSession_RemoveMemberKeepsOrder(t *testing.T) {
	s := newChessNight()
	s.Members = append(s.Members, Member{UserID: "dave", UserName: "Dave"})

	if !s.RemoveMember("bob") {
		t.Fatal("RemoveMember(bob) = false")
	}
	if got := strings.Join(s.MemberIDs(), ","); got != "alice,dave" {
		t.Errorf("MemberIDs = %s, want alice,dave", got)
	}
	if s.RemoveMember("bob") {
		t.Error("second RemoveMember(bob) should report false")
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := newChessNight()
	c := s.Clone()

	c.Members[0].UserName = "Mallory"
	c.Members = append(c.Members, Member{UserID: "eve"})
	c.Declined["dave"] = struct{}{}
	c.Title = "Changed"

	if s.Members[0].UserName != "Alice" {
		t.Error("clone shares member storage with original")
	}
	if len(s.Members) != 2 {
		t.Errorf("original members = %d, want 2", len(s.Members))
	}
	if _, ok := s.Declined["dave"]; ok {
		t.Error("clone shares declined set with original")
	}
	if s.Title != "Chess Night" {
		t.Error("clone shares scalar fields with original")
	}
}

func TestSession_CloneNil(t *testing.T) {
	var s *Session
	if s.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
