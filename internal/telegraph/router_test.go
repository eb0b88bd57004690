package telegraph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/zulandar/muster/internal/coordinator"
)

func setupRouter(t *testing.T, prefix, botUserID string) (*Router, *MockAdapter, *coordinator.Coordinator) {
	t.Helper()
	adapter := NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	core, err := coordinator.New(coordinator.Opts{Messenger: NewAdapterMessenger(adapter)})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	router, err := NewRouter(RouterOpts{
		Core:      core,
		Adapter:   adapter,
		Prefix:    prefix,
		BotUserID: botUserID,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router, adapter, core
}

// say routes text from user and returns the reply, or "" if none was sent.
func say(t *testing.T, r *Router, m *MockAdapter, userID, text string) string {
	t.Helper()
	before := m.SentCount()
	r.Handle(context.Background(), InboundMessage{
		Platform:  "test",
		ChannelID: "C1",
		UserID:    userID,
		UserName:  "name-" + userID,
		Text:      text,
	})
	if m.SentCount() == before {
		return ""
	}
	last, _ := m.LastSent()
	if last.ChannelID != "C1" {
		t.Errorf("reply ChannelID = %q, want C1", last.ChannelID)
	}
	return last.Text
}

// createVia walks the creation conversation and returns the confirmation.
func createVia(t *testing.T, r *Router, m *MockAdapter, userID, title, capacity string) string {
	t.Helper()
	say(t, r, m, userID, "/create")
	say(t, r, m, userID, title)
	say(t, r, m, userID, "15.01.2030 19:00")
	say(t, r, m, userID, "Central Park")
	return say(t, r, m, userID, capacity)
}

func assertContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply = %q, want it to contain %q", got, want)
	}
}

// --- NewRouter tests ---

func TestNewRouter_NilCore(t *testing.T) {
	_, err := NewRouter(RouterOpts{Adapter: NewMockAdapter()})
	if err == nil {
		t.Fatal("expected error for nil core")
	}
	assertContains(t, err.Error(), "core is required")
}

func TestNewRouter_NilAdapter(t *testing.T) {
	core, _ := coordinator.New(coordinator.Opts{Messenger: NewAdapterMessenger(NewMockAdapter())})
	_, err := NewRouter(RouterOpts{Core: core})
	if err == nil {
		t.Fatal("expected error for nil adapter")
	}
	assertContains(t, err.Error(), "adapter is required")
}

// --- Command tests ---

func TestRouter_Help(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	reply := say(t, r, m, "A", "/help")
	assertContains(t, reply, "/join <id or title>")
	assertContains(t, reply, "/notifications")
}

func TestRouter_CustomPrefix(t *testing.T) {
	r, m, _ := setupRouter(t, "!", "")
	assertContains(t, say(t, r, m, "A", "!help"), "!create")
	if got := say(t, r, m, "A", "/help"); got != "" {
		t.Errorf("default prefix should be ignored, got %q", got)
	}
}

func TestRouter_UnknownCommand(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	assertContains(t, say(t, r, m, "A", "/dance"), "Unknown command: /dance")
}

func TestRouter_BarePrefixIgnored(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	if got := say(t, r, m, "A", "/"); got != "" {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestRouter_SelfMessageIgnored(t *testing.T) {
	r, m, _ := setupRouter(t, "", "BOT")
	if got := say(t, r, m, "BOT", "/help"); got != "" {
		t.Errorf("expected bot's own message to be ignored, got %q", got)
	}
}

func TestRouter_PlainTextWithoutFlowIgnored(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	if got := say(t, r, m, "A", "anyone up for chess?"); got != "" {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestRouter_MentionCommand(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	assertContains(t, say(t, r, m, "A", "<@123456> help"), "Commands:")
	assertContains(t, say(t, r, m, "A", "<@!123456> /list"), "No open sessions")
	if got := say(t, r, m, "A", "<@123456> how are you"); got != "" {
		t.Errorf("mention without a known command should be ignored, got %q", got)
	}
}

func TestRouter_BotNameSuffixStripped(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	assertContains(t, say(t, r, m, "A", "/list@musterbot"), "No open sessions")
}

// --- Creation flow ---

func TestRouter_CreateFlow(t *testing.T) {
	r, m, core := setupRouter(t, "", "")

	assertContains(t, say(t, r, m, "A", "/create"), "Enter the session title")
	assertContains(t, say(t, r, m, "A", "Chess Night"), "Title: Chess Night")
	assertContains(t, say(t, r, m, "A", "tomorrow"), "Invalid date")
	assertContains(t, say(t, r, m, "A", "15.01.2030 19:00"), "enter the location")
	assertContains(t, say(t, r, m, "A", "Central Park"), "maximum number of players")
	assertContains(t, say(t, r, m, "A", "1"), "whole number from 2 to 20")
	reply := say(t, r, m, "A", "4")
	assertContains(t, reply, "Session created")
	assertContains(t, reply, "#1 Chess Night")

	if core.CreationActive("A") {
		t.Error("flow should be finished")
	}
	if core.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", core.SessionCount())
	}
}

func TestRouter_CancelCreation(t *testing.T) {
	r, m, core := setupRouter(t, "", "")
	assertContains(t, say(t, r, m, "A", "/cancel"), "Nothing to cancel")

	say(t, r, m, "A", "/create")
	say(t, r, m, "A", "Poker")
	assertContains(t, say(t, r, m, "A", "/cancel"), "cancelled")
	if core.CreationActive("A") {
		t.Error("flow should be cancelled")
	}

	say(t, r, m, "A", "/create")
	assertContains(t, say(t, r, m, "A", "Back"), "cancelled")
	if core.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", core.SessionCount())
	}
}

func TestRouter_CommandDuringFlowKeepsFlow(t *testing.T) {
	r, m, core := setupRouter(t, "", "")
	say(t, r, m, "A", "/create")
	assertContains(t, say(t, r, m, "A", "/list"), "No open sessions")
	if !core.CreationActive("A") {
		t.Error("a read command should not end the flow")
	}
}

func TestRouter_PrefixedTitleDuringFlow(t *testing.T) {
	r, m, core := setupRouter(t, "", "")
	say(t, r, m, "A", "/create")

	assertContains(t, say(t, r, m, "A", "/Chess"), "Title: /Chess")
	if !core.CreationActive("A") {
		t.Fatal("flow should continue after a prefixed title")
	}
	// Outside a flow the same text is still an unknown command.
	assertContains(t, say(t, r, m, "B", "/Chess"), "Unknown command")
}

func TestRouter_SlackMentionCommand(t *testing.T) {
	r, m, _ := setupRouter(t, "", "UBOT")
	assertContains(t, say(t, r, m, "U100", "<@UBOT> list"), "No open sessions")
}

// --- Membership ---

func TestRouter_JoinByIDAndTitle(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Chess Night", "3")

	assertContains(t, say(t, r, m, "B", "/join 1"), "You joined #1 Chess Night (2/3)")
	reply := say(t, r, m, "C", "/join chess")
	assertContains(t, reply, "(3/3)")
	assertContains(t, reply, "complete")

	direct := m.DirectTo("A")
	if len(direct) != 3 {
		t.Fatalf("creator received %d direct messages, want 3: %v", len(direct), direct)
	}
	assertContains(t, direct[0], "name-B joined")
	assertContains(t, direct[2], "has gathered")
	if n := len(m.DirectTo("C")); n != 1 {
		t.Errorf("last joiner received %d direct messages, want 1 (gathered)", n)
	}
}

func TestRouter_JoinErrors(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Go", "2")

	assertContains(t, say(t, r, m, "B", "/join"), "Usage: /join <id or title>")
	assertContains(t, say(t, r, m, "B", "/join 99"), "Session not found")
	assertContains(t, say(t, r, m, "B", "/join backgammon"), "Session not found")
	assertContains(t, say(t, r, m, "A", "/join 1"), "already in")
	say(t, r, m, "B", "/join #1")
	assertContains(t, say(t, r, m, "B", "/join 1"), "already joined")
	assertContains(t, say(t, r, m, "C", "/join 1"), "full")
}

func TestRouter_Leave(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Mafia", "6")
	say(t, r, m, "B", "/join 1")

	assertContains(t, say(t, r, m, "C", "/leave 1"), "not in this session")
	assertContains(t, say(t, r, m, "B", "/leave 1"), "You left #1 Mafia")
	assertContains(t, m.DirectTo("A")[len(m.DirectTo("A"))-1], "name-B left")
}

func TestRouter_CreatorLeaveCancels(t *testing.T) {
	r, m, core := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Mafia", "6")
	say(t, r, m, "B", "/join 1")

	assertContains(t, say(t, r, m, "A", "/leave 1"), "has been cancelled")
	if core.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", core.SessionCount())
	}
	direct := m.DirectTo("B")
	assertContains(t, direct[len(direct)-1], "was cancelled")
}

func TestRouter_Delete(t *testing.T) {
	r, m, core := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Monopoly", "4")
	say(t, r, m, "B", "/join 1")

	assertContains(t, say(t, r, m, "B", "/delete 1"), "Only the organizer")
	assertContains(t, say(t, r, m, "A", "/delete monopoly"), "deleted")
	if core.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", core.SessionCount())
	}
	assertContains(t, say(t, r, m, "A", "/show 1"), "Session not found")
}

// --- Listings ---

func TestRouter_ListShowsCountsAndMarker(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	createVia(t, r, m, "A", "A very long session title indeed", "4")
	createVia(t, r, m, "B", "Poker", "2")

	reply := say(t, r, m, "A", "/list")
	assertContains(t, reply, "#1 A very long session… (1/4) ✅")
	assertContains(t, reply, "#2 Poker (1/2)")
	if strings.Contains(reply, "Poker (1/2) ✅") {
		t.Error("marker shown for a session the viewer is not in")
	}
}

func TestRouter_ListCappedAtTen(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	for i := 1; i <= 12; i++ {
		createVia(t, r, m, "A", fmt.Sprintf("Game %d", i), "3")
	}
	reply := say(t, r, m, "B", "/list")
	assertContains(t, reply, "#10 Game 10")
	if strings.Contains(reply, "#11 Game 11") {
		t.Error("list should stop at 10 rows")
	}
	assertContains(t, reply, "and 2 more")
}

func TestRouter_GatheredAndMine(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	assertContains(t, say(t, r, m, "A", "/gathered"), "No session has gathered yet")
	assertContains(t, say(t, r, m, "A", "/mine"), "not in any session")

	createVia(t, r, m, "A", "Chess", "2")
	createVia(t, r, m, "A", "Go", "5")
	say(t, r, m, "B", "/join 1")

	gathered := say(t, r, m, "C", "/gathered")
	assertContains(t, gathered, "#1 Chess (2/2)")
	if strings.Contains(gathered, "Go") {
		t.Error("open session listed as gathered")
	}

	mine := say(t, r, m, "B", "/mine")
	assertContains(t, mine, "#1 Chess (2/2) ✅")
	if strings.Contains(mine, "#2") {
		t.Error("mine lists a session the user is not in")
	}
}

func TestRouter_Show(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	createVia(t, r, m, "A", "Chess", "4")
	say(t, r, m, "B", "/join 1")

	reply := say(t, r, m, "B", "/show 1")
	assertContains(t, reply, "#1 Chess")
	assertContains(t, reply, "15.01.2030 19:00")
	assertContains(t, reply, "Central Park")
	assertContains(t, reply, "2/4")
	assertContains(t, reply, "1. name-A")
	assertContains(t, reply, "2. name-B")
	assertContains(t, reply, "You are in")
}

// --- Notifications ---

func TestRouter_NotificationsBufferedWhenUnreachable(t *testing.T) {
	r, m, _ := setupRouter(t, "", "")
	m.SetUnreachable("A", true)
	createVia(t, r, m, "A", "Chess", "3")
	say(t, r, m, "B", "/join 1")

	if len(m.DirectTo("A")) != 0 {
		t.Fatal("unreachable user should not receive direct messages")
	}
	assertContains(t, say(t, r, m, "A", "/start"), "1 pending notification")

	reply := say(t, r, m, "A", "/notifications")
	assertContains(t, reply, "1 notification(s)")
	assertContains(t, reply, "name-B joined")

	assertContains(t, say(t, r, m, "A", "/notifications"), "No new notifications")
	if strings.Contains(say(t, r, m, "A", "/start"), "pending") {
		t.Error("greeting should not mention pending notifications after a flush")
	}
}
