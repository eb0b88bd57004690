package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/muster/internal/config"
	"github.com/zulandar/muster/internal/coordinator"
	"github.com/zulandar/muster/internal/db"
	"github.com/zulandar/muster/internal/journal"
	"github.com/zulandar/muster/internal/models"
)

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, string, string) error { return nil }

type fixture struct {
	coord   *coordinator.Coordinator
	journal *journal.Recorder
	router  http.Handler
}

func newFixture(t *testing.T, withJournal bool) *fixture {
	t.Helper()
	f := &fixture{}
	opts := coordinator.Opts{Messenger: nopMessenger{}}
	if withJournal {
		gdb, err := db.Connect(config.JournalConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "journal.db"),
		})
		require.NoError(t, err)
		f.journal, err = journal.New(gdb, nil)
		require.NoError(t, err)
		opts.ExtraSinks = append(opts.ExtraSinks, f.journal)
	}
	coord, err := coordinator.New(opts)
	require.NoError(t, err)
	f.coord = coord

	startOpts := StartOpts{Sessions: coord, PollInterval: 10 * time.Millisecond}
	if f.journal != nil {
		startOpts.Events = f.journal
	}
	f.router = NewRouter(startOpts)
	return f
}

// create drives the creation conversation to a committed session.
func (f *fixture) create(t *testing.T, userID, title string, capacity string) *models.Session {
	t.Helper()
	ctx := context.Background()
	f.coord.HandleCreateStart(userID, strings.ToUpper(userID[:1])+userID[1:])
	var reply, err = f.coord.HandleCreateInput(ctx, userID, title)
	require.NoError(t, err)
	for _, in := range []string{"01.03.2026 19:00", "Cafe Rook", capacity} {
		reply, err = f.coord.HandleCreateInput(ctx, userID, in)
		require.NoError(t, err)
	}
	require.NotNil(t, reply.Session)
	return reply.Session
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	}
	return w, body
}

func TestStart_RequiresSessions(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions source is required")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	f.create(t, "alice", "Chess Night", "4")

	w, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, false, body["journal"])
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, false)
	chess := f.create(t, "alice", "Chess Night", "2")
	f.create(t, "dave", "Go Club", "4")
	require.NoError(t, f.coord.HandleJoin(context.Background(), chess.ID, "bob", "Bob"))

	tests := []struct {
		query  string
		titles []string
	}{
		{"", []string{"Chess Night", "Go Club"}},
		{"?status=gathered", []string{"Chess Night"}},
		{"?status=open", []string{"Go Club"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w, body := f.get(t, "/api/sessions"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)
			items := body["sessions"].([]any)
			var titles []string
			for _, it := range items {
				titles = append(titles, it.(map[string]any)["title"].(string))
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestListSessions_BadStatus(t *testing.T) {
	f := newFixture(t, false)
	w, _ := f.get(t, "/api/sessions?status=cancelled")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	f := newFixture(t, false)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.JSONEq(t, `{"sessions":[]}`, w.Body.String())
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t, "alice", "Chess Night", "4")
	require.NoError(t, f.coord.HandleJoin(context.Background(), s.ID, "bob", "Bob"))

	w, body := f.get(t, "/api/sessions/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Chess Night", body["title"])
	assert.Equal(t, "Cafe Rook", body["location"])
	assert.Equal(t, float64(2), body["member_count"])
	assert.Equal(t, float64(2), body["free_slots"])
	assert.Equal(t, "open", body["status"])
	assert.NotContains(t, body, "Declined")
}

func TestGetSession_Errors(t *testing.T) {
	f := newFixture(t, false)

	w, body := f.get(t, "/api/sessions/99")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session not found", body["error"])

	w, _ = f.get(t, "/api/sessions/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.get(t, "/api/sessions/0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_JournalDisabled(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/api/events", "/api/events/kinds", "/api/sessions/1/events", "/api/stream"} {
		w, body := f.get(t, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "journal is disabled", body["error"], path)
	}
}

func TestRecentEvents(t *testing.T) {
	f := newFixture(t, true)
	s := f.create(t, "alice", "Chess Night", "2")
	require.NoError(t, f.coord.HandleJoin(context.Background(), s.ID, "bob", "Bob"))

	w, body := f.get(t, "/api/events")
	require.Equal(t, http.StatusOK, w.Code)
	events := body["events"].([]any)
	require.Len(t, events, 3) // created, joined, gathered
	assert.Equal(t, "session_gathered", events[0].(map[string]any)["Kind"])

	w, body = f.get(t, "/api/events?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["events"].([]any), 1)

	w, _ = f.get(t, "/api/events?limit=-2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionEvents_SurviveCancellation(t *testing.T) {
	f := newFixture(t, true)
	s := f.create(t, "alice", "Chess Night", "4")
	require.NoError(t, f.coord.HandleDelete(context.Background(), s.ID, "alice"))

	w, _ := f.get(t, "/api/sessions/1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := f.get(t, "/api/sessions/1/events")
	require.Equal(t, http.StatusOK, w.Code)
	events := body["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "session_cancelled", events[1].(map[string]any)["Kind"])
}

func TestEventKinds(t *testing.T) {
	f := newFixture(t, true)
	f.create(t, "alice", "Chess Night", "4")
	f.create(t, "dave", "Go Club", "4")

	w, body := f.get(t, "/api/events/kinds")
	require.Equal(t, http.StatusOK, w.Code)
	kinds := body["kinds"].([]any)
	require.Len(t, kinds, 1)
	assert.Equal(t, "session_created", kinds[0].(map[string]any)["kind"])
	assert.Equal(t, float64(2), kinds[0].(map[string]any)["count"])
}

func TestStream_PushesNewEvents(t *testing.T) {
	f := newFixture(t, true)
	f.create(t, "alice", "Chess Night", "4") // recorded before connecting

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := nextEvent()
	require.Equal(t, "connected", name)

	require.NoError(t, f.coord.HandleJoin(context.Background(), 1, "bob", "Bob"))

	name, data := nextEvent()
	require.Equal(t, "session_event", name)
	assert.Contains(t, data, `"Kind":"member_joined"`)
	assert.Contains(t, data, `"ActorName":"Bob"`)
}

func TestNewerThan(t *testing.T) {
	rows := []models.SessionEvent{{ID: 5}, {ID: 4}, {ID: 3}}
	got := newerThan(rows, 3)
	require.Len(t, got, 2)
	assert.Equal(t, uint(4), got[0].ID)
	assert.Equal(t, uint(5), got[1].ID)
	assert.Empty(t, newerThan(rows, 5))
}

func TestUnknownRoute_Returns404(t *testing.T) {
	f := newFixture(t, false)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
