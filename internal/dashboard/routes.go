package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/session"
)

// maxEventLimit caps the limit query parameter of /api/events.
const maxEventLimit = 500

type handlers struct {
	sessions SessionSource
	events   EventSource
	poll     time.Duration
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/events", h.sessionEvents)
	api.GET("/events", h.recentEvents)
	api.GET("/events/kinds", h.eventKinds)
	api.GET("/stream", h.stream)
}

// sessionView is the JSON shape of a session.
type sessionView struct {
	*models.Session
	MemberCount int `json:"member_count"`
	FreeSlots   int `json:"free_slots"`
}

func viewOf(s *models.Session) sessionView {
	return sessionView{Session: s, MemberCount: len(s.Members), FreeSlots: s.FreeSlots()}
}

func viewsOf(sessions []*models.Session) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, viewOf(s))
	}
	return out
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.SessionCount(),
		"journal":  h.events != nil,
	})
}

// listSessions answers every listed session, or only gathered ones with
// ?status=gathered.
func (h *handlers) listSessions(c *gin.Context) {
	var sessions []*models.Session
	switch status := c.Query("status"); status {
	case "":
		sessions = h.sessions.ListOpenSessions()
	case string(models.StatusGathered):
		sessions = h.sessions.ListGatheredSessions()
	case string(models.StatusOpen):
		for _, s := range h.sessions.ListOpenSessions() {
			if s.Status == models.StatusOpen {
				sessions = append(sessions, s)
			}
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be open or gathered"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": viewsOf(sessions)})
}

func (h *handlers) getSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.sessions.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

// sessionEvents answers the journal history of a session, including
// sessions that have since been cancelled.
func (h *handlers) sessionEvents(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	rows, err := h.events.ForSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (h *handlers) recentEvents(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	rows, err := h.events.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (h *handlers) eventKinds(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	counts, err := h.events.CountByKind(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kinds": counts})
}

func (h *handlers) requireJournal(c *gin.Context) bool {
	if h.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal is disabled"})
		return false
	}
	return true
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}
