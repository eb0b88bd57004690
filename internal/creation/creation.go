// Package creation runs the per-user conversation that collects a new
// session's title, date, location and capacity before committing it.
package creation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/session"
	"go.uber.org/zap"
)

// DateLayout is the accepted date/time input format (DD.MM.YYYY HH:MM).
const DateLayout = "02.01.2006 15:04"

// Capacity bounds applied when Opts leaves them unset.
const (
	DefaultMinCapacity = 2
	DefaultMaxCapacity = 20
)

// DefaultCancelWords end a flow from any step.
var DefaultCancelWords = []string{"cancel", "/cancel", "back", "⬅️ back"}

var (
	// ErrValidation means the input was rejected and the step is unchanged.
	ErrValidation = errors.New("validation failed")
	// ErrNoFlow means the user has no creation in progress.
	ErrNoFlow = errors.New("no session creation in progress")
)

// Step is the state of a user's conversation.
type Step int

const (
	Idle Step = iota
	AwaitingTitle
	AwaitingDate
	AwaitingLocation
	AwaitingCapacity
)

func (s Step) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTitle:
		return "awaiting_title"
	case AwaitingDate:
		return "awaiting_date"
	case AwaitingLocation:
		return "awaiting_location"
	case AwaitingCapacity:
		return "awaiting_capacity"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Committer registers the finished session. session.Store satisfies it.
type Committer interface {
	Create(ctx context.Context, f session.Fields, creatorID, creatorName string) *models.Session
}

// Reply is what the conversation says back to the user after a step.
type Reply struct {
	Step      Step            // state after the input was handled
	Text      string          // prompt or confirmation for the user
	Session   *models.Session // set once the flow committed
	Cancelled bool
}

// pending holds the fields collected so far for one user.
type pending struct {
	step     Step
	userName string
	title    string
	date     string
	startsAt time.Time
	location string
	capacity int
}

// Manager tracks at most one in-progress creation per user. Starting again
// replaces whatever was in progress.
type Manager struct {
	committer   Committer
	minCapacity int
	maxCapacity int
	cancelWords map[string]bool
	location    *time.Location
	logger      *zap.Logger

	mu    sync.Mutex
	flows map[string]*pending // key: user ID
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	Committer   Committer
	MinCapacity int            // defaults to DefaultMinCapacity
	MaxCapacity int            // defaults to DefaultMaxCapacity
	CancelWords []string       // defaults to DefaultCancelWords; matched case-insensitively
	Location    *time.Location // zone for parsing dates; defaults to time.Local
	Logger      *zap.Logger
}

// New creates a Manager.
func New(opts Opts) (*Manager, error) {
	if opts.Committer == nil {
		return nil, fmt.Errorf("creation: committer is required")
	}
	minCap, maxCap := opts.MinCapacity, opts.MaxCapacity
	if minCap <= 0 {
		minCap = DefaultMinCapacity
	}
	if maxCap <= 0 {
		maxCap = DefaultMaxCapacity
	}
	if minCap < 2 || maxCap < minCap {
		return nil, fmt.Errorf("creation: invalid capacity bounds [%d, %d]", minCap, maxCap)
	}
	words := opts.CancelWords
	if len(words) == 0 {
		words = DefaultCancelWords
	}
	cancel := make(map[string]bool, len(words))
	for _, w := range words {
		cancel[strings.ToLower(strings.TrimSpace(w))] = true
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		committer:   opts.Committer,
		minCapacity: minCap,
		maxCapacity: maxCap,
		cancelWords: cancel,
		location:    loc,
		logger:      logger,
		flows:       make(map[string]*pending),
	}, nil
}

// Start begins a new flow for userID, discarding any stale one.
func (m *Manager) Start(userID, userName string) Reply {
	m.mu.Lock()
	_, replaced := m.flows[userID]
	m.flows[userID] = &pending{step: AwaitingTitle, userName: userName}
	m.mu.Unlock()

	if replaced {
		m.logger.Debug("creation restarted", zap.String("user_id", userID))
	}
	return Reply{
		Step: AwaitingTitle,
		Text: "🎮 New session\n\nEnter the session title (e.g. Mafia, Monopoly, Chess):",
	}
}

// Cancel discards userID's flow. It reports whether one existed.
func (m *Manager) Cancel(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flows[userID]
	delete(m.flows, userID)
	return ok
}

// Step returns the current state for userID.
func (m *Manager) Step(userID string) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.flows[userID]; ok {
		return p.step
	}
	return Idle
}

// Active reports whether userID is mid-flow.
func (m *Manager) Active(userID string) bool {
	return m.Step(userID) != Idle
}

// IsCancelWord reports whether text ends a flow.
func (m *Manager) IsCancelWord(text string) bool {
	return m.cancelWords[strings.ToLower(strings.TrimSpace(text))]
}

// Input feeds one message into userID's flow. A rejected value returns an
// error wrapping ErrValidation together with a Reply that re-prompts for the
// same step. The final step commits the session and returns it in the Reply.
func (m *Manager) Input(ctx context.Context, userID, text string) (Reply, error) {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	p, ok := m.flows[userID]
	if !ok {
		m.mu.Unlock()
		return Reply{Step: Idle}, fmt.Errorf("creation: input from %s: %w", userID, ErrNoFlow)
	}
	if m.cancelWords[strings.ToLower(text)] {
		delete(m.flows, userID)
		m.mu.Unlock()
		return Reply{Step: Idle, Cancelled: true, Text: "❌ Session creation cancelled."}, nil
	}
	cur := *p
	m.mu.Unlock()

	next, reply, err := m.advance(cur, text)
	if err != nil {
		return reply, fmt.Errorf("creation: %s: %w", cur.step, err)
	}

	if next.step != Idle {
		m.mu.Lock()
		// A concurrent Start may have replaced the flow; last writer wins.
		if m.flows[userID] == p {
			*p = next
		}
		m.mu.Unlock()
		return reply, nil
	}

	m.mu.Lock()
	if m.flows[userID] != p {
		m.mu.Unlock()
		return Reply{Step: m.Step(userID)}, fmt.Errorf("creation: commit for %s: %w", userID, ErrNoFlow)
	}
	delete(m.flows, userID)
	m.mu.Unlock()

	s := m.committer.Create(ctx, session.Fields{
		Title:    next.title,
		Date:     next.date,
		StartsAt: next.startsAt,
		Location: next.location,
		Capacity: next.capacity,
	}, userID, next.userName)

	m.logger.Info("creation committed",
		zap.String("user_id", userID),
		zap.Int64("session_id", s.ID))

	return Reply{Step: Idle, Session: s, Text: summary(s)}, nil
}

// advance validates text for the current step and returns the updated
// state. When the capacity step succeeds the returned state is Idle.
func (m *Manager) advance(p pending, text string) (pending, Reply, error) {
	switch p.step {
	case AwaitingTitle:
		if text == "" {
			return p, Reply{Step: p.step, Text: "The title cannot be empty. Enter the session title:"},
				fmt.Errorf("%w: empty title", ErrValidation)
		}
		p.title = text
		p.step = AwaitingDate
		return p, Reply{Step: p.step, Text: fmt.Sprintf(
			"✅ Title: %s\n\nNow enter the date and time.\nFormat: DD.MM.YYYY HH:MM\nExample: 15.01.2030 19:00", text)}, nil

	case AwaitingDate:
		t, err := time.ParseInLocation(DateLayout, text, m.location)
		if err != nil {
			return p, Reply{Step: p.step, Text: "❌ Invalid date.\nUse DD.MM.YYYY HH:MM, for example 15.01.2030 19:00.\n\nTry again:"},
				fmt.Errorf("%w: date %q: %v", ErrValidation, text, err)
		}
		p.date = t.Format(DateLayout)
		p.startsAt = t
		p.step = AwaitingLocation
		return p, Reply{Step: p.step, Text: fmt.Sprintf(
			"✅ Date and time: %s\n\nNow enter the location:", p.date)}, nil

	case AwaitingLocation:
		if text == "" {
			return p, Reply{Step: p.step, Text: "The location cannot be empty. Enter the location:"},
				fmt.Errorf("%w: empty location", ErrValidation)
		}
		p.location = text
		p.step = AwaitingCapacity
		return p, Reply{Step: p.step, Text: fmt.Sprintf(
			"✅ Location: %s\n\nNow enter the maximum number of players (%d-%d):",
			text, m.minCapacity, m.maxCapacity)}, nil

	case AwaitingCapacity:
		n, err := strconv.Atoi(text)
		if err != nil || n < m.minCapacity || n > m.maxCapacity {
			prompt := fmt.Sprintf("❌ Enter a whole number from %d to %d.\n\nTry again:", m.minCapacity, m.maxCapacity)
			return p, Reply{Step: p.step, Text: prompt},
				fmt.Errorf("%w: capacity %q outside [%d, %d]", ErrValidation, text, m.minCapacity, m.maxCapacity)
		}
		p.capacity = n
		p.step = Idle
		return p, Reply{Step: Idle}, nil
	}
	return p, Reply{Step: p.step}, fmt.Errorf("unexpected step %s", p.step)
}

// summary renders the confirmation shown after a successful commit.
func summary(s *models.Session) string {
	var b strings.Builder
	b.WriteString("🎉 Session created!\n\n")
	fmt.Fprintf(&b, "#%d %s\n", s.ID, s.Title)
	fmt.Fprintf(&b, "📅 %s\n", s.Date)
	fmt.Fprintf(&b, "📍 %s\n", s.Location)
	fmt.Fprintf(&b, "👥 up to %d players\n", s.Capacity)
	fmt.Fprintf(&b, "👤 created by %s\n\n", s.CreatorName)
	b.WriteString("Share it with friends. Everyone is notified once all slots are filled.")
	return b.String()
}
