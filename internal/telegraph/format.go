package telegraph

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/muster/internal/models"
)

// Color constants for card sidebars.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

const (
	// listLimit caps how many sessions a single list reply shows.
	listLimit = 10
	// titleWidth is the rune width titles are cut to in list rows.
	titleWidth = 20
	// joinedMarker flags sessions the viewer belongs to.
	joinedMarker = "✅"
)

// truncateRunes cuts s to at most n runes, appending "…" when shortened.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// FormatSessionLine renders one list row: "#3 Chess Night (2/4) ✅".
func FormatSessionLine(s *models.Session, viewerID string) string {
	line := fmt.Sprintf("#%d %s (%d/%d)", s.ID, truncateRunes(s.Title, titleWidth), len(s.Members), s.Capacity)
	if viewerID != "" && s.HasMember(viewerID) {
		line += " " + joinedMarker
	}
	return line
}

// FormatSessionList renders a titled list, at most listLimit rows, with a
// trailer when rows were left out.
func FormatSessionList(heading string, sessions []*models.Session, viewerID, empty string) string {
	if len(sessions) == 0 {
		return empty
	}
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	shown := sessions
	if len(shown) > listLimit {
		shown = shown[:listLimit]
	}
	for _, s := range shown {
		b.WriteString(FormatSessionLine(s, viewerID))
		b.WriteString("\n")
	}
	if rest := len(sessions) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "…and %d more\n", rest)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSessionDetail renders every field of a session plus its roster.
func FormatSessionDetail(s *models.Session, viewerID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s\n", s.ID, s.Title)
	fmt.Fprintf(&b, "📅 %s\n", s.Date)
	fmt.Fprintf(&b, "📍 %s\n", s.Location)
	fmt.Fprintf(&b, "👥 %d/%d (%s)\n", len(s.Members), s.Capacity, s.Status)
	fmt.Fprintf(&b, "Organizer: %s\n", s.CreatorName)
	b.WriteString("Players:")
	for i, m := range s.Members {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, name)
	}
	if viewerID != "" && s.HasMember(viewerID) {
		b.WriteString("\n" + joinedMarker + " You are in.")
	}
	return b.String()
}

// FormatNotifications renders a flushed backlog oldest-first.
func FormatNotifications(notes []models.Notification) string {
	if len(notes) == 0 {
		return "No new notifications."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %d notification(s):", len(notes))
	for _, n := range notes {
		fmt.Fprintf(&b, "\n[%s] %s", n.CreatedAt.Format("02.01 15:04"), n.Text)
	}
	return b.String()
}

// FormatDigest builds the periodic open-session card posted to the
// announcement channel.
func FormatDigest(sessions []*models.Session) FormattedEvent {
	var open, gathered int
	var lines []string
	for i, s := range sessions {
		if s.Status == models.StatusGathered {
			gathered++
		} else {
			open++
		}
		if i < listLimit {
			lines = append(lines, fmt.Sprintf("%s · %s · %s", FormatSessionLine(s, ""), s.Date, s.Location))
		}
	}
	if rest := len(sessions) - listLimit; rest > 0 {
		lines = append(lines, fmt.Sprintf("…and %d more", rest))
	}

	color := ColorInfo
	if open == 0 {
		color = ColorSuccess
	}
	return FormattedEvent{
		Title: "Upcoming sessions",
		Body:  strings.Join(lines, "\n"),
		Color: color,
		Fields: []Field{
			{Name: "Looking for players", Value: fmt.Sprintf("%d", open), Short: true},
			{Name: "Gathered", Value: fmt.Sprintf("%d", gathered), Short: true},
		},
	}
}
