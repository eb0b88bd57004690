// Package journal records session events to a database for operators. The
// journal is write-only history: session state is never rebuilt from it.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/muster/internal/db"
	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultLimit caps Recent when the caller asks for no limit.
	DefaultLimit = 50
	// writeTimeout bounds one journal insert.
	writeTimeout = 5 * time.Second
)

// Recorder writes every published session event as a SessionEvent row.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ session.Sink = (*Recorder)(nil)

// New migrates the journal tables and returns a Recorder.
func New(gdb *gorm.DB, logger *zap.Logger) (*Recorder, error) {
	if gdb == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Recorder{db: gdb, logger: logger}, nil
}

// Publish stores ev. Write failures are logged and dropped so the journal
// never affects users. The write outlives cancellation of ctx: events
// handled while the daemon drains its workers are still recorded.
func (r *Recorder) Publish(ctx context.Context, ev session.Event) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	row := rowFor(ev)
	if err := r.db.WithContext(writeCtx).Create(&row).Error; err != nil {
		r.logger.Warn("journal write failed",
			zap.Int64("session_id", row.SessionID),
			zap.String("kind", row.Kind),
			zap.Error(err))
	}
}

// rowFor flattens an event into its journal row.
func rowFor(ev session.Event) models.SessionEvent {
	row := models.SessionEvent{
		Kind:      string(ev.Kind),
		ActorID:   ev.ActorID,
		ActorName: ev.ActorName,
		CreatedAt: ev.At,
	}
	if s := ev.Session; s != nil {
		row.SessionID = s.ID
		row.Title = s.Title
		row.Members = len(s.Members)
		row.Capacity = s.Capacity
		row.Status = string(s.Status)
	}
	if ev.Kind == session.EventCancelled {
		row.Status = string(models.StatusCancelled)
	}
	return row
}

// Recent returns the newest events first, at most limit rows.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.SessionEvent, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var rows []models.SessionEvent
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return rows, nil
}

// ForSession returns every event of one session in the order recorded.
func (r *Recorder) ForSession(ctx context.Context, sessionID int64) ([]models.SessionEvent, error) {
	var rows []models.SessionEvent
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: session %d: %w", sessionID, err)
	}
	return rows, nil
}

// KindCount is the number of recorded events of one kind.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// CountByKind returns event totals grouped by kind, ordered by kind.
func (r *Recorder) CountByKind(ctx context.Context) ([]KindCount, error) {
	var rows []KindCount
	if err := r.db.WithContext(ctx).Model(&models.SessionEvent{}).
		Select("kind, count(*) as count").
		Group("kind").
		Order("kind ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: count by kind: %w", err)
	}
	return rows, nil
}
