package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/AStrangerGravity/com.unity.xr.openxr/internal/sqlitemigrate"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var journalMigrations embed.FS

// JournalOptions configures a JournalSink.
type JournalOptions struct {
	Path    string
	Enabled bool
	Limiter EventLimiter
	Logger  core.Logger
	Clock   Clock
}

// JournalEntry is one event recorded by a JournalSink.
type JournalEntry struct {
	ID           string          `json:"id"`
	EventName    string          `json:"event_name"`
	VendorKey    string          `json:"vendor_key"`
	Payload      json.RawMessage `json:"payload"`
	ElementCount int             `json:"element_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

// JournalSink records events in a local SQLite file instead of sending
// them anywhere. It backs editor mode, where developers want to see what
// would have been reported.
type JournalSink struct {
	db         *sql.DB
	path       string
	migrations []string
	enabled    atomic.Bool
	categories *categoryTable
	limiter    EventLimiter
	logger     core.Logger
	now        Clock
}

var _ SinkCloser = (*JournalSink)(nil)

// OpenJournalSink opens (creating if needed) the journal at opts.Path and
// applies its schema.
func OpenJournalSink(ctx context.Context, opts JournalOptions) (*JournalSink, error) {
	logger := core.LoggerOrNoop(opts.Logger)

	if opts.Path == "" {
		return nil, &core.FrameworkError{
			Op:      "telemetry.OpenJournalSink",
			Kind:    "configuration",
			Message: "journal path is required",
			Err:     core.ErrMissingConfiguration,
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", opts.Path, err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure journal %s: %w", opts.Path, err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, db, journalMigrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal %s: %w", opts.Path, err)
	}
	migrations, err := sqlitemigrate.Applied(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal %s: %w", opts.Path, err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &JournalSink{
		db:         db,
		path:       opts.Path,
		migrations: migrations,
		categories: newCategoryTable(opts.Limiter, logger),
		limiter:    opts.Limiter,
		logger:     logger,
		now:        clock,
	}
	s.enabled.Store(opts.Enabled)

	logger.Info("Analytics journal opened", map[string]interface{}{
		"path":       opts.Path,
		"enabled":    opts.Enabled,
		"migrations": len(migrations),
	})
	return s, nil
}

func (s *JournalSink) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles the opt-out switch.
func (s *JournalSink) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *JournalSink) RegisterEvent(ctx context.Context, category EventCategory) Result {
	if !s.Enabled() {
		return ResultAnalyticsDisabled
	}
	if result := s.categories.register(category); result != ResultOK {
		return result
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO event_categories (name, vendor_key, max_events_per_hour, max_elements_per_event, registered_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    vendor_key = excluded.vendor_key,
    max_events_per_hour = excluded.max_events_per_hour,
    max_elements_per_event = excluded.max_elements_per_event,
    registered_at = excluded.registered_at`,
		category.Name, category.VendorKey, category.MaxEventsPerHour, category.MaxElementsPerEvent,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		s.logger.Error("Failed to persist event category", map[string]interface{}{
			"error": err.Error(),
			"event": category.Name,
		})
		return ResultTransportError
	}
	return ResultOK
}

func (s *JournalSink) Send(ctx context.Context, eventName string, payload Payload) Result {
	if !s.Enabled() {
		return ResultAnalyticsDisabled
	}

	category, result := s.categories.check(eventName, payload)
	if result != ResultOK {
		return result
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ResultInvalidData
	}

	eventID := uuid.NewString()
	if result := s.categories.reserve(ctx, category, eventID); result != ResultOK {
		return result
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, event_name, vendor_key, payload_json, element_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		eventID, eventName, category.VendorKey, string(data), payload.ElementCount(), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		s.categories.release(ctx, category, eventID)
		s.logger.Error("Failed to journal analytics event", map[string]interface{}{
			"error": err.Error(),
			"event": eventName,
		})
		return ResultTransportError
	}
	return ResultOK
}

// WindowUsage reports how many events of eventName were journaled inside
// the current rate window.
func (s *JournalSink) WindowUsage(ctx context.Context, eventName string) (int64, bool) {
	return s.categories.usage(ctx, eventName)
}

// Events returns the journaled events named eventName, oldest first. An
// empty name returns every event.
func (s *JournalSink) Events(ctx context.Context, eventName string) ([]JournalEntry, error) {
	query := "SELECT id, event_name, vendor_key, payload_json, element_count, created_at FROM events"
	var args []interface{}
	if eventName != "" {
		query += " WHERE event_name = ?"
		args = append(args, eventName)
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			entry     JournalEntry
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.EventName, &entry.VendorKey, &payload, &entry.ElementCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Migrations lists the schema files applied to the journal, in the order
// they ran.
func (s *JournalSink) Migrations() []string {
	return append([]string(nil), s.migrations...)
}

// Path returns the journal file location.
func (s *JournalSink) Path() string { return s.path }

// Close closes the database and the limiter if it holds a connection.
func (s *JournalSink) Close() error {
	err := s.db.Close()
	if closer, ok := s.limiter.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
