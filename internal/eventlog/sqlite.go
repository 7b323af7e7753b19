package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// SQLiteLog stores events in the session_events table of an embedded SQLite
// database opened by sqlitedb.Open.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// NewSQLiteLog creates a log backed by db.
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

// Append implements Log. The sequence lookup and the insert share one
// transaction.
func (l *SQLiteLog) Append(ctx context.Context, event *domain.Event) error {
	if err := prepare(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := event.EncodePayload()
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM session_events WHERE id = ?`, event.ID.String()).Scan(&exists)
	if err == nil {
		return domain.NewAlreadyExistsError("event", event.ID.String())
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check event id: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`,
		event.SessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_events (id, session_id, seq, type, ts, user_id, qos, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(), event.SessionID, seq, string(event.Type),
		event.Timestamp.UTC().Format(time.RFC3339Nano), event.UserID, string(event.QoS), string(payload),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	event.Seq = seq
	return nil
}

// List implements Log.
func (l *SQLiteLog) List(ctx context.Context, sessionID string) ([]domain.Event, error) {
	const columns = `SELECT id, session_id, seq, type, ts, user_id, qos, payload FROM session_events`

	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = l.db.QueryContext(ctx, columns+` ORDER BY position`)
	} else {
		rows, err = l.db.QueryContext(ctx, columns+` WHERE session_id = ? ORDER BY seq`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			id, session, typ, ts, user, qos, payload string
			seq                                      int64
		)
		if err := rows.Scan(&id, &session, &seq, &typ, &ts, &user, &qos, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsedID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", ts, err)
		}
		event, err := decodeRow(parsedID, session, seq, typ, at, user, qos, []byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Sessions implements Log.
func (l *SQLiteLog) Sessions(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id FROM session_events GROUP BY session_id ORDER BY MIN(position)`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// decodeRow rebuilds an event from its stored columns.
func decodeRow(id uuid.UUID, sessionID string, seq int64, typ string, ts time.Time, userID, qos string, payload []byte) (domain.Event, error) {
	decoded, err := domain.DecodeEventPayload(domain.EventType(typ), payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("decode event %s: %w", id, err)
	}
	return domain.Event{
		ID:        id,
		Type:      domain.EventType(typ),
		Timestamp: ts.UTC(),
		SessionID: sessionID,
		UserID:    userID,
		Seq:       seq,
		QoS:       domain.QoS(qos),
		Payload:   decoded,
	}, nil
}
