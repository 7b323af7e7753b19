package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

// PgLog stores events in PostgreSQL.
type PgLog struct {
	db database.DBTX
}

var _ Log = (*PgLog)(nil)

// NewPgLog creates a log backed by db.
func NewPgLog(db database.DBTX) *PgLog {
	return &PgLog{db: db}
}

// Append implements Log. Appends to one session are serialized by a
// transaction-scoped advisory lock keyed on the session id. When db is a pool
// the append runs in its own transaction; when it is already a transaction
// the caller owns commit.
func (l *PgLog) Append(ctx context.Context, event *domain.Event) error {
	if err := prepare(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if beginner, ok := l.db.(database.TxBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := appendInTx(ctx, tx, event); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}
		return nil
	}
	return appendInTx(ctx, l.db, event)
}

func appendInTx(ctx context.Context, db database.DBTX, event *domain.Event) error {
	payload, err := event.EncodePayload()
	if err != nil {
		return err
	}

	if _, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.SessionID); err != nil {
		return fmt.Errorf("lock session %s: %w", event.SessionID, err)
	}

	var seq int64
	err = db.QueryRow(ctx, `
		INSERT INTO session_events (id, session_id, seq, type, ts, user_id, qos, payload)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = $2),
			$3, $4, $5, $6, $7)
		RETURNING seq`,
		event.ID, event.SessionID, string(event.Type), event.Timestamp, event.UserID, string(event.QoS), payload,
	).Scan(&seq)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.NewAlreadyExistsError("event", event.ID.String())
		}
		return fmt.Errorf("insert event: %w", err)
	}

	event.Seq = seq
	return nil
}

// List implements Log.
func (l *PgLog) List(ctx context.Context, sessionID string) ([]domain.Event, error) {
	const columns = `SELECT id, session_id, seq, type, ts, user_id, qos, payload FROM session_events`

	var (
		rows pgx.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = l.db.Query(ctx, columns+` ORDER BY position`)
	} else {
		rows, err = l.db.Query(ctx, columns+` WHERE session_id = $1 ORDER BY seq`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			id                      uuid.UUID
			session, typ, user, qos string
			seq                     int64
			ts                      time.Time
			payload                 []byte
		)
		if err := rows.Scan(&id, &session, &seq, &typ, &ts, &user, &qos, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := decodeRow(id, session, seq, typ, ts, user, qos, payload)
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
func (l *PgLog) Sessions(ctx context.Context) ([]string, error) {
	rows, err := l.db.Query(ctx,
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
