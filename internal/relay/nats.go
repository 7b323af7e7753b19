package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// NATSSink publishes events to per-session subjects:
//
//	<prefix>sessions.<session_id>.<event_type>
//
// Event types contain dots themselves, so subscribers typically listen on
// "sessions.<session_id>.>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

var _ Sink = (*NATSSink)(nil)

// DialNATS connects to a NATS server with reconnects enabled.
func DialNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	logger = logger.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(url,
		nats.Name("session-workflow-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to nats")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// NewNATSSink creates a sink that owns conn. A non-empty prefix is joined to
// the subject with a dot.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(event domain.Event) string {
	return s.prefix + "sessions." + subjectToken(event.SessionID) + "." + string(event.Type)
}

// Send implements Sink.
func (s *NATSSink) Send(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if err := s.conn.Publish(s.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close drains buffered publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// subjectToken makes a session id safe to use as one subject token.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
