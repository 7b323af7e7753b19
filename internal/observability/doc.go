// Package observability provides logging and metrics support for the
// session workflow engine.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Scope a logger to a session or command:
//
//	logger = observability.WithSessionContext(logger, sessionID)
//	logger = observability.WithCommandContext(logger, cmd.ID.String(), string(cmd.Type))
//
// # Metrics
//
//	metrics := observability.NewMetrics("session_engine")
//	metrics.RecordRound("continue", added, elapsed.Seconds())
//
// Tests should use NewMetricsWith(prometheus.NewRegistry(), ns) or pass a nil
// *Metrics, which records nothing.
//
// # Context Helpers
//
//	ctx = observability.WithUserID(ctx, userID)
//	userID := observability.UserIDFromContext(ctx)
//
// # Standard Fields
//
//   - session_id: Session identifier
//   - command_id, command_type: Command being handled
//   - event_id, event_type, seq: Event being appended or delivered
//   - round: Expansion round number
//   - component: Emitting component
package observability
