package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

var (
	eventsAfterSeq int64
	eventsType     string
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().Int64Var(&eventsAfterSeq, "after-seq", 0, "Only show events with a sequence number above this")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only show events of this type")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with their projected phase",
	Long: `List every session in the event log, replaying each to report its phase,
round and collection size.

Examples:
  sessionctl sessions --backend sqlite --sqlite-path ./sessionwf.db
  sessionctl sessions --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, s *stores) error {
			return writeSessions(ctx, cmd.OutOrStdout(), s.log, outputJSON)
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Rebuild a session projection from its events",
	Long: `Replay a session's events from an empty projection and print the result.

Examples:
  sessionctl replay lab-7
  sessionctl replay lab-7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, s *stores) error {
			return writeReplay(ctx, cmd.OutOrStdout(), s.log, args[0], outputJSON)
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print a session's event stream",
	Long: `Print a session's events in sequence order.

Examples:
  sessionctl events lab-7
  sessionctl events lab-7 --after-seq 40 --type expansion.round_completed --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, s *stores) error {
			return writeEvents(ctx, cmd.OutOrStdout(), s.log, args[0], eventsAfterSeq, domain.EventType(eventsType), outputJSON)
		})
	},
}

func writeSessions(ctx context.Context, w io.Writer, log eventlog.Log, asJSON bool) error {
	ids, err := log.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]projection.Session, 0, len(ids))
	for _, id := range ids {
		events, err := log.List(ctx, id)
		if err != nil {
			return fmt.Errorf("list events for %s: %w", id, err)
		}
		sessions = append(sessions, projection.Replay(events))
	}

	if asJSON {
		return writeJSON(w, sessions)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPHASE\tROUND\tTOTAL\tEVENTS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			s.SessionID, s.Phase, s.Round, s.Total, s.EventCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeReplay(ctx context.Context, w io.Writer, log eventlog.Log, sessionID string, asJSON bool) error {
	events, err := log.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return domain.NewNotFoundError("session", sessionID)
	}

	sess := projection.Replay(events)
	if asJSON {
		return writeJSON(w, sess)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", sess.SessionID)
	if sess.Title != "" {
		fmt.Fprintf(tw, "Title:\t%s\n", sess.Title)
	}
	fmt.Fprintf(tw, "Phase:\t%s\n", sess.Phase)
	fmt.Fprintf(tw, "Round:\t%d\n", sess.Round)
	fmt.Fprintf(tw, "Total:\t%d\n", sess.Total)
	fmt.Fprintf(tw, "Recent growth:\t%.3f\n", sess.RecentGrowth)
	if sess.LinkedCollectionID != "" {
		fmt.Fprintf(tw, "Collection:\t%s\n", sess.LinkedCollectionID)
	}
	if sess.LastSaturation != "" {
		fmt.Fprintf(tw, "Saturation:\t%s\n", sess.LastSaturation)
	}
	if sess.ArtifactID != "" {
		fmt.Fprintf(tw, "Artifact:\t%s (v%d)\n", sess.ArtifactID, sess.ArtifactVersion)
	}
	if sess.LastFailure != nil {
		fmt.Fprintf(tw, "Last failure:\t%s: %s\n", sess.LastFailure.Stage, sess.LastFailure.Error)
	}
	fmt.Fprintf(tw, "Last seq:\t%d\n", sess.LastSeq)
	return tw.Flush()
}

func writeEvents(ctx context.Context, w io.Writer, log eventlog.Log, sessionID string, afterSeq int64, eventType domain.EventType, asJSON bool) error {
	events, err := log.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return domain.NewNotFoundError("session", sessionID)
	}

	filtered := events[:0:0]
	for _, e := range events {
		if e.Seq <= afterSeq || (eventType != "" && e.Type != eventType) {
			continue
		}
		filtered = append(filtered, e)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range filtered {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tTIME\tID")
	for _, e := range filtered {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Seq, e.Type, e.Timestamp.Format(time.RFC3339), e.ID)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
