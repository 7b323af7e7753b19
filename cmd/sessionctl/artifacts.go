package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

var (
	artifactKind string
	artifactKey  string
)

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactShowCmd)

	artifactsCmd.Flags().StringVar(&artifactKind, "kind", "", "Only list artifacts of this kind")
	artifactsCmd.Flags().StringVar(&artifactKey, "key", "", "Only list artifacts with this key")
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List stored artifacts",
	Long: `List artifact versions without their payloads.

Examples:
  sessionctl artifacts --kind collection --key lab-7
  sessionctl artifacts show <artifact-id>`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, s *stores) error {
			return writeArtifacts(ctx, cmd.OutOrStdout(), s.artifacts, domain.ArtifactKind(artifactKind), artifactKey, outputJSON)
		})
	},
}

var artifactShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Print one artifact including its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, s *stores) error {
			a, err := s.artifacts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a)
		})
	},
}

func writeArtifacts(ctx context.Context, w io.Writer, store artifact.Store, kind domain.ArtifactKind, key string, asJSON bool) error {
	all, err := store.List(ctx, kind)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	type summary struct {
		ID        string              `json:"id"`
		Kind      domain.ArtifactKind `json:"kind"`
		Key       string              `json:"key"`
		Version   int                 `json:"version"`
		Size      int                 `json:"size"`
		CreatedAt time.Time           `json:"created_at"`
	}
	summaries := make([]summary, 0, len(all))
	for _, a := range all {
		if key != "" && a.Key != key {
			continue
		}
		summaries = append(summaries, summary{
			ID:        a.ID,
			Kind:      a.Kind,
			Key:       a.Key,
			Version:   a.Version,
			Size:      len(a.Data),
			CreatedAt: a.CreatedAt,
		})
	}

	if asJSON {
		return writeJSON(w, summaries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tKEY\tVERSION\tSIZE\tCREATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.Kind, s.Key, s.Version, s.Size, s.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
