// Package cli wires the podcastcore binary's cobra command tree: each
// subcommand validates its flags, builds the collaborator set it needs
// through buildApp, then hands off to the orchestrator or a narrower
// read-only operation.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/metrics"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "podcastcore",
	Short: "Extract structured knowledge graphs from podcast transcripts",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("podcastcore %s\n", Version)
	},
}

var flagVerbose bool
var flagConcurrency int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover new episodes and process the full pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDriver(cmd.Context(), false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume episodes left incomplete by a previous run, without discovering new work",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDriver(cmd.Context(), true)
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect API key rotation state",
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print each configured key's quota status",
	RunE:  runKeysStatus,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage on-disk episode checkpoints",
}

var flagGCDays int

var checkpointsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete checkpoints older than the expiry window",
	RunE:  runCheckpointsGC,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect run counters",
}

var flagPodcastID string

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the global and per-podcast counters from the last persisted snapshot",
	RunE:  runMetricsShow,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(metricsCmd)

	keysCmd.AddCommand(keysStatusCmd)
	checkpointsCmd.AddCommand(checkpointsGCCmd)
	metricsCmd.AddCommand(metricsShowCmd)

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log every stage transition instead of just a progress bar")
	rootCmd.PersistentFlags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "Worker pool size (defaults to PODCAST_CONCURRENCY or 4)")

	checkpointsGCCmd.Flags().IntVar(&flagGCDays, "older-than-days", 1, "Delete checkpoints whose metadata is older than this many days")
	metricsShowCmd.Flags().StringVar(&flagPodcastID, "podcast", "", "Restrict to a single podcast ID (default: global totals)")
}

// Execute runs the command tree, returning the error that should decide
// the process exit code.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the command tree with ctx as the root command's
// context, so every RunE handler observes cancellation through
// cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func runDriver(ctx context.Context, skipDiscovery bool) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	a.setSkipDiscovery(skipDiscovery)

	if err := a.Driver().Run(ctx, a.Podcasts); err != nil {
		a.Logger.Error("run failed", "error", err)
		return err
	}
	return nil
}

func runKeysStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	for _, ks := range a.Keys.Snapshot() {
		fmt.Printf("%-3d %-24s %-16s failures=%-3d requests_today=%-6d tokens_today=%d\n",
			ks.Index, ks.KeyName, ks.Status, ks.ConsecutiveFailures, ks.RequestsToday, ks.TokensToday)
	}
	return nil
}

func runCheckpointsGC(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	n, err := a.Checkpoints.CleanOldCheckpoints(flagGCDays)
	if err != nil {
		return fmt.Errorf("checkpoints gc: %w", err)
	}
	fmt.Printf("removed %d expired checkpoint(s)\n", n)
	return nil
}

func runMetricsShow(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if flagPodcastID != "" {
		printCounters(flagPodcastID, a.Metrics.Podcast(flagPodcastID))
		return nil
	}
	printCounters("(global)", a.Metrics.Global())
	return nil
}

func printCounters(label string, c metrics.Counters) {
	fmt.Printf("%s:\n", label)
	fmt.Printf("  episodes_processed   %d\n", c.EpisodesProcessed)
	fmt.Printf("  episodes_failed      %d\n", c.EpisodesFailed)
	fmt.Printf("  segments             %d\n", c.Segments)
	fmt.Printf("  entities             %d\n", c.Entities)
	fmt.Printf("  relationships        %d\n", c.Relationships)
	fmt.Printf("  speakers_identified  %d\n", c.SpeakersIdentified)
	fmt.Printf("  llm_calls            %d\n", c.LLMCalls)
	fmt.Printf("  llm_timeouts         %d\n", c.LLMTimeouts)
	fmt.Printf("  llm_errors           %d\n", c.LLMErrors)
	fmt.Printf("  cache_hits           %d / %d attempts\n", c.CacheHits, c.CacheAttempts)
	fmt.Printf("  avg_response_ms      %.1f\n", c.AverageResponseMillis())
	fmt.Printf("  p95_response_ms      %.1f\n", c.P95ResponseMillis())
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func defaultPodcast() episode.Podcast {
	return episode.Podcast{
		ID:           envOr("PODCAST_ID", "default"),
		Name:         envOr("PODCAST_NAME", "default"),
		Enabled:      true,
		DatabaseURI:  os.Getenv("NEO4J_URI"),
		DatabaseName: envOr("NEO4J_DATABASE", "neo4j"),
	}
}
