package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/ingest"
	"github.com/mediaembed/gallery/internal/provider"
	"github.com/mediaembed/gallery/internal/repository"
)

// ingestStoreRetryMax raises the store transport retries for long unattended runs.
const ingestStoreRetryMax = 5

var errIngestPattern = errors.New("ingest needs a file pattern argument or a job file with a pattern")

var (
	ingestJobFile     string
	ingestLimit       int
	ingestBatchSize   int
	ingestPlatform    string
	ingestRPM         int
	ingestMaxAttempts int
	ingestQuiet       bool
	ingestCheckURLs   bool
	ingestDeriveIDs   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [pattern]",
	Short: "Embed generation export files straight into the store",
	Long: `Load JSON export files matching a glob pattern, keep completed generations with an
output URL, embed each one and write the records to the configured store. Records whose id
is already stored are skipped, so an interrupted run can be repeated.

Store and provider settings come from the environment (STORE_BACKEND, EMBEDDING_PROVIDER, ...).

Examples:
  gallery ingest 'exports/**/*.json'
  gallery ingest 'exports/*.json' --platform vertex_ai --limit 100 --rpm 60
  gallery ingest 'laion/*.json' --check-urls --derive-ids
  gallery ingest --job nightly.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestJobFile, "job", "", "YAML job file; flags override its values")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "process at most this many rows (0 = all)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", ingest.DefaultBatchSize, "concurrent embeddings per batch")
	ingestCmd.Flags().StringVar(&ingestPlatform, "platform", "", "only rows from this platform: fal, vertex_ai")
	ingestCmd.Flags().IntVar(&ingestRPM, "rpm", 0, "embedding requests per minute (0 = unlimited)")
	ingestCmd.Flags().IntVar(&ingestMaxAttempts, "max-attempts", ingest.DefaultMaxAttempts, "attempts per item for transient failures")
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "hide the progress bar")
	ingestCmd.Flags().BoolVar(&ingestCheckURLs, "check-urls", false, "HEAD each media URL first and skip dead links")
	ingestCmd.Flags().BoolVar(&ingestDeriveIDs, "derive-ids", false, "give rows without an id one derived from the media URL")
}

// ingestJob merges the job file, if any, with the flags the user set.
func ingestJob(cmd *cobra.Command, args []string) (*ingest.Job, error) {
	job := &ingest.Job{
		BatchSize:   ingestBatchSize,
		MaxAttempts: ingestMaxAttempts,
	}

	if ingestJobFile != "" {
		loaded, err := ingest.LoadJob(ingestJobFile)
		if err != nil {
			return nil, err
		}

		job = loaded
	}

	flags := cmd.Flags()
	if len(args) > 0 {
		job.Pattern = args[0]
	}

	if flags.Changed("limit") {
		job.Limit = ingestLimit
	}

	if flags.Changed("batch-size") {
		job.BatchSize = ingestBatchSize
	}

	if flags.Changed("platform") {
		job.Platform = ingestPlatform
	}

	if flags.Changed("rpm") {
		job.RequestsPerMinute = ingestRPM
	}

	if flags.Changed("max-attempts") {
		job.MaxAttempts = ingestMaxAttempts
	}

	if flags.Changed("check-urls") {
		job.CheckURLs = ingestCheckURLs
	}

	if flags.Changed("derive-ids") {
		job.DeriveIDs = ingestDeriveIDs
	}

	if job.Pattern == "" {
		return nil, errIngestPattern
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	job, err := ingestJob(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadStore()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()

	store, err := repository.Open(ctx, repository.OpenParams{Config: cfg, RetryMax: ingestStoreRetryMax})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	embedder, err := provider.New(ctx, cfg, 0, nil, nil)
	if err != nil {
		return err
	}

	opts := job.Options()
	opts.Dimension = cfg.EmbeddingDimension

	if !ingestQuiet && !jsonOutput {
		opts.Progress = os.Stderr
	}

	res, err := ingest.NewPipeline(embedder, store, opts).RunFiles(ctx, job.Pattern)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingest complete: %d embedded, %d failed, %d skipped\n", res.Success, res.Failed, res.Skipped)

	return nil
}
