package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mediaembed/gallery/internal/models"
)

var errSearchInput = errors.New("search needs text, --image or --video")

var (
	searchImage     string
	searchVideo     string
	searchLimit     int
	searchMetric    string
	searchThreshold float64
	similarLimit    int
	randomLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Find records nearest to a text, image or video query",
	Long: `Embed the query and return the nearest stored records, closest first.

Examples:
  gallery search "sunset over water"
  gallery search --image https://cdn.example/cat.png --limit 50 --metric l2`,
	Args: cobra.ArbitraryArgs,
	RunE: runSearch,
}

var similarCmd = &cobra.Command{
	Use:   "similar <id>",
	Short: "Find records similar to a stored record",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Sample stored records at random",
	Args:  cobra.NoArgs,
	RunE:  runRandom,
}

func init() {
	rootCmd.AddCommand(searchCmd, similarCmd, randomCmd)

	for _, cmd := range []*cobra.Command{searchCmd, similarCmd} {
		cmd.Flags().StringVar(&searchMetric, "metric", "", "distance metric: l2, cosine, dot (default from server)")
		cmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "maximum distance; negative disables")
	}

	searchCmd.Flags().StringVar(&searchImage, "image", "", "query image URL")
	searchCmd.Flags().StringVar(&searchVideo, "video", "", "query video URL")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 20, "number of results (1-100)")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "k", 10, "number of results (5-50)")
	randomCmd.Flags().IntVarP(&randomLimit, "limit", "k", 20, "number of records (1-100)")
}

func threshold() *float64 {
	if searchThreshold < 0 {
		return nil
	}

	t := searchThreshold

	return &t
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := models.SearchRequest{
		Text:      strings.Join(args, " "),
		ImageURL:  searchImage,
		VideoURL:  searchVideo,
		Limit:     searchLimit,
		Metric:    searchMetric,
		Threshold: threshold(),
	}

	if req.Input().Normalize().IsEmpty() {
		return errSearchInput
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	results, err := c.Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), models.SearchResponse{Results: results})
	}

	return printResults(cmd.OutOrStdout(), results)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := c.Similar(cmd.Context(), args[0], models.SimilarQuery{
		Limit:     similarLimit,
		Metric:    searchMetric,
		Threshold: threshold(),
	})
	if err != nil {
		return fmt.Errorf("similar failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Similar to %s (%s)\n\n", resp.SourceVideo.ID, mediaURL(resp.SourceVideo))

	return printResults(cmd.OutOrStdout(), resp.SimilarVideos)
}

func runRandom(cmd *cobra.Command, _ []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	recs, err := c.Random(cmd.Context(), randomLimit)
	if err != nil {
		return fmt.Errorf("random failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), models.RandomResponse{Embeddings: recs})
	}

	return printRecords(cmd.OutOrStdout(), recs)
}
