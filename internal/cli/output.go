package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/session"
)

const maxTextColumn = 60

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}

func printResults(w io.Writer, results []models.SearchResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No results found.")

		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tKIND\tDISTANCE\tTEXT\tURL")

	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%s\t%s\n",
			i+1, r.ID, r.MediaKind(), r.Distance, truncate(r.Text), mediaURL(r.EmbeddingRecord))
	}

	return tw.Flush()
}

func printRecords(w io.Writer, recs []models.EmbeddingRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No records found.")

		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCREATED\tTEXT\tURL")

	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.MediaKind(), r.CreatedAt.Format("2006-01-02 15:04"), truncate(r.Text), mediaURL(r))
	}

	return tw.Flush()
}

func printView(w io.Writer, v session.View) error {
	header := fmt.Sprintf("[%s] %d items", v.Mode, len(v.Items))
	if v.HasMore {
		header += ", more available"
	}

	if v.Previewing != "" {
		header += ", previewing " + v.Previewing
	}

	fmt.Fprintln(w, header)

	if v.LastError != "" {
		fmt.Fprintln(w, "!", v.LastError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range v.Items {
		distance := "-"
		if it.Distance != nil {
			distance = strconv.FormatFloat(*it.Distance, 'f', 4, 64)
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", it.Rank, it.ID, distance, truncate(it.Text), mediaURL(it.EmbeddingRecord))
	}

	return tw.Flush()
}

func mediaURL(r models.EmbeddingRecord) string {
	if r.VideoURL != "" {
		return r.VideoURL
	}

	return r.ImageURL
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTextColumn {
		return s
	}

	runes := []rune(s)

	return string(runes[:maxTextColumn-3]) + "..."
}
