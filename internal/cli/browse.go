package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/session"
)

var (
	browsePageSize  int
	browseIncrement int
	browseMetric    string
)

const browseHelp = `Type a text query, or one of:
  :image <url>   search by image
  :video <url>   search by video
  :clear         back to a random sample
  :more          load more results
  :preview <n>   preview item n
  :stop          stop the preview
  :quit          exit`

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactively browse and search the gallery",
	Long: `Start a session with a random sample of the gallery, then refine it with text, image or
video queries and load more results on demand.

` + browseHelp,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().IntVar(&browsePageSize, "page-size", session.DefaultPageSize, "initial number of items")
	browseCmd.Flags().IntVar(&browseIncrement, "increment", session.DefaultIncrement, "items added per load-more")
	browseCmd.Flags().StringVar(&browseMetric, "metric", "", "distance metric: l2, cosine, dot")
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	var metric models.Metric

	if browseMetric != "" {
		m, err := models.ParseMetric(browseMetric)
		if err != nil {
			return err
		}

		metric = m
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	ctrl := session.NewController(session.ControllerParams{
		ID:      uuid.NewString(),
		Backend: c,
		Settings: session.Settings{
			PageSize:  browsePageSize,
			Increment: browseIncrement,
			Metric:    metric,
		},
		CallTimeout: timeout,
	})
	defer ctrl.Close()

	return browseLoop(ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
}

// browseLoop reads commands until EOF or :quit, printing the view after each one settles.
func browseLoop(ctrl *session.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, browseHelp)

	ctrl.Start()
	ctrl.Wait()

	if err := printView(out, ctrl.View()); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case ":quit", ":q":
			return nil
		case ":image":
			ctrl.Submit(models.MediaInput{ImageURL: arg})
		case ":video":
			ctrl.Submit(models.MediaInput{VideoURL: arg})
		case ":clear":
			ctrl.Submit(models.MediaInput{})
		case ":more":
			if !ctrl.LoadMore() {
				fmt.Fprintln(out, "Nothing more to load.")

				continue
			}
		case ":preview":
			id, ok := itemAt(ctrl.View(), arg)
			if !ok {
				fmt.Fprintln(out, "No such item.")

				continue
			}

			ctrl.Preview().Enter(id)
		case ":stop":
			ctrl.Preview().Clear()
		default:
			if strings.HasPrefix(cmd, ":") {
				fmt.Fprintln(out, browseHelp)

				continue
			}

			ctrl.Submit(models.MediaInput{Text: line})
		}

		ctrl.Wait()

		if err := printView(out, ctrl.View()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	return nil
}

// itemAt resolves a displayed rank to an item id.
func itemAt(v session.View, arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", false
	}

	for _, it := range v.Items {
		if it.Rank == n {
			return it.ID, true
		}
	}

	return "", false
}
