package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/service"
)

// Defaults for a run.
const (
	DefaultBatchSize   = 5
	DefaultMaxAttempts = 3
)

// Store is the write side the pipeline needs.
type Store interface {
	InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error
	ListIDs(ctx context.Context) ([]string, error)
}

// Options configures a Pipeline.
type Options struct {
	// BatchSize items are embedded concurrently and inserted together. 0 means DefaultBatchSize.
	BatchSize int
	// RequestsPerMinute caps inference calls. 0 means unlimited.
	RequestsPerMinute int
	// Platform keeps only rows from that platform when set.
	Platform string
	// Limit caps the number of items attempted after filtering. 0 means all.
	Limit int
	// MaxAttempts per item for transient inference failures. 0 means DefaultMaxAttempts.
	MaxAttempts int
	// InitialBackoff for retries; the retrying client default applies when 0.
	InitialBackoff time.Duration
	// Dimension rejects vectors of another length when positive.
	Dimension int
	// CheckURLs sends a HEAD request for each media URL and skips dead links before embedding.
	CheckURLs bool
	// URLCheckTimeout bounds each HEAD request. 0 means 10s.
	URLCheckTimeout time.Duration
	// DeriveIDs gives rows without idx or id an id computed from the media URL (see URLID)
	// instead of skipping them.
	DeriveIDs bool
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
	Now      func() time.Time
	Logger   *slog.Logger
}

// Result counts item outcomes of a run.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Pipeline embeds export rows and writes them to a store in batches.
type Pipeline struct {
	embedder service.EmbeddingClient
	store    Store
	opts     Options
	limiter  *rate.Limiter
	checker  *URLChecker
	logger   *slog.Logger
}

// NewPipeline wraps embedder with retries and applies option defaults.
func NewPipeline(embedder service.EmbeddingClient, store Store, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, opts.BatchSize)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1)
	}

	var checker *URLChecker
	if opts.CheckURLs {
		checker = NewURLChecker(opts.URLCheckTimeout, 0, logger)
	}

	return &Pipeline{
		embedder: service.NewRetryingEmbeddingClient(embedder, service.RetryingEmbeddingClientConfig{
			MaxAttempts:    opts.MaxAttempts,
			InitialBackoff: opts.InitialBackoff,
			MaxBackoff:     30 * time.Second,
			Logger:         logger,
		}),
		store:   store,
		opts:    opts,
		limiter: limiter,
		checker: checker,
		logger:  logger,
	}
}

// RunFiles loads every file matching pattern and runs the pipeline over its rows.
func (p *Pipeline) RunFiles(ctx context.Context, pattern string) (Result, error) {
	items, files, err := LoadFiles(pattern)
	if err != nil {
		return Result{}, err
	}

	p.logger.Info("loaded export files", "files", len(files), "rows", len(items))

	return p.Run(ctx, items)
}

// work is one item ready to embed.
type work struct {
	id    string
	kind  models.MediaKind
	url   string
	input models.MediaInput
	at    time.Time
}

// Run filters items, skips ids already stored, and embeds the rest batch by batch.
// Only a context error or a failure to read existing ids aborts the run.
func (p *Pipeline) Run(ctx context.Context, items []Item) (Result, error) {
	var res Result

	filtered := Filter(items, p.opts.Platform)
	if p.opts.Limit > 0 && len(filtered) > p.opts.Limit {
		filtered = filtered[:p.opts.Limit]
	}

	ids, err := p.store.ListIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list existing ids: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	todo := make([]work, 0, len(filtered))

	for _, it := range filtered {
		id := it.RecordID()
		if id == "" && p.opts.DeriveIDs && it.OutputURL != "" {
			id = URLID(it.OutputURL)
		}

		kind, ok := MediaKindOf(it.OutputURL)
		if !ok || id == "" {
			res.Skipped++

			continue
		}

		if _, dup := seen[id]; dup {
			res.Skipped++

			continue
		}

		seen[id] = struct{}{}

		input := models.MediaInput{Text: it.Prompt()}
		if kind == models.MediaVideo {
			input.VideoURL = it.OutputURL
		} else {
			input.ImageURL = it.OutputURL
		}

		todo = append(todo, work{id: id, kind: kind, url: it.OutputURL, input: input.Normalize(), at: it.Created(p.opts.Now())})
	}

	p.logger.Info("ingest planned", "to_process", len(todo), "skipped", res.Skipped)

	bar := p.progressBar(len(todo))

	for start := 0; start < len(todo); start += p.opts.BatchSize {
		batch := todo[start:min(start+p.opts.BatchSize, len(todo))]

		counts, err := p.runBatch(ctx, batch)
		if err != nil {
			return res, err
		}

		res.Success += counts.Success
		res.Failed += counts.Failed
		res.Skipped += counts.Skipped

		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	p.logger.Info("ingest finished", "success", res.Success, "failed", res.Failed, "skipped", res.Skipped)

	return res, nil
}

// runBatch embeds one batch and inserts what succeeded. Dead URLs count as skipped.
func (p *Pipeline) runBatch(ctx context.Context, batch []work) (Result, error) {
	recs := make([]*models.EmbeddingRecord, len(batch))
	dead := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)

	for i, w := range batch {
		g.Go(func() error {
			if p.checker != nil {
				ok, err := p.checker.Reachable(gctx, w.kind, w.url)
				if err != nil {
					return err
				}

				if !ok {
					p.logger.Info("skipping unreachable media", "id", w.id, "url", w.url)
					dead[i] = true

					return nil
				}
			}

			if err := p.limiter.Wait(gctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}

			vec, err := p.embedder.Embed(gctx, w.input)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}

				p.logger.Warn("embed failed", "id", w.id, "error", err)

				return nil
			}

			if p.opts.Dimension > 0 && len(vec) != p.opts.Dimension {
				p.logger.Warn("embed failed", "id", w.id,
					"error", galleryerrors.NewDimensionMismatchError(p.opts.Dimension, len(vec)))

				return nil
			}

			recs[i] = &models.EmbeddingRecord{
				ID:        w.id,
				Vector:    vec,
				Text:      w.input.Text,
				ImageURL:  w.input.ImageURL,
				VideoURL:  w.input.VideoURL,
				CreatedAt: w.at,
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result

	ok := make([]models.EmbeddingRecord, 0, len(batch))

	for i, r := range recs {
		switch {
		case dead[i]:
			res.Skipped++
		case r != nil:
			ok = append(ok, *r)
		}
	}

	res.Failed = len(batch) - res.Skipped - len(ok)
	if len(ok) == 0 {
		return res, nil
	}

	if err := p.store.InsertBatch(ctx, ok); err != nil {
		p.logger.Error("insert batch failed", "records", len(ok), "error", err)

		res.Failed += len(ok)

		return res, nil
	}

	res.Success = len(ok)

	return res, nil
}

func (p *Pipeline) progressBar(total int) *progressbar.ProgressBar {
	if p.opts.Progress == nil || total == 0 {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.opts.Progress),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(p.opts.Progress)
		}),
	)
}
