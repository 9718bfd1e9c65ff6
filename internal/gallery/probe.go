package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/abema/go-mp4"
	"github.com/hashicorp/go-retryablehttp"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/errgroup"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/pkg/cache"
)

const (
	defaultProbeCacheSize   = 5000
	defaultProbeTimeout     = 10 * time.Second
	defaultImageHeadBytes   = 256 * 1024
	defaultProbeConcurrency = 8

	probeCacheName = "media_probe"
)

// Dimensions are the pixel size of a media item. Known is false when probing failed.
type Dimensions struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Known  bool `json:"known"`
}

// AspectRatio returns width / height, or the default for kind when unknown.
func (d Dimensions) AspectRatio(kind models.MediaKind) float64 {
	if !d.Known || d.Width <= 0 || d.Height <= 0 {
		return DefaultAspect(kind)
	}

	return float64(d.Width) / float64(d.Height)
}

// ProberOptions configures a Prober.
type ProberOptions struct {
	CacheSize   int
	Timeout     time.Duration
	RetryMax    int
	HeadBytes   int64
	Concurrency int
	Metrics     observability.CacheMetrics
	Logger      *slog.Logger
}

type probeKey struct {
	kind models.MediaKind
	url  string
}

// Prober lazily reads media headers to learn their dimensions. Results, including failures,
// are cached per URL since stored media never change.
type Prober struct {
	httpClient  *retryablehttp.Client
	cache       *cache.LoaderCache[probeKey, Dimensions]
	headBytes   int64
	concurrency int
	metrics     observability.CacheMetrics
	logger      *slog.Logger
}

// NewProber creates a Prober.
func NewProber(opts ProberOptions) (*Prober, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultProbeCacheSize
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}

	if opts.HeadBytes <= 0 {
		opts.HeadBytes = defaultImageHeadBytes
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultProbeConcurrency
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c, err := cache.NewLoaderCache[probeKey, Dimensions](opts.CacheSize, func(k probeKey) string {
		return string(k.kind) + "|" + k.url
	})
	if err != nil {
		return nil, fmt.Errorf("create probe cache: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Prober{
		httpClient:  retryClient,
		cache:       c,
		headBytes:   opts.HeadBytes,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}, nil
}

// Dimensions returns the size of the media at url. Unreadable media yield unknown dimensions,
// not an error; only context errors are returned.
func (p *Prober) Dimensions(ctx context.Context, kind models.MediaKind, url string) (Dimensions, error) {
	if url == "" || kind == models.MediaText {
		return Dimensions{}, nil
	}

	d, hit, err := p.cache.GetWithStats(ctx, probeKey{kind: kind, url: url}, p.load)
	if err != nil {
		return Dimensions{}, err
	}

	if p.metrics != nil {
		p.metrics.RecordLookup(ctx, probeCacheName, hit)
	}

	return d, nil
}

func (p *Prober) load(ctx context.Context, key probeKey) (Dimensions, error) {
	var (
		d   Dimensions
		err error
	)

	switch key.kind {
	case models.MediaImage:
		d, err = p.probeImage(ctx, key.url)
	case models.MediaVideo:
		d, err = p.probeVideo(ctx, key.url)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Dimensions{}, ctxErr
		}

		p.logger.Debug("media probe failed", "kind", key.kind, "url", key.url, "error", err)

		return Dimensions{}, nil
	}

	return d, nil
}

func (p *Prober) probeImage(ctx context.Context, url string) (Dimensions, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Dimensions{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.headBytes-1))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Dimensions{}, fmt.Errorf("fetch image head: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Error("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Dimensions{}, fmt.Errorf("fetch image head: status %d", resp.StatusCode)
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, p.headBytes))
	if err != nil {
		return Dimensions{}, fmt.Errorf("read image head: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(head))
	if err != nil {
		return Dimensions{}, fmt.Errorf("decode image config: %w", err)
	}

	return Dimensions{Width: cfg.Width, Height: cfg.Height, Known: true}, nil
}

var errNoVideoTrack = errors.New("no video track")

func (p *Prober) probeVideo(ctx context.Context, url string) (Dimensions, error) {
	r, err := newRangeReader(ctx, p.httpClient, url)
	if err != nil {
		return Dimensions{}, err
	}

	return videoDimensions(r)
}

// videoDimensions reads the track headers of an MP4/MOV file and returns the first track with
// a visual size. tkhd stores width and height as 16.16 fixed point.
func videoDimensions(r io.ReadSeeker) (Dimensions, error) {
	boxes, err := mp4.ExtractBoxWithPayload(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeTkhd()})
	if err != nil {
		return Dimensions{}, fmt.Errorf("read track headers: %w", err)
	}

	for _, b := range boxes {
		tkhd, ok := b.Payload.(*mp4.Tkhd)
		if !ok {
			continue
		}

		w, h := int(tkhd.Width>>16), int(tkhd.Height>>16)
		if w > 0 && h > 0 {
			return Dimensions{Width: w, Height: h, Known: true}, nil
		}
	}

	return Dimensions{}, errNoVideoTrack
}

// Tiles builds layout tiles for records, probing media concurrently.
func (p *Prober) Tiles(ctx context.Context, recs []models.EmbeddingRecord) ([]Tile, error) {
	tiles := make([]Tile, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, rec := range recs {
		kind := rec.MediaKind()

		url := rec.VideoURL
		if kind == models.MediaImage {
			url = rec.ImageURL
		}

		g.Go(func() error {
			d, err := p.Dimensions(gctx, kind, url)
			if err != nil {
				return err
			}

			tiles[i] = Tile{ID: rec.ID, Kind: kind, AspectRatio: d.AspectRatio(kind), Probed: d.Known}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("probe media: %w", err)
	}

	return tiles, nil
}
