package ingest

import (
	"context"
	"crypto/md5" //nolint:gosec // ids, not security
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mediaembed/gallery/internal/models"
)

const defaultURLCheckTimeout = 10 * time.Second

// derivedIDPrefix marks ids computed from the media URL.
const derivedIDPrefix = "url_"

// URLID derives a stable record id from a media URL for rows that carry none.
func URLID(url string) string {
	sum := md5.Sum([]byte(url)) //nolint:gosec // ids, not security

	return derivedIDPrefix + hex.EncodeToString(sum[:])[:16]
}

// URLChecker sends a HEAD request for media URLs so dead links are skipped before an inference
// call is spent on them.
type URLChecker struct {
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// NewURLChecker creates a checker. A zero timeout means 10s.
func NewURLChecker(timeout time.Duration, retryMax int, logger *slog.Logger) *URLChecker {
	if timeout <= 0 {
		timeout = defaultURLCheckTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &URLChecker{httpClient: retryClient, logger: logger}
}

// Reachable reports whether url answers 200 with a content type that fits kind.
// Only context errors are returned; any other failure means unreachable.
func (c *URLChecker) Reachable(ctx context.Context, kind models.MediaKind, url string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		c.logger.Debug("media url check failed", "url", url, "error", err)

		return false, nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		c.logger.Debug("media url check failed", "url", url, "error", err)

		return false, nil
	}

	if err := resp.Body.Close(); err != nil {
		c.logger.Error("Failed to close response body", "error", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("media url unreachable", "url", url, "status", resp.StatusCode)

		return false, nil
	}

	return servesKind(resp.Header.Get("Content-Type"), kind), nil
}

func servesKind(contentType string, kind models.MediaKind) bool {
	contentType = strings.ToLower(contentType)
	if strings.HasPrefix(contentType, "application/octet-stream") {
		return true
	}

	switch kind {
	case models.MediaImage:
		return strings.HasPrefix(contentType, "image/")
	case models.MediaVideo:
		return strings.HasPrefix(contentType, "video/")
	default:
		return false
	}
}
