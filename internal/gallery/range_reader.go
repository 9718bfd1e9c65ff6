package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	rangeBlockSize  = 64 * 1024
	maxRangeFetches = 64
)

var (
	errRangeUnsupported = errors.New("server does not support range requests")
	errTooManyFetches   = errors.New("too many range requests")
)

// rangeReader is an io.ReadSeeker over a remote file that fetches fixed-size blocks with HTTP
// Range requests, so container headers can be read without downloading the media.
type rangeReader struct {
	ctx    context.Context
	client *retryablehttp.Client
	url    string

	size     int64
	off      int64
	block    []byte
	blockOff int64
	fetches  int
}

func newRangeReader(ctx context.Context, client *retryablehttp.Client, url string) (*rangeReader, error) {
	r := &rangeReader{ctx: ctx, client: client, url: url, size: -1}
	if err := r.fetch(0); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}

	if r.off < r.blockOff || r.off >= r.blockOff+int64(len(r.block)) {
		if err := r.fetch(r.off); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.block[r.off-r.blockOff:])
	r.off += int64(n)

	return n, nil
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}

	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}

	r.off = abs

	return abs, nil
}

func (r *rangeReader) fetch(off int64) error {
	if r.fetches >= maxRangeFetches {
		return errTooManyFetches
	}

	r.fetches++

	end := off + rangeBlockSize - 1
	if r.size > 0 {
		end = min(end, r.size-1)
	}

	req, err := retryablehttp.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch range: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("Failed to close response body", "error", closeErr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return io.ErrUnexpectedEOF
	case http.StatusOK:
		// A small file served whole is fine; a large one would be downloaded in full.
		if off != 0 || resp.ContentLength < 0 || resp.ContentLength > rangeBlockSize {
			return errRangeUnsupported
		}

		r.size = resp.ContentLength
	default:
		return fmt.Errorf("fetch range: status %d", resp.StatusCode)
	}

	if r.size < 0 {
		size, err := totalSize(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}

		r.size = size
	}

	block, err := io.ReadAll(io.LimitReader(resp.Body, rangeBlockSize))
	if err != nil {
		return fmt.Errorf("read range: %w", err)
	}

	r.block = block
	r.blockOff = off

	return nil
}

// totalSize parses the complete length from a "bytes 0-99/1234" Content-Range header.
func totalSize(contentRange string) (int64, error) {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("content-range %q: unknown size", contentRange)
	}

	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("content-range %q: %w", contentRange, err)
	}

	return size, nil
}
