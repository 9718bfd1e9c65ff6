package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mediaembed/gallery/internal/api/response"
)

// RequestBodyTooLargeRecorder records when a request is rejected for exceeding the body limit.
// Pass nil when metrics are disabled.
type RequestBodyTooLargeRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context)
}

// MaxBody limits request bodies to maxBytes and answers 413 when a body is larger.
// A declared Content-Length over the limit is rejected before the handler runs. Bodies of unknown
// length (chunked uploads) are counted while the handler reads them; their response is held back
// so the 413 can replace whatever the handler wrote after the read failed.
// Use 0 or negative to disable; typically config.MaxRequestBodyBytes.
func MaxBody(maxBytes int64, recorder RequestBodyTooLargeRecorder) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	reject := func(w http.ResponseWriter, r *http.Request) {
		if recorder != nil {
			recorder.RecordRequestBodyTooLarge(r.Context())
		}

		response.RespondError(w, http.StatusRequestEntityTooLarge,
			"Request Entity Too Large", response.CodeRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds the %d byte limit", maxBytes))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)

				return
			}

			if r.ContentLength > maxBytes {
				reject(w, r)

				return
			}

			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes)}
			r.Body = body

			// The server enforces a declared length, so only unknown lengths can overflow.
			if r.ContentLength >= 0 {
				next.ServeHTTP(w, r)

				return
			}

			held := &heldResponse{ResponseWriter: w}
			next.ServeHTTP(held, r)

			if body.exceeded {
				reject(w, r)

				return
			}

			held.release()
		})
	}
}

// limitedBody notes whether http.MaxBytesReader cut the body off.
type limitedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			b.exceeded = true
		}

		return n, err //nolint:wrapcheck // io.EOF must reach the caller unwrapped
	}

	return n, nil
}

// heldResponse keeps the status and body until release.
type heldResponse struct {
	http.ResponseWriter

	status int
	body   bytes.Buffer
}

func (h *heldResponse) WriteHeader(code int) {
	if h.status == 0 {
		h.status = code
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	if h.status == 0 {
		h.status = http.StatusOK
	}

	return h.body.Write(p) //nolint:wrapcheck // bytes.Buffer only panics
}

func (h *heldResponse) release() {
	if h.status != 0 {
		h.ResponseWriter.WriteHeader(h.status)
	}

	_, _ = h.body.WriteTo(h.ResponseWriter)
}
