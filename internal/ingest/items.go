// Package ingest loads generation export files and bulk-embeds their media into the store.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mediaembed/gallery/internal/models"
)

// Platforms accepted by the platform filter.
const (
	PlatformFal      = "fal"
	PlatformVertexAI = "vertex_ai"
)

const statusCompleted = "completed"

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true, ".tiff": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true,
	}
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}

	*f = flexString(n.String())

	return nil
}

// Item is one generation row of an export file.
type Item struct {
	Idx       flexString      `json:"idx"`
	ID        flexString      `json:"id"`
	OutputURL string          `json:"output_url"`
	Status    string          `json:"status"`
	Error     json.RawMessage `json:"error"`
	Platform  string          `json:"platform"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt string          `json:"created_at"`
}

// RecordID is idx, falling back to id.
func (it Item) RecordID() string {
	if it.Idx != "" {
		return string(it.Idx)
	}

	return string(it.ID)
}

// HasError reports whether the row carries a non-empty error.
func (it Item) HasError() bool {
	e := bytes.TrimSpace(it.Error)

	switch string(e) {
	case "", "null", "false", `""`, "{}", "[]":
		return false
	default:
		return true
	}
}

// Prompt returns metadata prompt.original, then prompt.enhanced, then a plain string prompt.
// metadata may be an object or a string holding JSON.
func (it Item) Prompt() string {
	raw := bytes.TrimSpace(it.Metadata)
	if len(raw) == 0 {
		return ""
	}

	var encoded string
	if json.Unmarshal(raw, &encoded) == nil {
		raw = []byte(encoded)
	}

	var meta struct {
		Prompt json.RawMessage `json:"prompt"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil || len(meta.Prompt) == 0 {
		return ""
	}

	var structured struct {
		Original string `json:"original"`
		Enhanced string `json:"enhanced"`
	}
	if err := json.Unmarshal(meta.Prompt, &structured); err == nil {
		if structured.Original != "" {
			return structured.Original
		}

		return structured.Enhanced
	}

	var plain string
	if err := json.Unmarshal(meta.Prompt, &plain); err == nil {
		return plain
	}

	return strings.Trim(string(meta.Prompt), `"`)
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Created parses created_at, falling back to now. Zone-less timestamps are UTC.
func (it Item) Created(now time.Time) time.Time {
	s := strings.TrimSpace(it.CreatedAt)
	if s == "" {
		return now
	}

	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	return now
}

// MediaKindOf classifies a media URL by the extension of its path.
func MediaKindOf(rawURL string) (models.MediaKind, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}

	ext := strings.ToLower(path.Ext(p))

	switch {
	case imageExtensions[ext]:
		return models.MediaImage, true
	case videoExtensions[ext]:
		return models.MediaVideo, true
	default:
		return "", false
	}
}

// Filter keeps completed rows with an output URL and no error, optionally from one platform.
func Filter(items []Item, platform string) []Item {
	out := make([]Item, 0, len(items))

	for _, it := range items {
		if it.OutputURL == "" || it.Status != statusCompleted || it.HasError() {
			continue
		}

		if platform != "" && it.Platform != platform {
			continue
		}

		out = append(out, it)
	}

	return out
}

// LoadFiles reads every JSON file matching pattern (doublestar syntax) in sorted order.
func LoadFiles(pattern string) ([]Item, []string, error) {
	files, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	slices.Sort(files)

	var items []Item

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, files, fmt.Errorf("read %s: %w", f, err)
		}

		var rows []Item
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, files, fmt.Errorf("parse %s: %w", f, err)
		}

		items = append(items, rows...)
	}

	return items, files, nil
}
