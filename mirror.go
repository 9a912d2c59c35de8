package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// values in the mirror metadata that mean the archive was never mirrored.
var MIRROR_ERRORS = []string{"Not Found", "Fetch Error", "Invalid Archive"}

func is_mirror_error(val string) bool {
	return slices.Contains(MIRROR_ERRORS, val)
}

// Mirror resolves original download urls to their mirrored copies.
// its metadata is a snapshot taken once at the start of a run.
type Mirror struct {
	Base     string
	Metadata map[string]string
}

// true when `url` has a mirrored copy.
func (m *Mirror) HasMirror(url string) bool {
	if m == nil || m.Base == "" {
		return false
	}
	val, present := m.Metadata[url]
	return present && val != "" && !is_mirror_error(val)
}

// returns the mirror url for `url`, or an empty string if there isn't one.
func (m *Mirror) Resolve(url string) string {
	if !m.HasMirror(url) {
		return ""
	}
	return strings.TrimRight(m.Base, "/") + "/" + strings.TrimLeft(m.Metadata[url], "/")
}

// fetches the mirror metadata document from `base`.
// any failure, including an empty `base`, results in a mirror with no entries.
func fetch_mirror(ctx context.Context, http_client *Http, base string) *Mirror {
	mirror := &Mirror{Base: base, Metadata: map[string]string{}}
	if base == "" {
		slog.Debug("no mirror configured")
		return mirror
	}

	// cache-busting
	url := fmt.Sprintf("%s/metadata.json?%d", strings.TrimRight(base, "/"), time.Now().UnixMilli())
	data := http_client.fetch_bytes(ctx, url)
	if data == nil {
		slog.Warn("mirror metadata unavailable", "url", url)
		return mirror
	}

	metadata := map[string]string{}
	err := json.Unmarshal(data, &metadata)
	if err != nil {
		slog.Warn("failed to parse mirror metadata", "url", url, "error", err)
		return mirror
	}
	mirror.Metadata = metadata
	slog.Info("mirror metadata loaded", "entries", len(metadata))
	return mirror
}
