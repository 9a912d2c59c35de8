package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotFound is an archive that couldn't be fetched from its source or its mirror.
var ErrNotFound = errors.New("not found")

// the primary source, then the mirror.
const MAX_FETCH_ATTEMPTS = 2

// ArchiveFetch is a single record's archive download.
type ArchiveFetch struct {
	OriginalURL string // cache key, never the mirror url
	DownloadURL string // where the bytes actually come from, may be the mirror
	LocalPath   string
	Meta        ModMetadata
}

// hashes the archive at `local_path`, returning an empty string if it can't be read.
// an unreadable local copy is removed so it can be downloaded again.
func hash_local_archive(local_path string) string {
	if !path_exists(local_path) {
		return ""
	}
	hash, err := sha1_file(local_path)
	if err != nil {
		slog.Warn("failed to hash local archive, removing", "path", local_path, "error", err)
		os.Remove(local_path)
		return ""
	}
	return hash
}

// fetches the archive for `af` and records its hash.
// an archive already on disk from a previous run is hashed rather than downloaded.
// when the source can't be reached and a mirror exists that hasn't been tried yet,
// the mirror is tried exactly once.
// on success the metadata is stored against the original url, with `useMirror` set if the mirror was used.
func fetch_archive(ctx context.Context, http_client *Http, mirror *Mirror, metadata *MetadataCache, af *ArchiveFetch, result *ProcessResult) error {
	err := os.MkdirAll(filepath.Dir(af.LocalPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	for attempt := 1; attempt <= MAX_FETCH_ATTEMPTS; attempt++ {
		result.Messages = append(result.Messages, af.DownloadURL)

		hash := hash_local_archive(af.LocalPath)
		if hash == "" {
			hash = http_client.download_file(ctx, af.DownloadURL, af.LocalPath)
		}

		if hash != "" {
			af.Meta.Hash = &hash
			metadata.Put(af.OriginalURL, af.Meta)
			return nil
		}

		if af.Meta.UseMirror || !mirror.HasMirror(af.OriginalURL) {
			break
		}

		slog.Debug("source unavailable, trying mirror", "url", af.OriginalURL)
		af.Meta.UseMirror = true
		af.DownloadURL = mirror.Resolve(af.OriginalURL)
		metadata.Put(af.OriginalURL, af.Meta)
	}

	return ErrNotFound
}
