package main

import (
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
)

// splits "url1|url2" style arguments into a list of urls.
func split_purge_args(arg_list []string) []string {
	url_list := []string{}
	for _, arg := range arg_list {
		for _, url := range strings.Split(arg, "|") {
			url = strings.TrimSpace(url)
			if url != "" {
				url_list = append(url_list, url)
			}
		}
	}
	return unique(url_list)
}

// removes the metadata of each url in `url_list`, or of every url when `all` is true.
// a cover is only deleted when the entry being removed is the last one referencing it.
// the metadata cache is written after each url.
func purge(cfg Config, url_list []string, all bool) error {
	metadata, err := load_metadata_cache(cfg.Paths.Metadata)
	if err != nil {
		return err
	}

	if all {
		url_list = metadata.URLs()
		slices.Sort(url_list)
	}

	purged := 0
	for _, url := range url_list {
		meta, present := metadata.Get(url)
		if !present {
			slog.Debug("not in metadata cache", "url", url)
			continue
		}
		slog.Info("removing hash", "url", url)

		if meta.Image != nil && !is_blank(meta.Image.Hash) {
			references := metadata.ImageReferences(*meta.Image.Hash)
			slog.Info("  cover reference count", "count", references)
			if references == 1 {
				for _, path := range delete_cover_files(cfg.Paths.Covers, meta.Image) {
					slog.Info("  deleted", "file", filepath.Base(path))
				}
			}
		}

		metadata.Delete(url)
		err = metadata.Flush()
		if err != nil {
			return err
		}
		purged += 1
	}

	slog.Info("purge complete", "purged", purged)
	return nil
}
