package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ImageMetadata identifies a cover image by the digest of its bytes.
type ImageMetadata struct {
	Hash      *string `json:"hash"`
	Extension *string `json:"extension"`
}

// ModMetadata is what is known about a download url.
type ModMetadata struct {
	Hash      *string        `json:"hash"`
	Image     *ImageMetadata `json:"image"`
	UseMirror bool           `json:"useMirror"`
}

// older metadata files mapped a url directly to its hash.
func (m *ModMetadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var hash string
		err := json.Unmarshal(data, &hash)
		if err != nil {
			return err
		}
		*m = ModMetadata{Hash: blank_to_nil(&hash)}
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*m = ModMetadata{}
		return nil
	}

	type plain ModMetadata
	p := plain{}
	err := json.Unmarshal(data, &p)
	if err != nil {
		return err
	}
	*m = ModMetadata(p)
	return nil
}

// returns the path to the original cover file, or an empty string if the image isn't fully known.
func original_cover_path(covers_dir string, image *ImageMetadata) string {
	if image == nil || is_blank(image.Hash) || is_blank(image.Extension) {
		return ""
	}
	return filepath.Join(covers_dir, "originals", *image.Hash+"."+*image.Extension)
}

// returns the path to the optimized cover file, or an empty string if the image hash isn't known.
func optimized_cover_path(covers_dir string, image *ImageMetadata) string {
	if image == nil || is_blank(image.Hash) {
		return ""
	}
	return filepath.Join(covers_dir, *image.Hash+".png")
}

// MetadataCache is the persistent url => ModMetadata store.
// every mutation is expected to be followed by a `Flush`.
type MetadataCache struct {
	path    string
	entries map[string]ModMetadata
	lock    sync.Mutex
}

// reads the metadata cache at `path`.
// a missing file is an empty cache, a corrupt one is an error.
func load_metadata_cache(path string) (*MetadataCache, error) {
	cache := &MetadataCache{path: path, entries: map[string]ModMetadata{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no metadata cache found, starting empty", "path", path)
		return cache, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata cache: %w", err)
	}

	data, _ = elide_bom(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return cache, nil
	}

	err = json.Unmarshal(data, &cache.entries)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata cache: %w", err)
	}
	if cache.entries == nil {
		cache.entries = map[string]ModMetadata{}
	}
	return cache, nil
}

func (mc *MetadataCache) Get(url string) (ModMetadata, bool) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	meta, present := mc.entries[url]
	return meta, present
}

func (mc *MetadataCache) Put(url string, meta ModMetadata) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	mc.entries[url] = meta
}

func (mc *MetadataCache) Delete(url string) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	delete(mc.entries, url)
}

// all urls in the cache, in no particular order.
func (mc *MetadataCache) URLs() []string {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	url_list := make([]string, 0, len(mc.entries))
	for url := range mc.entries {
		url_list = append(url_list, url)
	}
	return url_list
}

// returns the number of entries whose cover has the digest `image_hash`.
func (mc *MetadataCache) ImageReferences(image_hash string) int {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	count := 0
	for _, meta := range mc.entries {
		if meta.Image != nil && meta.Image.Hash != nil && *meta.Image.Hash == image_hash {
			count += 1
		}
	}
	return count
}

// writes the whole cache to disk.
func (mc *MetadataCache) Flush() error {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	err := write_json(mc.path, mc.entries)
	if err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	return nil
}
