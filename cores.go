package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/snabb/httpreaderat"
	"github.com/tidwall/gjson"
)

const IMPORT_NOTICE = "Do not manually modify this file."

type CoreMod struct {
	ID           string `json:"id"`
	Version      string `json:"version"`
	DownloadLink string `json:"downloadLink"`
	Filename     string `json:"filename"`
}

type CoreMods struct {
	LastUpdated string    `json:"lastUpdated"`
	Mods        []CoreMod `json:"mods"`
}

// the core mods of every game version.
type CoreModCollection map[string]CoreMods

// identifies an imported core mod.
func import_cache_key(game_version string, core CoreMod) string {
	return strings.Join([]string{game_version, core.ID, core.Version, core.DownloadLink}, "\x00")
}

// reads the list of already imported core mods.
// the first element is always a notice, a missing file is an empty list.
func load_import_cache(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{IMPORT_NOTICE}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import cache: %w", err)
	}
	cache := []string{}
	err = json.Unmarshal(data, &cache)
	if err != nil {
		return nil, fmt.Errorf("failed to parse import cache: %w", err)
	}
	if len(cache) == 0 || cache[0] != IMPORT_NOTICE {
		cache = append([]string{IMPORT_NOTICE}, cache...)
	}
	return cache, nil
}

func write_import_cache(path string, cache []string) error {
	data, err := marshal_no_escape(cache, "  ")
	if err != nil {
		return err
	}
	return write_file_atomic(path, data)
}

// returns the manifest of the remote archive at `url` without downloading the whole archive.
// the zip's central directory and the manifest are read with HTTP range requests.
func fetch_remote_manifest(ctx context.Context, http_client *Http, url string) ([]byte, error) {
	req, err := http_client.new_request(ctx, "GET", url)
	if err != nil {
		return nil, err
	}

	// a 'readerat' jumps around within the bytes of a remote file using HTTP Range requests.
	http_readerat, err := httpreaderat.New(http_client.Client, req, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create a HTTPReaderAt: %v", ErrInvalidArchive, err)
	}

	// a 'buffered readerat' remembers the bytes already read, reducing the number of requests.
	buffer_size := 1024 * 1024 // 1MiB
	buffered_http_readerat := bufra.NewBufReaderAt(http_readerat, buffer_size)
	zip_rdr, err := zip.NewReader(buffered_http_readerat, http_readerat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	manifest_entry := find_zip_entry(zip_rdr.File, MANIFEST_FILENAMES...)
	if manifest_entry == nil {
		return nil, ErrNoManifest
	}

	fh, err := manifest_entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open zipped file entry: %v", ErrInvalidArchive, err)
	}
	defer fh.Close()

	raw, err := io.ReadAll(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read zipped file entry: %v", ErrInvalidArchive, err)
	}

	manifest, err := standardize_json(raw)
	if err != nil || !gjson.ValidBytes(manifest) {
		return nil, fmt.Errorf("%w: processing %s", ErrBadManifest, manifest_entry.Name)
	}
	return manifest, nil
}

// a manifest value as a trimmed string.
// lists are joined with blank lines, "undefined" and blanks are nil.
func manifest_string(manifest []byte, key string) *string {
	val := gjson.GetBytes(manifest, key)
	var s string
	switch {
	case val.IsArray():
		line_list := []string{}
		for _, line := range val.Array() {
			line_list = append(line_list, strings.TrimSpace(line.String()))
		}
		s = strings.Join(line_list, "\n\n")
	case val.Type == gjson.String:
		s = val.String()
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "undefined" {
		return nil
	}
	return &s
}

// "porter, author", either part may be missing.
func manifest_author(manifest []byte) *string {
	author := str(manifest_string(manifest, "author"))
	porter := str(manifest_string(manifest, "porter"))
	if porter == "" {
		return blank_to_nil(&author)
	}
	if author == "" {
		return &porter
	}
	combined := porter + ", " + author
	return &combined
}

// builds a record from a core mod's manifest.
func manifest_to_record(manifest []byte, download_link string) ModRecord {
	funding := Funding{}
	for _, link := range gjson.GetBytes(manifest, "funding").Array() {
		if link.Type == gjson.String && strings.TrimSpace(link.String()) != "" {
			funding = append(funding, strings.TrimSpace(link.String()))
		}
	}

	rec := ModRecord{
		Name:        manifest_string(manifest, "name"),
		Description: manifest_string(manifest, "description"),
		ID:          manifest_string(manifest, "id"),
		Version:     manifest_string(manifest, "version"),
		Author:      manifest_author(manifest),
		ModLoader:   manifest_string(manifest, "modloader"),
		Download:    blank_to_nil(&download_link),
		Funding:     funding,
		Website:     manifest_string(manifest, "website"),
	}
	if rec.ModLoader == nil {
		rec.ModLoader = ptr(LOADER_QUESTLOADER)
	}
	if owner, repo, ok := parse_github_repo(download_link); ok {
		rec.Source = ptr(fmt.Sprintf("https://github.com/%s/%s/", owner, repo))
	}
	return rec
}

// the record as the document a contributor would have written, for schema validation.
func record_document(rec ModRecord) (any, error) {
	data, err := marshal_no_escape(standardize(rec).Split(), "")
	if err != nil {
		return nil, err
	}
	var doc any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	err = decoder.Decode(&doc)
	return doc, err
}

// fetches the core mods list and writes a record for each core mod not imported before.
// a core mod that can't be imported is logged and tried again next time.
func import_cores(ctx context.Context, cfg Config, http_client *Http) error {
	resp, err := http_client.download(ctx, cfg.CoreModsURL)
	if err != nil {
		return err
	}
	if !resp.Ok() {
		return fmt.Errorf("failed to fetch core mods: %d", resp.StatusCode)
	}

	cores := CoreModCollection{}
	err = json.Unmarshal(resp.Bytes, &cores)
	if err != nil {
		return fmt.Errorf("failed to parse core mods: %w", err)
	}

	cache, err := load_import_cache(cfg.Paths.ImportedCores)
	if err != nil {
		return err
	}

	game_version_list := []string{}
	for gv := range cores {
		game_version_list = append(game_version_list, gv)
	}

	imported := 0
	for _, game_version := range sort_versions_asc(game_version_list) {
		for _, core := range cores[game_version].Mods {
			key := import_cache_key(game_version, core)
			if slices.Contains(cache, key) {
				continue
			}
			slog.Info("importing core mod", "game-version", game_version, "url", core.DownloadLink)

			manifest, err := fetch_remote_manifest(ctx, http_client, core.DownloadLink)
			if err != nil {
				slog.Error("  failed to read archive", "error", err)
				continue
			}

			rec := manifest_to_record(manifest, core.DownloadLink)
			doc, err := record_document(rec)
			if err == nil {
				err = validate_record(doc, rec)
			}
			if err != nil {
				slog.Error("  invalid core mod", "error", err)
				continue
			}

			rf := RecordFile{
				GameVersion: game_version,
				Path:        record_path(cfg.Paths.Mods, game_version, str(rec.ID), str(rec.Version)),
			}
			err = rf.Write(rec)
			if err != nil {
				return err
			}
			imported += 1
			cache = append(cache, key)
		}
	}

	slog.Info("core mods imported", "num", imported)
	return write_import_cache(cfg.Paths.ImportedCores, cache)
}
