package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidArchive is an archive that can't be opened as a zip file.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrNoManifest is an archive without any of the known manifest files.
	ErrNoManifest = errors.New("no info json")

	// ErrBadManifest is a manifest that can't be parsed, even leniently.
	ErrBadManifest = errors.New("bad info json")
)

// manifest filenames, first match wins.
var MANIFEST_FILENAMES = []string{"bmbfmod.json", "mod.json"}

// manifest keys naming the cover image, first non-blank wins.
var COVER_KEYS = []string{"coverImageFilename", "coverImage"}

// ArchiveInfo is what was found inside an archive.
type ArchiveInfo struct {
	ManifestName string
	CoverName    string // empty when the manifest declares no cover or the cover is missing
	CoverBytes   []byte
}

// converts a relaxed json document (comments, trailing commas) into standard json.
func standardize_json(data []byte) ([]byte, error) {
	data, _ = elide_bom(data)
	return hujson.Standardize(data)
}

// returns the cover filename declared in the manifest `manifest`, or an empty string.
// the literal string "undefined" counts as no cover.
func manifest_cover_name(manifest []byte) string {
	for _, key := range COVER_KEYS {
		val := gjson.GetBytes(manifest, key)
		if val.Type != gjson.String {
			continue
		}
		name := strings.TrimSpace(val.String())
		if name == "" || name == "undefined" {
			continue
		}
		return name
	}
	return ""
}

func read_zip_entry(entry *zip.File) ([]byte, error) {
	fh, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return io.ReadAll(fh)
}

// finds the first of `names` present in `zip_files`.
func find_zip_entry(zip_files []*zip.File, names ...string) *zip.File {
	for _, name := range names {
		for _, entry := range zip_files {
			if entry.Name == name {
				return entry
			}
		}
	}
	return nil
}

// opens the archive at `path`, reads its manifest and extracts the declared cover image.
// a cover that is declared but missing from the archive is a warning, not an error.
func inspect_archive(path string) (ArchiveInfo, []string, error) {
	info := ArchiveInfo{}
	warnings := []string{}

	zip_rdr, err := zip.OpenReader(path)
	if err != nil {
		return info, warnings, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zip_rdr.Close()

	manifest_entry := find_zip_entry(zip_rdr.File, MANIFEST_FILENAMES...)
	if manifest_entry == nil {
		return info, warnings, ErrNoManifest
	}
	info.ManifestName = manifest_entry.Name

	raw, err := read_zip_entry(manifest_entry)
	if err != nil {
		return info, warnings, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	manifest, err := standardize_json(raw)
	if err != nil || !gjson.ValidBytes(manifest) {
		return info, warnings, fmt.Errorf("%w: processing %s", ErrBadManifest, manifest_entry.Name)
	}

	cover_name := manifest_cover_name(manifest)
	if cover_name == "" {
		return info, warnings, nil
	}

	cover_entry := find_zip_entry(zip_rdr.File, cover_name)
	if cover_entry == nil {
		warnings = append(warnings, "Cover file not found: "+cover_name)
		return info, warnings, nil
	}

	cover_bytes, err := read_zip_entry(cover_entry)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Cover file unreadable: %s: %v", cover_name, err))
		return info, warnings, nil
	}

	info.CoverName = cover_name
	info.CoverBytes = cover_bytes
	return info, warnings, nil
}
