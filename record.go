package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrInvalidRecord is a malformed contribution: missing fields, unknown loader, schema violation.
	ErrInvalidRecord = errors.New("invalid mod record")

	// ErrFilenameMismatch is a record stored somewhere other than its canonical path.
	ErrFilenameMismatch = errors.New("mod filename mismatch")
)

const (
	LOADER_QUESTLOADER = "QuestLoader"
	LOADER_SCOTLAND2   = "Scotland2"
)

var KNOWN_LOADERS = []string{LOADER_QUESTLOADER, LOADER_SCOTLAND2}

// FatalError aborts the whole run. `Path` is the offending record.
type FatalError struct {
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Funding is always a list.
// contributors have historically written a bare string, which decodes to a single-item list.
type Funding []string

func (f *Funding) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = Funding{}
	case len(data) > 0 && data[0] == '"':
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		if s == "" {
			*f = Funding{}
		} else {
			*f = Funding{s}
		}
	default:
		var list []string
		err := json.Unmarshal(data, &list)
		if err != nil {
			return fmt.Errorf("funding must be a string or a list of strings: %w", err)
		}
		if list == nil {
			list = []string{}
		}
		*f = list
	}
	return nil
}

func (f Funding) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return marshal_no_escape([]string(f), "")
}

// ModRecord is a single mod, field order is the order keys are written in.
type ModRecord struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ID          *string `json:"id"`
	Version     *string `json:"version"`
	Author      *string `json:"author"`
	AuthorIcon  *string `json:"authorIcon"`
	ModLoader   *string `json:"modloader"`
	Download    *string `json:"download"`
	Source      *string `json:"source"`
	Cover       *string `json:"cover"`
	Funding     Funding `json:"funding"`
	Website     *string `json:"website"`
	Hash        *string `json:"hash"`
}

// SplitRecord is a ModRecord as it is stored in the mods directory, without a hash.
type SplitRecord struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ID          *string `json:"id"`
	Version     *string `json:"version"`
	Author      *string `json:"author"`
	AuthorIcon  *string `json:"authorIcon"`
	ModLoader   *string `json:"modloader"`
	Download    *string `json:"download"`
	Source      *string `json:"source"`
	Cover       *string `json:"cover"`
	Funding     Funding `json:"funding"`
	Website     *string `json:"website"`
}

func (m ModRecord) Split() SplitRecord {
	return SplitRecord{
		Name:        m.Name,
		Description: m.Description,
		ID:          m.ID,
		Version:     m.Version,
		Author:      m.Author,
		AuthorIcon:  m.AuthorIcon,
		ModLoader:   m.ModLoader,
		Download:    m.Download,
		Source:      m.Source,
		Cover:       m.Cover,
		Funding:     m.Funding,
		Website:     m.Website,
	}
}

// returns the record with every string trimmed, blanks as nil,
// funding as a (possibly empty) list and a default loader.
func standardize(m ModRecord) ModRecord {
	loader := blank_to_nil(m.ModLoader)
	if loader == nil {
		loader = ptr(LOADER_SCOTLAND2)
	}
	funding := Funding{}
	for _, link := range m.Funding {
		link = strings.TrimSpace(link)
		if link != "" {
			funding = append(funding, link)
		}
	}
	return ModRecord{
		Name:        blank_to_nil(m.Name),
		Description: blank_to_nil(m.Description),
		ID:          blank_to_nil(m.ID),
		Version:     blank_to_nil(m.Version),
		Author:      blank_to_nil(m.Author),
		AuthorIcon:  blank_to_nil(m.AuthorIcon),
		ModLoader:   loader,
		Download:    blank_to_nil(m.Download),
		Source:      blank_to_nil(m.Source),
		Cover:       blank_to_nil(m.Cover),
		Funding:     funding,
		Website:     blank_to_nil(m.Website),
		Hash:        blank_to_nil(m.Hash),
	}
}

// --- naming

var INVALID_FILENAME_CHARS = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]+`)

// replaces runs of characters that are invalid in a filename or directory name with an underscore.
// "foo/bar" => "foo_bar", "a<>b" => "a_b"
func sanitize_filename(s string) string {
	return INVALID_FILENAME_CHARS.ReplaceAllString(s, "_")
}

// "<base>/<game-version>/<id>-<version>.<ext>", every part sanitized.
func canonical_path(base, game_version, id, version, ext string) string {
	filename := fmt.Sprintf("%s-%s.%s", strings.TrimSpace(id), strings.TrimSpace(version), ext)
	return filepath.Join(base, sanitize_filename(strings.TrimSpace(game_version)), sanitize_filename(filename))
}

// where the record for `id` at `version` for `game_version` must live.
func record_path(mods_dir, game_version, id, version string) string {
	return canonical_path(mods_dir, game_version, id, version, "json")
}

// where the downloaded archive for `id` at `version` for `game_version` is kept.
func archive_path(archives_dir, game_version, id, version string) string {
	return canonical_path(archives_dir, game_version, id, version, "qmod")
}

// --- validation

//go:embed schema/mod.schema.json
var MOD_SCHEMA_JSON []byte

var MOD_SCHEMA = compile_mod_schema()

func compile_mod_schema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	err := compiler.AddResource("mod.schema.json", bytes.NewReader(MOD_SCHEMA_JSON))
	ensure(err == nil, fmt.Sprintf("failed to add mod schema: %v", err))
	schema, err := compiler.Compile("mod.schema.json")
	ensure(err == nil, fmt.Sprintf("failed to compile mod schema: %v", err))
	return schema
}

// checks a record's required fields, its loader and finally the raw document `doc` against the schema.
// the record is rejected before anything else is done with it.
func validate_record(doc any, rec ModRecord) error {
	required := []struct {
		field string
		val   *string
	}{
		{"name", rec.Name},
		{"id", rec.ID},
		{"version", rec.Version},
		{"download", rec.Download},
	}
	for _, r := range required {
		if is_blank(r.val) {
			return fmt.Errorf("%w: mod %s not set", ErrInvalidRecord, r.field)
		}
	}

	if rec.ModLoader == nil || !slices.Contains(KNOWN_LOADERS, strings.TrimSpace(*rec.ModLoader)) {
		return fmt.Errorf("%w: mod loader is invalid: %q", ErrInvalidRecord, str(rec.ModLoader))
	}

	err := MOD_SCHEMA.Validate(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// --- reading and writing

// decodes a record, returning both the raw document (for schema validation) and the typed record.
// funding is normalised to a list here, before anything else sees the record.
func parse_record(data []byte) (any, ModRecord, error) {
	data, _ = elide_bom(data)

	var doc any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	err := decoder.Decode(&doc)
	if err != nil {
		return nil, ModRecord{}, fmt.Errorf("failed to parse record as json: %w", err)
	}

	rec := ModRecord{}
	err = json.Unmarshal(data, &rec)
	if err != nil {
		return nil, ModRecord{}, fmt.Errorf("failed to parse record: %w", err)
	}
	if rec.Funding == nil {
		rec.Funding = Funding{}
	}
	return doc, rec, nil
}

// RecordFile is a record on disk, found under a game version directory.
type RecordFile struct {
	GameVersion string
	Path        string
	ShortPath   string // path relative to the repository root
}

func (rf RecordFile) Read() (any, ModRecord, error) {
	data, err := os.ReadFile(rf.Path)
	if err != nil {
		return nil, ModRecord{}, fmt.Errorf("failed to read record: %w", err)
	}
	return parse_record(data)
}

// writes the standardized split form of `rec` with two space indentation.
func (rf RecordFile) Write(rec ModRecord) error {
	data, err := marshal_no_escape(standardize(rec).Split(), "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return write_file_atomic(rf.Path, data)
}

// returns every record file in directory-then-filename order.
func iterate_records(root, mods_dir string) ([]RecordFile, error) {
	version_entries, err := os.ReadDir(mods_dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mods directory: %w", err)
	}

	record_list := []RecordFile{}
	for _, version_entry := range version_entries {
		if !version_entry.IsDir() {
			continue
		}
		game_version := version_entry.Name()
		version_dir := filepath.Join(mods_dir, game_version)

		entries, err := os.ReadDir(version_dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read game version directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
				continue
			}
			path := filepath.Join(version_dir, entry.Name())
			short_path, err := filepath.Rel(root, path)
			if err != nil {
				short_path = path
			}
			record_list = append(record_list, RecordFile{
				GameVersion: game_version,
				Path:        path,
				ShortPath:   short_path,
			})
		}
	}
	return record_list, nil
}

// reads, normalises and validates a record.
// every failure is fatal: the contribution must be fixed at the source.
func load_record(rf RecordFile, mods_dir string) (ModRecord, error) {
	doc, rec, err := rf.Read()
	if err != nil {
		return ModRecord{}, &FatalError{Path: rf.ShortPath, Err: err}
	}

	required_path := record_path(mods_dir, rf.GameVersion, str(rec.ID), str(rec.Version))
	if filepath.Clean(rf.Path) != filepath.Clean(required_path) {
		err = fmt.Errorf("%w: should be %s", ErrFilenameMismatch, filepath.Join(filepath.Base(filepath.Dir(required_path)), filepath.Base(required_path)))
		return ModRecord{}, &FatalError{Path: rf.ShortPath, Err: err}
	}

	err = validate_record(doc, rec)
	if err != nil {
		return ModRecord{}, &FatalError{Path: rf.ShortPath, Err: err}
	}
	return rec, nil
}

// rewrites every record in its standardized form.
// records that fail to load are reported and left alone.
func standardize_records(cfg Config) error {
	record_list, err := iterate_records(cfg.Root, cfg.Paths.Mods)
	if err != nil {
		return err
	}
	failed := 0
	for _, rf := range record_list {
		rec, err := load_record(rf, cfg.Paths.Mods)
		if err != nil {
			slog.Error("skipping record", "path", rf.ShortPath, "error", err)
			failed += 1
			continue
		}
		err = rf.Write(rec)
		if err != nil {
			slog.Error("failed to write record", "path", rf.ShortPath, "error", err)
			failed += 1
		}
	}
	slog.Info("records standardized", "total", len(record_list), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d records could not be standardized", failed)
	}
	return nil
}
