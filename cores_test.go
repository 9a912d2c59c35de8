package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_manifest_string(t *testing.T) {
	manifest := []byte(`{
		"name": "  Paper ",
		"description": ["first line", " second line "],
		"blank": "   ",
		"undefined": "undefined",
		"number": 42,
		"null": null
	}`)
	cases := map[string]*string{
		"name":        ptr("Paper"),
		"description": ptr("first line\n\nsecond line"),
		"blank":       nil,
		"undefined":   nil,
		"number":      nil,
		"null":        nil,
		"missing":     nil,
	}
	for given, expected := range cases {
		assert.Equal(t, expected, manifest_string(manifest, given), given)
	}
}

func Test_manifest_author(t *testing.T) {
	cases := map[string]*string{
		`{"author": "Fern", "porter": "Sc2ad"}`:      ptr("Sc2ad, Fern"),
		`{"author": "Fern"}`:                         ptr("Fern"),
		`{"porter": "Sc2ad"}`:                        ptr("Sc2ad"),
		`{"author": "undefined", "porter": "Sc2ad"}`: ptr("Sc2ad"),
		`{"author": " ", "porter": ""}`:              nil,
		`{}`:                                         nil,
	}
	for given, expected := range cases {
		assert.Equal(t, expected, manifest_author([]byte(given)), given)
	}
}

func Test_manifest_to_record(t *testing.T) {
	manifest := []byte(`{
		"name": "Paper",
		"id": "paper",
		"version": "3.6.3",
		"author": "Fern",
		"porter": "Sc2ad",
		"description": "Logging library",
		"website": "https://example.org/paper",
		"funding": ["https://ko-fi.com/fern", "", 7]
	}`)
	link := "https://github.com/Fernthedev/paperlog/releases/download/v3.6.3/paper.qmod"

	expected := ModRecord{
		Name:        ptr("Paper"),
		Description: ptr("Logging library"),
		ID:          ptr("paper"),
		Version:     ptr("3.6.3"),
		Author:      ptr("Sc2ad, Fern"),
		ModLoader:   ptr(LOADER_QUESTLOADER),
		Download:    ptr(link),
		Source:      ptr("https://github.com/Fernthedev/paperlog/"),
		Funding:     Funding{"https://ko-fi.com/fern"},
		Website:     ptr("https://example.org/paper"),
	}
	assert.Equal(t, expected, manifest_to_record(manifest, link))

	// an explicit loader is kept, a non-GitHub link has no source
	rec := manifest_to_record([]byte(`{"modloader": "Scotland2"}`), "https://example.org/paper.qmod")
	assert.Equal(t, LOADER_SCOTLAND2, str(rec.ModLoader))
	assert.Nil(t, rec.Source)
	assert.Equal(t, Funding{}, rec.Funding)
}

func Test_load_import_cache(t *testing.T) {
	dir := t.TempDir()

	cache, err := load_import_cache(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{IMPORT_NOTICE}, cache)

	path := filepath.Join(dir, "imported.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a", "b"]`), 0644))
	cache, err = load_import_cache(path)
	require.NoError(t, err)
	assert.Equal(t, []string{IMPORT_NOTICE, "a", "b"}, cache)

	require.NoError(t, write_import_cache(path, cache))
	again, err := load_import_cache(path)
	require.NoError(t, err)
	assert.Equal(t, cache, again)

	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0644))
	_, err = load_import_cache(path)
	assert.Error(t, err)
}

type cores_fixture struct {
	server     *httptest.Server
	cfg        Config
	http       *Http
	paper_hits *atomic.Int32
}

// serves a core mods list with a good, a broken and an invalid core mod.
// archives are served with range support.
func new_cores_fixture(t *testing.T) *cores_fixture {
	t.Helper()
	f := &cores_fixture{paper_hits: &atomic.Int32{}}

	paper := make_zip(t,
		zip_entry{"cover.png", []byte("not read")},
		zip_entry{"mod.json", []byte(`{
			// relaxed json is fine
			"name": "Paper",
			"id": "paper",
			"version": "3.6.3",
			"author": "Fern",
			"porter": "Sc2ad",
			"description": ["Logging", "library"],
		}`)},
	)
	nameless := make_zip(t, zip_entry{"mod.json", []byte(`{"id": "nameless", "version": "1.0.0"}`)})
	archives := map[string][]byte{
		"/cores/paper.qmod":    paper,
		"/cores/nameless.qmod": nameless,
		"/cores/broken.qmod":   []byte("not a zip"),
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/core_mods.json" {
			core_mods := CoreModCollection{
				"1.37.0": {LastUpdated: "2024-08-01T00:00:00Z", Mods: []CoreMod{
					{ID: "paper", Version: "3.6.3", DownloadLink: f.server.URL + "/cores/paper.qmod", Filename: "paper.qmod"},
					{ID: "broken", Version: "1.0.0", DownloadLink: f.server.URL + "/cores/broken.qmod", Filename: "broken.qmod"},
					{ID: "nameless", Version: "1.0.0", DownloadLink: f.server.URL + "/cores/nameless.qmod", Filename: "nameless.qmod"},
				}},
			}
			data, _ := json.Marshal(core_mods)
			w.Write(data)
			return
		}
		data, present := archives[r.URL.Path]
		if !present {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/cores/paper.qmod" {
			f.paper_hits.Add(1)
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(f.server.Close)

	f.cfg = test_config(t, f.server.URL)
	f.cfg.CoreModsURL = f.server.URL + "/core_mods.json"
	f.http = test_http(f.server.URL)
	return f
}

func Test_import_cores(t *testing.T) {
	f := new_cores_fixture(t)
	ctx := context.Background()
	paper_link := f.server.URL + "/cores/paper.qmod"

	require.NoError(t, import_cores(ctx, f.cfg, f.http))

	data, err := os.ReadFile(record_path(f.cfg.Paths.Mods, "1.37.0", "paper", "3.6.3"))
	require.NoError(t, err)
	actual := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &actual))
	expected := map[string]any{
		"name":        "Paper",
		"description": "Logging\n\nlibrary",
		"id":          "paper",
		"version":     "3.6.3",
		"author":      "Sc2ad, Fern",
		"authorIcon":  nil,
		"modloader":   "QuestLoader",
		"download":    paper_link,
		"source":      nil,
		"cover":       nil,
		"funding":     []any{},
		"website":     nil,
	}
	assert.Equal(t, expected, actual)

	// only the good one is remembered, the others are tried again next time
	cache, err := load_import_cache(f.cfg.Paths.ImportedCores)
	require.NoError(t, err)
	key := import_cache_key("1.37.0", CoreMod{ID: "paper", Version: "3.6.3", DownloadLink: paper_link, Filename: "paper.qmod"})
	assert.Equal(t, []string{IMPORT_NOTICE, key}, cache)

	assert.False(t, path_exists(record_path(f.cfg.Paths.Mods, "1.37.0", "nameless", "1.0.0")))
	assert.False(t, path_exists(record_path(f.cfg.Paths.Mods, "1.37.0", "broken", "1.0.0")))

	// an imported record is a valid record
	record_list, err := iterate_records(f.cfg.Root, f.cfg.Paths.Mods)
	require.NoError(t, err)
	require.Len(t, record_list, 1)
	_, err = load_record(record_list[0], f.cfg.Paths.Mods)
	require.NoError(t, err)

	hits := f.paper_hits.Load()
	require.Greater(t, hits, int32(0))
	require.NoError(t, import_cores(ctx, f.cfg, f.http))
	assert.Equal(t, hits, f.paper_hits.Load())
}

func Test_import_cores__unavailable(t *testing.T) {
	f := new_cores_fixture(t)
	f.cfg.CoreModsURL = f.server.URL + "/missing.json"
	assert.Error(t, import_cores(context.Background(), f.cfg, f.http))
	assert.False(t, path_exists(f.cfg.Paths.ImportedCores))
}
