package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_sanitize_filename(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"lapiz-0.2.13":    "lapiz-0.2.13",
		"foo/bar":         "foo_bar",
		"a<>b":            "a_b",
		`a:"b"`:           "a_b_",
		"what?*":          "what_",
		"tab\there":       "tab_here",
		`back\slash|pipe`: "back_slash_pipe",
	}
	for given, expected := range cases {
		assert.Equal(t, expected, sanitize_filename(given), given)
	}
}

func Test_record_path(t *testing.T) {
	cases := []struct {
		game_version, id, version, expected string
	}{
		{"1.37.0", "lapiz", "0.2.13", filepath.Join("mods", "1.37.0", "lapiz-0.2.13.json")},
		{" 1.37.0 ", " lapiz ", " 0.2.13 ", filepath.Join("mods", "1.37.0", "lapiz-0.2.13.json")},
		{"1.37.0", "a/b", "1.0.0", filepath.Join("mods", "1.37.0", "a_b-1.0.0.json")},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, record_path("mods", c.game_version, c.id, c.version))
	}
	assert.Equal(t, filepath.Join("qmods", "1.37.0", "lapiz-0.2.13.qmod"), archive_path("qmods", "1.37.0", "lapiz", "0.2.13"))
}

func Test_parse_record__funding(t *testing.T) {
	cases := map[string]Funding{
		`{"funding": "https://ko-fi.com/x"}`:        {"https://ko-fi.com/x"},
		`{"funding": ["a", "b"]}`:                   {"a", "b"},
		`{"funding": null}`:                         {},
		`{"funding": ""}`:                           {},
		`{"funding": []}`:                           {},
		`{}`:                                        {},
		"\ufeff" + `{"funding": "https://bom.org"}`: {"https://bom.org"},
	}
	for given, expected := range cases {
		_, rec, err := parse_record([]byte(given))
		require.NoError(t, err, given)
		assert.Equal(t, expected, rec.Funding, given)
	}
}

func Test_parse_record__bad_funding(t *testing.T) {
	_, _, err := parse_record([]byte(`{"funding": 42}`))
	assert.Error(t, err)
}

func Test_standardize(t *testing.T) {
	rec := ModRecord{
		Name:        ptr("  Lapiz "),
		Description: ptr("   "),
		ID:          ptr("lapiz"),
		Version:     ptr("0.2.13"),
		Download:    ptr(" https://example.org/Lapiz.qmod "),
		Funding:     Funding{"  ", "https://ko-fi.com/raineio ", ""},
		Hash:        ptr("abc"),
	}
	expected := ModRecord{
		Name:      ptr("Lapiz"),
		ID:        ptr("lapiz"),
		Version:   ptr("0.2.13"),
		ModLoader: ptr(LOADER_SCOTLAND2),
		Download:  ptr("https://example.org/Lapiz.qmod"),
		Funding:   Funding{"https://ko-fi.com/raineio"},
		Hash:      ptr("abc"),
	}
	assert.Equal(t, expected, standardize(rec))

	// the input is left alone
	assert.Equal(t, Funding{"  ", "https://ko-fi.com/raineio ", ""}, rec.Funding)
	assert.Equal(t, Funding{}, standardize(ModRecord{Funding: Funding{" ", ""}}).Funding)
}

func Test_standardize__split_output(t *testing.T) {
	rec := standardize(ModRecord{Name: ptr("Lapiz"), ID: ptr("lapiz"), Version: ptr("0.2.13"), Download: ptr("https://example.org/a?b&c"), Hash: ptr("abc")})
	data, err := marshal_no_escape(rec.Split(), "")
	require.NoError(t, err)
	expected := `{"name":"Lapiz","description":null,"id":"lapiz","version":"0.2.13","author":null,"authorIcon":null,"modloader":"Scotland2","download":"https://example.org/a?b&c","source":null,"cover":null,"funding":[],"website":null}`
	assert.Equal(t, expected, string(data))
}

func Test_validate_record(t *testing.T) {
	valid := `{"name": "Lapiz", "id": "lapiz", "version": "0.2.13", "modloader": "Scotland2", "download": "https://example.org/Lapiz.qmod"}`
	doc, rec, err := parse_record([]byte(valid))
	require.NoError(t, err)
	assert.NoError(t, validate_record(doc, rec))

	invalid_cases := map[string]string{
		"missing name":     `{"id": "lapiz", "version": "0.2.13", "modloader": "Scotland2", "download": "https://example.org/x.qmod"}`,
		"blank id":         `{"name": "Lapiz", "id": "  ", "version": "0.2.13", "modloader": "Scotland2", "download": "https://example.org/x.qmod"}`,
		"missing version":  `{"name": "Lapiz", "id": "lapiz", "modloader": "Scotland2", "download": "https://example.org/x.qmod"}`,
		"missing download": `{"name": "Lapiz", "id": "lapiz", "version": "0.2.13", "modloader": "Scotland2"}`,
		"unknown loader":   `{"name": "Lapiz", "id": "lapiz", "version": "0.2.13", "modloader": "BMBF", "download": "https://example.org/x.qmod"}`,
		"missing loader":   `{"name": "Lapiz", "id": "lapiz", "version": "0.2.13", "download": "https://example.org/x.qmod"}`,
		"bad download":     `{"name": "Lapiz", "id": "lapiz", "version": "0.2.13", "modloader": "Scotland2", "download": "ftp://example.org/x.qmod"}`,
	}
	for label, given := range invalid_cases {
		doc, rec, err := parse_record([]byte(given))
		require.NoError(t, err, label)
		err = validate_record(doc, rec)
		assert.ErrorIs(t, err, ErrInvalidRecord, label)
	}
}

func Test_load_record(t *testing.T) {
	cfg := test_config(t, "http://127.0.0.1:0")
	write_test_record(t, cfg, "1.37.0", "lapiz-0.2.13.json", lapiz_record("https://example.org/Lapiz.qmod"))

	record_list, err := iterate_records(cfg.Root, cfg.Paths.Mods)
	require.NoError(t, err)
	require.Len(t, record_list, 1)
	assert.Equal(t, "1.37.0", record_list[0].GameVersion)
	assert.Equal(t, filepath.Join("mods", "1.37.0", "lapiz-0.2.13.json"), record_list[0].ShortPath)

	rec, err := load_record(record_list[0], cfg.Paths.Mods)
	require.NoError(t, err)
	assert.Equal(t, "lapiz", str(rec.ID))
	assert.Equal(t, Funding{"https://ko-fi.com/raineio"}, rec.Funding)
}

func Test_load_record__filename_mismatch(t *testing.T) {
	cfg := test_config(t, "http://127.0.0.1:0")
	write_test_record(t, cfg, "1.37.0", "Lapiz-0.2.13.json", lapiz_record("https://example.org/Lapiz.qmod"))

	record_list, err := iterate_records(cfg.Root, cfg.Paths.Mods)
	require.NoError(t, err)
	require.Len(t, record_list, 1)

	_, err = load_record(record_list[0], cfg.Paths.Mods)
	assert.ErrorIs(t, err, ErrFilenameMismatch)

	fatal_error := &FatalError{}
	require.True(t, errors.As(err, &fatal_error))
	assert.Equal(t, filepath.Join("mods", "1.37.0", "Lapiz-0.2.13.json"), fatal_error.Path)
}

func Test_iterate_records__skips_non_records(t *testing.T) {
	cfg := test_config(t, "http://127.0.0.1:0")
	write_test_record(t, cfg, "1.37.0", "lapiz-0.2.13.json", lapiz_record("https://example.org/Lapiz.qmod"))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Mods, "imported.json"), []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Mods, "1.37.0", "notes.txt"), []byte("hi"), 0644))

	record_list, err := iterate_records(cfg.Root, cfg.Paths.Mods)
	require.NoError(t, err)
	assert.Len(t, record_list, 1)
}

func Test_standardize_records(t *testing.T) {
	cfg := test_config(t, "http://127.0.0.1:0")
	rec := lapiz_record("  https://example.org/Lapiz.qmod ")
	rec["website"] = ""
	rec["hash"] = "should-go"
	path := write_test_record(t, cfg, "1.37.0", "lapiz-0.2.13.json", rec)

	require.NoError(t, standardize_records(cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := `{
  "name": "Lapiz",
  "description": "A modding library",
  "id": "lapiz",
  "version": "0.2.13",
  "author": "raineio",
  "authorIcon": null,
  "modloader": "Scotland2",
  "download": "https://example.org/Lapiz.qmod",
  "source": null,
  "cover": null,
  "funding": [
    "https://ko-fi.com/raineio"
  ],
  "website": null
}`
	assert.Equal(t, expected, string(data))
}
