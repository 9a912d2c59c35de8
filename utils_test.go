package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_capitalise(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"not found":     "Not found",
		"Already":       "Already",
		"écran":         "Écran",
		"1 thing":       "1 thing",
		"bad info json": "Bad info json",
		"x":             "X",
	}
	for given, expected := range cases {
		assert.Equal(t, expected, capitalise(given), given)
	}
}

func Test_blank_to_nil(t *testing.T) {
	assert.Nil(t, blank_to_nil(nil))
	assert.Nil(t, blank_to_nil(ptr("")))
	assert.Nil(t, blank_to_nil(ptr(" \t\n ")))
	assert.Equal(t, ptr("foo"), blank_to_nil(ptr("  foo ")))
}

func Test_unique(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, unique([]string{"b", "a", "b", "c", "a"}))
	assert.Nil(t, unique([]string{}))
}

func Test_elide_bom(t *testing.T) {
	cases := map[string]string{
		"\xef\xbb\xbf{}": "{}",
		"{}":             "{}",
		"\xef\xbb\xbf":   "",
	}
	for given, expected := range cases {
		actual, err := elide_bom([]byte(given))
		require.NoError(t, err)
		assert.Equal(t, expected, string(actual))
	}
}

func Test_marshal_no_escape(t *testing.T) {
	thing := map[string]any{"url": "https://example.org/?a=1&b=<2>"}

	actual, err := marshal_no_escape(thing, "")
	require.NoError(t, err)
	assert.Equal(t, `{"url":"https://example.org/?a=1&b=<2>"}`, string(actual))

	actual, err = marshal_no_escape(thing, "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"url\": \"https://example.org/?a=1&b=<2>\"\n}", string(actual))
}

func Test_ordered_object(t *testing.T) {
	obj := NewOrderedObject()
	obj.Set("z", 1)
	obj.Set("a", []string{"x&y"})
	obj.Set("m", nil)
	obj.Set("z", 2)

	assert.Equal(t, []string{"z", "a", "m"}, obj.Keys())
	val, present := obj.Get("z")
	assert.True(t, present)
	assert.Equal(t, 2, val)

	actual, err := marshal_no_escape(obj, "")
	require.NoError(t, err)
	assert.Equal(t, `{"z":2,"a":["x&y"],"m":null}`, string(actual))

	actual, err = marshal_no_escape(NewOrderedObject(), "")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(actual))
}

func Test_write_file_atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "file.json")

	require.NoError(t, write_file_atomic(path, []byte("first")))
	require.NoError(t, write_file_atomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.json", entries[0].Name())
}

func Test_sha1(t *testing.T) {
	empty := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	assert.Equal(t, empty, sha1_hex(nil))

	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	actual, err := sha1_file(path)
	require.NoError(t, err)
	assert.Equal(t, empty, actual)

	_, err = sha1_file(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
