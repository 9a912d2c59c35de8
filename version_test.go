package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_parse_version(t *testing.T) {
	cases := map[string]bool{
		"":                  false,
		"foo":               false,
		"1.0":               false,
		"1.0.0":             true,
		"v1.0.0":            true,
		" 1.0.0 ":           true,
		"1.0.0-beta":        true,
		"1.0.0_beta":        true,
		"1.28.0_4124311467": true,
		"1.0.0+build.1":     true,
	}
	for given, expected := range cases {
		assert.Equal(t, expected, parse_version(given) != nil, given)
	}
}

func Test_compare_versions_asc(t *testing.T) {
	cases := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.0.0_beta", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0_beta", -1},
		{"invalid", "1.0.0", 1},
		{"1.0.0", "invalid", -1},
		{"invalid", "also-invalid", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, compare_versions_asc(c.a, c.b), c.a+" vs "+c.b)
	}
}

func Test_sort_versions(t *testing.T) {
	given := []string{"1.37.0", "invalid", "1.28.0_4124311467", "1.40.0", "also-invalid"}

	assert.Equal(t, []string{"1.28.0_4124311467", "1.37.0", "1.40.0", "invalid", "also-invalid"}, sort_versions_asc(given))
	assert.Equal(t, []string{"1.40.0", "1.37.0", "1.28.0_4124311467", "invalid", "also-invalid"}, sort_versions_desc(given))

	// input untouched
	assert.Equal(t, "1.37.0", given[0])
}

func Test_sort_mods(t *testing.T) {
	mod := func(id, version string) ModRecord {
		return ModRecord{ID: ptr(id), Version: ptr(version)}
	}
	mod_list := []ModRecord{
		mod("b", "1.0.0"),
		mod("a", "2.0.0"),
		mod("A", "1.0.0"),
		mod("a", "1.0.0"),
		mod("c", "not-a-version"),
		mod("c", "0.1.0"),
	}
	sort_mods(mod_list)

	actual := []string{}
	for _, m := range mod_list {
		actual = append(actual, str(m.ID)+"@"+str(m.Version))
	}
	expected := []string{"A@1.0.0", "a@1.0.0", "a@2.0.0", "b@1.0.0", "c@0.1.0", "c@not-a-version"}
	assert.Equal(t, expected, actual)
}
