package main

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// parses `s` as a semantic version.
// underscores are read as hyphens ("1.0.0_beta" => "1.0.0-beta") and a leading "v" or "=" is tolerated.
// returns nil if `s` isn't a valid version.
func parse_version(s string) *semver.Version {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "=v")
	s = strings.ReplaceAll(s, "_", "-")
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil
	}
	return v
}

// compares two version strings in ascending order.
// an invalid version sorts after every valid version, two invalid versions are equal.
func compare_versions_asc(a, b string) int {
	va := parse_version(a)
	vb := parse_version(b)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return 1
	case vb == nil:
		return -1
	}
	return va.Compare(vb)
}

// like `compare_versions_asc` but descending. invalid versions still sort last.
func compare_versions_desc(a, b string) int {
	va := parse_version(a)
	vb := parse_version(b)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return 1
	case vb == nil:
		return -1
	}
	return vb.Compare(va)
}

// returns a copy of `version_list` sorted ascending.
func sort_versions_asc(version_list []string) []string {
	sorted := slices.Clone(version_list)
	slices.SortStableFunc(sorted, compare_versions_asc)
	return sorted
}

// returns a copy of `version_list` sorted descending.
func sort_versions_desc(version_list []string) []string {
	sorted := slices.Clone(version_list)
	slices.SortStableFunc(sorted, compare_versions_desc)
	return sorted
}

// case-insensitive string ordering, "Lapiz" and "lapiz" compare equal.
func new_id_collator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase)
}

// sorts `mod_list` in place by id (case-insensitive) and then version.
// done as two stable sorts, version first, so records with equal ids stay in version order.
func sort_mods(mod_list []ModRecord) {
	slices.SortStableFunc(mod_list, func(a, b ModRecord) int {
		return compare_versions_asc(str(a.Version), str(b.Version))
	})

	collator := new_id_collator()
	slices.SortStableFunc(mod_list, func(a, b ModRecord) int {
		switch {
		case a.ID == nil && b.ID == nil:
			return 0
		case a.ID == nil:
			return 1
		case b.ID == nil:
			return -1
		}
		return collator.CompareString(*a.ID, *b.ID)
	})
}
