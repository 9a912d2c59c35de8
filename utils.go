// general purpose utilities
package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// cannot continue, exit immediately without a stacktrace.
// just use `panic` if you do need a stracktrace.
func fatal() {
	fmt.Printf("cannot continue, ") // "cannot continue, exit status 1"
	os.Exit(1)
}

// assert `b` is true, otherwise panic with message `msg`.
func ensure(b bool, msg string) {
	if !b {
		panic(msg)
	}
}

// returns `true` if tests are being run.
func is_testing() bool {
	// https://stackoverflow.com/questions/14249217/how-do-i-know-im-running-within-go-test
	return strings.HasSuffix(os.Args[0], ".test")
}

// returns just the unique items in `list`.
// order is preserved.
func unique[T comparable](list []T) []T {
	idx := make(map[T]bool)
	var result []T
	for _, item := range list {
		_, present := idx[item]
		if !present {
			idx[item] = true
			result = append(result, item)
		}
	}
	return result
}

func path_exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// "  foo " => "foo", "   " => nil, nil => nil
func blank_to_nil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func is_blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// dereferences `s`, returning an empty string for nil.
func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T {
	return &v
}

// detect if a string has a byte-order mark,
// removing it and returning the remaining bytes if so.
// returns an error if bytes cannot be read.
// - https://stackoverflow.com/questions/21371673/reading-files-with-a-bom-in-go#answer-21375405
func elide_bom(b []byte) ([]byte, error) {
	br := bytes.NewReader(b)
	r, _, err := br.ReadRune()
	if err != nil {
		return b, err
	}
	if r != '\uFEFF' {
		br.UnreadRune() // Not a BOM -- put the rune back
	}
	return io.ReadAll(br)
}

// SHA-1 of `b` as 40 lowercase hex characters.
func sha1_hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// SHA-1 of the file at `path` as 40 lowercase hex characters.
func sha1_file(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	hasher := sha1.New()
	_, err = io.Copy(hasher, fh)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// encodes `thing` as json without escaping '<', '>' and '&'.
// urls are written as-is rather than with "\u0026" in place of "&".
func marshal_no_escape(thing any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	err := enc.Encode(thing)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// writes `data` to `path` by way of a temporary file in the same directory,
// so readers never see a half-written file.
func write_file_atomic(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fh, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp_path := fh.Name()

	_, err = fh.Write(data)
	if err != nil {
		fh.Close()
		os.Remove(tmp_path)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	err = fh.Close()
	if err != nil {
		os.Remove(tmp_path)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	err = os.Rename(tmp_path, path)
	if err != nil {
		os.Remove(tmp_path)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// marshals `thing` as compact json and writes it atomically to `path`.
func write_json(path string, thing any) error {
	data, err := marshal_no_escape(thing, "")
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return write_file_atomic(path, data)
}

// an ordered json object, keys are written in the order they were added.
type OrderedObject struct {
	keys   []string
	values map[string]any
}

func NewOrderedObject() *OrderedObject {
	return &OrderedObject{values: map[string]any{}}
}

func (o *OrderedObject) Set(key string, val any) {
	_, present := o.values[key]
	if !present {
		o.keys = append(o.keys, key)
	}
	o.values[key] = val
}

func (o *OrderedObject) Get(key string) (any, bool) {
	val, present := o.values[key]
	return val, present
}

func (o *OrderedObject) Keys() []string {
	return o.keys
}

func (o *OrderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key_bytes, err := marshal_no_escape(key, "")
		if err != nil {
			return nil, err
		}
		buf.Write(key_bytes)
		buf.WriteByte(':')
		val_bytes, err := marshal_no_escape(o.values[key], "")
		if err != nil {
			return nil, err
		}
		buf.Write(val_bytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// "not found" => "Not found"
func capitalise(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
