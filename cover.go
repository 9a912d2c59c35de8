package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ericpauley/go-quantize/quantize"

	_ "golang.org/x/image/webp"
)

// CoverSource is a cover image's raw bytes and the filename it came with.
type CoverSource struct {
	Name  string
	Bytes []byte
}

// the extension of a cover's filename without the dot, "cover.PNG" => "PNG".
func cover_extension(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

// the public url of an optimized cover file.
func cover_url(base_href, optimized_path string) string {
	return base_href + "/covers/" + filepath.Base(optimized_path)
}

// reduces `img` to at most 256 colours and encodes it as a maximally compressed png.
func encode_palette_png(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	quantizer := quantize.MedianCutQuantizer{}
	palette := quantizer.Quantize(make(color.Palette, 0, 256), img)
	paletted := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(paletted, bounds, img, bounds.Min)

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	err := encoder.Encode(&buf, paletted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// decodes `data`, rotated according to any orientation tag it carries.
func decode_cover(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// re-encodes png bytes so identical images from different encoders hash identically.
func normalize_png(data []byte) ([]byte, error) {
	img, err := decode_cover(data)
	if err != nil {
		return nil, err
	}
	return encode_palette_png(img)
}

// fits `data` inside a `max_size` square without enlarging it and encodes it as a palette png.
func optimize_cover(data []byte, max_size int) ([]byte, error) {
	img, err := decode_cover(data)
	if err != nil {
		return nil, err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w > max_size || h > max_size {
		// fitted sides are rounded, not truncated
		scale := math.Min(float64(max_size)/float64(w), float64(max_size)/float64(h))
		fit_w := max(1, int(math.Round(float64(w)*scale)))
		fit_h := max(1, int(math.Round(float64(h)*scale)))
		img = imaging.Resize(img, fit_w, fit_h, imaging.Lanczos)
	}
	return encode_palette_png(img)
}

// writes `data` to `path` unless something is already there.
func write_once(path string, data []byte) error {
	if path_exists(path) {
		return nil
	}
	return write_file_atomic(path, data)
}

// CoverStore keeps original and optimized covers, addressed by the digest of the cover's bytes.
type CoverStore struct {
	Dir      string
	MaxSize  int
	BaseHref string
}

// stores `src` as an original and an optimized cover, returning the cover's metadata
// and the public url of the optimized cover.
// the url is empty when the optimized cover couldn't be produced, problems are returned as warnings.
func (cs CoverStore) Store(src CoverSource) (*ImageMetadata, string, []string) {
	warnings := []string{}
	data := src.Bytes

	ext := cover_extension(src.Name)
	image_meta := &ImageMetadata{Extension: blank_to_nil(&ext)}

	if strings.EqualFold(ext, "png") {
		normalized, err := normalize_png(data)
		if err != nil {
			warnings = append(warnings, "Error processing cover file", err.Error())
		} else {
			data = normalized
		}
	}

	hash := sha1_hex(data)
	image_meta.Hash = &hash

	original_path := original_cover_path(cs.Dir, image_meta)
	if original_path != "" {
		err := write_once(original_path, data)
		if err != nil {
			warnings = append(warnings, "Error writing original cover file", err.Error())
		}
	}

	optimized_path := optimized_cover_path(cs.Dir, image_meta)
	if !path_exists(optimized_path) {
		optimized, err := optimize_cover(data, cs.MaxSize)
		if err == nil {
			err = write_once(optimized_path, optimized)
		}
		if err != nil {
			warnings = append(warnings, "Error processing cover file", err.Error())
			return image_meta, "", warnings
		}
	}

	return image_meta, cover_url(cs.BaseHref, optimized_path), warnings
}

// the filename part of a cover url, ignoring any query string.
func cover_name_from_url(cover string) string {
	u, err := url.Parse(cover)
	if err != nil {
		return path.Base(cover)
	}
	return path.Base(u.Path)
}

// finds the bytes for a record's cover, preferring the cover embedded in the archive
// over the record's own cover url.
// returns nil when there is no cover, a failed fetch is a warning.
func obtain_cover(ctx context.Context, http_client *Http, embedded *CoverSource, rec ModRecord, result *ProcessResult) *CoverSource {
	if embedded != nil {
		return embedded
	}
	if is_blank(rec.Cover) {
		return nil
	}
	cover := strings.TrimSpace(*rec.Cover)
	data := http_client.fetch_bytes(ctx, cover)
	if data == nil {
		result.Warnings = append(result.Warnings, "Error fetching cover buffer")
		return nil
	}
	return &CoverSource{Name: cover_name_from_url(cover), Bytes: data}
}

// removes the original and optimized files of a cover, returning the paths deleted.
func delete_cover_files(covers_dir string, image_meta *ImageMetadata) []string {
	deleted := []string{}
	for _, p := range []string{optimized_cover_path(covers_dir, image_meta), original_cover_path(covers_dir, image_meta)} {
		if p == "" || !path_exists(p) {
			continue
		}
		err := os.Remove(p)
		if err != nil {
			continue
		}
		deleted = append(deleted, p)
	}
	return deleted
}
