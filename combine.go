package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type CombineOptions struct {
	SkipHashes    bool // don't fetch, hash or inspect archives
	RecheckUrls   bool // HEAD cached urls and invalidate those that fail
	UpdateFunding bool // ignore the funding cache
}

// ProcessResult is the outcome of processing a single record.
// any `Errors` exclude the record from the output.
type ProcessResult struct {
	Messages []string
	Warnings []string
	Errors   []string
	Hash     *string
}

func NewProcessResult() ProcessResult {
	return ProcessResult{Messages: []string{}, Warnings: []string{}, Errors: []string{}}
}

func (r ProcessResult) Ok() bool {
	return len(r.Errors) == 0
}

// logs the result of processing the record at `short_path`, if there is anything worth logging.
func (r ProcessResult) Log(short_path string) {
	if len(r.Warnings) == 0 && len(r.Errors) == 0 {
		return
	}
	if len(r.Errors) > 0 {
		slog.Error("errors when processing", "path", short_path)
	} else {
		slog.Warn("warnings when processing", "path", short_path)
	}
	for _, msg := range r.Messages {
		slog.Info("  message", "msg", msg)
	}
	for _, msg := range r.Warnings {
		slog.Warn("  warning", "msg", msg)
	}
	for _, msg := range r.Errors {
		slog.Error("  error", "msg", msg)
	}
}

// LoadedRecord is a record that has passed validation.
type LoadedRecord struct {
	File   RecordFile
	Record ModRecord
}

// Combiner turns the records in the mods directory into the combined catalogue.
type Combiner struct {
	cfg      Config
	opts     CombineOptions
	http     *Http
	metadata *MetadataCache
	mirror   *Mirror
	icons    *IconResolver
	funding  *FundingResolver
	covers   CoverStore
}

// reads and validates every record, stopping at the first one that fails.
// nothing touches the network until every record has passed.
func load_all_records(cfg Config) ([]LoadedRecord, error) {
	record_list, err := iterate_records(cfg.Root, cfg.Paths.Mods)
	if err != nil {
		return nil, err
	}
	loaded := []LoadedRecord{}
	for _, rf := range record_list {
		rec, err := load_record(rf, cfg.Paths.Mods)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, LoadedRecord{File: rf, Record: rec})
	}
	return loaded, nil
}

func NewCombiner(cfg Config, opts CombineOptions, http_client *Http) (*Combiner, error) {
	metadata, err := load_metadata_cache(cfg.Paths.Metadata)
	if err != nil {
		return nil, err
	}
	funding, err := load_funding_resolver(http_client, cfg.GithubAPI, cfg.Paths.Funding, opts.UpdateFunding)
	if err != nil {
		return nil, err
	}
	return &Combiner{
		cfg:      cfg,
		opts:     opts,
		http:     http_client,
		metadata: metadata,
		mirror:   &Mirror{Metadata: map[string]string{}},
		icons:    NewIconResolver(http_client, cfg.GithubWeb, 1024),
		funding:  funding,
		covers:   CoverStore{Dir: cfg.Paths.Covers, MaxSize: cfg.CoverSize, BaseHref: cfg.BaseHref},
	}, nil
}

// fetches, hashes and inspects the archive of `rec` and processes its cover.
// `rec` gains an author icon and a cover along the way.
func (c *Combiner) process(ctx context.Context, rec *ModRecord, game_version string) ProcessResult {
	result := NewProcessResult()
	if c.opts.SkipHashes {
		return result
	}

	original_url := strings.TrimSpace(str(rec.Download))
	meta, _ := c.metadata.Get(original_url)

	download_url := original_url
	if meta.UseMirror && c.mirror.HasMirror(original_url) {
		download_url = c.mirror.Resolve(original_url)
	}

	local_path := archive_path(c.cfg.Paths.Archives, game_version, str(rec.ID), str(rec.Version))

	if c.opts.RecheckUrls && meta.Hash != nil && !c.http.head(ctx, download_url) {
		result.Messages = append(result.Messages, "recheck failed: "+download_url)
		meta.Hash = nil
		meta.Image = nil
		c.metadata.Delete(original_url)
		os.Remove(local_path)
	}

	if is_blank(rec.AuthorIcon) {
		rec.AuthorIcon = c.icons.Lookup(ctx, original_url)
	}
	result.Hash = meta.Hash

	optimized_path := optimized_cover_path(c.cfg.Paths.Covers, meta.Image)
	if optimized_path != "" && path_exists(optimized_path) {
		rec.Cover = ptr(cover_url(c.cfg.BaseHref, optimized_path))
	}

	var embedded *CoverSource
	if meta.Hash == nil {
		af := &ArchiveFetch{
			OriginalURL: original_url,
			DownloadURL: download_url,
			LocalPath:   local_path,
			Meta:        meta,
		}
		err := fetch_archive(ctx, c.http, c.mirror, c.metadata, af, &result)
		if err != nil {
			result.Errors = append(result.Errors, capitalise(err.Error()))
			return result
		}
		meta = af.Meta
		result.Hash = meta.Hash

		info, warnings, err := inspect_archive(local_path)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			if errors.Is(err, ErrInvalidArchive) {
				os.Remove(local_path)
			}
			result.Errors = append(result.Errors, capitalise(err.Error()))
			return result
		}
		if info.CoverBytes != nil {
			embedded = &CoverSource{Name: info.CoverName, Bytes: info.CoverBytes}
		}
	}

	if meta.Image == nil || is_blank(meta.Image.Hash) {
		src := obtain_cover(ctx, c.http, embedded, *rec, &result)
		if src != nil {
			image_meta, url, warnings := c.covers.Store(*src)
			result.Warnings = append(result.Warnings, warnings...)
			meta.Image = image_meta
			if url != "" {
				rec.Cover = &url
			}
		}
	}

	c.metadata.Put(original_url, meta)
	return result
}

// attaches funding links to `rec` when it has none of its own.
// a failed lookup is a warning.
func (c *Combiner) enrich_funding(ctx context.Context, rec *ModRecord, original_url string, result *ProcessResult) {
	if len(rec.Funding) > 0 {
		return
	}
	if _, _, ok := parse_github_repo(original_url); !ok {
		return
	}
	links, err := c.funding.Lookup(ctx, original_url)
	if err != nil {
		result.Warnings = append(result.Warnings, "Error fetching funding: "+err.Error())
	}
	rec.Funding = Funding(links)
}

// CombinedMods is the catalogue, records grouped by game version.
type CombinedMods map[string][]ModRecord

// game versions in ascending order.
func (cm CombinedMods) GameVersions() []string {
	version_list := []string{}
	for gv := range cm {
		version_list = append(version_list, gv)
	}
	return sort_versions_asc(version_list)
}

// sorts each game version's records by id and then version.
func (cm CombinedMods) Sort() {
	for _, mod_list := range cm {
		sort_mods(mod_list)
	}
}

// {game-version: [record, ...]}, game versions in ascending order.
func (cm CombinedMods) Ordered() *OrderedObject {
	obj := NewOrderedObject()
	for _, gv := range cm.GameVersions() {
		obj.Set(gv, cm[gv])
	}
	return obj
}

// {game-version: {id: {version: record}}}, keys in the order the sorted records appear.
func (cm CombinedMods) Grouped() *OrderedObject {
	grouped := NewOrderedObject()
	for _, gv := range cm.GameVersions() {
		by_id := NewOrderedObject()
		for _, rec := range cm[gv] {
			id := str(rec.ID)
			by_version, present := by_id.Get(id)
			if !present {
				by_version = NewOrderedObject()
				by_id.Set(id, by_version)
			}
			by_version.(*OrderedObject).Set(str(rec.Version), rec)
		}
		grouped.Set(gv, by_id)
	}
	return grouped
}

// writes every combined output.
func write_outputs(paths Paths, combined CombinedMods) error {
	combined.Sort()
	grouped := combined.Grouped()

	for _, gv := range grouped.Keys() {
		version_map, _ := grouped.Get(gv)
		err := write_json(filepath.Join(paths.Public, sanitize_filename(gv)+".json"), version_map)
		if err != nil {
			return fmt.Errorf("failed to write game version %s: %w", gv, err)
		}
	}

	err := write_json(paths.AllMods, combined.Ordered())
	if err != nil {
		return fmt.Errorf("failed to write combined mods: %w", err)
	}

	err = write_json(paths.GroupedMods, grouped)
	if err != nil {
		return fmt.Errorf("failed to write grouped mods: %w", err)
	}

	err = write_json(paths.Versions, sort_versions_desc(combined.GameVersions()))
	if err != nil {
		return fmt.Errorf("failed to write versions: %w", err)
	}
	return nil
}

// processes every validated record in turn, writing the metadata cache after each.
// stops with the context's error once it is cancelled, leaving the cache as of the last whole record.
func (c *Combiner) Run(ctx context.Context, loaded []LoadedRecord) (CombinedMods, error) {
	combined := CombinedMods{}

	for _, lr := range loaded {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		game_version := lr.File.GameVersion
		if _, present := combined[game_version]; !present {
			combined[game_version] = []ModRecord{}
		}

		rec := lr.Record
		original_url := strings.TrimSpace(str(rec.Download))
		result := c.process(ctx, &rec, game_version)

		uniform := standardize(rec)
		c.enrich_funding(ctx, &uniform, original_url, &result)

		// an interrupted record is neither kept nor forgotten
		err = ctx.Err()
		if err != nil {
			return nil, err
		}

		if result.Ok() {
			uniform.Hash = nil
			meta, present := c.metadata.Get(original_url)
			if present {
				uniform.Hash = meta.Hash
			}
			combined[game_version] = append(combined[game_version], uniform)
		} else {
			c.metadata.Delete(original_url)
		}

		result.Log(lr.File.ShortPath)

		err = c.metadata.Flush()
		if err != nil {
			return nil, err
		}
	}

	return combined, nil
}

// validates every record then builds and writes the combined catalogue.
// a record that fails validation aborts the run before anything is fetched.
func combine(ctx context.Context, cfg Config, opts CombineOptions, http_client *Http) error {
	loaded, err := load_all_records(cfg)
	if err != nil {
		return err
	}
	slog.Info("records validated", "num", len(loaded))

	combiner, err := NewCombiner(cfg, opts, http_client)
	if err != nil {
		return err
	}

	http_client.log_github_api_usage(ctx)
	combiner.mirror = fetch_mirror(ctx, http_client, cfg.MirrorBase())

	combined, err := combiner.Run(ctx, loaded)
	if err != nil {
		return err
	}

	err = ctx.Err()
	if err != nil {
		return err
	}

	err = write_outputs(cfg.Paths, combined)
	if err != nil {
		return err
	}

	total := 0
	for _, mod_list := range combined {
		total += len(mod_list)
	}
	slog.Info("catalogue written", "game-versions", len(combined), "mods", total)

	http_client.log_github_api_usage(ctx)
	return nil
}
