package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// matches "https://github.com/owner/repo..." capturing the owner and repo.
var GITHUB_REPO_REGEX = regexp.MustCompile(`^https://(?:www\.)?github\.com/([^/]+)/([^/]+)`)

// returns the owner and repository of a GitHub url.
func parse_github_repo(link string) (string, string, bool) {
	match := GITHUB_REPO_REGEX.FindStringSubmatch(strings.TrimSpace(link))
	if match == nil {
		return "", "", false
	}
	return match[1], match[2], true
}

// "Owner/Repo" => "owner/repo"
func funding_cache_key(owner, repo string) string {
	return strings.ToLower(owner + "/" + repo)
}

// --- author icons

// IconResolver finds a GitHub owner's avatar by following the redirect of "github.com/<owner>.png".
// results, including misses, are remembered per owner for the lifetime of the resolver.
type IconResolver struct {
	http  *Http
	web   string
	cache *lru.Cache[string, *string]
}

func NewIconResolver(http_client *Http, github_web string, size int) *IconResolver {
	cache, err := lru.New[string, *string](size)
	ensure(err == nil, "icon cache size must be positive")
	return &IconResolver{http: http_client, web: strings.TrimRight(github_web, "/"), cache: cache}
}

// returns the avatar url of the owner of `link`, or nil.
func (ir *IconResolver) Lookup(ctx context.Context, link string) *string {
	owner, _, ok := parse_github_repo(link)
	if !ok {
		return nil
	}
	key := strings.ToLower(owner)

	icon, present := ir.cache.Get(key)
	if present {
		return icon
	}

	target := ir.web + "/" + owner + ".png"
	location, err := ir.http.redirect_location(ctx, target)
	if err != nil {
		slog.Debug("failed to find author icon", "owner", owner, "error", err)
		icon = nil
	} else if location == target {
		icon = nil
	} else {
		icon = &location
	}

	ir.cache.Add(key, icon)
	return icon
}

// --- funding

// providers recognised in a FUNDING.yml file and the link each maps to.
var FUNDING_PROVIDERS = map[string]string{
	"community_bridge": "https://funding.communitybridge.org/projects/%s",
	"github":           "https://github.com/sponsors/%s",
	"issuehunt":        "https://issuehunt.io/r/%s",
	"ko_fi":            "https://ko-fi.com/%s",
	"liberapay":        "https://liberapay.com/%s",
	"open_collective":  "https://opencollective.com/%s",
	"patreon":          "https://patreon.com/%s",
	"tidelift":         "https://tidelift.com/funding/github/%s",
	"polar":            "https://polar.sh/%s",
	"buy_me_a_coffee":  "https://buymeacoffee.com/%s",
	"custom":           "%s",
}

// providers whose value may also be a list.
var FUNDING_LIST_PROVIDERS = map[string]bool{
	"github": true,
	"custom": true,
}

// the non-empty scalar values of `node`.
// a sequence is only accepted when `allow_list` is true.
func funding_values(node *yaml.Node, allow_list bool) []string {
	val_list := []string{}
	switch {
	case node.Kind == yaml.ScalarNode:
		if node.Tag != "!!null" && strings.TrimSpace(node.Value) != "" {
			val_list = append(val_list, strings.TrimSpace(node.Value))
		}
	case node.Kind == yaml.SequenceNode && allow_list:
		for _, item := range node.Content {
			val_list = append(val_list, funding_values(item, false)...)
		}
	}
	return val_list
}

// parses a FUNDING.yml file into a list of links, in the order the providers appear in the file.
// unknown providers are ignored.
func parse_funding_yaml(data []byte) ([]string, error) {
	links := []string{}

	doc := yaml.Node{}
	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return links, fmt.Errorf("failed to parse funding file: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return links, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return links, nil
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		provider := root.Content[i].Value
		template, known := FUNDING_PROVIDERS[provider]
		if !known {
			continue
		}
		for _, val := range funding_values(root.Content[i+1], FUNDING_LIST_PROVIDERS[provider]) {
			links = append(links, fmt.Sprintf(template, val))
		}
	}
	return links, nil
}

// RepoDirectory is what was found in a single repository directory listing.
type RepoDirectory struct {
	Found        bool   // false when the repository or directory doesn't exist
	FundingURL   string // download url of the funding file, if any
	DotGithubDir string // path of the ".github" directory, if any
}

// error message in a GitHub API response body, if any.
func github_error_message(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	result := gjson.ParseBytes(body)
	if !result.IsObject() {
		return ""
	}
	return result.Get("message").String()
}

// FundingResolver finds funding links for GitHub repositories.
// results are kept in a cache persisted to disk after every lookup.
type FundingResolver struct {
	http  *Http
	api   string
	path  string
	cache map[string][]string
	lock  sync.Mutex
}

// loads the funding cache at `path`. `fresh` ignores whatever is there.
func load_funding_resolver(http_client *Http, github_api, path string, fresh bool) (*FundingResolver, error) {
	fr := &FundingResolver{
		http:  http_client,
		api:   strings.TrimRight(github_api, "/"),
		path:  path,
		cache: map[string][]string{},
	}
	if fresh {
		return fr, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read funding cache: %w", err)
	}
	data, _ = elide_bom(data)
	if strings.TrimSpace(string(data)) == "" {
		return fr, nil
	}
	err = json.Unmarshal(data, &fr.cache)
	if err != nil {
		return nil, fmt.Errorf("failed to parse funding cache: %w", err)
	}
	if fr.cache == nil {
		fr.cache = map[string][]string{}
	}
	return fr, nil
}

func (fr *FundingResolver) flush() error {
	err := write_json(fr.path, fr.cache)
	if err != nil {
		return fmt.Errorf("failed to write funding cache: %w", err)
	}
	return nil
}

// lists the contents of `owner/repo`, or of `subdir` within it.
func (fr *FundingResolver) list_directory(ctx context.Context, owner, repo, subdir string) (RepoDirectory, error) {
	dir := RepoDirectory{}

	url := fmt.Sprintf("%s/repos/%s/%s/contents", fr.api, owner, repo)
	if subdir != "" {
		url += "/" + subdir
	}

	resp, err := fr.http.download(ctx, url)
	if err != nil {
		slog.Debug("failed to list repository contents", "url", url, "error", err)
		return dir, nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return dir, nil
	}

	message := github_error_message(resp.Bytes)
	if message != "" {
		return dir, fmt.Errorf("GitHub API error: %s (%s)", message, url)
	}
	if !resp.Ok() {
		return dir, fmt.Errorf("unsuccessful response from GitHub: %d (%s)", resp.StatusCode, url)
	}

	listing := gjson.ParseBytes(resp.Bytes)
	if !listing.IsArray() {
		return dir, nil
	}
	dir.Found = true

	listing.ForEach(func(_, entry gjson.Result) bool {
		name := strings.ToLower(entry.Get("name").String())
		download_url := entry.Get("download_url")
		if dir.FundingURL == "" && name == "funding.yml" && download_url.Type == gjson.String {
			dir.FundingURL = download_url.String()
		}
		entry_path := entry.Get("path").String()
		if dir.DotGithubDir == "" && entry.Get("type").String() == "dir" && strings.ToLower(entry_path) == ".github" {
			dir.DotGithubDir = entry_path
		}
		return true
	})
	return dir, nil
}

// the links in the funding file of `dir`, if it has one.
func (fr *FundingResolver) check_funding(ctx context.Context, dir RepoDirectory) ([]string, error) {
	if dir.FundingURL == "" {
		return []string{}, nil
	}
	data := fr.http.fetch_bytes(ctx, dir.FundingURL)
	if data == nil {
		return []string{}, nil
	}
	return parse_funding_yaml(data)
}

// looks for funding in a repository directory, then in its ".github" directory.
func (fr *FundingResolver) check_repository(ctx context.Context, owner, repo string) ([]string, bool, error) {
	dir, err := fr.list_directory(ctx, owner, repo, "")
	if err != nil || !dir.Found {
		return []string{}, false, err
	}

	links, err := fr.check_funding(ctx, dir)
	if err != nil {
		return links, true, err
	}
	if len(links) == 0 && dir.DotGithubDir != "" {
		sub, err := fr.list_directory(ctx, owner, repo, dir.DotGithubDir)
		if err != nil {
			return links, true, err
		}
		links, err = fr.check_funding(ctx, sub)
		if err != nil {
			return links, true, err
		}
	}
	return links, true, nil
}

// finds the funding links of `owner/repo`.
// the repository's root is checked, then its ".github" directory,
// then the owner's ".github" repository in the same way. nothing deeper is searched.
func (fr *FundingResolver) resolve(ctx context.Context, owner, repo string) ([]string, error) {
	links, found, err := fr.check_repository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	if !found || len(links) > 0 || strings.ToLower(repo) == ".github" {
		return links, nil
	}

	links, _, err = fr.check_repository(ctx, owner, ".github")
	if err != nil {
		return nil, err
	}
	return links, nil
}

// returns the funding links of the repository `link` belongs to.
// cached results are returned as-is. a failed lookup is returned as an error and not cached.
func (fr *FundingResolver) Lookup(ctx context.Context, link string) ([]string, error) {
	owner, repo, ok := parse_github_repo(link)
	if !ok {
		return []string{}, nil
	}
	key := funding_cache_key(owner, repo)

	fr.lock.Lock()
	links, present := fr.cache[key]
	fr.lock.Unlock()
	if present {
		return links, nil
	}

	links, err := fr.resolve(ctx, owner, repo)
	if err != nil {
		return []string{}, err
	}

	fr.lock.Lock()
	defer fr.lock.Unlock()
	fr.cache[key] = links
	return links, fr.flush()
}
