package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
)

const USER_AGENT = "qmod-catalogue/1.0"

type ResponseWrapper struct {
	*http.Response
	Bytes []byte
}

func (r ResponseWrapper) Text() string {
	return string(r.Bytes)
}

func (r ResponseWrapper) Ok() bool {
	return r.Response != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Http wraps the client shared by every component and knows how to talk to the GitHub API.
type Http struct {
	Client      *http.Client
	GithubAPI   string
	GithubToken string
}

// builds a http client whose connections resolve through a shared dns cache.
// most archives, covers and api calls go to a handful of hosts.
func new_http_client(timeout time.Duration) *http.Client {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to dial any resolved ip for %s", host)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func NewHttp(client *http.Client, github_api, github_token string) *Http {
	return &Http{Client: client, GithubAPI: strings.TrimRight(github_api, "/"), GithubToken: github_token}
}

// client trace to log whether the request's underlying tcp connection was re-used
func trace_context(ctx context.Context) context.Context {
	client_tracer := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			slog.Debug("HTTP connection reuse", "reused", info.Reused, "remote", info.Conn.RemoteAddr())
		},
	}
	return httptrace.WithClientTrace(ctx, client_tracer)
}

func (h *Http) is_github_api(url string) bool {
	return strings.HasPrefix(strings.ToLower(url), strings.ToLower(h.GithubAPI)+"/")
}

func (h *Http) new_request(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(trace_context(ctx), method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", USER_AGENT)
	if h.is_github_api(url) {
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if h.GithubToken != "" {
			req.Header.Set("Authorization", "Bearer "+h.GithubToken)
		}
	}
	return req, nil
}

// GETs `url`, reading the whole body.
// a non-2xx response is not an error, check `Ok`.
func (h *Http) download(ctx context.Context, url string) (ResponseWrapper, error) {
	slog.Debug("HTTP GET", "url", url)
	empty_response := ResponseWrapper{}

	req, err := h.new_request(ctx, http.MethodGet, url)
	if err != nil {
		return empty_response, err
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return empty_response, fmt.Errorf("failed to fetch '%s': %w", url, err)
	}
	defer resp.Body.Close()

	content_bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty_response, fmt.Errorf("failed to read response body: %w", err)
	}

	return ResponseWrapper{
		Response: resp,
		Bytes:    content_bytes,
	}, nil
}

// GETs `url` returning the body of a successful response or nil.
// failures are logged and swallowed.
func (h *Http) fetch_bytes(ctx context.Context, url string) []byte {
	resp, err := h.download(ctx, url)
	if err != nil {
		slog.Debug("fetch failed", "url", url, "error", err)
		return nil
	}
	if !resp.Ok() {
		slog.Debug("fetch unsuccessful", "url", url, "status", resp.StatusCode)
		return nil
	}
	return resp.Bytes
}

// HEADs `url`, returning true for a 2xx response.
func (h *Http) head(ctx context.Context, url string) bool {
	req, err := h.new_request(ctx, http.MethodHead, url)
	if err != nil {
		return false
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		slog.Debug("HEAD failed", "url", url, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// HEADs `target` without following redirects, returning the absolute redirect location.
// returns `target` itself when there is no redirect.
func (h *Http) redirect_location(ctx context.Context, target string) (string, error) {
	req, err := h.new_request(ctx, http.MethodHead, target)
	if err != nil {
		return "", err
	}

	client := *h.Client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch redirected url: %w", err)
	}
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode >= 300 && resp.StatusCode < 400 && location != "" {
		loc, err := req.URL.Parse(location)
		if err != nil {
			return "", fmt.Errorf("failed to parse redirect location: %w", err)
		}
		return loc.String(), nil
	}
	return target, nil
}

// downloads `url` to `dest`, returning the SHA-1 of the bytes written.
// returns an empty string when the source is unreachable or doesn't respond with a 2xx,
// in which case nothing is left at `dest`.
func (h *Http) download_file(ctx context.Context, url, dest string) string {
	slog.Debug("HTTP GET", "url", url, "dest", dest)

	req, err := h.new_request(ctx, http.MethodGet, url)
	if err != nil {
		slog.Debug("download failed", "url", url, "error", err)
		return ""
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		slog.Debug("download failed", "url", url, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("download unsuccessful", "url", url, "status", resp.StatusCode)
		return ""
	}

	fh, err := os.Create(dest)
	if err != nil {
		slog.Warn("failed to open file for writing", "path", dest, "error", err)
		return ""
	}

	hasher := sha1.New()
	_, err = io.Copy(io.MultiWriter(fh, hasher), resp.Body)
	close_err := fh.Close()
	if err != nil || close_err != nil {
		slog.Debug("download interrupted", "url", url, "error", err, "close-error", close_err)
		os.Remove(dest)
		return ""
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// logs the remaining GitHub API quota.
func (h *Http) log_github_api_usage(ctx context.Context) {
	resp, err := h.download(ctx, h.GithubAPI+"/rate_limit")
	if err != nil || !resp.Ok() {
		slog.Warn("failed to fetch GitHub API rate limit")
		return
	}
	core := gjson.GetBytes(resp.Bytes, "resources.core")
	slog.Info("GitHub API",
		"limit", core.Get("limit").Int(),
		"remaining", core.Get("remaining").Int(),
		"used", core.Get("used").Int(),
		"reset", time.Unix(core.Get("reset").Int(), 0).UTC().Format(time.RFC3339))
}

// ---

// creates a key that is unique to the given `http.Request` URL (including query parameters),
// hashed to a SHA-1 string.
func make_cache_key(r *http.Request) string {
	// inconsistent case and url params etc will cause cache misses
	return sha1_hex([]byte(r.URL.String()))
}

// ResponseCache is a RoundTripper that remembers successful GET responses for the lifetime
// of the process, so repeated GitHub directory listings cost a single request.
// responses are stored as `httputil.DumpResponse` bytes and replayed with `http.ReadResponse`.
type ResponseCache struct {
	Transport http.RoundTripper
	Match     func(*url.URL) bool
	entries   *lru.Cache[string, []byte]
}

func NewResponseCache(transport http.RoundTripper, size int, match func(*url.URL) bool) *ResponseCache {
	if transport == nil {
		transport = http.DefaultTransport
	}
	entries, err := lru.New[string, []byte](size)
	ensure(err == nil, "response cache size must be positive")
	return &ResponseCache{Transport: transport, Match: match, entries: entries}
}

func read_cache_entry(dumped []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(dumped)), req)
}

func (x *ResponseCache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || (x.Match != nil && !x.Match(req.URL)) {
		return x.Transport.RoundTrip(req)
	}

	cache_key := make_cache_key(req)
	dumped, present := x.entries.Get(cache_key)
	if present {
		slog.Debug("cache HIT", "url", req.URL)
		return read_cache_entry(dumped, req)
	}
	slog.Debug("cache MISS", "url", req.URL)

	resp, err := x.Transport.RoundTrip(req)
	if err != nil {
		// do not cache error response, pass through
		return resp, err
	}

	if resp.StatusCode != 200 {
		// non-200 response, pass through
		slog.Debug("non-200 response, pass through", "code", resp.StatusCode)
		return resp, nil
	}

	dumped, err = httputil.DumpResponse(resp, true)
	if err != nil {
		slog.Warn("failed to dump response to bytes", "error", err)
		return resp, nil
	}
	x.entries.Add(cache_key, dumped)

	// DumpResponse has already replaced the body with an in-memory copy
	return resp, nil
}
