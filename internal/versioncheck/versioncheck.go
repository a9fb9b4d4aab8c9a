// Package versioncheck compares the running version with the latest
// published release.
package versioncheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Defaults for the release feed.
const (
	DefaultURL         = "https://raw.githubusercontent.com/kaivalagi/EDMC-Missions/main/version"
	DefaultDownloadURL = "https://github.com/kaivalagi/EDMC-Missions/releases"
	DefaultTimeout     = 10 * time.Second

	unknownVersion = "?"
	maxBody        = 1 << 10
)

// Status is the outcome of a version comparison.
type Status string

const (
	StatusLatest   Status = "Latest"
	StatusOutdated Status = "Outdated"
	StatusUnknown  Status = "Unknown"
)

// Info is delivered to the check callback.
type Info struct {
	Current     string `json:"current"`
	Latest      string `json:"latest"`
	Status      Status `json:"status"`
	DownloadURL string `json:"download_url"`
	LatestURL   string `json:"latest_url,omitempty"`
}

// Config configures a Checker.
type Config struct {
	// Current is the running version.
	Current string

	// URL serves the latest version as plain text.
	URL string

	// DownloadURL is the release page. Tagged releases live below it.
	DownloadURL string

	// Timeout bounds the whole request.
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// Checker fetches the latest version.
type Checker struct {
	current     string
	url         string
	downloadURL string
	client      *http.Client
	logger      *slog.Logger
}

// New returns a Checker with defaults filled in.
func New(cfg Config) *Checker {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.DownloadURL == "" {
		cfg.DownloadURL = DefaultDownloadURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checker{
		current:     strings.TrimSpace(cfg.Current),
		url:         cfg.URL,
		downloadURL: strings.TrimRight(cfg.DownloadURL, "/"),
		client:      cfg.Client,
		logger:      cfg.Logger.With("component", "versioncheck"),
	}
}

// Check fetches the latest version and compares it with the current one.
// Failures are reported as StatusUnknown, never as an error.
func (c *Checker) Check(ctx context.Context) Info {
	info := Info{
		Current:     c.current,
		Latest:      unknownVersion,
		Status:      StatusUnknown,
		DownloadURL: c.downloadURL,
	}
	if info.Current == "" {
		info.Current = unknownVersion
	}

	latest, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("version check failed", "url", c.url, "error", err)
		return info
	}
	info.Latest = latest
	info.LatestURL = c.downloadURL + "/tag/" + latest

	status, err := Compare(c.current, latest)
	if err != nil {
		c.logger.Warn("version check compare failed", "current", c.current, "latest", latest, "error", err)
		return info
	}
	info.Status = status
	c.logger.Info("version check complete", "current", c.current, "latest", latest, "status", status)
	return info
}

// Start runs Check on its own goroutine and calls fn exactly once with the
// result. It does not block.
func (c *Checker) Start(ctx context.Context, fn func(Info)) {
	go func() {
		fn(c.Check(ctx))
	}()
}

func (c *Checker) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	v := strings.TrimSpace(string(body))
	if v == "" {
		return "", errors.New("empty version")
	}
	return v, nil
}

// Compare reports whether latest is newer than current. Versions are dotted
// integers; the shorter one is padded with zeros.
func Compare(current, latest string) (Status, error) {
	cur, err := parseVersion(current)
	if err != nil {
		return StatusUnknown, fmt.Errorf("current version: %w", err)
	}
	lat, err := parseVersion(latest)
	if err != nil {
		return StatusUnknown, fmt.Errorf("latest version: %w", err)
	}

	for len(cur) < len(lat) {
		cur = append(cur, 0)
	}
	for len(lat) < len(cur) {
		lat = append(lat, 0)
	}
	for i := range cur {
		if lat[i] > cur[i] {
			return StatusOutdated, nil
		}
		if lat[i] < cur[i] {
			break
		}
	}
	return StatusLatest, nil
}

func parseVersion(v string) ([]int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil, errors.New("empty version")
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid component %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
