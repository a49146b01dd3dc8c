// Package github lists the releases of a single repository through the
// hosting service's REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/starkops/scarb-sync/internal/config"
	"go.uber.org/zap"
)

// Release is one entry of the repository's release listing. Timestamps are
// kept as the raw strings the API reports; the merge step compares them
// for exact equality and persists them unchanged.
type Release struct {
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Draft       bool    `json:"draft"`
	Prerelease  bool    `json:"prerelease"`
	PublishedAt string  `json:"published_at"`
	Body        string  `json:"body"`
	Assets      []Asset `json:"assets"`
}

// Asset is a downloadable artifact attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	DownloadCount      int64  `json:"download_count"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// Client fetches release listings for the configured repository.
type Client struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
	perPage    int
	token      string
	logger     *zap.Logger
}

// NewClient creates a new API client. The token, if any, is attached only
// to listing requests issued by this client.
func NewClient(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) *Client {
	token := cfg.GitHub.Token()
	if cfg.GitHub.Auth && token == "" {
		logger.Warn("api auth enabled but the token environment variable is empty",
			zap.String("env", cfg.GitHub.TokenEnv))
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.GitHub.APIBaseURL, "/"),
		owner:      cfg.GitHub.Owner,
		repo:       cfg.GitHub.Repo,
		perPage:    cfg.GitHub.PerPage,
		token:      token,
		logger:     logger,
	}
}

// ListReleases returns every release of the repository, drafts and
// prereleases included, in the order the API reports them. Link headers
// are followed until the listing is exhausted.
func (c *Client) ListReleases(ctx context.Context) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases", c.baseURL, c.owner, c.repo)
	if c.perPage > 0 {
		url = fmt.Sprintf("%s?per_page=%d", url, c.perPage)
	}
	c.logger.Info("fetching releases", zap.String("url", url))

	var releases []Release
	for url != "" {
		page, next, err := c.listPage(ctx, url)
		if err != nil {
			return nil, err
		}
		releases = append(releases, page...)
		url = next
	}

	c.logger.Info("found releases", zap.Int("count", len(releases)))
	return releases, nil
}

// listPage fetches a single page of the listing and returns the URL of the
// next page, or "" on the last one.
func (c *Client) listPage(ctx context.Context, url string) ([]Release, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, "", fmt.Errorf("failed to fetch releases: status=%s body=%s",
			resp.Status, strings.TrimSpace(string(body)))
	}

	var page []Release
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("failed to decode release listing: %w", err)
	}

	return page, nextLink(resp.Header.Values("Link")), nil
}

// nextLink extracts the rel="next" target from Link headers, "" when the
// current page is the last one.
func nextLink(headers []string) string {
	for _, header := range headers {
		for _, link := range strings.Split(header, ",") {
			var target, rel string
			for _, part := range strings.Split(link, ";") {
				part = strings.TrimSpace(part)
				switch {
				case strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">"):
					target = strings.Trim(part, "<>")
				case strings.HasPrefix(strings.ToLower(part), "rel="):
					rel = strings.Trim(part[len("rel="):], `"`)
				}
			}
			if strings.EqualFold(rel, "next") && target != "" {
				return target
			}
		}
	}
	return ""
}
