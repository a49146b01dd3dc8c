package checksum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/starkops/scarb-sync/internal/config"
	"go.uber.org/zap"
)

// ErrUnavailable reports that a release has no fetchable checksum
// manifest: asset missing, non-success status, or a transport failure on
// the download. It is distinct from a manifest that fetches fine but
// contains no usable lines, which yields an empty Manifest and a nil
// error.
var ErrUnavailable = errors.New("checksum manifest unavailable")

// Resolver downloads and parses the checksum manifest of a release from
// its well-known asset URL.
type Resolver struct {
	httpClient *http.Client
	base       string
	owner      string
	repo       string
	asset      string
	logger     *zap.Logger
}

// NewResolver creates a new manifest resolver. Downloads are anonymous
// regardless of the API auth settings.
func NewResolver(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) *Resolver {
	return &Resolver{
		httpClient: httpClient,
		base:       strings.TrimRight(cfg.GitHub.DownloadBase, "/"),
		owner:      cfg.GitHub.Owner,
		repo:       cfg.GitHub.Repo,
		asset:      cfg.Checksums.Asset,
		logger:     logger,
	}
}

// ManifestURL returns the download URL of the manifest asset for tag.
func (r *Resolver) ManifestURL(tag string) string {
	return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s",
		r.base, r.owner, r.repo, tag, r.asset)
}

// Resolve fetches and parses the manifest for the given release tag. A
// canceled run surfaces the context error, never ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, tag string) (Manifest, error) {
	url := r.ManifestURL(tag)
	r.logger.Info("fetching checksums", zap.String("tag", tag), zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%s", ErrUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	manifest, stats := Parse(string(body))
	r.logger.Info("parsed checksums", zap.String("tag", tag), zap.Int("platforms", stats.Matched))
	if stats.Malformed > 0 || stats.Unmatched > 0 {
		r.logger.Debug("skipped manifest lines",
			zap.String("tag", tag),
			zap.Int("malformed", stats.Malformed),
			zap.Int("unmatched", stats.Unmatched),
			zap.Int("blank", stats.Blank),
		)
	}
	return manifest, nil
}
