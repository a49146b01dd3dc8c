package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/starkops/scarb-sync/internal/checksum"
	"github.com/starkops/scarb-sync/internal/github"
	"github.com/starkops/scarb-sync/internal/model"
	"github.com/starkops/scarb-sync/internal/store"
	"go.uber.org/zap"
)

// ReleaseLister supplies the full release listing of the tracked
// repository.
type ReleaseLister interface {
	ListReleases(ctx context.Context) ([]github.Release, error)
}

// ChecksumResolver turns a release tag into its published checksum
// manifest.
type ChecksumResolver interface {
	Resolve(ctx context.Context, tag string) (checksum.Manifest, error)
}

// Updater synchronizes the persisted versions file with the repository's
// release history.
type Updater struct {
	releases  ReleaseLister
	checksums ChecksumResolver
	store     *store.FileStore
	logger    *zap.Logger
}

// NewUpdater creates a new Updater instance.
func NewUpdater(releases ReleaseLister, checksums ChecksumResolver, st *store.FileStore, logger *zap.Logger) *Updater {
	return &Updater{
		releases:  releases,
		checksums: checksums,
		store:     st,
		logger:    logger,
	}
}

// Summary reports what a run did. New is Processed minus the number of
// versions persisted before the run, so it can go negative when upstream
// history shrinks.
type Summary struct {
	Processed int
	New       int
	Skipped   int
}

// Run executes one full update pass: load the current versions, fetch the
// release listing, merge, and persist the result. Nothing is written when
// a fatal error aborts the run.
func (u *Updater) Run(ctx context.Context) (Summary, error) {
	current := u.store.Load()

	releases, err := u.releases.ListReleases(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch releases: %w", err)
	}

	next := make(model.VersionsFile, len(releases))
	var processed, skipped int

	for _, rel := range releases {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}

		version := strings.TrimPrefix(rel.TagName, "v")

		if rel.Draft {
			u.logger.Debug("skipping draft version", zap.String("version", version))
			skipped++
			continue
		}

		// Reuse the stored record verbatim when the release date is
		// unchanged; no checksum fetch happens on this path.
		if prev, ok := current[version]; ok {
			if prev.Metadata.ReleaseDate == rel.PublishedAt {
				u.logger.Debug("version already up to date", zap.String("version", version))
				next[version] = prev
				processed++
				continue
			}
			u.logger.Info("release date changed, rebuilding version",
				zap.String("version", version),
				zap.String("stored", prev.Metadata.ReleaseDate),
				zap.String("fetched", rel.PublishedAt))
		}

		u.logger.Info("processing version", zap.String("version", version))

		manifest, err := u.checksums.Resolve(ctx, rel.TagName)
		if err != nil {
			if errors.Is(err, checksum.ErrUnavailable) {
				u.logger.Warn("skipping version, checksums unavailable",
					zap.String("version", version), zap.Error(err))
				skipped++
				continue
			}
			return Summary{}, fmt.Errorf("failed to resolve checksums for %s: %w", rel.TagName, err)
		}

		next[version] = buildRecord(rel, manifest)
		processed++
	}

	if err := u.store.Write(next); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Processed: processed,
		New:       processed - len(current),
		Skipped:   skipped,
	}
	u.logger.Info("versions file updated",
		zap.Int("processed", summary.Processed),
		zap.Int("new", summary.New),
		zap.Int("skipped", summary.Skipped),
	)
	if latest, ok := latestStable(next); ok {
		u.logger.Info("latest stable version", zap.String("version", latest))
	}

	return summary, nil
}

// buildRecord assembles a fresh record from the fetched release and its
// parsed manifest. An empty manifest is persisted as-is; releases without
// published checksums never reach this point.
func buildRecord(rel github.Release, manifest checksum.Manifest) model.VersionRecord {
	assets := make(map[string]model.AssetInfo, len(rel.Assets))
	var downloads int64
	for _, a := range rel.Assets {
		assets[a.Name] = model.AssetInfo{
			CreatedAt:     a.CreatedAt,
			DownloadCount: a.DownloadCount,
			Size:          a.Size,
			UpdatedAt:     a.UpdatedAt,
			URL:           a.BrowserDownloadURL,
		}
		downloads += a.DownloadCount
	}

	return model.VersionRecord{
		Hashes: manifest,
		Metadata: model.Metadata{
			Assets:        assets,
			Changelog:     CleanChangelog(rel.Body),
			DownloadCount: downloads,
			Draft:         rel.Draft,
			Prerelease:    rel.Prerelease,
			ReleaseDate:   rel.PublishedAt,
		},
	}
}

// CleanChangelog normalizes a release body for persistence: HTML comments
// are removed, and with them any line a removal left blank, trailing
// whitespace is trimmed per line, and surrounding blank lines are
// dropped. An empty result is nil, the explicit "no changelog" value.
func CleanChangelog(body string) *string {
	body = stripHTMLComments(body)

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	cleaned := strings.TrimSpace(strings.Join(lines, "\n"))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// stripHTMLComments removes <!-- ... --> spans, across lines. A comment
// alone on its line takes the whole line with it; an unterminated opener
// is left untouched.
func stripHTMLComments(s string) string {
	for {
		open := strings.Index(s, "<!--")
		if open < 0 {
			return s
		}
		end := strings.Index(s[open+4:], "-->")
		if end < 0 {
			return s
		}

		before := s[:open]
		after := s[open+4+end+3:]

		lineStart := strings.LastIndexByte(before, '\n') + 1
		lineEnd := strings.IndexByte(after, '\n')
		onlyComment := strings.TrimSpace(before[lineStart:]) == "" &&
			(lineEnd < 0 || strings.TrimSpace(after[:lineEnd]) == "")
		if onlyComment {
			before = before[:lineStart]
			if lineEnd < 0 {
				after = ""
			} else {
				after = after[lineEnd+1:]
			}
		}
		s = before + after
	}
}

// latestStable returns the highest non-prerelease version key by semantic
// version order; ok is false when nothing qualifies.
func latestStable(versions model.VersionsFile) (string, bool) {
	var best *semver.Version
	for key, rec := range versions {
		if rec.Metadata.Prerelease {
			continue
		}
		v, err := semver.NewVersion(key)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return "", false
	}
	return best.Original(), true
}
