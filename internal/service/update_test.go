package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/starkops/scarb-sync/internal/checksum"
	"github.com/starkops/scarb-sync/internal/github"
	"github.com/starkops/scarb-sync/internal/model"
	"github.com/starkops/scarb-sync/internal/store"
	"go.uber.org/zap"
)

type fakeLister struct {
	releases []github.Release
	err      error
}

func (f *fakeLister) ListReleases(ctx context.Context) ([]github.Release, error) {
	return f.releases, f.err
}

type fakeResolver struct {
	manifests   map[string]checksum.Manifest
	unavailable map[string]bool
	calls       []string
}

func (f *fakeResolver) Resolve(ctx context.Context, tag string) (checksum.Manifest, error) {
	f.calls = append(f.calls, tag)
	if f.unavailable[tag] {
		return nil, checksum.ErrUnavailable
	}
	m, ok := f.manifests[tag]
	if !ok {
		return nil, checksum.ErrUnavailable
	}
	return m, nil
}

func newTestStore(t *testing.T) *store.FileStore {
	path := filepath.Join(t.TempDir(), "versions", "versions.json")
	return store.NewFileStore(path, zap.NewNop())
}

func strptr(s string) *string { return &s }

func TestRunBuildsRecords(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{
				TagName:     "v1.0.0",
				PublishedAt: "2023-06-01T00:00:00Z",
				Body:        "Highlights\n<!-- internal note -->\nMore  \n",
				Assets: []github.Asset{
					{
						Name:               "scarb-v1.0.0-x86_64-unknown-linux-gnu.tar.gz",
						BrowserDownloadURL: "https://example.com/linux.tar.gz",
						Size:               100,
						DownloadCount:      1,
						CreatedAt:          "2023-06-01T00:00:00Z",
						UpdatedAt:          "2023-06-01T00:10:00Z",
					},
					{
						Name:               "scarb-v1.0.0-aarch64-apple-darwin.tar.gz",
						BrowserDownloadURL: "https://example.com/mac.tar.gz",
						Size:               200,
						DownloadCount:      2,
						CreatedAt:          "2023-06-01T00:00:00Z",
						UpdatedAt:          "2023-06-01T00:10:00Z",
					},
					{
						Name:               "checksums.sha256",
						BrowserDownloadURL: "https://example.com/checksums.sha256",
						Size:               300,
						DownloadCount:      3,
						CreatedAt:          "2023-06-01T00:00:00Z",
						UpdatedAt:          "2023-06-01T00:10:00Z",
					},
				},
			},
		},
	}
	resolver := &fakeResolver{
		manifests: map[string]checksum.Manifest{
			"v1.0.0": {
				"x86_64-unknown-linux-gnu": "aaa111",
				"aarch64-apple-darwin":     "bbb222",
			},
		},
	}
	st := newTestStore(t)

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	wantSummary := Summary{Processed: 1, New: 1, Skipped: 0}
	if d := cmp.Diff(wantSummary, summary); d != "" {
		t.Errorf("Run() summary mismatch (-want/+got): %v", d)
	}

	want := model.VersionsFile{
		"1.0.0": {
			Hashes: map[string]string{
				"x86_64-unknown-linux-gnu": "aaa111",
				"aarch64-apple-darwin":     "bbb222",
			},
			Metadata: model.Metadata{
				Assets: map[string]model.AssetInfo{
					"scarb-v1.0.0-x86_64-unknown-linux-gnu.tar.gz": {
						CreatedAt:     "2023-06-01T00:00:00Z",
						DownloadCount: 1,
						Size:          100,
						UpdatedAt:     "2023-06-01T00:10:00Z",
						URL:           "https://example.com/linux.tar.gz",
					},
					"scarb-v1.0.0-aarch64-apple-darwin.tar.gz": {
						CreatedAt:     "2023-06-01T00:00:00Z",
						DownloadCount: 2,
						Size:          200,
						UpdatedAt:     "2023-06-01T00:10:00Z",
						URL:           "https://example.com/mac.tar.gz",
					},
					"checksums.sha256": {
						CreatedAt:     "2023-06-01T00:00:00Z",
						DownloadCount: 3,
						Size:          300,
						UpdatedAt:     "2023-06-01T00:10:00Z",
						URL:           "https://example.com/checksums.sha256",
					},
				},
				Changelog:     strptr("Highlights\nMore"),
				DownloadCount: 6,
				ReleaseDate:   "2023-06-01T00:00:00Z",
			},
		},
	}
	if d := cmp.Diff(want, st.Load()); d != "" {
		t.Errorf("persisted versions mismatch (-want/+got): %v", d)
	}
}

func TestRunSkipsDrafts(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{TagName: "v1.1.0", Draft: true},
			{TagName: "v1.0.0", PublishedAt: "2023-06-01T00:00:00Z"},
		},
	}
	resolver := &fakeResolver{
		manifests: map[string]checksum.Manifest{"v1.0.0": {}},
	}
	st := newTestStore(t)

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Skipped != 1 || summary.Processed != 1 {
		t.Errorf("summary = %+v, want 1 processed, 1 skipped", summary)
	}
	got := st.Load()
	if _, ok := got["1.1.0"]; ok {
		t.Error("draft version was persisted")
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "v1.0.0" {
		t.Errorf("resolver calls = %v, want only v1.0.0", resolver.calls)
	}
}

func TestRunReusesUnchangedVersions(t *testing.T) {
	st := newTestStore(t)

	stored := model.VersionRecord{
		Hashes: map[string]string{"linux": "stored-digest"},
		Metadata: model.Metadata{
			Assets:        map[string]model.AssetInfo{},
			Changelog:     strptr("original notes"),
			DownloadCount: 42,
			ReleaseDate:   "2023-06-01T00:00:00Z",
		},
	}
	if err := st.Write(model.VersionsFile{"1.0.0": stored}); err != nil {
		t.Fatal(err)
	}

	// Same published_at but different body and counts upstream; the
	// stored record must be reused untouched, without a checksum fetch.
	lister := &fakeLister{
		releases: []github.Release{
			{
				TagName:     "v1.0.0",
				PublishedAt: "2023-06-01T00:00:00Z",
				Body:        "rewritten notes",
				Assets: []github.Asset{
					{Name: "a", DownloadCount: 9000},
				},
			},
		},
	}
	resolver := &fakeResolver{}

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(resolver.calls) != 0 {
		t.Errorf("resolver was called for an unchanged version: %v", resolver.calls)
	}
	wantSummary := Summary{Processed: 1, New: 0, Skipped: 0}
	if d := cmp.Diff(wantSummary, summary); d != "" {
		t.Errorf("summary mismatch (-want/+got): %v", d)
	}
	if d := cmp.Diff(model.VersionsFile{"1.0.0": stored}, st.Load()); d != "" {
		t.Errorf("stored record changed (-want/+got): %v", d)
	}
}

func TestRunRebuildsOnDateChange(t *testing.T) {
	st := newTestStore(t)

	stored := model.VersionRecord{
		Hashes: map[string]string{"linux": "stored-digest"},
		Metadata: model.Metadata{
			Assets:      map[string]model.AssetInfo{},
			ReleaseDate: "2023-06-01T00:00:00Z",
		},
	}
	if err := st.Write(model.VersionsFile{"1.0.0": stored}); err != nil {
		t.Fatal(err)
	}

	lister := &fakeLister{
		releases: []github.Release{
			{TagName: "v1.0.0", PublishedAt: "2023-07-15T00:00:00Z"},
		},
	}
	resolver := &fakeResolver{
		manifests: map[string]checksum.Manifest{
			"v1.0.0": {"linux": "fresh-digest"},
		},
	}

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	if _, err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(resolver.calls) != 1 {
		t.Errorf("resolver calls = %v, want one rebuild fetch", resolver.calls)
	}
	got := st.Load()["1.0.0"]
	if got.Hashes["linux"] != "fresh-digest" {
		t.Errorf("hashes = %v, want the freshly fetched digest", got.Hashes)
	}
	if got.Metadata.ReleaseDate != "2023-07-15T00:00:00Z" {
		t.Errorf("releaseDate = %q, want the new date", got.Metadata.ReleaseDate)
	}
}

func TestRunSkipsUnavailableChecksums(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{TagName: "v1.1.0", PublishedAt: "2023-08-01T00:00:00Z"},
			{TagName: "v1.0.0", PublishedAt: "2023-06-01T00:00:00Z"},
		},
	}
	resolver := &fakeResolver{
		manifests:   map[string]checksum.Manifest{"v1.0.0": {"linux": "aaa"}},
		unavailable: map[string]bool{"v1.1.0": true},
	}
	st := newTestStore(t)

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	wantSummary := Summary{Processed: 1, New: 1, Skipped: 1}
	if d := cmp.Diff(wantSummary, summary); d != "" {
		t.Errorf("summary mismatch (-want/+got): %v", d)
	}
	got := st.Load()
	if _, ok := got["1.1.0"]; ok {
		t.Error("version without checksums was persisted")
	}
	if _, ok := got["1.0.0"]; !ok {
		t.Error("healthy version is missing")
	}
}

func TestRunPersistsEmptyManifest(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{TagName: "v0.9.0", PublishedAt: "2023-05-01T00:00:00Z"},
		},
	}
	resolver := &fakeResolver{
		manifests: map[string]checksum.Manifest{"v0.9.0": {}},
	}
	st := newTestStore(t)

	u := NewUpdater(lister, resolver, st, zap.NewNop())
	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Skipped != 0 {
		t.Errorf("summary = %+v, want no skips", summary)
	}
	got, ok := st.Load()["0.9.0"]
	if !ok {
		t.Fatal("version with empty manifest was not persisted")
	}
	if got.Hashes == nil || len(got.Hashes) != 0 {
		t.Errorf("hashes = %v, want empty map", got.Hashes)
	}
}

func TestRunAbortsOnListError(t *testing.T) {
	st := newTestStore(t)
	prior := model.VersionsFile{
		"1.0.0": {
			Hashes:   map[string]string{"linux": "aaa"},
			Metadata: model.Metadata{Assets: map[string]model.AssetInfo{}, ReleaseDate: "2023-06-01T00:00:00Z"},
		},
	}
	if err := st.Write(prior); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatal(err)
	}

	lister := &fakeLister{err: errors.New("connection refused")}
	u := NewUpdater(lister, &fakeResolver{}, st, zap.NewNop())

	if _, err := u.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded despite a listing failure")
	}

	after, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("versions file was modified by an aborted run")
	}
}

func TestRunAbortsWhenCanceled(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{TagName: "v1.0.0", PublishedAt: "2023-06-01T00:00:00Z"},
		},
	}
	st := newTestStore(t)
	u := NewUpdater(lister, &fakeResolver{}, st, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := u.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(st.Path()); !os.IsNotExist(err) {
		t.Error("canceled run left a versions file behind")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	lister := &fakeLister{
		releases: []github.Release{
			{
				TagName:     "v1.0.0",
				PublishedAt: "2023-06-01T00:00:00Z",
				Body:        "Notes",
				Assets:      []github.Asset{{Name: "a", Size: 1, DownloadCount: 2}},
			},
			{TagName: "v0.9.0", PublishedAt: "2023-05-01T00:00:00Z"},
		},
	}
	resolver := &fakeResolver{
		manifests: map[string]checksum.Manifest{
			"v1.0.0": {"linux": "aaa"},
			"v0.9.0": {},
		},
	}
	st := newTestStore(t)
	u := NewUpdater(lister, resolver, st, zap.NewNop())

	if _, err := u.Run(context.Background()); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	first, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatal(err)
	}

	summary, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	second, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("second run changed the file bytes")
	}
	if summary.New != 0 {
		t.Errorf("second run reported %d new versions, want 0", summary.New)
	}
	// The unchanged versions were reused, one resolver call per version
	// on the first run only.
	if len(resolver.calls) != 2 {
		t.Errorf("resolver calls = %v, want only the first run's two", resolver.calls)
	}
}

func TestCleanChangelog(t *testing.T) {
	tests := []struct {
		testName string // description of this test case
		body     string
		want     *string
	}{
		{
			testName: "comment line and trailing whitespace",
			body:     "before\n<!-- hidden -->\nafter  \n",
			want:     strptr("before\nafter"),
		},
		{
			testName: "inline comment keeps the line",
			body:     "fixes <!-- ref --> everywhere",
			want:     strptr("fixes  everywhere"),
		},
		{
			testName: "comment spanning lines",
			body:     "start\n<!-- one\ntwo -->\nend",
			want:     strptr("start\nend"),
		},
		{
			testName: "unterminated comment is left alone",
			body:     "notes <!-- dangling",
			want:     strptr("notes <!-- dangling"),
		},
		{
			testName: "paragraph breaks survive",
			body:     "para one\n\npara two\n",
			want:     strptr("para one\n\npara two"),
		},
		{
			testName: "empty body",
			body:     "",
			want:     nil,
		},
		{
			testName: "comments only",
			body:     "<!-- a -->\n<!-- b -->\n",
			want:     nil,
		},
		{
			testName: "surrounding blank lines dropped",
			body:     "\n\n  \ncontent\n\n",
			want:     strptr("content"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			got := CleanChangelog(tt.body)
			if d := cmp.Diff(tt.want, got); d != "" {
				t.Errorf("CleanChangelog() mismatch (-want/+got): %v", d)
			}
		})
	}
}

func TestLatestStable(t *testing.T) {
	versions := model.VersionsFile{
		"2.8.4":        {Metadata: model.Metadata{}},
		"2.10.0":       {Metadata: model.Metadata{}},
		"2.9.1":        {Metadata: model.Metadata{}},
		"3.0.0-alpha":  {Metadata: model.Metadata{Prerelease: true}},
		"not-a-semver": {Metadata: model.Metadata{}},
	}

	got, ok := latestStable(versions)
	if !ok {
		t.Fatal("latestStable() found nothing")
	}
	if got != "2.10.0" {
		t.Errorf("latestStable() = %q, want %q", got, "2.10.0")
	}

	if _, ok := latestStable(model.VersionsFile{}); ok {
		t.Error("latestStable() reported a version for an empty set")
	}
}
