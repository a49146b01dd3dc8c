package model

// VersionRecord represents one published version in the versions file: the
// platform checksum table plus the metadata block describing the release.
type VersionRecord struct {
	Hashes   map[string]string `json:"hashes"`
	Metadata Metadata          `json:"metadata"`
}

// Metadata represents the release as reported by the hosting service when
// the record was built. Timestamps stay raw strings so a reused record
// round-trips byte for byte and date comparisons are exact.
//
// Fields are declared in JSON-name order; together with Go's sorted map
// encoding this keeps every level of the marshaled document key-sorted.
type Metadata struct {
	Assets        map[string]AssetInfo `json:"assets"`
	Changelog     *string              `json:"changelog"`
	DownloadCount int64                `json:"downloadCount"`
	Draft         bool                 `json:"draft"`
	Prerelease    bool                 `json:"prerelease"`
	ReleaseDate   string               `json:"releaseDate"`
}

// AssetInfo represents a single downloadable artifact attached to a release.
type AssetInfo struct {
	CreatedAt     string `json:"created_at"`
	DownloadCount int64  `json:"download_count"`
	Size          int64  `json:"size"`
	UpdatedAt     string `json:"updated_at"`
	URL           string `json:"url"`
}

// VersionsFile maps version strings, tag names with the leading "v"
// stripped, to their records. It is the unit read from and written to disk.
type VersionsFile map[string]VersionRecord
