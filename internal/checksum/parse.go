// Package checksum fetches and parses the checksum manifest published with
// each release.
package checksum

import "strings"

// Manifest maps platform identifiers to the hex digest published for that
// platform's artifact. Digests are kept exactly as published, case
// included.
type Manifest map[string]string

// LineKind classifies one line of a checksum manifest.
type LineKind int

const (
	// LineMatch is a well-formed line naming a scarb platform artifact.
	LineMatch LineKind = iota
	// LineBlank is an empty or whitespace-only line.
	LineBlank
	// LineMalformed has a token count other than two.
	LineMalformed
	// LineUnmatched is well-formed but names a file that is not a scarb
	// platform artifact: signatures, source archives, unrelated uploads.
	LineUnmatched
)

// Line is the parse result for a single manifest line. Platform and
// Checksum are populated only for LineMatch.
type Line struct {
	Kind     LineKind
	Platform string
	Checksum string
}

// Stats counts how Parse classified the manifest's lines.
type Stats struct {
	Matched   int
	Blank     int
	Malformed int
	Unmatched int
}

// ParseLine classifies a single manifest line of the form
// "<checksum> <filename>".
func ParseLine(line string) Line {
	if strings.TrimSpace(line) == "" {
		return Line{Kind: LineBlank}
	}

	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Line{Kind: LineMalformed}
	}

	platform, ok := MatchArtifact(fields[1])
	if !ok {
		return Line{Kind: LineUnmatched}
	}
	return Line{Kind: LineMatch, Platform: platform, Checksum: fields[0]}
}

// Parse reads a whole manifest. Lines that are blank, malformed or name
// non-artifact files are skipped; the returned Stats make every skip
// observable. A platform listed twice keeps the last digest seen.
func Parse(text string) (Manifest, Stats) {
	manifest := make(Manifest)
	var stats Stats

	for _, raw := range strings.Split(text, "\n") {
		line := ParseLine(raw)
		switch line.Kind {
		case LineMatch:
			manifest[line.Platform] = line.Checksum
			stats.Matched++
		case LineBlank:
			stats.Blank++
		case LineMalformed:
			stats.Malformed++
		case LineUnmatched:
			stats.Unmatched++
		}
	}
	return manifest, stats
}

const artifactPrefix = "scarb-v"

// MatchArtifact reports whether name refers to a platform artifact of the
// form scarb-v<version>-<platform>.tar.gz or .zip, and extracts the
// platform identifier. The version part is digits and dots, the platform
// part word characters and hyphens; the archive suffix only has to follow
// the platform, not end the name. Every occurrence of the prefix is tried,
// so a decorated name still matches when a later occurrence parses.
func MatchArtifact(name string) (string, bool) {
	for start := 0; ; {
		i := strings.Index(name[start:], artifactPrefix)
		if i < 0 {
			return "", false
		}
		if platform, ok := matchAfterPrefix(name[start+i+len(artifactPrefix):]); ok {
			return platform, true
		}
		start += i + 1
	}
}

// matchAfterPrefix parses "<version>-<platform>.tar.gz..." from the text
// following the scarb-v prefix.
func matchAfterPrefix(s string) (string, bool) {
	n := 0
	for n < len(s) && (isDigit(s[n]) || s[n] == '.') {
		n++
	}
	if n == 0 || n >= len(s) || s[n] != '-' {
		return "", false
	}
	s = s[n+1:]

	p := 0
	for p < len(s) && isPlatformChar(s[p]) {
		p++
	}
	if p == 0 {
		return "", false
	}

	tail := s[p:]
	if strings.HasPrefix(tail, ".tar.gz") || strings.HasPrefix(tail, ".zip") {
		return s[:p], true
	}
	return "", false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isPlatformChar covers word characters plus hyphen. Artifact names on the
// release page never leave ASCII.
func isPlatformChar(c byte) bool {
	return c == '-' || c == '_' || isDigit(c) ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
