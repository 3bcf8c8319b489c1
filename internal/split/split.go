// Package split divides a raw book document into its header and body and
// pulls a handful of metadata fields out of the header.
//
// The archive this system ingests from wraps every book's body between two
// literal marker lines: "*** START OF ..." and "*** END OF ...". Everything
// before the start marker is front matter (title, author, license text);
// everything from the start marker to the end marker is the text we index.
package split

import (
	"bytes"
	"regexp"
	"strings"
)

var (
	startMarker = regexp.MustCompile(`(?i)\*\*\*\s*START OF`)
	endMarker   = regexp.MustCompile(`(?i)\*\*\*\s*END OF`)
)

// Split returns header and body per the marker rule. If no start marker is
// present, header is empty and the entire document is treated as body.
func Split(raw []byte) (header, body []byte) {
	lines := bytes.Split(raw, []byte("\n"))

	startLine := -1
	endLine := -1
	for i, line := range lines {
		if startLine == -1 && startMarker.Match(line) {
			startLine = i
			continue
		}
		if startLine != -1 && endLine == -1 && endMarker.Match(line) {
			endLine = i
			break
		}
	}

	if startLine == -1 {
		return nil, raw
	}

	header = bytes.Join(lines[:startLine], []byte("\n"))
	if endLine == -1 {
		body = bytes.Join(lines[startLine:], []byte("\n"))
	} else {
		body = bytes.Join(lines[startLine:endLine], []byte("\n"))
	}
	return header, body
}

// Metadata holds the fields extracted from a book's header. Missing or
// empty fields are nil.
type Metadata struct {
	Title       *string
	Author      *string
	ReleaseDate *string
	Language    *string
}

var (
	titleRe   = regexp.MustCompile(`(?im)^\s*Title:\s*(.+)$`)
	authorRe  = regexp.MustCompile(`(?im)^\s*Author:\s*(.+)$`)
	releaseRe = regexp.MustCompile(`(?im)^\s*Release Date:\s*(.+)$`)
	langRe    = regexp.MustCompile(`(?im)^\s*Language:\s*(.+)$`)
	ebookTag  = regexp.MustCompile(`\s*\[eBook\s*#\d+\]\s*$`)
)

// ExtractMetadata pulls Title/Author/Release Date/Language out of header
// using line-anchored, case-insensitive matches. Release Date has any
// trailing "[eBook #NNN]" tag stripped.
func ExtractMetadata(header []byte) Metadata {
	var m Metadata
	m.Title = firstMatch(titleRe, header)
	m.Author = firstMatch(authorRe, header)
	m.Language = firstMatch(langRe, header)

	if release := firstMatch(releaseRe, header); release != nil {
		cleaned := ebookTag.ReplaceAllString(*release, "")
		cleaned = strings.TrimSpace(cleaned)
		if cleaned != "" {
			m.ReleaseDate = &cleaned
		}
	}
	return m
}

func firstMatch(re *regexp.Regexp, header []byte) *string {
	match := re.FindSubmatch(header)
	if match == nil {
		return nil
	}
	val := strings.TrimSpace(string(match[1]))
	if val == "" {
		return nil
	}
	return &val
}
