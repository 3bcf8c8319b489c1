package split

import (
	"strings"
	"testing"
)

func TestSplitWithBothMarkers(t *testing.T) {
	raw := strings.Join([]string{
		"Title: Moby Dick",
		"Author: Herman Melville",
		"*** START OF THE PROJECT GUTENBERG EBOOK MOBY DICK ***",
		"Call me Ishmael.",
		"*** END OF THE PROJECT GUTENBERG EBOOK MOBY DICK ***",
		"Some license footer.",
	}, "\n")

	header, body := Split([]byte(raw))
	if !strings.Contains(string(header), "Author: Herman Melville") {
		t.Fatalf("header missing expected content: %q", header)
	}
	if strings.Contains(string(header), "START OF") {
		t.Fatalf("header should not contain the start marker: %q", header)
	}
	if !strings.Contains(string(body), "Call me Ishmael.") {
		t.Fatalf("body missing expected content: %q", body)
	}
	if strings.Contains(string(body), "END OF") {
		t.Fatalf("body should not contain the end marker: %q", body)
	}
	if strings.Contains(string(body), "license footer") {
		t.Fatalf("body leaked content after the end marker: %q", body)
	}
}

func TestSplitNoStartMarker(t *testing.T) {
	raw := "just plain text\nwith no markers at all"
	header, body := Split([]byte(raw))
	if len(header) != 0 {
		t.Fatalf("expected empty header, got %q", header)
	}
	if string(body) != raw {
		t.Fatalf("expected body to equal raw input, got %q", body)
	}
}

func TestSplitStartWithoutEnd(t *testing.T) {
	raw := "Title: X\n*** START OF BOOK ***\nbody text continues forever"
	header, body := Split([]byte(raw))
	if strings.Contains(string(header), "START OF") {
		t.Fatalf("header should not contain marker: %q", header)
	}
	if !strings.Contains(string(body), "body text continues forever") {
		t.Fatalf("body missing trailing content: %q", body)
	}
}

func TestExtractMetadata(t *testing.T) {
	header := []byte(strings.Join([]string{
		"Title: Moby Dick",
		"Author: Herman Melville",
		"Release Date: January 1, 2001 [eBook #2701]",
		"Language: English",
	}, "\n"))

	meta := ExtractMetadata(header)
	if meta.Title == nil || *meta.Title != "Moby Dick" {
		t.Fatalf("unexpected title: %v", meta.Title)
	}
	if meta.Author == nil || *meta.Author != "Herman Melville" {
		t.Fatalf("unexpected author: %v", meta.Author)
	}
	if meta.ReleaseDate == nil || *meta.ReleaseDate != "January 1, 2001" {
		t.Fatalf("unexpected release date: %v", meta.ReleaseDate)
	}
	if meta.Language == nil || *meta.Language != "English" {
		t.Fatalf("unexpected language: %v", meta.Language)
	}
}

func TestExtractMetadataMissingFieldsAreNil(t *testing.T) {
	meta := ExtractMetadata([]byte("Title: Only Title Here"))
	if meta.Author != nil {
		t.Fatalf("expected nil author, got %v", *meta.Author)
	}
	if meta.Language != nil {
		t.Fatalf("expected nil language, got %v", *meta.Language)
	}
}
