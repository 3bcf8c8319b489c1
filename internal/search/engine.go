// Package search is the query engine: tokenize, fetch postings once
// per term, combine by boolean mode, score by TF·IDF, rank, and decorate
// with external metadata.
package search

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"bookcluster/internal/index"
	"bookcluster/internal/metadata"
)

// Mode selects how a query's terms combine.
type Mode string

const (
	ModeAND Mode = "AND"
	ModeOR  Mode = "OR"
)

// PostingSource fetches postings and index-wide stats. Satisfied by
// *index.Cluster.
type PostingSource interface {
	GetAll(ctx context.Context, terms []string) (map[string][]index.Posting, error)
	Stats() index.Stats
}

// Hit is one ranked search result before metadata decoration.
type Hit struct {
	BookID int64
	Score  float64
}

// Result is one ranked, decorated search result.
type Result struct {
	BookID   int64
	Score    float64
	Title    string
	Author   string
	Language string
	Year     int
}

// Filters narrows decorated results post-ranking. Zero-value fields
// (empty string, 0) are not applied.
type Filters struct {
	Author   string // case-insensitive substring
	Language string // exact or ISO-639 prefix match
	Year     int    // exact equality
}

// Engine ties a PostingSource and a metadata.Store together behind Search.
type Engine struct {
	postings PostingSource
	meta     metadata.Store
}

// NewEngine creates a search Engine.
func NewEngine(postings PostingSource, meta metadata.Store) *Engine {
	return &Engine{postings: postings, meta: meta}
}

// Search tokenizes rawQuery, fetches each term's postings once, combines
// candidates per mode, ranks by TF·IDF, then decorates and filters the top
// hits. Filtering happens after the limit is applied, so a filtered query
// may return fewer than limit results.
func (e *Engine) Search(ctx context.Context, rawQuery string, mode Mode, limit int, filters Filters) ([]Result, error) {
	terms := Tokenize(rawQuery)
	if len(terms) == 0 {
		return nil, nil
	}

	postings, err := e.postings.GetAll(ctx, terms)
	if err != nil {
		return nil, err
	}

	n := e.postings.Stats().TotalDocuments
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		df := len(postings[t])
		idf[t] = math.Log(float64(n+1)/float64(df+1)) + 1
	}

	candidates := candidateSet(terms, postings, mode)

	scores := make(map[int64]float64, len(candidates))
	for d := range candidates {
		var score float64
		for _, t := range terms {
			tf := termFrequency(postings[t], d)
			if tf == 0 {
				continue
			}
			score += (1 + math.Log(float64(tf))) * idf[t]
		}
		scores[d] = score
	}

	hits := make([]Hit, 0, len(scores))
	for d, s := range scores {
		hits = append(hits, Hit{BookID: d, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].BookID < hits[j].BookID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, _ := e.meta.Get(h.BookID)
		if !passesFilters(rec, filters) {
			continue
		}
		results = append(results, Result{
			BookID:   h.BookID,
			Score:    h.Score,
			Title:    rec.Title,
			Author:   rec.Author,
			Language: rec.Language,
			Year:     rec.Year,
		})
	}
	return results, nil
}

// candidateSet computes the bookId set combined per mode. AND intersects
// with an early exit once the running intersection is empty; OR unions.
func candidateSet(terms []string, postings map[string][]index.Posting, mode Mode) map[int64]struct{} {
	if mode == ModeOR {
		out := make(map[int64]struct{})
		for _, t := range terms {
			for _, p := range postings[t] {
				out[p.BookID] = struct{}{}
			}
		}
		return out
	}

	var running map[int64]struct{}
	for i, t := range terms {
		termSet := make(map[int64]struct{}, len(postings[t]))
		for _, p := range postings[t] {
			termSet[p.BookID] = struct{}{}
		}
		if i == 0 {
			running = termSet
			continue
		}
		next := make(map[int64]struct{})
		for id := range running {
			if _, ok := termSet[id]; ok {
				next[id] = struct{}{}
			}
		}
		running = next
		if len(running) == 0 {
			break
		}
	}
	if running == nil {
		return map[int64]struct{}{}
	}
	return running
}

func termFrequency(postings []index.Posting, bookID int64) int {
	for _, p := range postings {
		if p.BookID == bookID {
			return p.TermFrequency()
		}
	}
	return 0
}

func passesFilters(rec metadata.Record, f Filters) bool {
	if f.Author != "" && !strings.Contains(strings.ToLower(rec.Author), strings.ToLower(f.Author)) {
		return false
	}
	if f.Language != "" {
		want := strings.ToLower(f.Language)
		got := strings.ToLower(rec.Language)
		if got != want && !strings.HasPrefix(got, want) {
			return false
		}
	}
	if f.Year != 0 && rec.Year != f.Year {
		return false
	}
	return true
}

// ParseMode parses a mode string from an HTTP query parameter, defaulting
// to OR for anything other than a case-insensitive "AND".
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "AND") {
		return ModeAND
	}
	return ModeOR
}

// ParseYear parses a year filter, returning 0 (meaning "no filter") for an
// empty or unparseable string.
func ParseYear(s string) int {
	if s == "" {
		return 0
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return y
}
