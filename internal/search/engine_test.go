package search

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"bookcluster/internal/index"
	"bookcluster/internal/metadata"
)

// fakeSource serves a fixed posting map, standing in for *index.Cluster.
type fakeSource struct {
	postings map[string][]index.Posting
	docs     int
}

func (f *fakeSource) GetAll(_ context.Context, terms []string) (map[string][]index.Posting, error) {
	out := make(map[string][]index.Posting)
	for _, t := range terms {
		if p, ok := f.postings[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *fakeSource) Stats() index.Stats {
	return index.Stats{TotalDocuments: f.docs}
}

func TestSearchSingleBookScore(t *testing.T) {
	// One book whose body is "Hello world hello": tf(hello)=2, N=1, so
	// idf = ln(2/2)+1 = 1 and score = 1+ln 2.
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"hello": {{BookID: 1, Positions: []int{0, 2}}},
			"world": {{BookID: 1, Positions: []int{1}}},
		},
		docs: 1,
	}
	e := NewEngine(src, metadata.NewMemoryStore())

	results, err := e.Search(context.Background(), "hello", ModeAND, 10, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].BookID)
	require.InDelta(t, 1+math.Log(2), results[0].Score, 1e-9)
}

func TestSearchBooleanModes(t *testing.T) {
	// Book 1 = "cat dog", book 2 = "cat".
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"cat": {{BookID: 1, Positions: []int{0}}, {BookID: 2, Positions: []int{0}}},
			"dog": {{BookID: 1, Positions: []int{1}}},
		},
		docs: 2,
	}
	e := NewEngine(src, metadata.NewMemoryStore())
	ctx := context.Background()

	and, err := e.Search(ctx, "cat dog", ModeAND, 10, Filters{})
	require.NoError(t, err)
	require.Len(t, and, 1)
	require.Equal(t, int64(1), and[0].BookID)

	or, err := e.Search(ctx, "cat dog", ModeOR, 10, Filters{})
	require.NoError(t, err)
	require.Len(t, or, 2)
	require.Equal(t, int64(1), or[0].BookID, "book matching both terms ranks first")
	require.Equal(t, int64(2), or[1].BookID)
	require.GreaterOrEqual(t, or[0].Score, or[1].Score)
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	e := NewEngine(&fakeSource{docs: 5}, metadata.NewMemoryStore())

	for _, q := range []string{"", "   ", "!!! ???"} {
		results, err := e.Search(context.Background(), q, ModeOR, 10, Filters{})
		require.NoError(t, err)
		require.Empty(t, results)
	}
}

func TestSearchANDWithUnknownTermIsEmpty(t *testing.T) {
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"cat": {{BookID: 1, Positions: []int{0}}},
		},
		docs: 1,
	}
	e := NewEngine(src, metadata.NewMemoryStore())

	results, err := e.Search(context.Background(), "cat ghost", ModeAND, 10, Filters{})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchTieBreaksByAscendingBookID(t *testing.T) {
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"cat": {
				{BookID: 9, Positions: []int{0}},
				{BookID: 3, Positions: []int{0}},
			},
		},
		docs: 2,
	}
	e := NewEngine(src, metadata.NewMemoryStore())

	results, err := e.Search(context.Background(), "cat", ModeOR, 10, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, int64(3), results[0].BookID)
	require.Equal(t, int64(9), results[1].BookID)
}

func TestSearchLimitTruncatesBeforeFiltering(t *testing.T) {
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"cat": {
				{BookID: 1, Positions: []int{0}},
				{BookID: 2, Positions: []int{0}},
				{BookID: 3, Positions: []int{0}},
			},
		},
		docs: 3,
	}
	e := NewEngine(src, metadata.NewMemoryStore(
		metadata.Record{BookID: 3, Author: "Herman Melville"},
	))

	results, err := e.Search(context.Background(), "cat", ModeOR, 2, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Book 3 is the only one the filter keeps, but ties rank it third, outside
	// the top 2 — so the filtered query comes back empty.
	filtered, err := e.Search(context.Background(), "cat", ModeOR, 2, Filters{Author: "melville"})
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestSearchMetadataFilters(t *testing.T) {
	src := &fakeSource{
		postings: map[string][]index.Posting{
			"whale": {
				{BookID: 1, Positions: []int{0}},
				{BookID: 2, Positions: []int{0}},
			},
		},
		docs: 2,
	}
	meta := metadata.NewMemoryStore(
		metadata.Record{BookID: 1, Title: "Moby Dick", Author: "Herman Melville", Language: "en", Year: 1851},
		metadata.Record{BookID: 2, Title: "Ballenas", Author: "Anónimo", Language: "es", Year: 1900},
	)
	e := NewEngine(src, meta)
	ctx := context.Background()

	byAuthor, err := e.Search(ctx, "whale", ModeOR, 10, Filters{Author: "melville"})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	require.Equal(t, "Moby Dick", byAuthor[0].Title)

	byLanguage, err := e.Search(ctx, "whale", ModeOR, 10, Filters{Language: "es"})
	require.NoError(t, err)
	require.Len(t, byLanguage, 1)
	require.Equal(t, int64(2), byLanguage[0].BookID)

	byYear, err := e.Search(ctx, "whale", ModeOR, 10, Filters{Year: 1851})
	require.NoError(t, err)
	require.Len(t, byYear, 1)
	require.Equal(t, int64(1), byYear[0].BookID)
}

func TestTokenizeSplitsOnNonWordRuns(t *testing.T) {
	require.Equal(t, []string{"white", "whale", "s", "tale"}, Tokenize("White whale's  TALE!"))
	require.Empty(t, Tokenize("¡¿!?"))
}
