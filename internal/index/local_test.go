package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutPostingCreatesAndReplacesEntry(t *testing.T) {
	l := NewLocal()
	l.PutPosting("whale", Posting{BookID: 1, Positions: []int{3, 10}})
	require.Equal(t, []Posting{{BookID: 1, Positions: []int{3, 10}}}, l.Get("whale"))

	l.PutPosting("whale", Posting{BookID: 1, Positions: []int{3, 10, 40}})
	require.Equal(t, []Posting{{BookID: 1, Positions: []int{3, 10, 40}}}, l.Get("whale"))
}

func TestPutPostingNilPositionsRemoves(t *testing.T) {
	l := NewLocal()
	l.PutPosting("whale", Posting{BookID: 1, Positions: []int{1}})
	l.PutPosting("whale", Posting{BookID: 1, Positions: nil})
	require.Nil(t, l.Get("whale"))
}

func TestGetAllOmitsUnknownTerms(t *testing.T) {
	l := NewLocal()
	l.PutPosting("whale", Posting{BookID: 1, Positions: []int{1}})
	got := l.GetAll([]string{"whale", "ghost"})
	require.Contains(t, got, "whale")
	require.NotContains(t, got, "ghost")
}

func TestGetReturnsPostingsSortedByBookID(t *testing.T) {
	l := NewLocal()
	l.PutPosting("sea", Posting{BookID: 9, Positions: []int{1}})
	l.PutPosting("sea", Posting{BookID: 2, Positions: []int{4}})
	got := l.Get("sea")
	require.Len(t, got, 2)
	require.Equal(t, int64(2), got[0].BookID)
	require.Equal(t, int64(9), got[1].BookID)
}

func TestPutAllAppliesBatch(t *testing.T) {
	l := NewLocal()
	l.PutAll(map[string]Posting{
		"a": {BookID: 1, Positions: []int{0}},
		"b": {BookID: 1, Positions: []int{1}},
	})
	require.NotNil(t, l.Get("a"))
	require.NotNil(t, l.Get("b"))
}

func TestIsProcessedDedup(t *testing.T) {
	l := NewLocal()
	require.False(t, l.IsProcessed("1:abc"))
	l.MarkProcessed("1:abc")
	require.True(t, l.IsProcessed("1:abc"))
}

func TestStatsTracksDistinctDocuments(t *testing.T) {
	l := NewLocal()
	l.noteDocument(1)
	l.noteDocument(1)
	l.noteDocument(2)
	require.Equal(t, 2, l.Stats().TotalDocuments)

	l.forgetDocument(1)
	require.Equal(t, 1, l.Stats().TotalDocuments)
}

func TestApplyReplicaWriteRejectsStaleClock(t *testing.T) {
	l := NewLocal()
	newer := replicaClock{"primary": 2}
	older := replicaClock{"primary": 1}

	require.True(t, l.applyReplicaWrite("whale", Posting{BookID: 1, Positions: []int{1}}, newer))
	require.False(t, l.applyReplicaWrite("whale", Posting{BookID: 1, Positions: []int{1, 2}}, older))
	require.Equal(t, []int{1}, l.Get("whale")[0].Positions)
}

func TestApplyReplicaWriteAcceptsRacingPrimaries(t *testing.T) {
	// Two primaries mid-handoff each push their own write: neither clock
	// subsumes the other, so both must land, and each side's retry must not.
	l := NewLocal()
	fromOld := replicaClock{"p1": 1}
	fromNew := replicaClock{"p2": 1}

	require.True(t, l.applyReplicaWrite("whale", Posting{BookID: 1, Positions: []int{0}}, fromOld))
	require.True(t, l.applyReplicaWrite("whale", Posting{BookID: 2, Positions: []int{3}}, fromNew))
	require.False(t, l.applyReplicaWrite("whale", Posting{BookID: 1, Positions: []int{0}}, fromOld))
	require.Len(t, l.Get("whale"), 2)
}

func TestLockSerializesPerTerm(t *testing.T) {
	l := NewLocal()
	l.Lock("whale")
	done := make(chan struct{})
	go func() {
		l.Lock("whale")
		l.Unlock("whale")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second Lock returned before first Unlock")
	default:
	}
	l.Unlock("whale")
	<-done
}
