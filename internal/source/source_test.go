package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bookcluster/internal/bookerr"
)

func TestFixtureSourceFetchesSeededBook(t *testing.T) {
	src := NewFixtureSource(map[int64][]byte{1: []byte("moby dick")})
	raw, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "moby dick", string(raw))
}

func TestFixtureSourceUnseededBookIsNotFound(t *testing.T) {
	src := NewFixtureSource(nil)
	_, err := src.Fetch(context.Background(), 99)
	require.ErrorIs(t, err, bookerr.ErrNotFound)
}

func TestFixtureSourcePutAddsBook(t *testing.T) {
	src := NewFixtureSource(nil)
	src.Put(7, []byte("new book"))
	raw, err := src.Fetch(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "new book", string(raw))
}
