package datalake

import (
	"path/filepath"
	"testing"
	"time"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/hashid"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestPartition(t *testing.T) *Partition {
	t.Helper()
	dir := t.TempDir()
	p, err := Open(dir, WithClock(fixedClock{t: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestIngestWritesFilesAndLog(t *testing.T) {
	p := newTestPartition(t)

	body := "*** START OF BOOK ***\nHello world hello\n*** END OF BOOK ***"
	res := p.Ingest(1, []byte(body))
	require.Equal(t, StatusDownloaded, res.Status)
	require.Equal(t, filepath.Join("20260102", "15", "1"), res.Path)

	data, err := p.ReadBody(res.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Hello world hello")

	path, found, err := p.Locate(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, res.Path, path)
}

func TestDoubleIngestReturnsAvailable(t *testing.T) {
	p := newTestPartition(t)
	body := []byte("some book body")

	first := p.Ingest(7, body)
	require.Equal(t, StatusDownloaded, first.Status)

	second := p.Ingest(7, body)
	require.Equal(t, StatusAvailable, second.Status)
	require.Equal(t, first.Path, second.Path)

	entries, err := p.log.readAll()
	require.NoError(t, err)
	require.Len(t, entries, 1, "second ingest must not append a duplicate log line")
}

func TestListIsSortedAndDeduplicated(t *testing.T) {
	p := newTestPartition(t)
	p.Ingest(3, []byte("c"))
	p.Ingest(1, []byte("a"))
	p.Ingest(2, []byte("b"))
	p.Ingest(1, []byte("a")) // no-op duplicate

	ids, err := p.List()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestReceiveReplicaVerifiesHash(t *testing.T) {
	p := newTestPartition(t)
	raw := []byte("raw content")
	wrongHash := hashid.Hash([]byte("other content"))

	err := p.ReceiveReplica(5, filepath.Join("20260102", "15", "5"), raw, nil, raw, wrongHash)
	require.ErrorIs(t, err, bookerr.ErrHashMismatch)

	_, found, lerr := p.Locate(5)
	require.NoError(t, lerr)
	require.False(t, found, "no log entry should be written on hash mismatch")
}

func TestReceiveReplicaWritesOnValidHash(t *testing.T) {
	p := newTestPartition(t)
	raw := []byte("raw content")
	header := []byte("header")
	body := []byte("body")
	hash := hashid.Hash(raw)

	relPath := filepath.Join("20260102", "15", "9")
	err := p.ReceiveReplica(9, relPath, raw, header, body, hash)
	require.NoError(t, err)

	got, err := p.ReadBody(relPath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestStats(t *testing.T) {
	p := newTestPartition(t)
	p.Ingest(1, []byte("12345"))
	p.Ingest(2, []byte("123"))

	stats, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.BookCount)
	require.Equal(t, int64(8), stats.TotalBytes)
}

func TestReadBodyMissingReturnsNotFound(t *testing.T) {
	p := newTestPartition(t)
	_, err := p.ReadBody(filepath.Join("nope", "nope", "0"))
	require.ErrorIs(t, err, bookerr.ErrNotFound)
}
