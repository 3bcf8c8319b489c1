package datalake

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// ingestionLog is the append-only record of every book successfully ingested
// on this node. Writes are fsync'd sequentially; readers stream the file
// top to bottom. A partial final line left by a crash mid-append is simply
// skipped by the parser on the next read, never treated as corruption.
type ingestionLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func newIngestionLog(path string) (*ingestionLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ingestion log: %w", err)
	}
	return &ingestionLog{file: f, path: path}, nil
}

// logEntry is one parsed line of ingestions.log.
type logEntry struct {
	Timestamp time.Time
	BookID    int64
	Path      string
	Bytes     int64
}

var lineGrammar = regexp.MustCompile(
	`^(\S+);book=(\d+);path=([^;]+);bytes=(\d+)$`,
)

// append writes one line and fsyncs before returning, so a caller that
// observes a successful append knows the entry survives a crash.
func (l *ingestionLog) append(e logEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s;book=%d;path=%s;bytes=%d\n",
		e.Timestamp.Format(time.RFC3339), e.BookID, e.Path, e.Bytes)

	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("append ingestion log: %w", err)
	}
	return l.file.Sync()
}

// readAll streams the log from the start, skipping any line that doesn't
// match the grammar (a malformed or truncated final line from a crash).
func (l *ingestionLog) readAll() ([]logEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []logEntry
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m := lineGrammar.FindStringSubmatch(line)
		if m == nil {
			continue // malformed/partial line — skip, don't fail the scan
		}
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			continue
		}
		bookID, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		byteCount, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, logEntry{
			Timestamp: ts,
			BookID:    bookID,
			Path:      m[3],
			Bytes:     byteCount,
		})
	}
	return entries, scanner.Err()
}

// find streams the log looking for the first entry for bookID; first
// match wins.
func (l *ingestionLog) find(bookID int64) (logEntry, bool, error) {
	entries, err := l.readAll()
	if err != nil {
		return logEntry{}, false, err
	}
	for _, e := range entries {
		if e.BookID == bookID {
			return e, true, nil
		}
	}
	return logEntry{}, false, nil
}

func (l *ingestionLog) close() error {
	return l.file.Close()
}
