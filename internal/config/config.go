// Package config resolves a node's configuration: environment variable,
// then process flag, then configuration file, then a built-in default —
// the first of those four that supplies a value wins.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bookcluster/internal/bookerr"
)

// Config holds every setting a node needs at startup.
type Config struct {
	NodeID            string
	DatalakeDir       string
	DatalakePeers     []string // "id=host:port" entries
	ReplicationFactor int
	BrokerURL         string
	IndexingQueueName string
	IndexClusterName  string
	IndexMembers      []string // "id=host:port" entries
	IndexBackupCount  int

	ListenAddr string // host:port the HTTP surface binds to
}

// fileValues is a flat key=value map loaded from an optional config file,
// the lowest-priority source in the precedence chain.
type fileValues map[string]string

// field resolves one configuration value across the precedence chain:
// env var > explicit flag > file > default.
func field(env string, flagVal string, flagExplicit bool, file fileValues, fileKey string, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if flagExplicit {
		return flagVal
	}
	if file != nil {
		if v, ok := file[fileKey]; ok && v != "" {
			return v
		}
	}
	if flagVal != "" {
		return flagVal
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadFile parses a simple "key=value" per line file, skipping blank lines
// and lines starting with '#'. A missing file is not an error —
// configuration files are optional.
func loadFile(path string) (fileValues, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	out := make(fileValues)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, scanner.Err()
}

// Flags is the parsed value of every flag cmd/server accepts, plus which of
// them the caller passed explicitly (flag.Visit, not flag.VisitAll) — that
// distinction is what lets an unset flag fall through to env/file instead
// of always winning with its zero-value default.
type Flags struct {
	NodeID            string
	Addr              string
	DatalakeDir       string
	Peers             string
	ReplicationFactor int
	BrokerURL         string
	IndexQueueName    string
	IndexClusterName  string
	IndexMembers      string
	IndexBackupCount  int
	ConfigFile        string

	Explicit map[string]bool
}

// Resolve builds a Config from flags, explicit-flag tracking, and an
// optional config file, applying the env > flag > file > default
// precedence field by field.
func Resolve(fl Flags) (Config, error) {
	file, err := loadFile(fl.ConfigFile)
	if err != nil {
		return Config{}, err
	}

	// An int flag left at zero without being passed explicitly carries no
	// value; stringifying it would smuggle "0" past the file/default layers.
	repFlag := strconv.Itoa(fl.ReplicationFactor)
	if !fl.Explicit["n"] && fl.ReplicationFactor == 0 {
		repFlag = ""
	}
	backFlag := strconv.Itoa(fl.IndexBackupCount)
	if !fl.Explicit["index-backups"] && fl.IndexBackupCount == 0 {
		backFlag = ""
	}

	repFactor := field("BOOKCLUSTER_REPLICATION_FACTOR", repFlag,
		fl.Explicit["n"], file, "replication_factor", "1")
	backups := field("BOOKCLUSTER_INDEX_BACKUP_COUNT", backFlag,
		fl.Explicit["index-backups"], file, "index_backup_count", "1")

	repN, err := strconv.Atoi(repFactor)
	if err != nil {
		return Config{}, fmt.Errorf("config: replication factor %q: %w", repFactor, err)
	}
	backN, err := strconv.Atoi(backups)
	if err != nil {
		return Config{}, fmt.Errorf("config: index backup count %q: %w", backups, err)
	}

	cfg := Config{
		NodeID: field("BOOKCLUSTER_NODE_ID", fl.NodeID, fl.Explicit["id"], file, "node_id", "node1"),
		ListenAddr: field("BOOKCLUSTER_ADDR", fl.Addr, fl.Explicit["addr"], file,
			"listen_addr", ":8080"),
		DatalakeDir: field("BOOKCLUSTER_DATALAKE_DIR", fl.DatalakeDir, fl.Explicit["data-dir"],
			file, "datalake_dir", "/tmp/bookcluster"),
		DatalakePeers: splitList(field("BOOKCLUSTER_PEERS", fl.Peers, fl.Explicit["peers"],
			file, "datalake_peers", "")),
		ReplicationFactor: repN,
		BrokerURL: field("BOOKCLUSTER_BROKER_URL", fl.BrokerURL, fl.Explicit["broker"],
			file, "broker_url", "localhost:9092"),
		IndexingQueueName: field("BOOKCLUSTER_INDEX_QUEUE", fl.IndexQueueName,
			fl.Explicit["index-queue"], file, "indexing_queue_name", "index.request"),
		IndexClusterName: field("BOOKCLUSTER_INDEX_CLUSTER", fl.IndexClusterName,
			fl.Explicit["index-cluster"], file, "index_cluster_name", "bookcluster"),
		IndexMembers: splitList(field("BOOKCLUSTER_INDEX_MEMBERS", fl.IndexMembers,
			fl.Explicit["index-members"], file, "index_members", "")),
		IndexBackupCount: backN,
	}

	if cfg.NodeID == "" {
		return Config{}, fmt.Errorf("config: node id must not be empty: %w", bookerr.ErrFatal)
	}
	return cfg, nil
}
