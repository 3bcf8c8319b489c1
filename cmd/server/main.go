// cmd/server is the bookcluster node binary: a single process embedding
// every data-plane component (datalake, replication transport, bus client,
// distributed index, indexing engine, search engine, work queue) behind a
// gin HTTP surface.
//
// Configuration resolves in precedence order: environment variable, then
// an explicitly-passed flag, then an optional config file, then a built-in
// default (package config).
//
// Example — three-node cluster:
//
//	./server -id node1 -addr :8080 -data-dir /tmp/bc/node1 \
//	         -peers node2=localhost:8081,node3=localhost:8082 -n 3
//	./server -id node2 -addr :8081 -data-dir /tmp/bc/node2 \
//	         -peers node1=localhost:8080,node3=localhost:8082 -n 3
//	./server -id node3 -addr :8082 -data-dir /tmp/bc/node3 \
//	         -peers node1=localhost:8080,node2=localhost:8081 -n 3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"bookcluster/internal/api"
	"bookcluster/internal/bus"
	"bookcluster/internal/cluster"
	"bookcluster/internal/config"
	"bookcluster/internal/datalake"
	"bookcluster/internal/index"
	"bookcluster/internal/indexing"
	"bookcluster/internal/metadata"
	"bookcluster/internal/search"
	"bookcluster/internal/source"
	"bookcluster/internal/workqueue"
)

// indexPartitions is K, the term-partition count the placement ring splits
// the index key space into.
const indexPartitions = 271

// partitionIngester adapts *datalake.Partition to workqueue.Ingester,
// collapsing IngestResult's downloaded/available distinction (both count as
// success to the work queue) down to a plain error.
type partitionIngester struct {
	p *datalake.Partition
}

func (a partitionIngester) Ingest(bookID int64, raw []byte) error {
	result := a.p.Ingest(bookID, raw)
	if result.Status == datalake.StatusError {
		return result.Err
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	fl, explicit := parseFlags()
	cfg, err := config.Resolve(config.Flags{
		NodeID: fl.nodeID, Addr: fl.addr, DatalakeDir: fl.dataDir, Peers: fl.peers,
		ReplicationFactor: fl.replication, BrokerURL: fl.brokerURL,
		IndexQueueName: fl.indexQueue, IndexClusterName: fl.indexCluster,
		IndexMembers: fl.indexMembers, IndexBackupCount: fl.indexBackups,
		ConfigFile: fl.configFile, Explicit: explicit,
	})
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger = logger.With("node", cfg.NodeID)

	nodes := []cluster.Node{{ID: cfg.NodeID, Address: cfg.ListenAddr}}
	for _, entry := range cfg.DatalakePeers {
		node, err := parsePeer(entry)
		if err != nil {
			logger.Error("invalid peer", "entry", entry, "error", err)
			os.Exit(1)
		}
		nodes = append(nodes, node)
	}
	membership := cluster.NewMembership(cfg.NodeID, nodes, indexPartitions)
	transport := cluster.NewTransport(cfg.NodeID, membership, cfg.ReplicationFactor)

	// The index's term partitions normally ride the same membership as the
	// datalake peers; an explicit -index-members list splits them, for
	// topologies where index owners are a subset of the fleet.
	indexMembership := membership
	if len(cfg.IndexMembers) > 0 {
		indexNodes := []cluster.Node{{ID: cfg.NodeID, Address: cfg.ListenAddr}}
		for _, entry := range cfg.IndexMembers {
			node, err := parsePeer(entry)
			if err != nil {
				logger.Error("invalid index member", "entry", entry, "error", err)
				os.Exit(1)
			}
			indexNodes = append(indexNodes, node)
		}
		indexMembership = cluster.NewMembership(cfg.NodeID, indexNodes, indexPartitions)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	busConn, err := bus.Connect(ctx, bus.Config{
		Brokers:      strings.Split(cfg.BrokerURL, ","),
		ConsumeGroup: cfg.IndexClusterName,
		NodeID:       cfg.NodeID,
		Logger:       logger,
		IndexTopic:   cfg.IndexingQueueName,
	})
	if err != nil {
		logger.Error("bus connect failed", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()

	dl, err := datalake.Open(cfg.DatalakeDir,
		datalake.WithReplicator(transport),
		datalake.WithPublisher(busConn),
	)
	if err != nil {
		logger.Error("open datalake", "error", err)
		os.Exit(1)
	}
	defer dl.Close()

	idx := index.NewCluster(cfg.NodeID, indexMembership, cfg.IndexBackupCount)

	indexingEngine := indexing.NewEngine(dl, idx, indexing.WithLogger(logger))
	go func() {
		if err := busConn.Subscribe(ctx, cfg.IndexingQueueName, indexingEngine.HandleIndexRequest); err != nil && ctx.Err() == nil {
			logger.Error("index.request subscribe stopped", "error", err)
		}
	}()

	metaStore := metadata.NewMemoryStore()
	searchEngine := search.NewEngine(idx, metaStore)

	docSource := source.NewFixtureSource(nil)
	queue := workqueue.New(cfg.NodeID, busConn, docSource, partitionIngester{p: dl})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(logger), api.Recovery(logger))

	handler := api.NewHandler(dl, membership, idx, indexingEngine, searchEngine, queue, cfg.NodeID, logger)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "nodes", len(membership.All()),
			"replication", cfg.ReplicationFactor, "backups", cfg.IndexBackupCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	go logIndexStatsPeriodically(ctx, logger, idx, 60*time.Second)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

// logIndexStatsPeriodically reports this node's index counters every
// interval, a heartbeat for operators watching a long bulk ingest.
func logIndexStatsPeriodically(ctx context.Context, logger *slog.Logger, idx *index.Cluster, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := idx.Stats()
			logger.Info("index stats", "totalDocuments", stats.TotalDocuments, "totalTerms", stats.TotalTerms)
		}
	}
}

func parsePeer(entry string) (cluster.Node, error) {
	id, addr, ok := strings.Cut(entry, "=")
	if !ok || id == "" || addr == "" {
		return cluster.Node{}, fmt.Errorf("expected id=host:port, got %q", entry)
	}
	return cluster.Node{ID: id, Address: addr}, nil
}

// serverFlags holds every flag cmd/server accepts.
type serverFlags struct {
	nodeID       string
	addr         string
	dataDir      string
	peers        string
	replication  int
	brokerURL    string
	indexQueue   string
	indexCluster string
	indexMembers string
	indexBackups int
	configFile   string
}

// parseFlags parses os.Args[1:] and returns both the parsed values and
// which flags were explicitly passed — the latter is what config.Resolve
// needs to let a flag outrank a config-file value but not an env var.
func parseFlags() (serverFlags, map[string]bool) {
	var fl serverFlags
	flag.StringVar(&fl.nodeID, "id", "node1", "unique node identifier")
	flag.StringVar(&fl.addr, "addr", ":8080", "listen address (host:port)")
	flag.StringVar(&fl.dataDir, "data-dir", "/tmp/bookcluster", "datalake root directory")
	flag.StringVar(&fl.peers, "peers", "", "comma-separated peer list: id=host:port")
	flag.IntVar(&fl.replication, "n", 1, "replication factor R")
	flag.StringVar(&fl.brokerURL, "broker", "localhost:9092", "comma-separated Kafka/Redpanda broker addresses")
	flag.StringVar(&fl.indexQueue, "index-queue", "index.request", "index.request queue/topic name")
	flag.StringVar(&fl.indexCluster, "index-cluster", "bookcluster", "index cluster / consumer group name")
	flag.StringVar(&fl.indexMembers, "index-members", "", "comma-separated index partition owners: id=host:port")
	flag.IntVar(&fl.indexBackups, "index-backups", 1, "backup replica count B per term partition")
	flag.StringVar(&fl.configFile, "config", "", "optional key=value configuration file path")
	flag.Parse()

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	return fl, explicit
}
