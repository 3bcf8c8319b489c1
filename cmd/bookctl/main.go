// cmd/bookctl is the CLI client, built with Cobra.
//
// Usage:
//
//	bookctl ingest book.txt --book-id 42      --server http://localhost:8080
//	bookctl search "white whale" --mode AND   --server http://localhost:8080
//	bookctl cluster nodes                     --server http://localhost:8080
//	bookctl cluster join node2 localhost:8081 --server http://localhost:8080
//	bookctl bulk start 1000                   --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bookcluster/internal/client"
	"bookcluster/internal/search"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "bookctl",
		Short: "CLI client for a bookcluster node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "bookcluster node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(ingestCmd(), searchCmd(), statsCmd(), clusterCmd(), bulkCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── ingest ─────────────────────────────────────────────────────────────────

func ingestCmd() *cobra.Command {
	var bookID int64
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a book's raw text from a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Ingest(context.Background(), bookID, raw)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().Int64Var(&bookID, "book-id", 0, "book identifier (required)")
	cmd.MarkFlagRequired("book-id")
	return cmd
}

// ─── search ─────────────────────────────────────────────────────────────────

func searchCmd() *cobra.Command {
	var mode, author, language string
	var limit, year int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Search(context.Background(), args[0], client.SearchOptions{
				Mode: search.ParseMode(mode), Limit: limit, Author: author,
				Language: language, Year: year,
			})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "OR", "AND or OR")
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	cmd.Flags().StringVar(&author, "author", "", "filter: author substring")
	cmd.Flags().StringVar(&language, "language", "", "filter: ISO-639 language code")
	cmd.Flags().IntVar(&year, "year", 0, "filter: publication year")
	return cmd
}

// ─── stats ──────────────────────────────────────────────────────────────────

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report the node's datalake and index counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── cluster ────────────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster membership commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List cluster nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.ListNodes(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "join <nodeID> <address>",
		Short: "Join a node to the cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.JoinCluster(context.Background(), args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "leave <nodeID>",
		Short: "Remove a node from the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.LeaveCluster(context.Background(), args[0])
		},
	})

	return cmd
}

// ─── bulk ───────────────────────────────────────────────────────────────────

func bulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Bulk-ingest benchmark controls",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <n>",
		Short: "Start a benchmark run of n sequential book IDs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("n must be an integer: %w", err)
			}
			c := client.New(serverAddr, timeout)
			return c.BulkStart(context.Background(), n)
		},
	})

	var poolSize int
	startWorkers := &cobra.Command{
		Use:   "start-workers",
		Short: "Start the local worker pool draining the bulk queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.BulkStartWorkers(context.Background(), poolSize)
		},
	}
	startWorkers.Flags().IntVar(&poolSize, "pool-size", 4, "worker pool size")
	cmd.AddCommand(startWorkers)

	cmd.AddCommand(&cobra.Command{
		Use:   "stop-workers",
		Short: "Stop the local worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.BulkStopWorkers(context.Background())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report the current benchmark run's stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.BulkStatus(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})

	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
