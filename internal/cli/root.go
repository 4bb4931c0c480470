// Package cli provides the command-line interface for reanchor.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reanchor/internal/client"
	"github.com/raphaelgruber/reanchor/internal/config"
	"github.com/raphaelgruber/reanchor/internal/db"
	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/recovery"
	"github.com/raphaelgruber/reanchor/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// Global config and clients
	cfg       config.Config
	apiClient *client.Client

	// Lazy-initialized; only review and transfer commands talk to the
	// database directly, everything else goes through the worker API.
	dbClient *db.Client
	svc      *service.Service
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reanchor",
	Short: "Document reprocessing and annotation recovery",
	Long: `Reanchor re-derives document text and recovers annotation positions
after the canonical text changes.

Reprocessing runs as background jobs on a worker; this CLI submits and
controls those jobs through the worker's HTTP API and reviews uncertain
recoveries directly against the database.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		cfg = config.Load()
		apiClient = client.New(serverURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
	},
}

// getService connects to the database on first use and builds the
// job/review service around it.
func getService(ctx context.Context) (*service.Service, error) {
	if svc != nil {
		return svc, nil
	}

	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}

	var err error
	dbClient, err = db.NewClient(ctx, dbCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	recoverer := recovery.New(dbClient, match.NewEngine(match.DefaultConfig()), recovery.Config{
		AutoThreshold:   cfg.AutoThreshold,
		ReviewThreshold: cfg.ReviewThreshold,
		ContextWindow:   cfg.ContextWindow,
		CheckpointBatch: cfg.CheckpointBatch,
	}, nil)

	svc = service.New(dbClient, recoverer, service.Config{
		Owner:       cfg.Owner,
		StallWindow: cfg.StallWindow,
	}, nil)
	return svc, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "worker API URL (default $REANCHOR_SERVER_URL or http://localhost:8585)")

	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
