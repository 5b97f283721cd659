// Package main implements the triaged CLI: source tree analysis and
// test failure triage against a vector knowledge store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/analyzer"
	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/knowledge"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/task"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triaged",
	Short: "Index source trees and triage test failures with similarity search",
	Long: `triaged indexes source code, documentation, and test failure records
into a vector store, then uses similarity retrieval to surface related
past issues, rank fix suggestions, and manage tasks derived from test
failures.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/triaged/config.yaml)")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(structureCmd)
	rootCmd.AddCommand(taskCmd)
}

// app holds the wired component graph for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    knowledge.Store
	gateway  *embeddings.Gateway
	analyzer *analyzer.Analyzer
	repo     *task.Repository
	engine   *task.Engine
}

// newApp loads configuration and constructs every component. There is
// no hidden global state; the store and provider handles built here
// live for the command and are released by Close.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	gateway := embeddings.NewGateway(provider, embeddings.GatewayConfig{
		BatchSize:         cfg.Embeddings.BatchSize,
		MaxConcurrent:     cfg.Embeddings.MaxConcurrent,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)

	store, err := knowledge.New(cfg, logger)
	if err != nil {
		gateway.Close()
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}

	repo := task.NewRepository(store, gateway, logger)
	engine := task.NewEngine(task.EngineConfig{
		SimilarityThreshold: cfg.Tasks.SimilarityThreshold,
		DuplicateThreshold:  cfg.Tasks.DuplicateThreshold,
		SearchLimit:         cfg.Tasks.SearchLimit,
		MaxSuggestions:      cfg.Tasks.MaxSuggestions,
	}, gateway, store, repo, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		gateway:  gateway,
		analyzer: analyzer.New(cfg.Analysis, gateway, store, logger),
		repo:     repo,
		engine:   engine,
	}, nil
}

// Close releases all component handles.
func (a *app) Close() {
	if err := a.gateway.Close(); err != nil {
		a.logger.Warn("closing embedding provider", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing knowledge store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
