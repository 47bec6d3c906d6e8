package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/assets"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/costs"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/engine"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/history"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/session"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflowfile"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	doc       *workflowfile.Document
	graph     *graphstore.Store
	state     *nodestate.Store
	progress  *progress.Hub
	sessions  *session.Tracker
	history   history.Store
	models    *modelschema.Catalog
	assets    *assets.Manager
	registry  *capability.Registry
	engine    *engine.Engine
	estimator *costs.Estimator
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// A failure to load the manifests or the workflow file is a fatal startup
// error, so NewApp panics on those.
func NewApp(outW io.Writer, cfg *Config, modules ...capability.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	var manifestPaths []string
	if cfg.ManifestsPath != "" {
		manifestPaths = append(manifestPaths, cfg.ManifestsPath)
	}
	models, err := modelschema.Load(ctx, manifestPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load model manifests: %w", err))
	}
	logger.Debug("Model catalog ready.", "models", models.Len())

	graph := graphstore.New()
	doc, err := workflowfile.Load(ctx, cfg.WorkflowPath, graph, models)
	if err != nil {
		panic(fmt.Errorf("failed to load workflow: %w", err))
	}
	logger.Debug("Workflow loaded.", "workflow_id", doc.ID, "nodes", graph.NodeCount())

	hist, err := newHistoryStore(ctx, cfg)
	if err != nil {
		panic(fmt.Errorf("failed to open history store: %w", err))
	}

	store := assets.New(cfg.AssetsDir, nil)

	reg := capability.NewRegistry()
	if len(modules) == 0 {
		modules = coreModules(cfg, models, store)
	}
	reg.Use(modules...)
	logger.Debug("All capability modules registered.", "count", len(modules))

	state := nodestate.New()
	hub := progress.NewHub()
	sessions := session.New()

	eng := engine.New(engine.Config{
		WorkflowID:   doc.ID,
		WorkflowName: doc.Name,
		Graph:        graph,
		State:        state,
		Progress:     hub,
		Sessions:     sessions,
		History:      hist,
		Capabilities: reg,
		Models:       models,
		Artifacts:    store,
		Workers:      cfg.Workers,
	})

	return &App{
		outW:      outW,
		logger:    logger,
		config:    cfg,
		doc:       doc,
		graph:     graph,
		state:     state,
		progress:  hub,
		sessions:  sessions,
		history:   hist,
		models:    models,
		assets:    store,
		registry:  reg,
		engine:    eng,
		estimator: costs.New(graph, models),
	}
}

// newHistoryStore picks the run history backend. Redis keeps records across
// process restarts; the in-memory store is the default for one-shot runs.
func newHistoryStore(ctx context.Context, cfg *Config) (history.Store, error) {
	if cfg.RedisURL != "" {
		return history.NewRedisStore(ctx, cfg.RedisURL)
	}
	return history.NewMemoryStore(), nil
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// State returns the node runtime state store. This is primarily for testing.
func (a *App) State() *nodestate.Store {
	return a.state
}

// Graph returns the loaded workflow graph.
func (a *App) Graph() *graphstore.Store {
	return a.graph
}

// Document returns the loaded workflow document.
func (a *App) Document() *workflowfile.Document {
	return a.doc
}

// Close releases backend resources such as the history store connection.
func (a *App) Close() error {
	return a.history.Close()
}
