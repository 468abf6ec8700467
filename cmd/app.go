package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"yarrow/internal/fleet"
	"yarrow/pkg/args"
	"yarrow/pkg/config"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
	"yarrow/pkg/notification"
	mysqlstore "yarrow/pkg/store/mysql"

	"github.com/google/uuid"
)

// Application manages the lifecycle of one fleet run
type Application struct {
	// Infrastructure components
	config    *config.Config
	mysqlRepo *mysqlstore.Repository

	// Command line
	values *args.Values
	tokens []string
	out    io.Writer

	// Run state
	runID         string
	startup       fleet.StartupParams
	startupScript string
	fleetClient   interfaces.CloudFleetClient
	reconciler    *fleet.Reconciler
	lastSummary   *fleet.Summary
	notifier      *notification.FeishuNotifier

	// Context management
	ctx context.Context

	// Cleanup functions, executed in reverse registration order
	cleanupFuncs []func()
}

// NewApplication creates a new Application for the parsed run arguments
func NewApplication(ctx context.Context, out io.Writer, values *args.Values, tokens []string) *Application {
	runID := uuid.NewString()
	return &Application{
		values:       values,
		tokens:       tokens,
		out:          out,
		runID:        runID,
		ctx:          logger.WithRunID(ctx, runID),
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Arguments", app.initArguments},
		{"Startup Script", app.initStartupScript},
		{"Fleet Lock", app.initFleetLock},
		{"Fleet Client", app.initFleetClient},
		{"Event Store", app.initEventStore},
		{"Reconciler", app.initReconciler},
		{"Notification", app.initNotifier},
	}

	for _, step := range steps {
		logger.DebugCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Run reconciles the fleet until every worker is resolved, then notifies
func (app *Application) Run() error {
	fmt.Fprintf(app.out, "Starting run(%d)\n", app.config.Fleet.Runners)
	fmt.Fprintf(app.out, "Startup script:\n%s\n", app.startupScript)

	startedAt := time.Now()
	summary, err := app.reconciler.Run(app.ctx)
	if err != nil {
		logger.ErrorCtx(app.ctx, "Fleet run failed: %v", err)
	}
	if summary == nil {
		summary = app.lastSummary
	}
	if summary == nil {
		summary = fleet.Summarize(app.reconciler.Table(), 0)
	}

	app.notify(summary, err, startedAt)
	return err
}

func (app *Application) notify(summary *fleet.Summary, runErr error, startedAt time.Time) {
	if app.notifier == nil || !app.notifier.Enabled() {
		return
	}

	// the run context may already be canceled
	ctx := context.WithoutCancel(app.ctx)
	err := app.notifier.SendRunCompletedNotification(ctx, &notification.RunCompletedNotification{
		RunID:      app.runID,
		Session:    app.startup.Session,
		Script:     app.startup.Script,
		Provider:   app.config.Cloud.Provider,
		Runners:    app.config.Fleet.Runners,
		Ticks:      app.reconciler.Ticks(),
		Summary:    summary.String(),
		Err:        runErr,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	})
	if err != nil {
		logger.WarnCtx(ctx, "Failed to send run notification: %v", err)
	}
}

// Shutdown releases every component
func (app *Application) Shutdown() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}
	logger.Sync()
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
