package main

import (
	"context"
	"fmt"
	"io"

	"yarrow/internal/fleet"
	"yarrow/pkg/args"
	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/logger"
	"yarrow/pkg/notification"
	"yarrow/pkg/provider"
	mysqlstore "yarrow/pkg/store/mysql"
	redisstore "yarrow/pkg/store/redis"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initArguments applies command-line overrides on top of the configuration
func (app *Application) initArguments() error {
	startup, err := applyRunArguments(app.config, app.values)
	if err != nil {
		return err
	}
	startup.Args = app.tokens
	app.startup = startup
	return nil
}

// applyRunArguments overrides cfg with the run arguments and returns the startup parameters
func applyRunArguments(cfg *config.Config, values *args.Values) (fleet.StartupParams, error) {
	runners, err := values.Int(argRunners, cfg.Fleet.Runners)
	if err != nil {
		return fleet.StartupParams{}, err
	}
	if runners < 1 {
		return fleet.StartupParams{}, fmt.Errorf("argument %s: must be at least 1, got %d", argRunners, runners)
	}
	cfg.Fleet.Runners = runners

	interval, err := values.Duration(argInterval, cfg.Fleet.PollInterval)
	if err != nil {
		return fleet.StartupParams{}, err
	}
	cfg.Fleet.PollInterval = interval
	cfg.Cloud.Provider = values.String(argProvider, cfg.Cloud.Provider)

	return fleet.StartupParams{
		WorkDir: cfg.Fleet.Startup.WorkDir,
		User:    cfg.Fleet.Startup.User,
		Command: cfg.Fleet.Startup.Command,
		Session: values.String(argSession, ""),
		Script:  values.String(argScript, ""),
		Host:    values.String(argHost, ""),
	}, nil
}

// initStartupScript renders the script every worker runs on boot
func (app *Application) initStartupScript() error {
	renderer, err := fleet.NewStartupRendererFromFile(app.config.Fleet.Startup.Template)
	if err != nil {
		return err
	}
	script, err := renderer.Render(app.startup)
	if err != nil {
		return err
	}
	app.startupScript = script
	return nil
}

// initFleetClient creates the cloud backend
func (app *Application) initFleetClient() error {
	client, err := provider.CreateFleetClient(app.ctx, app.config)
	if err != nil {
		return err
	}
	app.fleetClient = client

	if closer, ok := client.(io.Closer); ok {
		app.registerCleanup(func() {
			if err := closer.Close(); err != nil {
				logger.WarnCtx(app.ctx, "Failed to close fleet client: %v", err)
			}
		})
	}
	return nil
}

// initFleetLock claims the name prefix so that no other controller reconciles the same fleet
func (app *Application) initFleetLock() error {
	if !app.config.Fleet.Lock {
		return nil
	}

	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	lock := redisstore.NewFleetLock(client, app.config.Fleet.NamePrefix)
	acquired, err := lock.TryLock(app.ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("fleet %s is already being reconciled by another controller (lock %s)",
			app.config.Fleet.NamePrefix, lock.Key())
	}
	app.registerCleanup(func() {
		if err := lock.Unlock(context.WithoutCancel(app.ctx)); err != nil {
			logger.WarnCtx(app.ctx, "Failed to release fleet lock: %v", err)
		}
	})
	logger.InfoCtx(app.ctx, "Fleet lock %s acquired", lock.Key())
	return nil
}

// initEventStore opens the fleet event store when event recording is enabled
func (app *Application) initEventStore() error {
	if !app.config.Fleet.RecordEvents {
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.ctx, mysqlstore.BuildDSN(app.config.MySQL))
	if err != nil {
		logger.WarnCtx(app.ctx, "Failed to open fleet event store: %v (non-critical, continuing)", err)
		return nil
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})
	return nil
}

// initReconciler creates the reconciler of this run
func (app *Application) initReconciler() error {
	cfg := app.config.Fleet
	r, err := fleet.NewReconciler(app.fleetClient, fleet.Options{
		RunID:            app.runID,
		Session:          app.startup.Session,
		DesiredCount:     cfg.Runners,
		NamePrefix:       cfg.NamePrefix,
		StartupScript:    app.startupScript,
		PollInterval:     cfg.PollInterval,
		AlivePolicy:      fleet.AlivePolicy(cfg.AlivePolicy),
		ProvisionTimeout: cfg.ProvisionTimeout,
		Labels:           map[string]string{constants.LabelRun: app.runID},
	})
	if err != nil {
		return err
	}

	if app.mysqlRepo != nil {
		r.SetEventRecorder(app.mysqlRepo.FleetEvent)
	}
	r.SetSummaryHook(func(s *fleet.Summary) {
		app.lastSummary = s
	})
	app.reconciler = r
	return nil
}

// initNotifier sets up the run completion webhook
func (app *Application) initNotifier() error {
	app.notifier = notification.NewFeishuNotifier(app.config.Notification.FeishuWebhookURL)
	if app.notifier.Enabled() {
		logger.InfoCtx(app.ctx, "Run completion notification enabled")
	}
	return nil
}
