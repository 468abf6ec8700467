package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"yarrow/app/handler"
	"yarrow/app/router"
	"yarrow/internal/service"
	"yarrow/pkg/args"
	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
	memorystore "yarrow/pkg/store/memory"
	mysqlstore "yarrow/pkg/store/mysql"
	redisstore "yarrow/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const indexShutdownTimeout = 5 * time.Second

var indexKnownArgs = []string{argPort, argHost, argStore}

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "index [port=<n>] [host=<addr>] [store=memory|redis|mysql]",
		Short:              "Run the index-allocation service",
		Long:               "Serves sequential per-session indexes to workers on /nextid until /terminate_n0w is requested or a signal arrives.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, tokens []string) error {
			values, err := args.Parse(tokens, indexKnownArgs, false)
			if err != nil {
				return err
			}
			if err := config.Init(); err != nil {
				return err
			}
			if err := logger.Init(); err != nil {
				return err
			}
			defer logger.Sync()

			cfg := config.GlobalConfig
			if err := applyIndexEnv(&cfg.Index); err != nil {
				return err
			}
			if err := applyIndexArguments(&cfg.Index, values); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := newIndexServer(ctx, cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			ln, err := net.Listen("tcp", srv.Addr())
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr(), err)
			}
			return srv.Serve(ctx, ln)
		},
	}
}

// indexServer hosts the index-allocation HTTP service
type indexServer struct {
	config       *config.Config
	store        interfaces.CounterStore
	handler      *handler.IndexHandler
	engine       *gin.Engine
	httpServer   *http.Server
	cleanupFuncs []func()
}

func newIndexServer(ctx context.Context, cfg *config.Config) (*indexServer, error) {
	s := &indexServer{config: cfg}
	if err := s.initCounterStore(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	s.handler = handler.NewIndexHandler(service.NewIndexService(s.store))
	s.engine = gin.New()
	router.NewRouter(s.handler).Setup(s.engine)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Index.Port),
		Handler: s.engine,
	}
	return s, nil
}

// applyIndexEnv applies the YI_PORT and YI_HOST overrides
func applyIndexEnv(cfg *config.IndexConfig) error {
	if raw := os.Getenv(constants.EnvIndexPort); raw != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", constants.EnvIndexPort, raw, err)
		}
		cfg.Port = port
	}
	if host := os.Getenv(constants.EnvIndexHost); host != "" {
		cfg.Host = host
	}
	return nil
}

// applyIndexArguments applies command-line overrides, which take precedence over the environment
func applyIndexArguments(cfg *config.IndexConfig, values *args.Values) error {
	port, err := values.Int(argPort, cfg.Port)
	if err != nil {
		return err
	}
	cfg.Port = port
	cfg.Host = values.String(argHost, cfg.Host)
	cfg.Store = values.String(argStore, cfg.Store)
	return nil
}

// initCounterStore opens the configured counter backend
func (s *indexServer) initCounterStore(ctx context.Context) error {
	switch s.config.Index.Store {
	case "", "memory":
		s.store = memorystore.NewCounterRepository()
	case "redis":
		client, err := redisstore.NewRedisClient(ctx, s.config.Redis)
		if err != nil {
			return err
		}
		s.store = redisstore.NewCounterRepository(client)
		s.registerCleanup(func() {
			client.Close()
			logger.InfoCtx(ctx, "Redis connection has been closed")
		})
	case "mysql":
		repo, err := mysqlstore.NewRepository(ctx, mysqlstore.BuildDSN(s.config.MySQL))
		if err != nil {
			return err
		}
		s.store = repo.Counter
		s.registerCleanup(func() {
			repo.Close()
			logger.InfoCtx(ctx, "MySQL connection has been closed")
		})
	default:
		return fmt.Errorf("unsupported index store: %s", s.config.Index.Store)
	}

	logger.InfoCtx(ctx, "Index counter store: %s", s.config.Index.Store)
	return nil
}

// Addr returns the listen address
func (s *indexServer) Addr() string {
	return s.httpServer.Addr
}

// Serve answers requests on ln until termination is requested or ctx is done
func (s *indexServer) Serve(ctx context.Context, ln net.Listener) error {
	logger.InfoCtx(ctx, "Yarrow-index is running on port %d (base URL http://%s:%d/)",
		s.config.Index.Port, s.config.Index.Host, s.config.Index.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-s.handler.Terminated():
		logger.InfoCtx(ctx, "Termination requested, shutting down index service")
	case <-ctx.Done():
		logger.InfoCtx(ctx, "Received exit signal, shutting down index service")
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("index server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("index server shutdown: %w", err)
	}
	return nil
}

// Close releases the counter store
func (s *indexServer) Close() {
	for i := len(s.cleanupFuncs) - 1; i >= 0; i-- {
		s.cleanupFuncs[i]()
	}
	s.cleanupFuncs = nil
}

func (s *indexServer) registerCleanup(cleanup func()) {
	s.cleanupFuncs = append(s.cleanupFuncs, cleanup)
}
