package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/controltower/internal/api"
	"github.com/andresuchdata/controltower/internal/cache"
	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/repository/postgres"
	"github.com/andresuchdata/controltower/internal/service"
	"github.com/andresuchdata/controltower/internal/storage"
	"github.com/andresuchdata/controltower/internal/trigger"
	"github.com/andresuchdata/controltower/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const dateLayout = "2006-01-02"

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string (falls back to the DB_* settings)",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	app := &cli.App{
		Name:  "controltower",
		Usage: "Run the supply-chain control tower pipeline and its read API",
		Flags: []cli.Flag{
			newDBURLFlag(),
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Emit JSON logs instead of console output",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Configure(os.Stderr, c.Bool("log-json"))
			logger.SetLevel(config.Load().LogLevel)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run pipeline stages (default: the weekly sequence 0-6)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "steps",
						Aliases: []string{"s"},
						Usage:   "Comma separated stage keys, or \"all\"",
					},
					&cli.BoolFlag{
						Name:  "tune",
						Usage: "Grid-search forecast hyperparameters before training",
					},
					&cli.BoolFlag{
						Name:  "keep-going",
						Usage: "Continue with later stages after a failure",
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "Run as of this date (YYYY-MM-DD)",
					},
				},
				Action: runPipeline,
			},
			{
				Name:   "stages",
				Usage:  "List registered stages",
				Action: listStages,
			},
			{
				Name:  "serve",
				Usage: "Serve the read API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Usage:   "Listen port (defaults to SERVER_PORT)",
						EnvVars: []string{"PORT"},
					},
				},
				Action: serveAPI,
			},
			{
				Name:  "webhook",
				Usage: "Serve the pipeline trigger webhook",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "port",
						Usage: "Listen port (defaults to WEBHOOK_PORT)",
					},
				},
				Action: serveWebhook,
			},
			{
				Name:   "migrate",
				Usage:  "Create missing tables",
				Action: migrate,
			},
			{
				Name:  "seed",
				Usage: "Load source tables from CSV files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data-dir",
						Usage:   "Directory containing <table>.csv files",
						Value:   "./data/seeds",
						EnvVars: []string{"SEED_DATA_DIR"},
					},
				},
				Action: seed,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("controltower failed")
	}
}

// app bundles the collaborators every command shares.
type app struct {
	cfg   *config.Config
	db    *postgres.DB
	store *postgres.Store
}

func open(c *cli.Context) (*app, error) {
	cfg := config.Load()

	var (
		db  *postgres.DB
		err error
	)
	if url := c.String("db-url"); url != "" && cfg.Database.Driver != "sqlite3" {
		db, err = postgres.Open("pgx", url)
	} else {
		db, err = postgres.NewDB(&cfg.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &app{cfg: cfg, db: db, store: postgres.NewStore(db, cfg.Pipeline)}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) dashboardCache() cache.DashboardCache {
	dash, err := cache.NewDashboardCache(a.cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("dashboard cache unavailable, continuing without it")
		return cache.NewNoopDashboardCache()
	}
	return dash
}

func (a *app) pipelineService(ctx context.Context) (*service.PipelineService, storage.ObjectStorage) {
	params, err := cache.NewParamsCache(a.cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("params cache unavailable, continuing without it")
		params = cache.NewNoopParamsCache()
	}

	artifacts, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		logger.Log.Warn().Err(err).Str("backend", a.cfg.Storage.Backend).Msg("artifact storage unavailable, continuing without it")
	}

	registry := service.NewRegistry(a.store, service.Deps{
		Params:    params,
		Dashboard: a.dashboardCache(),
		Artifacts: artifacts,
	})
	return service.NewPipelineService(a.cfg, registry, a.store), artifacts
}

func runPipeline(c *cli.Context) error {
	req := service.RunRequest{
		Keys:      pipeline.ParseKeys(c.String("steps")),
		Tune:      c.Bool("tune"),
		KeepGoing: c.Bool("keep-going"),
	}
	if raw := c.String("date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", raw, err)
		}
		req.Today = domain.DateOnly(d)
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, _ := a.pipelineService(ctx)
	report, runErr := svc.Run(ctx, req)
	if report != nil {
		fmt.Fprintf(os.Stdout, "run %s as of %s\n", report.RunID, report.Today)
		if err := pipeline.PrintSummary(os.Stdout, report.Outcomes); err != nil {
			return err
		}
	}
	return runErr
}

func listStages(c *cli.Context) error {
	registry := service.NewRegistry(nil, service.Deps{})
	svc := service.NewPipelineService(config.Load(), registry, nil)
	for _, st := range svc.Stages() {
		marker := ""
		if st.Default {
			marker = " (default)"
		}
		fmt.Fprintf(os.Stdout, "%-3s %s%s\n", st.Key, st.Name, marker)
	}
	return nil
}

func serveAPI(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(&api.Services{
		Risk:     service.NewRiskService(a.store, a.dashboardCache(), a.cfg.Risk),
		Planning: service.NewPlanningService(a.store),
	}, a.cfg.Server.AllowedOrigins)

	port := c.String("port")
	if port == "" {
		port = a.cfg.Server.Port
	}
	return listen(c.Context, a.cfg.Server, port, router)
}

func serveWebhook(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, artifacts := a.pipelineService(c.Context)
	router := mux.NewRouter()
	trigger.NewHandler(svc, artifacts).RegisterRoutes(router)

	port := c.String("port")
	if port == "" {
		port = a.cfg.Server.WebhookPort
	}
	// pipeline runs outlast the API write timeout
	server := a.cfg.Server
	server.WriteTimeout = 0
	return listen(c.Context, server, port, router)
}

// listen serves handler until SIGINT or SIGTERM, then drains for five seconds.
func listen(ctx context.Context, cfg config.ServerConfig, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("port", port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-quit.Done():
	}
	logger.Log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Log.Info().Msg("Server exiting")
	return nil
}

func migrate(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Migrate(c.Context); err != nil {
		return err
	}
	logger.Log.Info().Msg("schema is up to date")
	return nil
}
