package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"globelod/internal/api"
	"globelod/pkg/cache"
	"globelod/pkg/config"
	"globelod/pkg/db"
	"globelod/pkg/db/maintenance"
	"globelod/pkg/logging"
	"globelod/pkg/loop"
	"globelod/pkg/startup"
	"globelod/pkg/request"
	"globelod/pkg/scene"
	"globelod/pkg/scene/mockscene"
	"globelod/pkg/store"
	"globelod/pkg/terrain"
	"globelod/pkg/tracker"
	"globelod/pkg/version"
	"globelod/pkg/viewer"
)

const defaultConfigPath = "configs/globelod.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("GlobeLOD started", "version", version.Version)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	overrides := config.NewProvider(appCfg, st)
	runMaintenance(ctx, appCfg, overrides, st, dbConn)

	// A stored URL overrides the file.
	appCfg.Terrain.URL = overrides.TerrainURL(ctx)

	tr := tracker.New()
	reqClient := request.New(cache.NewSQLiteCache(st), tr, request.ClientConfig{
		Retries:           appCfg.Request.Retries,
		Timeout:           appCfg.Request.Timeout.D(),
		BaseDelay:         appCfg.Request.Backoff.BaseDelay.D(),
		MaxDelay:          appCfg.Request.Backoff.MaxDelay.D(),
		RequestsPerSecond: appCfg.Request.RequestsPerSecond,
		Burst:             appCfg.Request.Burst,
		MaxResponseBytes:  int64(appCfg.Request.MaxResponseMB) << 20,
		UserAgent:         appCfg.Request.UserAgent,
	})

	if err := runChecks(ctx, appCfg, dbConn, reqClient); err != nil {
		return err
	}

	loader := terrain.NewSharedLoader(sourceLoader(appCfg, reqClient, st))
	defer func() {
		if err := loader.Close(); err != nil {
			slog.Warn("Failed to close terrain sources", "error", err)
		}
	}()

	ctl, stopLoop := startLoop(ctx)
	defer stopLoop()

	session := uuid.New().String()
	hub := api.NewEventHub(session)
	defer hub.Close()
	feed := api.NewQueryFeed()

	vp := appCfg.Scene.Viewport
	sc := mockscene.New(mockscene.Config{
		Viewport: scene.Viewport{Width: vp.Width, Height: vp.Height, FovY: vp.FovDeg * math.Pi / 180},
	})

	ctrl := viewer.New(ctx, ctl, appCfg, viewer.Deps{
		Scene:     sc,
		Loader:    loader,
		Overrides: overrides,
		Switches:  st,
		Sinks:     []viewer.StatusSink{viewer.EventLogSink{Session: session}, hub},
		Session:   session,
	})

	err = ctl.Do(ctx, func() {
		sc.SetPose(ctrl.Home())
		ctrl.Query().AddSink(hub)
		ctrl.Query().AddSink(feed)
		ctrl.Start()
		if appCfg.Scene.Flight {
			startFlight(ctl, sc, ctrl, appCfg)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start viewer: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		if err := ctl.Do(stopCtx, ctrl.Stop); err != nil {
			slog.Warn("Failed to stop viewer", "error", err)
		}
	}()

	srv := api.NewServer(appCfg.Server.Address, api.Handlers{
		Session: api.NewSessionHandler(ctl, ctrl, overrides, st),
		Stats:   api.NewStatsHandler(tr),
		Events:  hub,
		Queries: feed,
	}, cancel)
	srv.Handler = loggingMiddleware(srv.Handler)

	return runServerLifecycle(ctx, srv)
}

// startLoop runs the control loop detached from ctx, so deferred shutdown work can
// still be posted to it after ctx is cancelled. stop ends the loop and waits for its workers.
func startLoop(ctx context.Context) (ctl *loop.Loop, stop func()) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ctl = loop.New()
	go ctl.Run(loopCtx)
	return ctl, func() {
		cancel()
		ctl.Wait()
	}
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

func runMaintenance(ctx context.Context, appCfg *config.Config, overrides config.Provider, st store.StateStore, dbConn *db.DB) {
	m := appCfg.Maintenance
	err := maintenance.Run(ctx, st, dbConn, maintenance.Options{
		CacheTTL:     m.CacheTTL.D(),
		KeepSwitches: m.KeepSwitches,
		MinInterval:  overrides.MaintenanceInterval(ctx),
	})
	if err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}
}

func runChecks(ctx context.Context, appCfg *config.Config, dbConn *db.DB, f startup.Fetcher) error {
	checks := []startup.Check{
		startup.Config(appCfg.Validate),
		startup.Database(dbConn),
	}
	if appCfg.Terrain.Check && appCfg.Terrain.URL != "" {
		checks = append(checks, startup.TerrainSource(appCfg.Terrain.URL, f))
	}

	results := startup.Run(ctx, checks)
	if err := startup.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}
	return nil
}

// sourceLoader opens http(s) sources through the request client and anything else as a local grid.
func sourceLoader(appCfg *config.Config, client *request.Client, st store.CacheStore) terrain.Loader {
	httpLoader := &terrain.HTTPLoader{Client: client, Cache: cache.NewSQLiteCache(st)}
	fileLoader := terrain.FileLoader{Rows: appCfg.Terrain.GridRows, Cols: appCfg.Terrain.GridCols}

	return terrain.LoaderFunc(func(ctx context.Context, url string) (terrain.Handle, error) {
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			return httpLoader.Load(ctx, url)
		}
		return fileLoader.Load(ctx, url)
	})
}

// startFlight replays the demo camera script on the control goroutine.
func startFlight(ctl loop.Scheduler, sc *mockscene.Scene, ctrl *viewer.Controller, appCfg *config.Config) {
	flight := mockscene.NewFlight(sc, mockscene.DefaultScript(), appCfg.Scene.FlightLoop)
	flight.Guard = ctrl.AllowZoom

	rate := appCfg.Scene.TickRate.D()
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	slog.Info("Camera flight started", "tick", rate, "loop", appCfg.Scene.FlightLoop)

	var tick func()
	tick = func() {
		if flight.Tick(rate.Seconds()) {
			ctrl.OnCameraChanged()
		}
		if flight.Done() {
			slog.Info("Camera flight finished")
			return
		}
		ctl.AfterFunc(rate, tick)
	}
	ctl.AfterFunc(rate, tick)
}

func runServerLifecycle(ctx context.Context, srv *http.Server) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...", "reason", context.Cause(ctx))
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
