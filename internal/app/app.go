// Package app provides application-level wiring and dependency injection
// for the queryplane control plane.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"queryplane/internal/api"
	"queryplane/internal/config"
	"queryplane/internal/coord"
	"queryplane/internal/db/repository"
	"queryplane/internal/domain"
	"queryplane/internal/engine"
	"queryplane/internal/jobs"
	"queryplane/internal/results"
)

// Deps holds the external dependencies that main() must provide: config,
// the SQLite pool pair (migrated), and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Jobs         *jobs.Service
	Results      *results.Store
	Sweeper      *jobs.Sweeper
	Tunnels      *coord.TunnelCreator
	TunnelServer *coord.Server
	Handler      http.Handler

	logger *slog.Logger
}

// portOf extracts the port of a listen address like ":9480" or "host:9480".
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// New wires repositories, the results store, the local engine, the tunnel,
// the job registry, the sweeper, and the HTTP surface.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg

	jobRepo := repository.NewJobRepo(deps.WriteDB)
	profileRepo := repository.NewProfileRepo(deps.WriteDB)
	spaceRepo := repository.NewSpaceRepo(deps.ReadDB)

	resultsStore, err := results.Open(cfg.ResultsDBPath, cfg.ResultsStorageName, deps.Logger)
	if err != nil {
		return nil, err
	}

	identity := domain.NodeEndpoint{
		Address:    cfg.NodeAddress,
		FabricPort: portOf(cfg.GRPCAddr),
	}

	localEngine := engine.NewLocal(resultsStore.DB(), resultsStore, identity, deps.Logger)
	tunnels := coord.NewTunnelCreator()

	jobSvc := jobs.NewService(ctx, jobs.Deps{
		Store:    jobRepo,
		Profiles: profileRepo,
		Results:  resultsStore,
		Spaces:   spaceRepo,
		Engine:   localEngine,
		Foreman:  localEngine,
		Tunnels:  tunnels,
		Identity: identity,
		Logger:   deps.Logger,
	})

	sweeper := jobs.NewSweeper(jobRepo, resultsStore, func() (int, int64) {
		return cfg.ResultsMaxAgeDays, cfg.ResultsMaxAgeMillis
	}, deps.Logger)

	tunnelSvc := coord.NewTunnelService(localEngine, profileRepo, deps.Logger)
	tunnelSrv := coord.NewServer(cfg.GRPCAddr, tunnelSvc, deps.Logger)

	handler := api.NewRouter(api.NewHandler(jobSvc, deps.Logger), api.RouterConfig{
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &App{
		Jobs:         jobSvc,
		Results:      resultsStore,
		Sweeper:      sweeper,
		Tunnels:      tunnels,
		TunnelServer: tunnelSrv,
		Handler:      handler,
		logger:       deps.Logger,
	}, nil
}

// Start brings up the background pieces: the tunnel listener and the
// retention sweeper.
func (a *App) Start() error {
	if err := a.TunnelServer.Start(); err != nil {
		return err
	}
	a.Sweeper.Start()
	return nil
}

// Shutdown stops background work and closes owned resources in dependency
// order: sweeper, tunnel, results store, then the registry's allocator.
func (a *App) Shutdown(ctx context.Context) {
	a.Sweeper.Stop()
	if err := a.TunnelServer.Shutdown(ctx); err != nil {
		a.logger.Warn("tunnel shutdown", "error", err)
	}
	if err := a.Tunnels.Close(); err != nil {
		a.logger.Warn("close peer connections", "error", err)
	}
	if err := a.Results.Close(); err != nil {
		a.logger.Warn("close results store", "error", err)
	}
	a.Jobs.Close()
}
