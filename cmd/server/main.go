package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"pairchat/internal/api"
	"pairchat/internal/auth"
	"pairchat/internal/chat"
	"pairchat/internal/config"
	"pairchat/internal/db"
	"pairchat/internal/db/mongo"
	"pairchat/internal/logging"
	"pairchat/internal/presence"
	"pairchat/internal/supervisor"
	"pairchat/internal/websocket"
)

// store is what every persistence backend provides.
type store interface {
	chat.UserDirectory
	chat.ConversationStore
	chat.MessageStore
	api.Accounts
}

// Compile-time checks that each backend satisfies store.
var (
	_ store = (*db.DB)(nil)
	_ store = (*mongo.Store)(nil)
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})
	logger := logging.WithComponent("server")

	if *isLoadTest {
		if err := useLoadTestDatabase(cfg); err != nil {
			logger.Fatal().Err(err).Msg("Failed to prepare load test database")
		}
		cfg.RateLimit.Disabled = true
	}

	logger.Info().
		Str("address", cfg.Server.Address).
		Str("environment", cfg.Server.Environment).
		Str("driver", cfg.Database.Driver).
		Msg("Starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer closeStore()
	logger.Info().Msg("Database connection established")

	registry := presence.NewRegistry[*websocket.Client]()
	hub := websocket.NewHub(registry)

	authn := auth.NewAuthenticator(
		auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		st,
		cfg.Auth.CookieName,
		cfg.Auth.SecureCookie,
	)
	service := chat.NewService(st, st, st)
	handlers := api.NewHandlers(service, st, authn, hub, cfg.Server.AllowedOrigins, cfg.IsDevelopment())

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.NewRouter(handlers, cfg),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddRealtimeService(hub)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	logger.Info().Str("address", cfg.Server.Address).Msg("Listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Supervisor stopped with error")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logger.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		database, err := db.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return database, func() { database.Close() }, nil

	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := mongo.Open(connectCtx, cfg.Database.URL, cfg.Database.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			st.Close(closeCtx)
		}, nil

	default:
		database, err := db.NewDB(cfg.CleanDatabasePath())
		if err != nil {
			return nil, nil, err
		}
		return database, func() { database.Close() }, nil
	}
}

// useLoadTestDatabase points a sqlite configuration at ./loadtest/loadtest.db
// so load runs never touch real data.
func useLoadTestDatabase(cfg *config.Config) error {
	if cfg.Database.Driver != config.DriverSQLite {
		return nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	dir := filepath.Join(cwd, "loadtest")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "loadtest.db")
	cfg.UpdateDatabasePath(path)
	logging.Info().Str("path", path).Msg("Using load testing database")
	return nil
}
