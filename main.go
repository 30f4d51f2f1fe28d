package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/go-redis/redis/v8"
	"github.com/serroba/docsync/internal/api"
	"github.com/serroba/docsync/internal/collab"
	"github.com/serroba/docsync/internal/config"
	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/logging"
	"github.com/serroba/docsync/internal/storage"
	"github.com/serroba/docsync/internal/transport"
	"go.uber.org/zap"
)

const version = "0.1.0"

const usage = `Document sync agent.

Keeps a set of CRDT documents in sync with a remote over a websocket and
persists them locally. Settings come from DOCSYNC_* environment variables
and .env; flags override them.

Usage:
    docsync run [--env=<file>] [--url=<url>] [--state=<path>] [--actor=<id>] [--http=<addr>]
    docsync inspect [--env=<file>] [--state=<path>]
    docsync -h | --help
    docsync --version

Options:
    -h --help        Show this screen.
    --version        Show version.
    --env=<file>     Read settings from this .env file.
    --url=<url>      Remote websocket URL.
    --state=<path>   State file for the file backend.
    --actor=<id>     Actor ID for local edits.
    --http=<addr>    Control API listen address.`

const saveTimeout = 5 * time.Second

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if inspect, _ := opts.Bool("inspect"); inspect {
		err = runInspect(ctx, cfg)
	} else {
		err = runAgent(ctx, cfg, logger)
	}

	if err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(opts docopt.Opts) (*config.Config, error) {
	flag := func(name string) string {
		v, _ := opts.String(name)

		return v
	}

	overrides := map[string]string{
		"DOCSYNC_URL":        flag("--url"),
		"DOCSYNC_STATE_PATH": flag("--state"),
		"DOCSYNC_ACTOR_ID":   flag("--actor"),
		"DOCSYNC_HTTP_ADDR":  flag("--http"),
	}

	// inspect never dials, so any URL satisfies validation.
	if inspect, _ := opts.Bool("inspect"); inspect && overrides["DOCSYNC_URL"] == "" {
		overrides["DOCSYNC_URL"] = "ws://unused"
	}

	var files []string
	if env := flag("--env"); env != "" {
		files = append(files, env)
	}

	return config.Load(overrides, files...)
}

// openTarget returns the persistence target for cfg and a function that
// releases it.
func openTarget(ctx context.Context, cfg *config.Config) (storage.Target, func(), error) {
	switch cfg.StateBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()

			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}

		target := storage.NewRedisTarget(storage.RedisTargetConfig{Client: client, Key: cfg.RedisKey})

		return target, func() { _ = client.Close() }, nil
	case config.BackendMemory:
		return storage.NewMemoryTarget(), func() {}, nil
	default:
		return storage.NewFileTarget(cfg.StatePath), func() {}, nil
	}
}

func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	target, release, err := openTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	saved, err := target.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	engine := crdt.NewMapEngine(cfg.ActorID)

	socket, err := transport.New(transport.Config{
		URL: cfg.URL,
		Settings: transport.Settings{
			ReconnectDelay: cfg.ReconnectDelay,
		},
		Logger: logger.Named("transport"),
	})
	if err != nil {
		return err
	}

	client, err := collab.NewClient(collab.ClientConfig{
		Socket:    socket,
		Engine:    engine,
		SavedData: saved,
		Save: func(data []byte) error {
			saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()

			return target.Save(saveCtx, data)
		},
		Handlers: logHandlers(logger.Named("events")),
		Logger:   logger.Named("client"),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("agent started",
		zap.String("url", cfg.URL),
		zap.String("actor", engine.Actor()),
		zap.Int("documents", len(client.IDs())),
		zap.String("state_backend", string(cfg.StateBackend)),
	)

	var httpServer *http.Server

	if cfg.HTTPAddr != "" {
		server := api.NewServer(api.ServerConfig{Agent: client, Logger: logger.Named("api")})
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("control API listening", zap.String("addr", cfg.HTTPAddr))

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("control API", zap.Error(err))
			}
		}()
	}

	err = socket.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func logHandlers(logger *zap.Logger) collab.Handlers {
	return collab.Handlers{
		OnChange: func(id string, doc crdt.Document) {
			logger.Info("document changed", zap.String("doc", id), zap.Stringer("clock", doc.Clock()))
		},
		OnError: func(n collab.ErrorNotice) {
			logger.Warn("sync error", zap.String("source", string(n.Source)), zap.String("message", n.Message))
		},
		OnSubscribed: func(n collab.Subscribed) {
			logger.Info("subscribed", zap.Strings("ids", n.IDs))
		},
		OnData: func(n collab.DataReceived) {
			logger.Debug("sync data", zap.Int("bytes", len(n.Payload)))
		},
	}
}

// runInspect prints the persisted documents as JSON.
func runInspect(ctx context.Context, cfg *config.Config) error {
	target, release, err := openTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	saved, err := target.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	docs, err := storage.DeserializeAll(crdt.NewMapEngine(cfg.ActorID), saved)
	if err != nil {
		return err
	}

	type view struct {
		ID     string            `json:"id"`
		Clock  string            `json:"clock"`
		Values map[string]string `json:"values"`
	}

	views := make([]view, 0, docs.Len())

	for _, id := range docs.IDs() {
		doc, _ := docs.Get(id)
		v := view{ID: id, Clock: doc.Clock().String(), Values: map[string]string{}}

		for _, key := range doc.Keys() {
			v.Values[key], _ = doc.Get(key)
		}

		views = append(views, v)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(views)
}
