// Command gateway is the Bootstrap entry point described in spec.md §2:
// it reads configuration, constructs every singleton in dependency
// order, starts each server/actor in its own goroutine, and blocks on a
// shutdown signal before draining in reverse order.
//
// Shape grounded on the teacher's cmd/main.go (sequential singleton
// construction, servers started in goroutines, signal.Notify on
// SIGINT/SIGTERM, logged graceful shutdown), trimmed to this domain's
// four servers and two background actors.
package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webthingsio/gateway/internal/addon"
	"github.com/webthingsio/gateway/internal/auth"
	"github.com/webthingsio/gateway/internal/config"
	"github.com/webthingsio/gateway/internal/demux"
	"github.com/webthingsio/gateway/internal/fanout"
	"github.com/webthingsio/gateway/internal/ipc"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/repository"
	"github.com/webthingsio/gateway/internal/restapi"
	"github.com/webthingsio/gateway/internal/supervisor"

	"github.com/rs/zerolog"
)

// gatewayVersion is the build's semver, reported to add-ons in
// PluginRegisterResponse (spec.md §4.3).
const gatewayVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Bootstrap()

	repo, err := repository.Open(cfg.Paths.DBPath())
	if err != nil {
		log.Fatal().Err(err).Msg("open repository")
	}
	defer repo.Close()

	cache := repository.WithCache(repo, repository.CacheConfig{
		Enabled: cfg.CacheAddr != "",
		Addr:    cfg.CacheAddr,
		DB:      cfg.CacheDB,
	})

	var natsSink *fanout.NATSSink
	var natsPublisher fanout.NATSPublisher
	if cfg.NATSURL != "" {
		natsSink, err = fanout.DialNATS(cfg.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, continuing without secondary fan-out sink")
		} else {
			natsPublisher = natsSink
			defer natsSink.Close()
		}
	}

	hub := fanout.NewHub(natsPublisher)
	go hub.Run()

	fanoutServer := fanout.NewServer(cfg.Ports.WebSocket, hub)
	go mustServe(log, "fan-out", fanoutServer.ListenAndServe)
	defer fanoutServer.Close()

	super := supervisor.New(nil)
	manager := addon.New(cache, super, cfg.Paths)
	go manager.Run()

	ipcListener := ipc.NewListener(cfg.Ports.IPC, gatewayVersion, cfg.Paths, hub, manager)
	go mustServe(log, "ipc", ipcListener.ListenAndServe)
	defer ipcListener.Close()

	secretKey := mustRandomSecret()
	authManager := auth.NewManager(cache, secretKey)

	restServer := restapi.NewServer(cfg.Ports.HTTP, cache, manager, authManager)
	go mustServe(log, "rest", restServer.ListenAndServe)
	defer restServer.Close()

	demultiplexer, err := demux.New(cfg.Ports.API, cfg.Ports.HTTP, cfg.Ports.WebSocket)
	if err != nil {
		log.Fatal().Err(err).Msg("bind demultiplexer")
	}
	go mustServe(log, "demux", demultiplexer.Serve)
	defer demultiplexer.Close()

	ctx, cancelHousekeeping := context.WithCancel(context.Background())
	defer cancelHousekeeping()
	housekeeping := manager.StartHousekeeping(ctx)
	defer housekeeping.Stop()

	if err := manager.LoadAll(context.Background(), cfg.Paths.Addons); err != nil {
		log.Error().Err(err).Msg("loadAll reported failures")
	}

	log.Info().
		Int("api", cfg.Ports.API).
		Int("http", cfg.Ports.HTTP).
		Int("websocket", cfg.Ports.WebSocket).
		Int("ipc", cfg.Ports.IPC).
		Msg("gateway started")

	waitForShutdown(log)
}

func mustServe(log *zerolog.Logger, name string, serve func() error) {
	if err := serve(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("server", name).Msg("server stopped unexpectedly")
	}
}

func waitForShutdown(log *zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	time.Sleep(200 * time.Millisecond) // let in-flight log-forwarding goroutines flush
}

func mustRandomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logger.Bootstrap().Fatal().Err(err).Msg("generate jwt secret")
	}
	return b
}
