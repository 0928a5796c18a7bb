// Command orchestrator runs the capsule orchestrator RPC surface: it loads
// the configuration document, wires every component exactly once, eagerly
// builds the registered capsule images, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/config"
	"github.com/FlexNetOS/capsule-orchestrator/internal/container"
	"github.com/FlexNetOS/capsule-orchestrator/internal/executor"
	"github.com/FlexNetOS/capsule-orchestrator/internal/files"
	"github.com/FlexNetOS/capsule-orchestrator/internal/handoff"
	"github.com/FlexNetOS/capsule-orchestrator/internal/rpc"
	"github.com/FlexNetOS/capsule-orchestrator/internal/schema"
	"github.com/FlexNetOS/capsule-orchestrator/internal/state"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	configPath := getEnv("ORCHESTRATOR_CONFIG", "configs/config.yaml")

	logger.Info("starting capsule orchestrator")

	registry, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	if lvl, err := logrus.ParseLevel(registry.LogLevel()); err == nil {
		logger.SetLevel(lvl)
	}

	ctx := context.Background()

	driver, err := container.NewDockerDriver(logger)
	if err != nil {
		logger.Fatalf("failed to initialize container driver: %v", err)
	}
	if err := driver.EnsureNetwork(ctx, registry.Network()); err != nil {
		logger.Fatalf("failed to ensure docker network: %v", err)
	}

	volumes := volume.New(registry.BasePath(), logger)
	fileMgr := files.New(volumes)
	schemas := schema.New(logger)
	tracker := state.New()

	for name, entry := range registry.Capsules() {
		schemaPath := fmt.Sprintf("%s/schema.json", entry.Path)
		if err := schemas.Load(name, schemaPath); err != nil {
			logger.Warnf("failed to load schema for capsule %q: %v", name, err)
		}
	}

	exec := executor.New(registry, volumes, fileMgr, schemas, driver, tracker, logger)
	handoffHandler := handoff.New(registry, volumes, fileMgr, tracker, exec, logger)

	server := rpc.New(rpc.Deps{
		Registry: registry,
		Volumes:  volumes,
		Driver:   driver,
		Tracker:  tracker,
		Executor: exec,
		Handoff:  handoffHandler,
		Logger:   logger,
	})

	// Eagerly build every registered capsule's image; a build failure is a
	// warning, not a fatal startup error, since a capsule's image can still
	// be built lazily on first /execute.
	for name, entry := range registry.Capsules() {
		exists, err := driver.ImageExists(ctx, entry.Image)
		if err != nil {
			logger.Warnf("checking image for capsule %q: %v", name, err)
			continue
		}
		if exists {
			continue
		}
		if err := driver.Build(ctx, entry.Image, entry.Path); err != nil {
			logger.Warnf("eager build failed for capsule %q: %v", name, err)
		}
	}

	server.MarkReady()

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", registry.ServerHost(), registry.ServerPort())
	if err := server.Run(runCtx, addr); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}
