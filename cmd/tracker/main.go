// Package main provides the tracker binary: it loads a rules bundle, runs
// the logic engine, and optionally connects to a multiworld server.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/config"
	"github.com/cory-johannsen/multitracker/internal/engine"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/observability"
	"github.com/cory-johannsen/multitracker/internal/scripting"
	"github.com/cory-johannsen/multitracker/internal/server"
	"github.com/cory-johannsen/multitracker/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/tracker.yaml", "path to configuration file")
	bundlePath := flag.String("bundle", "", "path to rules bundle JSON (required)")
	flag.Parse()

	if *bundlePath == "" {
		log.Fatal("missing required -bundle flag")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	var opts []engine.Option
	if cfg.Scripts.Manifest != "" {
		scripts := scripting.NewManager(logger)
		if err := scripts.LoadFromManifest(cfg.Scripts.Manifest); err != nil {
			logger.Fatal("loading helper scripts", zap.Error(err))
		}
		defer scripts.Close()
		opts = append(opts, engine.WithScripting(scripts))
	}

	eng := engine.New(engine.Config{MailboxSize: cfg.Engine.MailboxSize}, logger, opts...)

	lc := server.NewLifecycle(logger)
	lc.Add("engine", eng)
	lc.Add("loader", server.ServiceFunc(func(ctx context.Context) error {
		if err := loadBundle(ctx, eng, *bundlePath, logger); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}))
	if cfg.Session.URL != "" {
		client := session.NewClient(session.Config{
			URL:          cfg.Session.URL,
			Slot:         cfg.Session.Slot,
			Password:     cfg.Session.Password,
			DialTimeout:  cfg.Session.DialTimeout,
			ReconnectMin: cfg.Session.ReconnectMin,
			ReconnectMax: cfg.Session.ReconnectMax,
			FlushTimeout: cfg.Engine.FlushTimeout,
		}, eng, logger)
		lc.Add("session", client)
	}

	if err := lc.Run(context.Background()); err != nil {
		logger.Fatal("tracker terminated", zap.Error(err))
	}
	logger.Info("tracker shut down")
}

// loadBundle parses the rules bundle, installs it into the engine, and logs
// a summary of the loaded worlds.
func loadBundle(ctx context.Context, eng *engine.Engine, path string, logger *zap.Logger) error {
	start := time.Now()

	bundle, err := world.LoadBundleFile(path)
	if err != nil {
		return err
	}
	if err := eng.LoadRules(ctx, bundle); err != nil {
		return err
	}

	sd, err := eng.StaticData(ctx, "")
	if err != nil {
		return err
	}
	logger.Info("rules bundle loaded",
		zap.String("path", path),
		zap.String("local_player", bundle.LocalPlayer),
		zap.String("game", sd.Game),
		zap.Int("players", len(bundle.Players)),
		zap.Int("regions", sd.RegionCount()),
		zap.Int("locations", sd.LocationCount()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
