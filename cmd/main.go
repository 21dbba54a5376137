/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/murmurlabs/murmur-engine/internal/audio"
	"github.com/murmurlabs/murmur-engine/internal/config"
	"github.com/murmurlabs/murmur-engine/internal/engine"
	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/messaging"
	"github.com/murmurlabs/murmur-engine/internal/scratch"
	"github.com/murmurlabs/murmur-engine/internal/server"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"github.com/murmurlabs/murmur-engine/internal/storage"
)

func main() {
	// Local development overrides; absence is fine.
	_ = godotenv.Load()

	if err := logging.Initialize(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		logging.LogError(err, "Invalid configuration")
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
	if err != nil {
		logging.LogError(err, "Failed to open database")
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	store := settings.NewStore(cfg.Storage.SettingsDir)

	remote := engine.NewRemoteAdapter(store,
		settings.RemoteSettings{
			EndpointURL:   cfg.Remote.URL,
			APIKey:        cfg.Remote.APIKey,
			SelectedModel: cfg.Remote.DefaultModel,
		},
		engine.RemoteTimeouts{
			Health:     cfg.Remote.HealthTimeout,
			Transcribe: cfg.Remote.TranscribeTimeout,
			Switch:     cfg.Remote.SwitchTimeout,
		})

	local := engine.NewLocalAdapter(engine.LocalConfig{
		BinaryName: cfg.Local.BinaryName,
		InstallDir: cfg.Local.InstallDir,
		BundleDir:  cfg.Local.BundleDir,
		ModelDir:   cfg.Local.ModelDir,
		Provider:   cfg.Local.Provider,
		NumThreads: cfg.Local.NumThreads,
		Timeout:    cfg.Local.Timeout,
	}, store)

	converter := audio.NewConverter(cfg.Audio.FFmpegPath, cfg.Audio.ConvertTimeout)
	scratchDir := scratch.NewDir(cfg.Audio.ScratchDir)
	transcriptions := storage.NewTranscriptionsStore(db)

	var publisher engine.Publisher
	if cfg.NATS.Enabled {
		nats := messaging.NewNATSService(messaging.Config{
			URL:           cfg.NATS.URL,
			MaxReconnect:  cfg.NATS.MaxReconnect,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err := nats.Connect(); err != nil {
			logging.LogError(err, "NATS unavailable, continuing without events")
		} else {
			defer nats.Close()
			publisher = nats
		}
	}

	manager := engine.NewManager(
		engine.ManagerConfig{DefaultModel: cfg.Remote.DefaultModel},
		remote, local, converter, scratchDir, transcriptions, publisher,
	)
	manager.Initialize(context.Background())

	srv := server.New(cfg, manager, transcriptions)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logging.Sugar.Infow("Shutting down")
		if err := srv.Stop(); err != nil {
			logging.LogError(err, "Shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		logging.LogError(err, "Failed to start server")
		log.Fatalf("Failed to start server: %v", err)
	}
}
