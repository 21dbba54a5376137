/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// transcribe-cli runs one audio file through the engine manager and prints
// the transcript, useful for smoke-testing an install without the desktop
// shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/murmurlabs/murmur-engine/internal/audio"
	"github.com/murmurlabs/murmur-engine/internal/config"
	"github.com/murmurlabs/murmur-engine/internal/engine"
	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/scratch"
	"github.com/murmurlabs/murmur-engine/internal/settings"
)

func main() {
	var (
		filePath = flag.String("file", "", "audio file to transcribe")
		model    = flag.String("model", "", "model id override")
		language = flag.String("language", "", "language hint")
	)
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: transcribe-cli -file audio.wav [-model id] [-language en]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	if err := logging.Initialize(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	audioBytes, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("Cannot read audio file: %v", err)
	}

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

	manager := engine.NewManager(
		engine.ManagerConfig{DefaultModel: cfg.Remote.DefaultModel},
		remote, local,
		audio.NewConverter(cfg.Audio.FFmpegPath, cfg.Audio.ConvertTimeout),
		scratch.NewDir(cfg.Audio.ScratchDir),
		nil, nil,
	)

	ctx := context.Background()
	manager.Initialize(ctx)

	if *model != "" {
		if err := manager.SwitchModel(ctx, *model); err != nil {
			log.Fatalf("Model switch failed: %v", err)
		}
	}

	result, err := manager.ProcessAudio(ctx, audioBytes, engine.Options{
		Model:    *model,
		Language: *language,
	})
	if err != nil {
		log.Fatalf("Transcription setup failed: %v", err)
	}

	if !result.Success {
		fmt.Fprintf(os.Stderr, "transcription failed (%s/%s): %s\n",
			result.Engine, result.Model, result.Error)
		os.Exit(1)
	}

	fmt.Println(result.Text)
}
