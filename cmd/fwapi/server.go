package fwapi

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crazycatseven/Faster-whisper/internal/api/http"
	"github.com/crazycatseven/Faster-whisper/internal/conf"
	"github.com/crazycatseven/Faster-whisper/internal/transcribe"
	"github.com/crazycatseven/Faster-whisper/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func init() {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP API",
		RunE:  runServer,
	}
	addServerFlags(serverCmd)
	rootCmd.AddCommand(serverCmd)
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("addr", "a", "", "listen address, e.g. 0.0.0.0:8080")
	cmd.Flags().Int("concurrency", 0, "concurrent transcriptions per loaded model")
	cmd.Flags().Bool("no-preload", false, "start without loading the default model")
}

func runServer(cmd *cobra.Command, args []string) error {
	bindLocal(cmd, map[string]string{
		"http_addr":         "addr",
		"model.concurrency": "concurrency",
	})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noPreload, _ := cmd.Flags().GetBool("no-preload"); noPreload {
		cfg.Model.Preload = false
	}

	log.Info().
		Str("version", version.String()).
		Str("engine", cfg.Model.Engine).
		Str("model", cfg.Model.Spec().String()).
		Int("concurrency", cfg.Model.Concurrency).
		Msg("starting fwapi")

	svc, err := newTranscriber(cfg)
	if err != nil {
		return err
	}
	defer svc.Registry().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := http.NewService(cfg, svc)
	if err := server.Start(); err != nil {
		return err
	}

	if cfg.Model.Preload {
		go loadModel(ctx, svc, cfg.Model)
	} else {
		log.Info().Msg("preload disabled; waiting for /load_model")
	}

	conf.NewWatcher(v, cfg.Model).Start(func(m conf.ModelConfig) {
		go loadModel(ctx, svc, m)
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return server.Stop(shutdownTimeout)
}

func loadModel(ctx context.Context, svc *transcribe.Service, m conf.ModelConfig) {
	res, err := svc.LoadModel(ctx, m.Spec())
	if err != nil {
		log.Err(err).Str("model", m.Spec().String()).Msg("model load failed; server keeps running")
		return
	}
	log.Info().Bool("fallback", res.Fallback).Msg(res.Message)
}
