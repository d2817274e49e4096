// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wavebox/wavebox/internal/api"
	"github.com/wavebox/wavebox/internal/config"
	"github.com/wavebox/wavebox/internal/diskcache"
	"github.com/wavebox/wavebox/internal/library"
	wblog "github.com/wavebox/wavebox/internal/log"
	"github.com/wavebox/wavebox/internal/rebuild"
	"github.com/wavebox/wavebox/internal/transcode"
	"github.com/wavebox/wavebox/internal/uploads"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// mp3Converter adapts the transcoder to the upload store's converter
// interface with the upload encoding parameters baked in.
type mp3Converter struct {
	tc         *transcode.Transcoder
	bitrate    string
	sampleRate int
}

func (c mp3Converter) ConvertToMP3(ctx context.Context, src, dst string) error {
	return c.tc.ConvertToMP3(ctx, src, dst, c.bitrate, c.sampleRate)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	wblog.Configure(wblog.Config{
		Level:   cfg.LogLevel,
		Service: "wavebox",
		Version: version,
	})
	logger := wblog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.MediaRoot, cfg.CacheDir, cfg.RecordingsRoot} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Fatal().Err(err).
				Str("event", "startup.mkdir_failed").
				Str("dir", dir).
				Msg("failed to create directory")
		}
	}

	cache, err := diskcache.New(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "startup.cache_failed").
			Msg("failed to initialize disk cache")
	}

	var artifacts *transcode.ArtifactCache
	if cfg.TranscodeCacheDir != "" {
		artifacts, err = transcode.OpenArtifactCache(cfg.TranscodeCacheDir)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "startup.artifact_cache_failed").
				Msg("transcode cache unavailable, continuing without it")
			artifacts = nil
		}
	}

	tc := transcode.New(cfg.FFmpegBin, int64(cfg.MaxTranscodes), artifacts)
	defer func() {
		if err := tc.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close transcode cache")
		}
	}()
	if !tc.Available() {
		logger.Warn().
			Str("event", "startup.transcoder_missing").
			Str("bin", cfg.FFmpegBin).
			Msg("transcoder not found, streams will be served directly")
	}

	scanner := library.NewScanner(cfg.MediaRoot, cfg.AllowedExts)
	builder := rebuild.New(scanner, cache, cfg.WatchInterval)

	store, err := uploads.NewStore(cfg.RecordingsRoot, mp3Converter{
		tc:         tc,
		bitrate:    cfg.UploadBitrate,
		sampleRate: cfg.UploadSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "startup.uploads_failed").
			Msg("failed to initialize upload store")
	}

	builder.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(cfg, scanner, cache, builder, store, tc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.Listen).
		Str("media_root", cfg.MediaRoot).
		Str("recordings_root", cfg.RecordingsRoot).
		Msg("starting wavebox")
	if cfg.OwnerToken == "" {
		logger.Warn().
			Str("security", "weak").
			Msg("owner token not configured, accept/reject endpoints disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).
				Str("event", "server.failed").
				Msg("HTTP server failed")
		}
	case <-ctx.Done():
		logger.Info().
			Str("event", "shutdown").
			Msg("signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).
				Str("event", "shutdown.failed").
				Msg("graceful shutdown failed")
		}
	}
}
