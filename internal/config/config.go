// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration from the
// environment. Precedence is ENV > defaults; there is no config file.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults mirror the shipped deployment layout.
const (
	DefaultListen         = ":8080"
	DefaultMediaRoot      = "static/sounds"
	DefaultCacheDir       = "_cache"
	DefaultRecordingsRoot = "data/recorded"
	DefaultAllowedExts    = ".mp3,.wav,.ogg,.m4a,.flac,.aac"
	DefaultCacheTTL       = 12 * time.Hour
	DefaultWatchInterval  = 5 * time.Minute
	DefaultBitrate        = "96k"
	DefaultSampleRate     = 48000
	DefaultUploadBitrate  = "192k"
	DefaultUploadRate     = 44100
	DefaultMaxTranscodes  = 4
)

// Config holds the full daemon configuration.
type Config struct {
	Listen         string // HTTP listen address
	MediaRoot      string // root of the shipped audio assets
	CacheDir       string // disk cache directory for JSON snapshots
	RecordingsRoot string // root of community-submitted recordings

	AllowedExts   []string      // extension allow-list, lower-case with dot
	CacheTTL      time.Duration // disk cache entry time-to-live
	WatchInterval time.Duration // media change watcher interval

	FFmpegBin        string // transcoder binary, resolved via PATH when bare
	TranscodeBitrate string // streaming transcode bitrate
	SampleRate       int    // streaming resample rate in Hz
	UploadBitrate    string // upload conversion bitrate
	UploadSampleRate int    // upload conversion sample rate in Hz
	MaxTranscodes    int    // concurrent transcode process cap

	TranscodeCacheDir string // artifact cache dir; empty disables the cache

	OwnerToken string // bearer token for privileged endpoints
	LogLevel   string
}

// FromEnv builds a Config from WAVEBOX_* environment variables.
func FromEnv() Config {
	return Config{
		Listen:            ParseString("WAVEBOX_LISTEN", DefaultListen),
		MediaRoot:         ParseString("WAVEBOX_MEDIA_ROOT", DefaultMediaRoot),
		CacheDir:          ParseString("WAVEBOX_CACHE_DIR", DefaultCacheDir),
		RecordingsRoot:    ParseString("WAVEBOX_RECORDINGS_ROOT", DefaultRecordingsRoot),
		AllowedExts:       splitExts(ParseString("WAVEBOX_ALLOWED_EXTS", DefaultAllowedExts)),
		CacheTTL:          ParseDuration("WAVEBOX_CACHE_TTL", DefaultCacheTTL),
		WatchInterval:     ParseDuration("WAVEBOX_WATCH_INTERVAL", DefaultWatchInterval),
		FFmpegBin:         ParseString("WAVEBOX_FFMPEG", "ffmpeg"),
		TranscodeBitrate:  ParseString("WAVEBOX_BITRATE", DefaultBitrate),
		SampleRate:        ParseInt("WAVEBOX_SAMPLE_RATE", DefaultSampleRate),
		UploadBitrate:     ParseString("WAVEBOX_UPLOAD_BITRATE", DefaultUploadBitrate),
		UploadSampleRate:  ParseInt("WAVEBOX_UPLOAD_SAMPLE_RATE", DefaultUploadRate),
		MaxTranscodes:     ParseInt("WAVEBOX_MAX_TRANSCODES", DefaultMaxTranscodes),
		TranscodeCacheDir: ParseString("WAVEBOX_TRANSCODE_CACHE", ""),
		OwnerToken:        ParseString("WAVEBOX_OWNER_TOKEN", ""),
		LogLevel:          ParseString("WAVEBOX_LOG_LEVEL", "info"),
	}
}

// Validate checks the configuration for fatal inconsistencies.
func (c Config) Validate() error {
	if strings.TrimSpace(c.MediaRoot) == "" {
		return fmt.Errorf("media root must not be empty")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("cache dir must not be empty")
	}
	if strings.TrimSpace(c.RecordingsRoot) == "" {
		return fmt.Errorf("recordings root must not be empty")
	}
	if len(c.AllowedExts) == 0 {
		return fmt.Errorf("extension allow-list must not be empty")
	}
	for _, ext := range c.AllowedExts {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("allowed extension %q must start with a dot", ext)
		}
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", c.WatchInterval)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MaxTranscodes <= 0 {
		return fmt.Errorf("max transcodes must be positive, got %d", c.MaxTranscodes)
	}
	return nil
}

func splitExts(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		ext := strings.ToLower(strings.TrimSpace(p))
		if ext == "" {
			continue
		}
		out = append(out, ext)
	}
	return out
}
