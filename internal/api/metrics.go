// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavebox_cache_hits_total",
		Help: "Disk cache hits by endpoint",
	}, []string{"endpoint"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavebox_cache_misses_total",
		Help: "Disk cache misses by endpoint",
	}, []string{"endpoint"})

	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavebox_file_requests_denied_total",
		Help: "Number of media requests denied for security reasons",
	}, []string{"reason"})

	transcodesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavebox_transcodes_started_total",
		Help: "Number of transcode streams started",
	})

	transcodeFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavebox_transcode_fallbacks_total",
		Help: "Number of stream requests served directly because the transcoder was unavailable",
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavebox_uploads_total",
		Help: "Upload submissions by outcome",
	}, []string{"outcome"})
)

func recordCacheHit(endpoint string)     { cacheHitsTotal.WithLabelValues(endpoint).Inc() }
func recordCacheMiss(endpoint string)    { cacheMissesTotal.WithLabelValues(endpoint).Inc() }
func recordFileDenied(reason string)     { fileRequestsDeniedTotal.WithLabelValues(reason).Inc() }
func recordTranscodeStarted()            { transcodesStartedTotal.Inc() }
func recordTranscodeFallback()           { transcodeFallbacksTotal.Inc() }
func recordUploadOutcome(outcome string) { uploadsTotal.WithLabelValues(outcome).Inc() }
