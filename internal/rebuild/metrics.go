// SPDX-License-Identifier: MIT

package rebuild

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "wavebox_cache_build_duration_seconds",
	Help:    "Duration of full cache builds in seconds",
	Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 10),
})

func observeBuild(d time.Duration) {
	buildDuration.Observe(d.Seconds())
}
