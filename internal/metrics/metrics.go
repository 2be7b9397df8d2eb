package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meshtrace/pathprobe/internal/health"
)

var (
	FramesTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pathprobe_frames_total", Help: "frames processed by parse status"}, []string{"status"})
	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pathprobe_resolutions_total", Help: "node identifier resolutions by outcome"}, []string{"outcome"})
	WindowsOpened    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pathprobe_correlation_windows_total", Help: "correlation windows opened"})
	PathsCollected   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pathprobe_correlation_paths_total", Help: "distinct paths collected by correlation windows"})
	HashMismatches   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pathprobe_hash_mismatch_total", Help: "frames observed during a window with a non-matching identity"})
	DuplicateFrames  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pathprobe_duplicate_frames_total", Help: "retransmissions suppressed by identity dedup"})
)

func init() {
	prometheus.MustRegister(FramesTotal, ResolutionsTotal, WindowsOpened, PathsCollected, HashMismatches, DuplicateFrames)
}

func Serve(addr string, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthHandler.HealthHandler)
	http.HandleFunc("/ready", healthHandler.ReadinessHandler)
	http.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}
