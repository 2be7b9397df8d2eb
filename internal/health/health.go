// Package health exposes liveness, readiness and component health over HTTP
// for the orchestrator probing the bot.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/meshtrace/pathprobe/internal/logging"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker reports the health of one component.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler aggregates component checkers behind /health, /ready and /live.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	logger   *logging.Logger
	ready    bool
}

func NewHandler(logger *logging.Logger) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		logger:   logger,
	}
}

func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

func (h *Handler) SetMetadata(key, value string) {
	h.mu.Lock()
	h.metadata[key] = value
	h.mu.Unlock()
}

func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	metadata := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		metadata[k] = v
	}
	h.mu.RUnlock()

	resp := Response{Timestamp: time.Now(), Checks: []Check{}, Metadata: metadata}
	resp.Status = StatusHealthy
	for name, checker := range checkers {
		c := checker.Check(ctx)
		c.Name = name
		resp.Checks = append(resp.Checks, c)
		if c.Status == StatusUnhealthy {
			resp.Status = StatusUnhealthy
		} else if c.Status == StatusDegraded && resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": ready, "timestamp": time.Now()})
}

func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true, "timestamp": time.Now()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// RedisChecker pings whichever Redis backs the repeater store or queue.
type RedisChecker struct {
	ping func(ctx context.Context) error
}

func NewRedisChecker(ping func(ctx context.Context) error) *RedisChecker {
	return &RedisChecker{ping: ping}
}

func (c *RedisChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.ping == nil {
		return Check{Status: StatusHealthy, Message: "redis not configured", LastChecked: start}
	}
	err := c.ping(ctx)
	check := Check{Status: StatusHealthy, Message: "redis ok",
		LastChecked: time.Now(), Duration: time.Since(start) / time.Millisecond}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = "redis: " + err.Error()
	}
	return check
}

// PipelineChecker watches frame throughput: a mesh that has gone completely
// silent usually means the radio gateway feed is down, not that the mesh is.
type PipelineChecker struct {
	lastFrame  func() time.Time
	silenceMax time.Duration
}

func NewPipelineChecker(lastFrame func() time.Time, silenceMax time.Duration) *PipelineChecker {
	if silenceMax <= 0 {
		silenceMax = 10 * time.Minute
	}
	return &PipelineChecker{lastFrame: lastFrame, silenceMax: silenceMax}
}

func (c *PipelineChecker) Check(ctx context.Context) Check {
	now := time.Now()
	last := c.lastFrame()
	if last.IsZero() {
		return Check{Status: StatusHealthy, Message: "no frames yet", LastChecked: now}
	}
	if gap := now.Sub(last); gap > c.silenceMax {
		return Check{Status: StatusDegraded,
			Message: "no frames for " + gap.Truncate(time.Second).String(), LastChecked: now}
	}
	return Check{Status: StatusHealthy, Message: "frames flowing", LastChecked: now}
}
