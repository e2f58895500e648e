package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/breaker"
)

type HealthHandler struct {
	started  time.Time
	breakers BreakerSource
}

func NewHealthHandler(breakers BreakerSource) *HealthHandler {
	return &HealthHandler{started: time.Now(), breakers: breakers}
}

func (h *HealthHandler) RegisterRoutes(engine *ginext.Engine) {
	engine.GET("/health", h.Health)
}

// Health GET /health. Open breakers degrade the status but never fail the health check:
// the local guarantee keeps serving.
func (h *HealthHandler) Health(c *ginext.Context) {
	status := "ok"
	open := 0
	if h.breakers != nil {
		for _, b := range h.breakers.Breakers() {
			if b.State == breaker.Open.String() {
				open++
			}
		}
	}
	if open > 0 {
		status = "degraded"
	}

	body := ginext.H{
		"status":        status,
		"open_breakers": open,
		"goroutines":    runtime.NumGoroutine(),
		"uptime_sec":    int64(time.Since(h.started).Seconds()),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory"] = ginext.H{
			"total_mb":     vm.Total / 1024 / 1024,
			"available_mb": vm.Available / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	} else {
		zlog.Logger.Warn().Err(err).Msg("failed to read memory stats")
	}

	c.JSON(http.StatusOK, body)
}
