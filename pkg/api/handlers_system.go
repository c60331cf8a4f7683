package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports liveness and storage reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check storage ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, HealthResponse{
		Status:  status,
		Uptime:  s.uptime(),
		Version: s.version,
	})
}

// handleSystem reports host CPU, memory and disk usage.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp := SystemResponse{Uptime: s.uptime()}

	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryPercent = vm.UsedPercent
		resp.MemoryUsedMB = vm.Used / 1024 / 1024
		resp.MemoryTotalMB = vm.Total / 1024 / 1024
	}

	if du, err := disk.UsageWithContext(r.Context(), "/"); err == nil {
		resp.DiskPercent = du.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// uptime returns the server uptime as a string.
func (s *Server) uptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
