package core

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is served by GET /healthz.
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Sessions string `json:"sessions"`
	Memory   struct {
		UsedBytes  uint64 `json:"used_bytes"`
		TotalBytes uint64 `json:"total_bytes"`
	} `json:"memory"`
	Goroutines    int   `json:"goroutines"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// CollectHealth probes the database and the session store. Status is "ok"
// only when every probe answered. Probe errors are logged, never returned.
func CollectHealth(ctx context.Context, db *DB, store SessionStore, startedAt time.Time, logger *zap.Logger) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := HealthStatus{Status: "ok", Database: "ok", Sessions: "ok"}
	if db == nil {
		st.Database = "unavailable"
	} else if err := db.PingContext(ctx); err != nil {
		logger.Warn("health: database ping failed", zap.Error(err))
		st.Database = "error"
	}
	if p, ok := store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			logger.Warn("health: session store ping failed", zap.Error(err))
			st.Sessions = "error"
		}
	}
	if st.Database != "ok" || st.Sessions != "ok" {
		st.Status = "degraded"
	}

	// best-effort from /proc/meminfo
	st.Memory.UsedBytes, st.Memory.TotalBytes = readMemInfo()
	st.Goroutines = runtime.NumGoroutine()

	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}

// readMemInfo returns used and total bytes using /proc/meminfo.
// If unavailable, returns zeros.
func readMemInfo() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			memTotal = parseKiBLine(line)
		} else if strings.HasPrefix(line, "MemAvailable:") {
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal > 0 {
		total = memTotal
		if memAvailable <= memTotal {
			used = memTotal - memAvailable
		}
		// convert KiB -> bytes
		used *= 1024
		total *= 1024
	}
	return used, total
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
