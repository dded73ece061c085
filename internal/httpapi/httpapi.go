// Package httpapi is the broker's ambient operational side-channel: a
// small chi router serving liveness, Prometheus metrics, and a JSON debug
// snapshot. None of this is part of the DevConsole wire protocol — it runs
// on its own listen address, separate from the event-bus connection.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/devconsole/devconsole/internal/broker"
)

// New builds the broker's ambient HTTP handler: /healthz, /metrics, and
// /debug/stats.
func New(b *broker.Broker, reg *prometheus.Registry, startedAt time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := b.Stats()

		snapshot := map[string]any{
			"sessions":   stats.Sessions,
			"channels":   stats.Channels,
			"uptime_sec": time.Since(startedAt).Seconds(),
			"system":     systemSnapshot(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
	})

	return r
}

func systemSnapshot() map[string]any {
	out := map[string]any{}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory_used_bytes"] = vm.Used
		out["memory_percent"] = vm.UsedPercent
	}

	return out
}
