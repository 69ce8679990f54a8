package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"boardflow/internal/metrics"
	"boardflow/internal/providers"
)

// ClientCounter reports live websocket subscribers.
type ClientCounter interface {
	ClientCount() int
}

// MetricsHandler exposes engine counters, breaker state and hub size.
type MetricsHandler struct {
	hub       ClientCounter
	breakers  map[string]*providers.CircuitBreaker
	startedAt time.Time
}

// NewMetricsHandler takes the named breakers in use; nil entries (disabled breakers) are skipped.
func NewMetricsHandler(hub ClientCounter, breakers map[string]*providers.CircuitBreaker) *MetricsHandler {
	active := make(map[string]*providers.CircuitBreaker, len(breakers))
	for name, cb := range breakers {
		if cb != nil {
			active[name] = cb
		}
	}
	return &MetricsHandler{hub: hub, breakers: active, startedAt: time.Now()}
}

func (h *MetricsHandler) clients() int {
	if h.hub == nil {
		return 0
	}
	return h.hub.ClientCount()
}

// GetAutomationMetrics returns the counters as JSON.
func (h *MetricsHandler) GetAutomationMetrics(c *gin.Context) {
	breakers := make(map[string]interface{}, len(h.breakers))
	for name, cb := range h.breakers {
		breakers[name] = cb.Stats()
	}
	c.JSON(http.StatusOK, gin.H{
		"automation":        metrics.AutomationSnapshot(),
		"circuit_breakers":  breakers,
		"websocket_clients": h.clients(),
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
	})
}

// GetMetrics renders the same counters in Prometheus text format.
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	snap := metrics.AutomationSnapshot()
	b := &strings.Builder{}

	fmt.Fprintf(b, "# HELP boardflow_uptime_seconds Process uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE boardflow_uptime_seconds counter\n")
	fmt.Fprintf(b, "boardflow_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())

	fmt.Fprintf(b, "# HELP boardflow_automation_events_total Events accepted by the engine\n")
	fmt.Fprintf(b, "# TYPE boardflow_automation_events_total counter\n")
	fmt.Fprintf(b, "boardflow_automation_events_total %d\n\n", snap.Events)

	fmt.Fprintf(b, "# HELP boardflow_automation_cascade_stops_total Follow-up events dropped by the cascade limit\n")
	fmt.Fprintf(b, "# TYPE boardflow_automation_cascade_stops_total counter\n")
	fmt.Fprintf(b, "boardflow_automation_cascade_stops_total %d\n\n", snap.CascadeStops)

	fmt.Fprintf(b, "# HELP boardflow_automation_ledger_errors_total Execution ledger writes that failed\n")
	fmt.Fprintf(b, "# TYPE boardflow_automation_ledger_errors_total counter\n")
	fmt.Fprintf(b, "boardflow_automation_ledger_errors_total %d\n\n", snap.LedgerErrors)

	fmt.Fprintf(b, "# HELP boardflow_automation_executions_total Rule dispatches by final status\n")
	fmt.Fprintf(b, "# TYPE boardflow_automation_executions_total counter\n")
	for _, k := range sortedKeys(snap.ByStatus) {
		fmt.Fprintf(b, "boardflow_automation_executions_total{status=%q} %d\n", k, snap.ByStatus[k])
	}
	fmt.Fprintln(b)

	fmt.Fprintf(b, "# HELP boardflow_automation_actions_total Rule dispatches by action type\n")
	fmt.Fprintf(b, "# TYPE boardflow_automation_actions_total counter\n")
	for _, k := range sortedKeys(snap.ByActionType) {
		fmt.Fprintf(b, "boardflow_automation_actions_total{action=%q} %d\n", k, snap.ByActionType[k])
	}
	fmt.Fprintln(b)

	fmt.Fprintf(b, "# HELP boardflow_websocket_active_connections Live notification sockets\n")
	fmt.Fprintf(b, "# TYPE boardflow_websocket_active_connections gauge\n")
	fmt.Fprintf(b, "boardflow_websocket_active_connections %d\n", h.clients())

	if len(h.breakers) > 0 {
		fmt.Fprintf(b, "\n# HELP boardflow_circuit_breaker_open Whether a provider circuit breaker is open (1) or not (0)\n")
		fmt.Fprintf(b, "# TYPE boardflow_circuit_breaker_open gauge\n")
		names := make([]string, 0, len(h.breakers))
		for name := range h.breakers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			open := 0
			if h.breakers[name].State() == providers.StateOpen {
				open = 1
			}
			fmt.Fprintf(b, "boardflow_circuit_breaker_open{provider=%q} %d\n", name, open)
		}
	}

	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.String(http.StatusOK, b.String())
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
