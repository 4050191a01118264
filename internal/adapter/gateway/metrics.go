package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"codegen-agent/internal/domain"
)

// Metrics tracks counters for the /metrics endpoint.
type Metrics struct {
	started time.Time

	TurnsTotal        atomic.Int64
	LLMCallsTotal     atomic.Int64
	ToolCallsTotal    atomic.Int64
	ToolErrorsTotal   atomic.Int64
	RecoveriesTotal   atomic.Int64
	SessionsCreated   atomic.Int64
	SessionsDeleted   atomic.Int64
	AgentErrorsTotal  atomic.Int64
	AbortedTurnsTotal atomic.Int64
}

func (m *Metrics) subscribe(bus domain.EventBus) func() {
	count := func(c *atomic.Int64) domain.EventHandler {
		return func(context.Context, domain.Event) { c.Add(1) }
	}
	unsubs := []func(){
		bus.Subscribe(domain.EventMessageReceived, count(&m.TurnsTotal)),
		bus.Subscribe(domain.EventLLMCallCompleted, count(&m.LLMCallsTotal)),
		bus.Subscribe(domain.EventToolCallCompleted, func(_ context.Context, e domain.Event) {
			m.ToolCallsTotal.Add(1)
			if payloadIsError(e) {
				m.ToolErrorsTotal.Add(1)
			}
		}),
		bus.Subscribe(domain.EventArgumentRecovered, count(&m.RecoveriesTotal)),
		bus.Subscribe(domain.EventSessionCreated, count(&m.SessionsCreated)),
		bus.Subscribe(domain.EventSessionDeleted, count(&m.SessionsDeleted)),
		bus.Subscribe(domain.EventAgentError, count(&m.AgentErrorsTotal)),
		bus.Subscribe(domain.EventChatAborted, count(&m.AbortedTurnsTotal)),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func payloadIsError(e domain.Event) bool {
	var p domain.ToolCallPayload
	return e.Payload != nil && json.Unmarshal(e.Payload, &p) == nil && p.IsError
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	m := s.metrics

	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
	}
	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}

	gauge("codegen_sessions_active", "Sessions held in memory.", s.deps.Service.ActiveSessions())
	counter("codegen_sessions_created_total", "Sessions created.", m.SessionsCreated.Load())
	counter("codegen_sessions_deleted_total", "Sessions deleted.", m.SessionsDeleted.Load())
	counter("codegen_turns_total", "User turns submitted.", m.TurnsTotal.Load())
	counter("codegen_turns_aborted_total", "Turns aborted by websocket clients.", m.AbortedTurnsTotal.Load())
	counter("codegen_llm_calls_total", "Completed model calls.", m.LLMCallsTotal.Load())
	counter("codegen_tool_calls_total", "Tool invocations.", m.ToolCallsTotal.Load())
	counter("codegen_tool_errors_total", "Tool invocations that returned an error result.", m.ToolErrorsTotal.Load())
	counter("codegen_argument_recoveries_total", "write_file calls repaired by argument recovery.", m.RecoveriesTotal.Load())
	counter("codegen_agent_errors_total", "Turns that ended with an error.", m.AgentErrorsTotal.Load())
	gauge("codegen_uptime_seconds", "Seconds since the gateway started.", fmt.Sprintf("%.0f", time.Since(m.started).Seconds()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	gauge("go_goroutines", "Number of goroutines.", runtime.NumGoroutine())
	gauge("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", mem.Alloc)
	gauge("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", mem.Sys)
}
