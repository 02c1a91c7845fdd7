package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// liveness answers 200 whenever the process is up; it deliberately checks
// nothing else.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type probeResult struct {
	name string
	err  error
}

// readiness fans the registered checkers out concurrently and reports 200
// only if all of them pass within the probe timeout.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make(chan probeResult, len(s.checkers))
	for _, c := range s.checkers {
		go func(c Checker) {
			results <- probeResult{name: c.Name(), err: c.Check(ctx)}
		}(c)
	}

	report := make(map[string]string, len(s.checkers))
	degraded := false
	for range s.checkers {
		res := <-results
		if res.err != nil {
			// Probes get retried by the orchestrator, so log at warn.
			s.log.Warn("readiness check failed",
				slog.String("component", res.name),
				slog.String("error", res.err.Error()),
			)
			report[res.name] = fmt.Sprintf("down: %v", res.err)
			degraded = true
			continue
		}
		report[res.name] = "up"
	}

	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if degraded {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)

	// Orchestrators key off the status code; the body is for operators.
	_ = json.NewEncoder(w).Encode(map[string]any{"status": report})
}
