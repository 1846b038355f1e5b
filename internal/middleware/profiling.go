package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the pprof middleware.
type ProfilingConfig struct {
	// Enabled exposes /debug/pprof. Development only; the middleware
	// refuses to arm itself in a production environment regardless.
	Enabled     bool
	Environment string
}

// Profiling serves the runtime pprof endpoints under /debug/pprof and passes
// every other request through. Disabled configs return the next handler
// unchanged, as does any production environment.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production",
				"environment", config.Environment)
			return next
		}

		slog.Warn("pprof endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}
			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index also serves the named runtime profiles (heap,
				// goroutine, block, mutex, allocs, threadcreate).
				pprof.Index(w, r)
			}
		})
	}
}
