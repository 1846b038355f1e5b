package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fosdem-friends/talktrack/internal/middleware"
)

// RouterOptions bundles the handler groups mounted on the daemon mux.
// EventStream, Health, and Registry are optional.
type RouterOptions struct {
	Handlers    *Handlers
	EventStream *EventStream
	Health      *HealthHandlers
	Registry    *prometheus.Registry

	// RegisterLimiter, when set, wraps the registration endpoint with a
	// tighter rate limit than the global one.
	RegisterLimiter func(http.Handler) http.Handler
}

// NewRouter builds the daemon's route table.
func NewRouter(opts RouterOptions) *http.ServeMux {
	mux := http.NewServeMux()
	h := opts.Handlers

	// Session and registration
	mux.HandleFunc("/v1/session", h.GetSession)
	mux.HandleFunc("/v1/session/saved", h.SavedSession)
	mux.HandleFunc("/v1/session/restore", h.Restore)
	if opts.RegisterLimiter != nil {
		mux.Handle("/v1/register", opts.RegisterLimiter(http.HandlerFunc(h.Register)))
	} else {
		mux.HandleFunc("/v1/register", h.Register)
	}
	mux.HandleFunc("/v1/logout", h.Logout)
	mux.HandleFunc("/v1/groups/availability", h.Availability)

	// Schedule and talks
	mux.HandleFunc("/v1/schedule", h.LoadSchedule)
	mux.HandleFunc("/v1/talks", h.Talks)
	mux.HandleFunc("/v1/talks/mine", h.MyTalks)
	mux.HandleFunc("/v1/talks/", h.TalkRoutes)

	// Group members and presence
	mux.HandleFunc("/v1/users", h.Users)
	mux.HandleFunc("/v1/users/", h.UserRoutes)
	mux.HandleFunc("/v1/here", h.Here)

	// View state
	mux.HandleFunc("/v1/view", h.SetView)
	mux.HandleFunc("/v1/filter", h.Filter)
	mux.HandleFunc("/v1/search", h.Search)

	if opts.EventStream != nil {
		mux.HandleFunc("/v1/events", opts.EventStream.Handler)
	}

	if opts.Health != nil {
		mux.HandleFunc("/health", opts.Health.Health)
		mux.HandleFunc("/ready", opts.Health.Ready)
	}

	if opts.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	// Root endpoint; everything unmatched falls through here and gets a
	// structured 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"talktrack","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	return mux
}
