package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

// DefaultMaxBodyBytes borne les corps JSON reçus (messages et observe).
const DefaultMaxBodyBytes = 16 << 20

// Deps regroupe les services exposés par l'API. Seul Dispatcher est requis.
type Deps struct {
	Dispatcher  *app.Dispatcher
	Settings    *app.SettingsService
	Interceptor *interceptor.Interceptor
	Bus         ports.EventBus

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	CORSOrigins  []string
	MaxBodyBytes int64
}

type Server struct {
	logger zerolog.Logger
	deps   Deps
}

func NewServer(logger zerolog.Logger, deps Deps) *Server {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Server{logger: logger, deps: deps}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))
	r.Use(cors.Handler(corsOptions(s.deps.CORSOrigins)))
	r.Use(s.instrument)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Flux long: hors du timeout global.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/version", s.handleVersion)
			r.Get("/openapi.json", s.handleOpenAPI)

			NewMessagesHandler(s.deps.Dispatcher, s.deps.MaxBodyBytes).Routes(r)
			if s.deps.Interceptor != nil {
				NewObserveHandler(s.deps.Interceptor, s.deps.MaxBodyBytes).Routes(r)
			}
			if s.deps.Settings != nil {
				NewSettingsHandler(s.deps.Settings, s.settingsUpdated).Routes(r)
			}
		})
	})

	return r
}

func (s *Server) settingsUpdated(updated domain.Settings) {
	publishJSON(s.deps.Bus, ports.TopicSettingsUpdated, updated)
}

func corsOptions(origins []string) cors.Options {
	wildcard := len(origins) == 1 && origins[0] == "*"
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Request-Id"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
}

// instrument compte les requêtes par motif de route chi (pas par chemin brut).
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.HTTPRequest(r.Method, route, status, time.Since(start))
	})
}
