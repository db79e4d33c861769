// Package apiserver implements the External HTTP/Chat API (§6): the
// only surface a chat front-end, dashboard, or operator tool talks to.
// Routing and CORS use chi rather than a raw http.HandleFunc mux.
package apiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/control"
	"github.com/missionctl/missionctl/internal/idempotency"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/schedule"
	"github.com/missionctl/missionctl/internal/stream"
)

// Server wires the Mission Store, Scheduler, Controller, and stream Hub
// behind chi-routed HTTP handlers.
type Server struct {
	store      mission.Store
	scheduler  *schedule.Scheduler
	controller *control.Controller
	hub        *stream.Hub
	idem       *idempotency.Store
	policy     *config.PolicyStore
	validate   *validator.Validate
	log        *zap.Logger

	// chatLimiter bounds chat intake storms the same way an
	// agent-registration endpoint would rate-limit heartbeat traffic.
	chatLimiter *rate.Limiter

	router chi.Router
}

// New builds a Server and its chi router. Any of hub/idem/policy may be
// nil (WS streaming and idempotency replay degrade gracefully: streaming
// endpoints 503, idempotency keys are simply not deduplicated; a nil
// policy falls back to config.DefaultPolicy's mission mode).
func New(store mission.Store, scheduler *schedule.Scheduler, controller *control.Controller, hub *stream.Hub, idem *idempotency.Store, policy *config.PolicyStore, log *zap.Logger) *Server {
	s := &Server{
		store:       store,
		scheduler:   scheduler,
		controller:  controller,
		hub:         hub,
		idem:        idem,
		policy:      policy,
		validate:    validator.New(),
		log:         log,
		chatLimiter: rate.NewLimiter(20, 40),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "X-Flux-Idempotency-Key"},
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/chat", s.withIdempotency(s.handleChat))
	r.Post("/missions/{id}/update", s.withIdempotency(s.handleMissionUpdate))
	r.Put("/missions/{id}/schedule", s.handleMissionSchedule)
	r.Post("/controls/request", s.withIdempotency(s.handleControlRequest))
	r.Post("/controls/{id}/approve", s.handleControlApprove)
	r.Post("/controls/{id}/reject", s.handleControlReject)
	r.Get("/stream-health/{mission_id}", s.handleStreamHealth)
	r.Get("/ws/stream/{mission_id}", s.handleStreamWS)

	return r
}
