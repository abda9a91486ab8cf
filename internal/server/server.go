package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/neynartodes/backend/internal/announce"
	"github.com/neynartodes/backend/internal/bonus"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/finalize"
	"github.com/neynartodes/backend/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// HTTP invocation surface
// ---------------------------------------------------------------------------

// Deps wires the server to the pipelines it exposes.
type Deps struct {
	Orchestrator *finalize.Orchestrator
	Announcer    *announce.Pipeline
	Bonuses      *bonus.Aggregator
	Chain        chain.Client
	Health       *observability.HealthMonitor
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry

	// BearerToken protects the mutating endpoints. Empty disables them.
	BearerToken string
}

// Server is the HTTP invocation surface: scheduled sweeps hit the sweep
// endpoints, operators hit the direct ones, dashboards read the rest.
type Server struct {
	deps   Deps
	router chi.Router
}

func New(deps Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/contests/{id}/participants", s.handleParticipants)
		r.Get("/contests/{id}/engagement", s.handleEngagement)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Post("/finalize/sweep", s.handleFinalizeSweep)
			r.Post("/finalize/{id}", s.handleFinalize)
			r.Post("/announce/sweep", s.handleAnnounceSweep)
			r.Post("/announce/{id}", s.handleAnnounce)
		})
	})

	s.router = r
	return s
}

// Handler exposes the router for mounting and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the context is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("server: listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.BearerToken == "" {
			writeError(w, http.StatusServiceUnavailable, "mutating endpoints disabled: no bearer token configured")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.deps.BearerToken {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.deps.Health.Check(r.Context())
	status := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, err := contest.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	outcome := s.deps.Orchestrator.Run(r.Context(), id)
	s.observeOutcome(outcome, time.Since(start))

	writeJSON(w, http.StatusOK, outcomeBody(id, outcome))
}

func (s *Server) handleFinalizeSweep(w http.ResponseWriter, r *http.Request) {
	results := s.deps.Orchestrator.Sweep(r.Context())
	body := make([]map[string]any, 0, len(results))
	for _, res := range results {
		if s.deps.Metrics != nil {
			s.deps.Metrics.SweepContests.WithLabelValues("finalize").Inc()
		}
		s.observeOutcome(res.Outcome, 0)
		body = append(body, outcomeBody(res.ID, res.Outcome))
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": len(results), "results": body})
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	id, err := contest.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Announcer.Run(r.Context(), id)
	if err != nil {
		s.countAnnounce("failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Posted {
		s.countAnnounce("posted")
	} else {
		s.countAnnounce("skipped")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnnounceSweep(w http.ResponseWriter, r *http.Request) {
	results := s.deps.Announcer.Sweep(r.Context())
	for _, res := range results {
		if s.deps.Metrics != nil {
			s.deps.Metrics.SweepContests.WithLabelValues("announce").Inc()
		}
		switch {
		case res.Err != nil:
			s.countAnnounce("failed")
		case res.Result != nil && res.Result.Posted:
			s.countAnnounce("posted")
		default:
			s.countAnnounce("skipped")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": len(results), "results": results})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.loadContest(w, r)
	if !ok {
		return
	}
	summaries, err := s.deps.Bonuses.Participants(r.Context(), desc)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contest": desc.ID.String(), "participants": summaries})
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.loadContest(w, r)
	if !ok {
		return
	}
	snap, err := s.deps.Bonuses.EngagementSnapshot(r.Context(), desc)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) loadContest(w http.ResponseWriter, r *http.Request) (*contest.Descriptor, bool) {
	id, err := contest.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	desc, err := s.deps.Chain.Contest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return desc, true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) observeOutcome(outcome finalize.Outcome, elapsed time.Duration) {
	if s.deps.Metrics == nil {
		return
	}
	tickets, h, rp, sh, v := 0, 0, 0, 0, 0
	if outcome.Snapshot != nil {
		tickets = outcome.Snapshot.Summary.SubmittedTickets
		h = outcome.Snapshot.Summary.HolderBonuses
		rp = outcome.Snapshot.Summary.ReplyBonuses
		sh = outcome.Snapshot.Summary.ShareBonuses
		v = outcome.Snapshot.Summary.VolumeBonuses
	}
	s.deps.Metrics.ObserveOutcome(outcome.Kind.String(), elapsed.Seconds(), tickets, h, rp, sh, v)
}

func (s *Server) countAnnounce(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.AnnouncePosts.WithLabelValues(result).Inc()
	}
}

func outcomeBody(id contest.ID, outcome finalize.Outcome) map[string]any {
	body := map[string]any{
		"contest": id.String(),
		"kind":    outcome.Kind.String(),
	}
	if outcome.TxHash != (common.Hash{}) {
		body["tx_hash"] = outcome.TxHash.Hex()
	}
	if outcome.Reason != "" {
		body["reason"] = outcome.Reason
	}
	if len(outcome.Winners) > 0 {
		winners := make([]string, len(outcome.Winners))
		for i, w := range outcome.Winners {
			winners[i] = w.Hex()
		}
		body["winners"] = winners
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("server: response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
