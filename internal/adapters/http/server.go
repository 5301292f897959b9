package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

// Pinger reports storage health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the signature, code and audit services over HTTP.
type Server struct {
	signatures ports.Signatures
	codes      ports.Codes
	audit      ports.AuditTrail
	store      Pinger
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New builds a Server. store may be nil when there is nothing to ping.
func New(signatures ports.Signatures, codes ports.Codes, audit ports.AuditTrail, store Pinger, logger *zap.Logger, m *metrics.Metrics) *Server {
	return &Server{
		signatures: signatures,
		codes:      codes,
		audit:      audit,
		store:      store,
		logger:     logger.With(zap.String("component", "http")),
		metrics:    m,
	}
}

// Routes returns a chi.Router with every handler and middleware mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/signatures", func(r chi.Router) {
			r.Post("/", s.postSignature)
			r.Get("/verify/{code}", s.getVerifySignature)
			r.Get("/{id}/status", s.getSignatureStatus)
			r.Get("/{id}/details", s.getSignatureDetails)
			r.Post("/{id}/complete/etoken", s.postCompleteEToken)
			r.Post("/{id}/complete/simple", s.postCompleteSimple)
		})
		r.Route("/codes", func(r chi.Router) {
			r.Post("/", s.postCode)
			r.Get("/{id}", s.getCode)
			r.Post("/{id}/revoke", s.postRevokeCode)
		})
		r.Get("/documents/{id}/codes", s.getDocumentCodes)
		r.Get("/audit/logs", s.getAuditLogs)
		r.Get("/audit/stats", s.getAuditStats)
	})

	r.Get("/verificar/{code}", s.getRedeem)
	r.Get("/sign-mobile/{code}", s.getRedeemMobile)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			s.metrics.HTTPRequest(r.Method, route, status, elapsed)
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
