// Package httptransport wires the HTTP surface: the authenticated employer
// API, the token-scoped disclosure and witness flows, the anonymous
// verification endpoint, and the operational endpoints. Handlers translate
// between JSON and the domain services and hold no business logic.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/audit"
	"custodia/internal/convenio"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/export"
	"custodia/internal/gate"
	"custodia/internal/notice"
	"custodia/internal/platform/metrics"
	"custodia/internal/tracking"
	"custodia/internal/witness"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/platform/middleware/admin"
	"custodia/pkg/platform/middleware/auth"
	"custodia/pkg/platform/middleware/metadata"
	"custodia/pkg/platform/middleware/requestid"
	"custodia/pkg/platform/middleware/requesttime"
)

// Handler bundles the domain services behind the HTTP surface.
type Handler struct {
	notices   *notice.Service
	gates     *gate.Service
	tracker   *tracking.Service
	witnesses *witness.Service
	evidences *evidence.Service
	descargos *descargo.Service
	convenios *convenio.Service
	exporter  *export.Builder
	verifier  *export.Verifier
	auditor   *audit.Publisher

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(
	notices *notice.Service,
	gates *gate.Service,
	tracker *tracking.Service,
	witnesses *witness.Service,
	evidences *evidence.Service,
	descargos *descargo.Service,
	convenios *convenio.Service,
	exporter *export.Builder,
	verifier *export.Verifier,
	auditor *audit.Publisher,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		notices:   notices,
		gates:     gates,
		tracker:   tracker,
		witnesses: witnesses,
		evidences: evidences,
		descargos: descargos,
		convenios: convenios,
		exporter:  exporter,
		verifier:  verifier,
		auditor:   auditor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RouterConfig carries the transport-level settings the router needs.
type RouterConfig struct {
	JWTSigningKey string
	AdminToken    string
}

// NewRouter mounts every endpoint. The employer API sits behind bearer
// auth, the admin interventions behind the shared admin token, and the
// disclosure and witness flows are reachable only through their opaque
// tokens.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.instrument)
	}

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/verify", h.handleVerifyDigest)
	r.Post("/webhooks/delivery/bounce", h.handleDeliveryBounce)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth(auth.NewHMACValidator(cfg.JWTSigningKey), h.logger))

		r.Post("/convenios", h.handleConvenioCreate)
		r.Post("/convenios/{employeeID}/sign", h.handleConvenioSign)

		r.Post("/notices", h.handleNoticeCreate)
		r.Get("/notices", h.handleNoticeList)
		r.Route("/notices/{noticeID}", func(r chi.Router) {
			r.Get("/", h.handleNoticeGet)
			r.Post("/deliver", h.handleNoticeDeliver)
			r.Post("/physical-fallback", h.handlePhysicalFallback)
			r.Post("/anchor/refresh", h.handleAnchorRefresh)
			r.Get("/timeline", h.handleTimeline)

			r.Post("/witnesses", h.handleWitnessInvite)
			r.Get("/witnesses", h.handleWitnessList)

			r.Post("/evidence", h.handleEvidenceIngest)
			r.Get("/evidence", h.handleEvidenceList)

			r.Get("/descargo", h.handleDescargoGet)
			r.Put("/descargo/annotation", h.handleDescargoAnnotate)

			r.Post("/export", h.handleExport)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, h.logger))
		r.Post("/gates/{token}/reset-lockout", h.handleGateResetLockout)
		r.Post("/notices/{noticeID}/unfreeze-challenge", h.handleChallengeUnfreeze)
	})

	r.Route("/aviso/{token}", func(r chi.Router) {
		r.Get("/", h.handleDisclosureResume)
		r.Post("/identifier", h.handleGateIdentifier)
		r.Post("/code/request", h.handleGateRequestCode)
		r.Post("/code/verify", h.handleGateVerifyCode)
		r.Post("/biometric/start", h.handleBiometricStart)
		r.Post("/biometric/complete", h.handleBiometricComplete)
		r.Post("/biometric/skip", h.handleBiometricSkip)

		r.Get("/contenido", h.handleDisclosureContent)
		r.Post("/heartbeat", h.handleHeartbeat)
		r.Get("/challenge", h.handleChallenge)
		r.Post("/confirm", h.handleConfirmRead)
		r.Post("/dispute", h.handleDispute)

		r.Get("/descargo", h.handleDescargoView)
		r.Post("/descargo", h.handleDescargoExercise)
		r.Post("/descargo/decline", h.handleDescargoDecline)
	})

	r.Route("/testigo/{token}", func(r chi.Router) {
		r.Get("/", h.handleWitnessOpen)
		r.Post("/validate", h.handleWitnessValidate)
		r.Post("/sign", h.handleWitnessSign)
		r.Post("/decline", h.handleWitnessDecline)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records request latency per route pattern and status class.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
