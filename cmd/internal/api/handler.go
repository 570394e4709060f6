// Package api is Hearth's HTTP transport: a chi router over the family and
// chat services with bearer-JWT authentication and JSON envelopes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hearth/cmd/internal/auth/session"
	"hearth/cmd/internal/chat"
	"hearth/cmd/internal/family"
	"hearth/cmd/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AccessVerifier checks bearer access tokens (see auth/session.Manager).
type AccessVerifier interface {
	VerifyAccess(token string, now time.Time) (session.AccessClaims, error)
}

// Handler wires HTTP endpoints to the family and chat services.
type Handler struct {
	log *slog.Logger
	cfg Config

	families *family.Service
	chat     *chat.Service
	tokens   AccessVerifier

	metrics *metrics.Metrics
	ipLimit *ipLimiter
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics records per-route request metrics.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, families *family.Service, chatSvc *chat.Service, tokens AccessVerifier, opts ...HandlerOption) (*Handler, error) {
	if families == nil {
		return nil, errors.New("api: nil family service")
	}
	if chatSvc == nil {
		return nil, errors.New("api: nil chat service")
	}
	if tokens == nil {
		return nil, errors.New("api: nil token verifier")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		families: families,
		chat:     chatSvc,
		tokens:   tokens,
		ipLimit:  newIPLimiter(cfg.AuthIPRPS, cfg.AuthIPBurst, cfg.AuthIPIdleTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Routes builds the router. All endpoints live under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if h.cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(h.observe)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.limitByIP)

			r.Post("/auth/register", h.handleRegister)
			r.Post("/auth/login", h.handleLogin)
			r.Post("/auth/refresh", h.handleRefresh)
			r.Post("/auth/verify-email", h.handleVerifyEmail)
			r.Post("/auth/resend-verification", h.handleResendVerification)
			r.Post("/auth/join-family", h.handleJoinFamily)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/users/public-key", h.handlePublicKey)
			r.Delete("/me", h.handleDeregister)

			r.Get("/families", h.handleListFamilies)
			r.Post("/families", h.handleCreateFamily)
			r.Post("/families/join", h.handleJoinAsMember)
			r.Post("/families/{familyID}/activate", h.handleSwitchFamily)
			r.Delete("/families/{familyID}/members/{userID}", h.handleRemoveMember)
			r.Get("/families/{familyID}/invites", h.handleFamilyInvites)
			r.Post("/families/{familyID}/invites", h.handleEncryptedInvite)
			r.Post("/families/{familyID}/invites/pending", h.handlePendingRegistrationInvite)
			r.Get("/families/{familyID}/channels", h.handleListChannels)

			r.Post("/invites", h.handleCreateInvite)
			r.Get("/invites/pending", h.handlePendingInvites)
			r.Post("/invites/accept", h.handleAcceptInvite)

			r.Get("/channels/{channelID}/messages", h.handleListMessages)
			r.Post("/channels/{channelID}/messages", h.handlePostMessage)
		})
	})
	return r
}

// readRequest decodes and validates a JSON body, answering 400 on failure.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if err := checkRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
