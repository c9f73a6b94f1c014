package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Route("/forgot-password", func(r chi.Router) {
		r.Post("/send-otp", h.handleSendOTP)
		r.Post("/verify-otp", h.handleVerifyOTP)
		r.Post("/reset", h.handleReset)
	})
}

type loginForm struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type usernameForm struct {
	Username string `json:"username" validate:"required,email"`
}

type verifyForm struct {
	Username string `json:"username" validate:"required,email"`
	OTP      string `json:"otp" validate:"required,len=6,numeric"`
}

type resetForm struct {
	Username    string `json:"username" validate:"required,email"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid username or password")
			return
		}
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.service.Logout(r.Context(), sess); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	me, err := h.service.Me(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, me)
}

func (h *Handler) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var form usernameForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SendResetCode(r.Context(), form.Username); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var form verifyForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.VerifyResetCode(r.Context(), form.Username, form.OTP); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Code", err.Error())
			return
		}
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var form resetForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), form.Username, form.NewPassword); err != nil {
		if errors.Is(err, ErrOTPNotVerified) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
			return
		}
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
