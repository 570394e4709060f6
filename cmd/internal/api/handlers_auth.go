package api

import (
	"net/http"
	"strings"

	"hearth/cmd/internal/family"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.Register(r.Context(), family.RegisterInput{
		Email:             req.Email,
		Password:          req.Password,
		Name:              req.Name,
		PublicKey:         req.PublicKey,
		FamilyName:        req.FamilyName,
		PendingInviteCode: req.PendingInviteCode,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	msg, err := h.families.ResendVerificationEmail(r.Context(), req.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *Handler) handleJoinFamily(w http.ResponseWriter, r *http.Request) {
	var req joinFamilyRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.JoinFamily(r.Context(), family.JoinFamilyInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		InviteCode: req.InviteCode,
		PublicKey:  req.PublicKey,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	key, err := h.families.GetUserPublicKey(r.Context(), email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: key})
}

func (h *Handler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	res, err := h.families.DeregisterSelf(r.Context(), userID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.log.Info("api.deregister.ok", "user_id", res.UserID)
	writeJSON(w, http.StatusOK, res)
}
