package api

import (
	"net/http"

	"hearth/cmd/internal/family"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListFamilies(w http.ResponseWriter, r *http.Request) {
	fams, err := h.families.ListFamilies(r.Context(), userID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if fams == nil {
		fams = []family.FamilyView{}
	}
	writeJSON(w, http.StatusOK, familiesResponse{Families: fams})
}

func (h *Handler) handleCreateFamily(w http.ResponseWriter, r *http.Request) {
	var req createFamilyRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.CreateFamily(r.Context(), userID(r), req.Name, req.InviteCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

func (h *Handler) handleJoinAsMember(w http.ResponseWriter, r *http.Request) {
	var req inviteCodeRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	fam, err := h.families.JoinFamilyAsMember(r.Context(), userID(r), req.InviteCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

func (h *Handler) handleSwitchFamily(w http.ResponseWriter, r *http.Request) {
	res, err := h.families.SwitchActiveFamily(r.Context(), userID(r), chi.URLParam(r, "familyID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	res, err := h.families.RemoveFamilyMember(r.Context(), userID(r), chi.URLParam(r, "userID"), chi.URLParam(r, "familyID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleFamilyInvites(w http.ResponseWriter, r *http.Request) {
	invs, err := h.families.GetFamilyInvites(r.Context(), userID(r), chi.URLParam(r, "familyID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if invs == nil {
		invs = []family.InviteView{}
	}
	writeJSON(w, http.StatusOK, invitesResponse[family.InviteView]{Invites: invs})
}

func (h *Handler) handleEncryptedInvite(w http.ResponseWriter, r *http.Request) {
	var req encryptedInviteRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	inv, err := h.families.CreateEncryptedInvite(r.Context(), family.EncryptedInviteInput{
		InviterID:          userID(r),
		FamilyID:           chi.URLParam(r, "familyID"),
		InviteeEmail:       req.InviteeEmail,
		EncryptedFamilyKey: req.EncryptedFamilyKey,
		Nonce:              req.Nonce,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handlePendingRegistrationInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteeRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	inv, err := h.families.CreatePendingInvite(r.Context(), userID(r), chi.URLParam(r, "familyID"), req.InviteeEmail)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteeRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	inv, err := h.families.CreateInvite(r.Context(), userID(r), req.InviteeEmail)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handlePendingInvites(w http.ResponseWriter, r *http.Request) {
	invs, err := h.families.GetPendingInvites(r.Context(), userID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if invs == nil {
		invs = []family.PendingInvite{}
	}
	writeJSON(w, http.StatusOK, invitesResponse[family.PendingInvite]{Invites: invs})
}

func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteCodeRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	res, err := h.families.AcceptInvite(r.Context(), userID(r), req.InviteCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
