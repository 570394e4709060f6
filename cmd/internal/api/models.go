package api

import (
	"time"

	"hearth/cmd/internal/auth/session"
	"hearth/cmd/internal/family"
)

type registerRequest struct {
	Email             string  `json:"email" validate:"required,email,max=254"`
	Password          string  `json:"password" validate:"required"`
	Name              string  `json:"name" validate:"required,max=100"`
	PublicKey         *string `json:"publicKey,omitempty" validate:"omitempty,max=64"`
	FamilyName        *string `json:"familyName,omitempty" validate:"omitempty,max=100"`
	PendingInviteCode *string `json:"pendingInviteCode,omitempty" validate:"omitempty,max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=64"`
}

type resendVerificationRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type joinFamilyRequest struct {
	Email      string  `json:"email" validate:"required,email,max=254"`
	Password   string  `json:"password" validate:"required"`
	Name       string  `json:"name" validate:"required,max=100"`
	InviteCode string  `json:"inviteCode" validate:"required,max=64"`
	PublicKey  *string `json:"publicKey,omitempty" validate:"omitempty,max=64"`
}

type createFamilyRequest struct {
	Name       string  `json:"name" validate:"required,max=100"`
	InviteCode *string `json:"inviteCode,omitempty" validate:"omitempty,max=32"`
}

type inviteCodeRequest struct {
	InviteCode string `json:"inviteCode" validate:"required,max=64"`
}

type encryptedInviteRequest struct {
	InviteeEmail       string `json:"inviteeEmail" validate:"required,email,max=254"`
	EncryptedFamilyKey string `json:"encryptedFamilyKey" validate:"required,max=4096"`
	Nonce              string `json:"nonce" validate:"required,max=256"`
}

type inviteeRequest struct {
	InviteeEmail string `json:"inviteeEmail" validate:"required,email,max=254"`
}

type postMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

type sessionResponse struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type authResponse struct {
	User    family.UserView    `json:"user"`
	Family  *family.FamilyView `json:"family,omitempty"`
	Session sessionResponse    `json:"session"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type publicKeyResponse struct {
	PublicKey *string `json:"publicKey"`
}

type familiesResponse struct {
	Families []family.FamilyView `json:"families"`
}

type invitesResponse[T any] struct {
	Invites []T `json:"invites"`
}

func toAuthResponse(res family.AuthResult) authResponse {
	return authResponse{
		User:    res.User,
		Family:  res.Family,
		Session: toSessionResponse(res.Tokens),
	}
}

func toSessionResponse(p session.Pair) sessionResponse {
	return sessionResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
