package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yagsothebrand/waitlist-api/internal/domain"
	"github.com/yagsothebrand/waitlist-api/internal/http/middleware"
	"github.com/yagsothebrand/waitlist-api/internal/http/response"
	"github.com/yagsothebrand/waitlist-api/internal/service"
	"github.com/yagsothebrand/waitlist-api/internal/session"
	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

// AccessHandler wires the waitlist access protocol to the JSON API the
// landing page calls.
type AccessHandler struct {
	Access   service.AccessService
	Sessions *session.Manager
	Cooldown *middleware.Cooldown
}

func NewAccessHandler(access service.AccessService, sessions *session.Manager, cooldown *middleware.Cooldown) *AccessHandler {
	return &AccessHandler{Access: access, Sessions: sessions, Cooldown: cooldown}
}

func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/request", h.request) // {email}
	r.Post("/resend", h.resend)   // {email}
	r.Post("/verify", h.verify)   // {email, passcode}
	r.Get("/gate/{token}", h.gate)
	r.Get("/session", h.session)
	r.Post("/logout", h.logout)
	return r
}

func (h *AccessHandler) request(w http.ResponseWriter, r *http.Request) {
	var in domain.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	result, err := h.Access.RequestAccess(r.Context(), in.Email)
	if err != nil {
		h.writeAccessError(w, r, err)
		return
	}

	if result.GrantForever {
		h.grantSession(w, r, result.TokenID)
		return
	}

	if err := h.Access.DeliverVerification(r.Context(), service.DeliverInput{
		Email:    result.Email,
		Passcode: result.Passcode,
		TokenID:  result.TokenID,
		IsResend: result.IsExisting,
	}); err != nil {
		logger.ErrorContext(r.Context(), "Failed to deliver verification email", "error", err, "email", result.Email)
		response.WriteError(w, http.StatusBadGateway, "Failed to send verification email. Please try again.", response.CodeSendFailed)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"granted":     false,
		"sent":        true,
		"is_existing": result.IsExisting,
	})
}

func (h *AccessHandler) resend(w http.ResponseWriter, r *http.Request) {
	var in domain.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	cooldownKey := "resend:" + in.Email
	if ok, wait := h.Cooldown.Allow(r.Context(), cooldownKey); !ok {
		w.Header().Set("Retry-After", wait.Round(time.Second).String())
		response.RateLimit(w, "Please wait before requesting another email.")
		return
	}

	result, err := h.Access.RequestAccess(r.Context(), in.Email)
	if err != nil {
		h.Cooldown.Release(r.Context(), cooldownKey)
		h.writeAccessError(w, r, err)
		return
	}

	// An already-verified email never triggers another send.
	if result.GrantForever {
		h.grantSession(w, r, result.TokenID)
		return
	}

	if err := h.Access.DeliverVerification(r.Context(), service.DeliverInput{
		Email:    result.Email,
		Passcode: result.Passcode,
		TokenID:  result.TokenID,
		IsResend: true,
	}); err != nil {
		// The window was claimed but nothing went out; give it back so the
		// visitor can retry right away.
		h.Cooldown.Release(r.Context(), cooldownKey)
		logger.ErrorContext(r.Context(), "Failed to resend verification email", "error", err, "email", result.Email)
		response.WriteError(w, http.StatusBadGateway, "Failed to send verification email. Please try again.", response.CodeSendFailed)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"granted":     false,
		"sent":        true,
		"is_existing": true,
	})
}

func (h *AccessHandler) verify(w http.ResponseWriter, r *http.Request) {
	var in domain.PasscodeVerify
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	rec, err := h.Access.VerifyPasscode(r.Context(), in.Email, in.Passcode)
	if err != nil {
		h.writeAccessError(w, r, err)
		return
	}
	if rec == nil {
		response.WriteError(w, http.StatusUnauthorized, "Invalid email or passcode", response.CodeUnauthorized)
		return
	}

	h.persistAndRespond(w, rec)
}

func (h *AccessHandler) gate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	rec, err := h.Access.ResolveToken(r.Context(), token)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to resolve token", "error", err, "token_id", token)
		response.InternalError(w, "Something went wrong. Please try again.")
		return
	}
	if rec == nil {
		response.WriteError(w, http.StatusUnauthorized, "This link is invalid or has expired.", response.CodeInvalidToken)
		return
	}

	if err := h.Access.ConfirmLogin(r.Context(), rec.ID); err != nil {
		logger.ErrorContext(r.Context(), "Failed to confirm login", "error", err, "token_id", rec.ID)
		response.InternalError(w, "Something went wrong. Please try again.")
		return
	}

	updated, err := h.Access.ResolveToken(r.Context(), rec.ID)
	if err != nil || updated == nil {
		// The login is confirmed even if the re-read failed; reflect that
		// instead of echoing the stale pre-login snapshot.
		updated = rec
		updated.Status = domain.StatusVerified
		if updated.LoginAttempt < 1 {
			updated.LoginAttempt = 1
		}
	}
	h.persistAndRespond(w, updated)
}

func (h *AccessHandler) session(w http.ResponseWriter, r *http.Request) {
	state, err := h.Sessions.Hydrate(r.Context(), w, r)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to hydrate session", "error", err)
		response.InternalError(w, "Something went wrong. Please try again.")
		return
	}

	if !state.AccessGranted {
		response.WriteJSON(w, http.StatusOK, map[string]any{"granted": false})
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"granted": true,
		"user":    state.User,
	})
}

func (h *AccessHandler) logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// grantSession loads the record for a forever-access grant and opens the
// session for this browser.
func (h *AccessHandler) grantSession(w http.ResponseWriter, r *http.Request, tokenID string) {
	rec, err := h.Access.ResolveToken(r.Context(), tokenID)
	if err != nil || rec == nil {
		logger.ErrorContext(r.Context(), "Failed to load record for grant", "error", err, "token_id", tokenID)
		response.InternalError(w, "Something went wrong. Please try again.")
		return
	}
	h.persistAndRespond(w, rec)
}

func (h *AccessHandler) persistAndRespond(w http.ResponseWriter, rec *domain.WaitlistRecord) {
	h.Sessions.Persist(w, &session.State{
		Token:         rec.ID,
		AccessGranted: true,
		User:          rec,
		Loaded:        true,
	})
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"granted": true,
		"user":    rec,
	})
}

func (h *AccessHandler) writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrEmailRequired),
		errors.Is(err, domain.ErrEmailInvalid),
		errors.Is(err, domain.ErrPasscodeInvalid):
		response.BadRequest(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Access request failed", "error", err)
		response.InternalError(w, "Something went wrong. Please try again.")
	}
}
