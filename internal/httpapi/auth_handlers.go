package httpapi

import (
	"net/http"

	"villaops.org/internal/auth"
	"villaops.org/internal/session"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	User    session.ProviderUser `json:"user"`
	Profile *session.Profile     `json:"profile"`
	AppUser *auth.User           `json:"app_user"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	sess, err := a.provider.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.publish(session.EventSignedIn, sess.User.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req session.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	sess, err := a.provider.SignUp(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.publish(session.EventSignedIn, sess.User.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	pu, _ := providerUserFromContext(r.Context())
	if err := a.provider.SignOut(r.Context(), token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.publish(session.EventSignedOut, pu.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	if err := a.provider.ResetPasswordForEmail(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	if err := a.provider.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	sess, err := a.provider.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.publish(session.EventTokenRefreshed, sess.User.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	pu, _ := providerUserFromContext(r.Context())
	resp := sessionResponse{User: pu}
	if u, ok := auth.UserFromContext(r.Context()); ok {
		resp.AppUser = u
		if p, err := a.profiles.ProfileByID(r.Context(), pu.ID); err == nil {
			resp.Profile = &p
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) publish(t session.EventType, userID string) {
	if userID == "" {
		return
	}
	a.hub.Publish(session.Event{Type: t, UserID: userID, At: a.now().UTC()})
}
