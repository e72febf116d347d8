package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/authn"
)

// OTPHeader tells the login page to ask for a one-time code.
const OTPHeader = "x-otp"

const maxLoginBody = 64 << 10

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	User string `json:"user"`
	Pwd  string `json:"pwd"`
	OTP  string `json:"otp,omitempty"`
}

// StatusFor maps an outcome kind to its HTTP status. Kinds without an
// explicit entry are server errors, never successes.
func StatusFor(kind auth.OutcomeKind) int {
	switch kind {
	case auth.Success:
		return http.StatusOK
	case auth.BadCredentials, auth.OtpChallenge, auth.BadOtp:
		return http.StatusUnauthorized
	case auth.Forbidden:
		return http.StatusForbidden
	case auth.Error:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type authHandlers struct {
	gateway Gateway
	cookie  CookieOptions
	log     logrus.FieldLogger
}

// login handles POST /login. The response body is the outcome kind as a
// JSON string.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.User) == "" || req.Pwd == "" {
		http.Error(w, "user and pwd are required", http.StatusBadRequest)
		return
	}

	res := h.gateway.Login(r.Context(), authn.Credentials{
		Username: req.User,
		Password: req.Pwd,
		OTP:      req.OTP,
	})
	kind := res.Outcome.Kind()

	if kind.RequiresOTP() {
		w.Header().Set(OTPHeader, "required")
	}

	if kind == auth.Success && res.Session != nil {
		// A login replaces whatever session the browser held before.
		if old, err := r.Cookie(h.cookie.Name); err == nil && old.Value != "" {
			if err := h.gateway.Logout(r.Context(), old.Value); err != nil {
				h.log.WithError(err).Warn("Failed to end previous session")
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookie.Name,
			Value:    res.CookieToken,
			Path:     "/",
			Expires:  res.Session.ExpiresAt,
			HttpOnly: true,
			Secure:   h.cookie.Secure || r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	writeJSON(w, StatusFor(kind), kind)
}

// logout handles GET /logout: the session ends, the cookie is cleared and the
// browser is sent back to the login page.
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		if err := h.gateway.Logout(r.Context(), c.Value); err != nil {
			h.log.WithError(err).Error("Logout failed")
		} else {
			h.log.Info("Session ended")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("write response")
	}
}
