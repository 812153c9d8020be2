// internal/handlers/user.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/statroom/statroom/internal/auth"
	"github.com/statroom/statroom/internal/database"
	"github.com/statroom/statroom/internal/models"
)

// PingHandler answers health checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "pong")
}

// EnsureSession resolves the caller's identity from the auth_token cookie.
// A caller without a valid token gets a fresh guest identity and a new
// cookie; the tracker does not require registration to play. Must be called
// before any websocket upgrade, while headers can still be written.
func EnsureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		if userID, err := auth.AuthenticateJWT(token); err == nil {
			return userID, nil
		}
	}
	return issueGuestSession(w, r)
}

// issueGuestSession mints a guest identity. When a user database is
// connected the guest is persisted as an ephemeral user; without one the
// identity lives only in the signed token.
func issueGuestSession(w http.ResponseWriter, r *http.Request) (string, error) {
	var userID string
	if database.DB != nil {
		guest := models.User{Username: "Guest", IsEphemeral: true}
		if err := database.CreateUser(r.Context(), &guest); err != nil {
			return "", fmt.Errorf("failed to create ephemeral user: %w", err)
		}
		userID = guest.ID.String()
	} else {
		userID = uuid.NewString()
	}

	token, err := auth.CreateJWT(userID)
	if err != nil {
		return "", fmt.Errorf("failed to create guest JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return userID, nil
}

// CreateUserHandler registers a new account and sets the session cookie.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	}
	if err := database.CreateUser(r.Context(), &user); err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"email": user.Email})
}

// LoginHandler checks credentials and sets the session cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	token, err := database.AuthenticateUser(context.Background(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"email": req.Email})
}
