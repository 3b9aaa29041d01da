package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// startSession stores a fresh session for u and answers {user, token}.
func (a *api) startSession(w http.ResponseWriter, r *http.Request, u User, status int) {
	token, err := newSessionToken()
	if err != nil {
		a.fail(w, "session token", err, "")
		return
	}
	now := stamp(a.now())
	sess := Session{Token: token, UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(a.cfg.Auth.SessionTTL)}
	if err := a.store.CreateSession(r.Context(), sess); err != nil {
		a.fail(w, "create session", err, "")
		return
	}
	writeJSON(w, status, map[string]any{"user": u, "token": token})
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	username, email := strings.TrimSpace(req.Username), strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		writeError(w, 400, "username, email and password are required")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.fail(w, "bcrypt", err, "")
		return
	}
	u, err := a.store.CreateUser(r.Context(), User{Username: username, Email: email}, string(hash))
	if errors.Is(err, ErrConflict) {
		writeError(w, 409, "user already exists")
		return
	}
	if err != nil {
		a.fail(w, "register", err, "")
		return
	}
	a.startSession(w, r, u, 201)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, 400, "email and password are required")
		return
	}
	u, hash, err := a.store.UserCredentials(r.Context(), email)
	if errors.Is(err, ErrNotFound) {
		writeError(w, 401, "invalid credentials")
		return
	}
	if err != nil {
		a.fail(w, "login", err, "")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		writeError(w, 401, "invalid credentials")
		return
	}
	a.startSession(w, r, u, 200)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := a.store.DeleteSession(r.Context(), token); err != nil {
			a.fail(w, "logout", err, "")
			return
		}
	}
	w.WriteHeader(204)
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.log.Error("session lookup", "err", err)
		}
		writeError(w, 401, "unauthorized")
		return
	}
	writeJSON(w, 200, u)
}
