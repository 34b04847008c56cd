package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/repository"
	"golang.org/x/crypto/bcrypt"
)

// ProfileInitializer seeds the trait profile of a new user.
type ProfileInitializer interface {
	InitProfile(ctx context.Context, userID int64) error
}

// AuthHandler issues session tokens. Sign-out is client side: tokens are
// stateless and simply expire.
type AuthHandler struct {
	users    repository.UserRepo
	profiles ProfileInitializer
	secret   string
	ttl      time.Duration
}

func NewAuthHandler(users repository.UserRepo, profiles ProfileInitializer, jwtSecret string, tokenDuration time.Duration) *AuthHandler {
	return &AuthHandler{users: users, profiles: profiles, secret: jwtSecret, ttl: tokenDuration}
}

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

// decodeCredentials writes a 400 and returns false when the body is not
// usable.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, errorResponse{Error: "invalid request body"}, http.StatusBadRequest)
		return c, false
	}
	c.Username = strings.TrimSpace(c.Username)
	c.Email = strings.TrimSpace(c.Email)
	if c.Username == "" || c.Password == "" {
		writeJSON(w, errorResponse{Error: "username and password are required"}, http.StatusBadRequest)
		return c, false
	}
	return c, true
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if existing, err := h.users.GetUserByUsername(ctx, c.Username); err == nil && existing != nil {
		writeJSON(w, errorResponse{Error: "username taken"}, http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := h.users.CreateUser(ctx, &models.User{Username: c.Username, Email: c.Email, PasswordHash: string(hash)})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.profiles != nil {
		if err := h.profiles.InitProfile(ctx, userID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	h.respondWithToken(w, userID, c.Username, http.StatusCreated)
}

func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), c.Username)
	if err != nil || user == nil ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)) != nil {
		writeJSON(w, errorResponse{Error: "credentials not found"}, http.StatusUnauthorized)
		return
	}

	h.respondWithToken(w, user.ID, user.Username, http.StatusOK)
}

func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"message": "signed out"}, http.StatusOK)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, userID int64, username string, status int) {
	token, err := IssueToken(h.secret, userID, username, h.ttl)
	if err != nil {
		logger.Error("sign token", slog.Int64("user_id", userID), slog.Any("err", err))
		writeJSON(w, errorResponse{Error: "internal error"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, authResponse{Token: token, UserID: userID}, status)
}
