package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type ctxKey string

// CtxUserID is the request context key holding the authenticated user id.
const CtxUserID ctxKey = "user_id"

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger replaces the api package logger. nil is ignored.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// UserIDFrom returns the authenticated user id set by the JWT middleware.
func UserIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(CtxUserID).(int64)
	return id, ok && id > 0
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware writes one structured line per request, including the
// status code the handler chose.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", time.Since(start)),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Authorization, Content-Type"
)

// CORSMiddleware answers preflight requests itself.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.Error("handler panic", slog.Any("panic", v), slog.String("method", r.Method), slog.String("path", r.URL.Path))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

type sessionClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 session token for userID valid for ttl.
func IssueToken(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var errNoBearer = errors.New("missing bearer token")

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	tok = strings.TrimSpace(tok)
	if !ok || tok == "" {
		return "", errNoBearer
	}
	return tok, nil
}

// JWTAuthMiddlewareWithSecret rejects requests without a valid session token
// and stores the token's user id under CtxUserID.
func JWTAuthMiddlewareWithSecret(secret string) mux.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				http.Error(w, "Missing or malformed Authorization header", http.StatusUnauthorized)
				return
			}

			var claims sessionClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				logger.Debug("token rejected", slog.Any("err", err))
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if claims.UserID <= 0 {
				http.Error(w, "Token has no user", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CtxUserID, claims.UserID)))
		})
	}
}
