package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/interviewd/internal/config"
)

const adminIssuer = "interviewd"

// AdminClaims are the claims of an admin bearer token.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 token for the configured admin user.
func IssueAdminToken(cfg config.AdminConfig, now time.Time) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, errors.New("admin.jwt_secret is not set")
	}
	expires := now.Add(cfg.TokenTTLDuration())
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminIssuer,
			Subject:   cfg.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing admin token: %w", err)
	}
	return signed, expires, nil
}

func parseAdminToken(secret, raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(adminIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// AdminAuth requires a valid admin bearer token. With an empty secret
// every request is rejected.
func AdminAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if secret == "" || !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			if _, err := parseAdminToken(secret, auth[len(prefix):]); err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func handleAdminLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Admin.Enabled() {
			httpError(w, http.StatusServiceUnavailable, "api_error", "admin access is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username and password are required")
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(deps.Admin.Username)) == 1
		passErr := bcrypt.CompareHashAndPassword([]byte(deps.Admin.PasswordHash), []byte(req.Password))
		if !userOK || passErr != nil {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid credentials")
			return
		}

		token, expires, err := IssueAdminToken(deps.Admin, time.Now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to issue token: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"token":     token,
			"expiresAt": expires.UTC(),
		})
	}
}
