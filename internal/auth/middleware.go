/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"gorm.io/gorm"
)

// EventsPath is the websocket route that accepts ?token= because browsers
// cannot set headers on websocket upgrades.
const EventsPath = "/api/v1/events"

var errNoCredentials = errors.New("no credentials")

// Middleware authenticates with an X-API-Key header or a bearer JWT and puts
// the claims on the request context. A nil jwtSecret disables JWTs.
func Middleware(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(db, jwtSecret, r)
			if err != nil {
				unauthorized(w, errorCode(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func authenticate(db *gorm.DB, jwtSecret []byte, r *http.Request) (*Claims, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return ValidateAPIKey(db, key)
	}
	token := bearerToken(r)
	if token == "" || jwtSecret == nil {
		return nil, errNoCredentials
	}
	claims, err := Parse(jwtSecret, token)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errNoCredentials
	}
	return claims, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrAPIKeyExpired):
		return "api_key_expired"
	case errors.Is(err, ErrAPIKeyRevoked):
		return "api_key_revoked"
	case errors.Is(err, ErrAPIKeyNotFound):
		return "invalid_api_key"
	case errors.Is(err, errNoCredentials):
		return "unauthorized"
	default:
		return "invalid_token"
	}
}

// RequireRole rejects authenticated callers lacking role. Requests without
// claims pass through so the API can run with authentication disabled.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := ClaimsFromContext(r.Context()); ok && !claims.HasRole(role) {
				writeAuthError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, code string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="carbonwise"`)
	writeAuthError(w, http.StatusUnauthorized, code)
}

func writeAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}

func bearerToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if isWebSocketUpgrade(r) && path.Clean(r.URL.Path) == EventsPath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}
