package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const userIDContextKey contextKey = iota

// ContextWithUserID returns a new context carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the user id from the context, or "" if absent.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// CookieName is consulted when no Authorization header is present.
	CookieName string
	// OnFailure, if set, is called with a short reason for every rejection.
	OnFailure func(reason string)
}

// Middleware resolves the request credential once and injects the user id
// into the request context. Requests without a resolvable credential are
// rejected with 401.
func Middleware(resolver Resolver, opts MiddlewareOptions) func(http.Handler) http.Handler {
	fail := func(w http.ResponseWriter, reason, message string) {
		if opts.OnFailure != nil {
			opts.OnFailure(reason)
		}
		writeUnauthorized(w, message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" && opts.CookieName != "" {
				if c, err := r.Cookie(opts.CookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				fail(w, "missing", "missing or malformed authorization header")
				return
			}

			userID, err := resolver.Resolve(r.Context(), token)
			if err != nil || userID == "" {
				fail(w, "invalid", "invalid or expired credential")
				return
			}

			ctx := ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskmate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
