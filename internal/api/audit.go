package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/alecgard/taskmate/internal/auth"
)

// auditLog emits a structured audit log entry for a team mutation.
func auditLog(r *http.Request, action string, teamKey string, detail ...any) {
	attrs := []any{
		"action", action,
		"team_key", teamKey,
		"user_id", auth.UserIDFromContext(r.Context()),
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}
	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

// clientIP returns the first X-Forwarded-For hop, or the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
