// Package metadata records who is calling: client IP and the officer
// workstation parsed from the User-Agent.
package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"checkpoint/pkg/requestcontext"
)

// ClientMetadata adds the client IP and workstation label to the context.
// Apply early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClient(r.Context(), ClientIPFromRequest(r), Workstation(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Workstation renders a short label such as "Chrome 120.0 on Windows 10".
// Non-browser clients (kiosk agents, scripts) keep their raw product token.
func Workstation(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	if name == "" {
		return firstToken(userAgent)
	}
	label := name
	if version != "" {
		label += " " + majorMinor(version)
	}
	if os := ua.OS(); os != "" {
		label += " on " + os
	}
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}

func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) > 2 {
		return parts[0] + "." + parts[1]
	}
	return v
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

// ClientIPFromRequest extracts the real client IP, honoring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// client, proxy1, proxy2, ...
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
