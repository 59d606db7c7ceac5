// Package auth authenticates officers from bearer tokens and gates routes on
// the capabilities carried in the token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "checkpoint/pkg/domain"
	audit "checkpoint/pkg/platform/audit"
	request "checkpoint/pkg/platform/middleware/request"
	"checkpoint/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	OfficerID    string
	Capabilities []string
	JTI          string
}

// SecurityEmitter receives access failures for the security audit trail.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// Option configures the auth middlewares.
type Option func(*options)

type options struct {
	security SecurityEmitter
}

// WithSecurityEmitter records rejected requests as security events.
func WithSecurityEmitter(e SecurityEmitter) Option {
	return func(o *options) {
		o.security = e
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":%q,"error_description":%q}`, errCode, errDesc))
}

func (o options) reject(ctx context.Context, subject string, action audit.AuditEvent, reason string, severity audit.Severity) {
	if o.security == nil {
		return
	}
	o.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Action:    string(action),
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: request.GetRequestID(ctx),
		Severity:  severity,
	})
}

// RequireAuth validates the bearer token and stores the officer ID and
// capabilities in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				o.reject(ctx, "anonymous", audit.EventAuthFailed, "missing token", audit.SeverityInfo)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				o.reject(ctx, "anonymous", audit.EventAuthFailed, err.Error(), audit.SeverityWarning)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			officerID, err := id.ParseOfficerID(claims.OfficerID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid officer claim",
					"error", err,
					"request_id", requestID,
				)
				o.reject(ctx, "anonymous", audit.EventAuthFailed, "invalid officer claim", audit.SeverityWarning)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithOfficerID(ctx, officerID)
			ctx = requestcontext.WithCapabilities(ctx, claims.Capabilities)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapabilities rejects officers lacking any of the listed
// capabilities. Must run after RequireAuth.
func RequireCapabilities(logger *slog.Logger, required []string, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.HasCapabilities(ctx, required...) {
				next.ServeHTTP(w, r)
				return
			}
			officerID := requestcontext.OfficerID(ctx)
			logger.WarnContext(ctx, "forbidden - missing capability",
				"request_id", request.GetRequestID(ctx),
				"officer_id", officerID,
				"required", required,
			)
			o.reject(ctx, officerID.String(), audit.EventCapabilityDenied,
				"missing "+strings.Join(required, ","), audit.SeverityWarning)
			writeJSONError(w, http.StatusForbidden, "forbidden", "Officer lacks the required capability")
		})
	}
}
