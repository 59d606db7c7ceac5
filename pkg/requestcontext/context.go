// Package requestcontext carries request-scoped values without net/http.
//
// Middleware writes them; the orchestrator and publishers read them:
//
//	officerID := requestcontext.OfficerID(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"slices"
	"time"

	id "checkpoint/pkg/domain"
)

type (
	officerIDKey    struct{}
	capabilitiesKey struct{}
	clientIPKey     struct{}
	workstationKey  struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

func value[T any](ctx context.Context, key any) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// OfficerID returns the authenticated officer, or the nil ID.
func OfficerID(ctx context.Context) id.OfficerID {
	officerID, _ := value[id.OfficerID](ctx, officerIDKey{})
	return officerID
}

func WithOfficerID(ctx context.Context, officerID id.OfficerID) context.Context {
	return context.WithValue(ctx, officerIDKey{}, officerID)
}

// Capabilities returns the capabilities granted by the caller's token.
func Capabilities(ctx context.Context) []string {
	caps, _ := value[[]string](ctx, capabilitiesKey{})
	return caps
}

func WithCapabilities(ctx context.Context, caps []string) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, slices.Clone(caps))
}

// HasCapabilities reports whether every required capability was granted.
func HasCapabilities(ctx context.Context, required ...string) bool {
	granted := Capabilities(ctx)
	for _, c := range required {
		if !slices.Contains(granted, c) {
			return false
		}
	}
	return true
}

func ClientIP(ctx context.Context) string {
	ip, _ := value[string](ctx, clientIPKey{})
	return ip
}

// Workstation returns the desk label derived from the User-Agent,
// e.g. "Chrome 120.0 on Windows 10".
func Workstation(ctx context.Context) string {
	ws, _ := value[string](ctx, workstationKey{})
	return ws
}

// WithClient records where the request came from.
func WithClient(ctx context.Context, clientIP, workstation string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, workstationKey{}, workstation)
}

func RequestID(ctx context.Context) string {
	reqID, _ := value[string](ctx, requestIDKey{})
	return reqID
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the time pinned for this request. Outside a request (relay
// worker, background publishers) it falls back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, requestTimeKey{}); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
