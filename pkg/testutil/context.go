package testutil

import (
	"context"
	"net/http"
	"time"

	id "checkpoint/pkg/domain"
	"checkpoint/pkg/requestcontext"
)

// WithOfficer adds an officer ID and capabilities to the request context,
// simulating what the auth middleware does for an authenticated officer.
// Invalid IDs are silently ignored.
func WithOfficer(req *http.Request, officerID string, capabilities ...string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseOfficerID(officerID); err == nil {
		ctx = requestcontext.WithOfficerID(ctx, parsed)
	}
	if len(capabilities) > 0 {
		ctx = requestcontext.WithCapabilities(ctx, capabilities)
	}
	return req.WithContext(ctx)
}

// OfficerContext returns a background context carrying an officer and a fixed
// time, for service tests that bypass HTTP.
func OfficerContext(officerID id.OfficerID, now time.Time) context.Context {
	ctx := requestcontext.WithOfficerID(context.Background(), officerID)
	ctx = requestcontext.WithRequestID(ctx, "test-request")
	return requestcontext.WithTime(ctx, now)
}
