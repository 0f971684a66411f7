package obscontext

import (
	"context"
	"testing"
)

func TestCorrelationValuesRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithWorkspaceID(ctx, "ws_1")
	ctx = WithUserID(ctx, "")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected trimmed request id, got %q", got)
	}
	if got := WorkspaceIDFromContext(ctx); got != "ws_1" {
		t.Fatalf("expected workspace id, got %q", got)
	}
	if got := UserIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty user id to be skipped, got %q", got)
	}
}
