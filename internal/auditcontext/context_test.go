package auditcontext

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithIPAddress(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "curl/8")
	ctx = WithActor(ctx, ActorUser, "42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected trimmed request id, got %q", got)
	}
	if got := IPAddressFromContext(ctx); got != "10.0.0.1" {
		t.Fatalf("unexpected ip %q", got)
	}
	if got := UserAgentFromContext(ctx); got != "curl/8" {
		t.Fatalf("unexpected user agent %q", got)
	}
	actorType, actorID := ActorFromContext(ctx)
	if actorType != ActorUser || actorID != "42" {
		t.Fatalf("unexpected actor %s/%s", actorType, actorID)
	}
}

func TestActorDefaultsToAnonymous(t *testing.T) {
	actorType, actorID := ActorFromContext(context.Background())
	if actorType != ActorAnonymous || actorID != "" {
		t.Fatalf("expected anonymous actor, got %s/%s", actorType, actorID)
	}
}
