package ctxutil

import (
	"context"
	"testing"
)

func TestRunIDRoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	if got := RunID(ctx); got != "run-1" {
		t.Fatalf("RunID: want=run-1 got=%q", got)
	}
	if got := RunID(context.Background()); got != "" {
		t.Fatalf("RunID(empty): want=\"\" got=%q", got)
	}
	//nolint:staticcheck
	if Default(nil) == nil {
		t.Fatalf("Default(nil) returned nil")
	}
}
