package instance

import "testing"

func TestGetIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("POSSYNC_INSTANCE_ID", "api-2")
	t.Setenv("DYNO", "web.1")

	if got := GetID(); got != "api-2" {
		t.Fatalf("expected api-2, got %q", got)
	}
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("POSSYNC_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.3")

	if got := GetID(); got != "worker.3" {
		t.Fatalf("expected worker.3, got %q", got)
	}
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("POSSYNC_INSTANCE_ID", "")
	t.Setenv("DYNO", "")

	if GetID() == "" {
		t.Fatal("expected a non-empty instance id")
	}
}
