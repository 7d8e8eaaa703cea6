package main

import (
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("RECON_TEST_INT", "42")
	if got := intEnv("RECON_TEST_INT", 7); got != 42 {
		t.Fatalf("intEnv = %d, want 42", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("RECON_TEST_INT", "not-a-number")
	if got := intEnv("RECON_TEST_INT", 7); got != 7 {
		t.Fatalf("intEnv = %d, want fallback 7", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("RECON_TEST_DURATION", "90s")
	if got := durationEnv("RECON_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("durationEnv = %s, want 90s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("RECON_TEST_DURATION", "banana")
	if got := durationEnv("RECON_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("durationEnv = %s, want fallback 1s", got)
	}
}

func TestStorageProfileDefaults(t *testing.T) {
	t.Setenv("RECON_BACKEND_PROFILE", "memory")
	state, queue, err := storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("memory profile: %v", err)
	}
	if state != "memory://" || queue != "memory://" {
		t.Fatalf("memory profile = %q, %q", state, queue)
	}

	t.Setenv("RECON_BACKEND_PROFILE", "production")
	if _, _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatal("production profile without a DSN should fail")
	}
	t.Setenv("RECON_POSTGRES_DSN", "postgres://localhost/reconcile")
	state, queue, err = storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("production profile: %v", err)
	}
	if state != "postgres://localhost/reconcile" || queue != state {
		t.Fatalf("production profile = %q, %q", state, queue)
	}

	t.Setenv("RECON_BACKEND_PROFILE", "interpretive-dance")
	if _, _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatal("unknown profile should fail")
	}
}
