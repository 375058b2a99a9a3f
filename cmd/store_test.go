package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/marcus/huddle/internal/remote/memory"
)

func TestResolveDriverPrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HUDDLE_REMOTE_DRIVER", "postgres")

	flagDriver = ""
	t.Cleanup(func() { flagDriver = "" })

	if got := resolveDriver(); got != "postgres" {
		t.Errorf("env driver = %q, want %q", got, "postgres")
	}

	flagDriver = "memory"
	if got := resolveDriver(); got != "memory" {
		t.Errorf("flag driver = %q, want %q", got, "memory")
	}
}

func TestResolveDriverDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HUDDLE_REMOTE_DRIVER", "")

	flagDriver = ""
	if got := resolveDriver(); got != "sqlite" {
		t.Errorf("default driver = %q, want %q", got, "sqlite")
	}
}

func TestOpenStoreMemory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	flagDriver = "memory"
	t.Cleanup(func() { flagDriver = "" })

	store, err := openStore(context.Background(), slog.Default())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*memory.Store); !ok {
		t.Errorf("store type = %T, want *memory.Store", store)
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	flagDriver = "etcd"
	t.Cleanup(func() { flagDriver = "" })

	if _, err := openStore(context.Background(), slog.Default()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
