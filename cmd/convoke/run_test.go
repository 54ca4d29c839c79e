package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKillFileCancelsRun(t *testing.T) {
	killPath := filepath.Join(t.TempDir(), ".convoke", "kill")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := watchKillFile(killPath, cancel)
	if err != nil {
		t.Fatalf("watchKillFile: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(killPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("kill file did not cancel the run context")
	}
}

func TestKillFileIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	killPath := filepath.Join(dir, ".convoke", "kill")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := watchKillFile(killPath, cancel)
	if err != nil {
		t.Fatalf("watchKillFile: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, ".convoke", "notes"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
		t.Fatal("unrelated file cancelled the run context")
	case <-time.After(300 * time.Millisecond):
	}
}
