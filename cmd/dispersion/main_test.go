package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/seenimoa/dispersion/pkg/models"
)

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	bad := "dispersion:\n  entry_threshold: 0.05\n  exit_threshold: 0.15\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"--config", path, "version"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected startup to fail on an entry threshold below the exit threshold")
	}
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("error = %v, want models.ErrInvalidConfiguration", err)
	}
}
