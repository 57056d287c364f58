package main

import (
	"bytes"
	"strings"
	"testing"

	"transcribeflow/internal/store"
)

func TestRenderStatusPlainWithoutColor(t *testing.T) {
	if got := renderStatus(store.StatusFailed, false); got != "failed" {
		t.Fatalf("expected plain status, got %q", got)
	}
}

func TestRenderStatusColorized(t *testing.T) {
	got := renderStatus(store.StatusApproved, true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green wrapped status, got %q", got)
	}
	if !strings.Contains(got, "approved") {
		t.Fatalf("expected status text, got %q", got)
	}
}

func TestShouldColorizeRejectsNonFileWriter(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("expected buffers to disable color")
	}
}
