// Package main tests for the core library entry point.
package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionDefault(t *testing.T) {
	// Version might be overridden by build flags; it must never be empty.
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("GapDay Core v")
	buf.WriteString(Version)
	buf.WriteString("\n")

	if !strings.HasPrefix(buf.String(), "GapDay Core v") {
		t.Errorf("Expected output to start with %q, got %q", "GapDay Core v", buf.String())
	}
}
