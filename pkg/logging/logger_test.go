// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.name); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewWithZeroConfig(t *testing.T) {
	logger := New(Config{})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Fatal("expected a usable slog.Logger")
	}
	logger.Info("zero config works")
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "swarm-test",
		Quiet:   true,
	})
	logger.Info("incident submitted", "incident_id", "inc-1")
	logger.Debug("queue depth", "depth", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	filename := "swarm-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log file has %d lines, want 2", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log file line is not JSON: %v", err)
	}
	if entry["msg"] != "incident submitted" {
		t.Errorf("msg = %v, want %q", entry["msg"], "incident submitted")
	}
	if entry["service"] != "swarm-test" {
		t.Errorf("service = %v, want %q", entry["service"], "swarm-test")
	}
	if entry["incident_id"] != "inc-1" {
		t.Errorf("incident_id = %v, want %q", entry["incident_id"], "inc-1")
	}
}

func TestFileLoggingRespectsLevel(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "swarm-test",
		Quiet:   true,
	})
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Close()

	filename := "swarm-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "dropped") {
		t.Error("info entry leaked past warn-level filter")
	}
	if !strings.Contains(content, "kept") {
		t.Error("warn entry missing")
	}
}

func TestWithChildLogger(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		LogDir:  dir,
		Service: "swarm-test",
		Quiet:   true,
	})
	child := logger.With("worker", 2)
	child.Info("picked up incident")
	logger.Close()

	filename := "swarm-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["worker"] != float64(2) {
		t.Errorf("worker = %v, want 2", entry["worker"])
	}
}

func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "swarm-test",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("stage completed", "stage", "detection")
	logger.Debug("below level, not exported")

	// Export is async.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("exported %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "stage completed" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Level != LevelInfo {
		t.Errorf("level = %v, want info", entry.Level)
	}
	if entry.Service != "swarm-test" {
		t.Errorf("service = %q", entry.Service)
	}
	if entry.Attrs["stage"] != "detection" {
		t.Errorf("attrs = %v, want stage=detection", entry.Attrs)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	ctx := context.Background()
	if err := e.Export(ctx, LogEntry{}); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two", 3, "orphan-key-skipped"})
	if len(m) != 2 {
		t.Fatalf("map has %d keys, want 2", len(m))
	}
	if m["a"] != 1 || m["b"] != "two" {
		t.Fatalf("unexpected map %v", m)
	}

	if got := argsToMap(nil); len(got) != 0 {
		t.Fatalf("nil args produced %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log/swarm"); got != "/var/log/swarm" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestSlogInterop(t *testing.T) {
	logger := New(Config{Service: "swarm-test", Quiet: true})
	defer logger.Close()

	s := logger.Slog()
	if s == nil {
		t.Fatal("Slog() returned nil")
	}
	s.Info("direct slog call", slog.String("k", "v"))
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	defer logger.Close()
	logger.Info("default logger works")
}
