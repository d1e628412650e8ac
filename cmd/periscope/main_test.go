// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_CommandDispatch(t *testing.T) {
	if err := run([]string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if err := run([]string{"help"}); err != nil {
		t.Fatalf("help: %v", err)
	}
	if err := run(nil); err == nil {
		t.Fatal("expected error for missing command")
	}
	err := run([]string{"periscope-up"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("unknown command error = %v", err)
	}
}

func TestRunConnect_RejectsBadArguments(t *testing.T) {
	if err := runConnect(nil); err == nil {
		t.Fatal("expected error without a host argument")
	}
	if err := runConnect([]string{"device-a", "device-b"}); err == nil {
		t.Fatal("expected error with two host arguments")
	}
}

func TestRunRelay_RejectsConflictingCarriers(t *testing.T) {
	err := runRelay([]string{"device-a", "--listen", "127.0.0.1:0", "--listen-ws", "127.0.0.1:0"})
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("conflicting carrier error = %v", err)
	}
}

func TestRunConnect_SurfacesConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periscope.yaml")
	if err := os.WriteFile(path, []byte("ssh: {control_port: -1}\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if err := runConnect([]string{"--config", path, "device-a"}); err == nil {
		t.Fatal("expected config validation error")
	}
}
