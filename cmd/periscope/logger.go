// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger creates the command logger. When stderr is a terminal it
// uses a TextHandler for human-readable output; when stderr is piped
// or redirected (scripts, a parent process driving the relay) it uses
// a JSONHandler so log records stay machine-parseable and never mix
// with the relay's stdout protocol stream.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
