// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package slogutil

import (
	"io"
	"log/slog"
	"os"
)

var (
	globalLevels = &levelTracker{
		levels: make(map[string]slog.Level),
		descrs: make(map[string]string),
	}
	globalFormatter = &formattingOptions{
		LineFormat: DefaultLineFormat,
		out:        logWriter(),
	}
	slogDef = slog.New(&formattingHandler{opts: globalFormatter})
)

func logWriter() io.Writer {
	if os.Getenv("LOGGER_DISCARD") != "" {
		// Hack to completely disable logging, for example when running
		// benchmarks.
		return io.Discard
	}

	return os.Stdout
}

func init() {
	slog.SetDefault(slogDef)

	// Handle legacy STTRACE var
	SetLevelOverrides(os.Getenv("STTRACE"))
}

// SetOutput replaces the writer that formatted lines are printed to. A nil
// writer disables printing; recorders still see every line.
func SetOutput(w io.Writer) {
	globalFormatter.mut.Lock()
	globalFormatter.out = w
	globalFormatter.mut.Unlock()
}
