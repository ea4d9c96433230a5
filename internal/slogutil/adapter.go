// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package slogutil

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// A LoggerAdapter provides the traditional Debugln/Infof style of logging
// on top of the default slog handler. Records carry the caller's program
// counter so that per-package levels apply as for direct slog calls.
type LoggerAdapter struct {
	pkg string
}

// NewAdapter returns an adapter for the calling package and registers the
// package description for STTRACE listings.
func NewAdapter(descr string) *LoggerAdapter {
	pkg := ""
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			pkg, _ = funcNameToPkg(fn.Name())
		}
	}
	RegisterPackage(pkg, descr)
	return &LoggerAdapter{pkg: pkg}
}

// ShouldDebug returns true when debug output is enabled for the package.
func (a *LoggerAdapter) ShouldDebug() bool {
	return globalLevels.Get(a.pkg) <= slog.LevelDebug
}

func (a *LoggerAdapter) Debugln(vals ...any) {
	a.log(slog.LevelDebug, fmt.Sprintln(vals...))
}

func (a *LoggerAdapter) Debugf(format string, vals ...any) {
	a.log(slog.LevelDebug, fmt.Sprintf(format, vals...))
}

func (a *LoggerAdapter) Infoln(vals ...any) {
	a.log(slog.LevelInfo, fmt.Sprintln(vals...))
}

func (a *LoggerAdapter) Infof(format string, vals ...any) {
	a.log(slog.LevelInfo, fmt.Sprintf(format, vals...))
}

func (a *LoggerAdapter) Warnln(vals ...any) {
	a.log(slog.LevelWarn, fmt.Sprintln(vals...))
}

func (a *LoggerAdapter) Warnf(format string, vals ...any) {
	a.log(slog.LevelWarn, fmt.Sprintf(format, vals...))
}

func (a *LoggerAdapter) log(level slog.Level, msg string) {
	h := slog.Default().Handler()
	if !h.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log and the exported method
	rec := slog.NewRecord(time.Now(), level, strings.TrimSpace(msg), pcs[0])
	_ = h.Handle(context.Background(), rec)
}
