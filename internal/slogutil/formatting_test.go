// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package slogutil

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFuncNameToPkg(t *testing.T) {
	cases := []struct {
		fn, pkg, typ string
	}{
		{"github.com/syncthing/ssdp/lib/comms.(*Server).SendMessage", "comms", "server"},
		{"github.com/syncthing/ssdp/lib/publisher.New", "publisher", ""},
		{"github.com/syncthing/ssdp/lib/locator.(*Locator).handleResponse.func1", "locator", ""},
		{"github.com/syncthing/ssdp/lib/publisher.(*searchResponder).respond", "publisher", "searchresponder"},
		{"github.com/syncthing/ssdp/internal/slogutil.init", "slogutil", ""},
		{"main.main", "main", ""},
	}
	for _, tc := range cases {
		pkg, typ := funcNameToPkg(tc.fn)
		if pkg != tc.pkg || typ != tc.typ {
			t.Errorf("funcNameToPkg(%q) = %q, %q, expected %q, %q", tc.fn, pkg, typ, tc.pkg, tc.typ)
		}
	}
}

func TestLineWriteTo(t *testing.T) {
	when := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	l := Line{When: when, Message: "hello (a=b)", Level: slog.LevelWarn}

	var buf bytes.Buffer
	if _, err := l.WriteTo(&buf, DefaultLineFormat); err != nil {
		t.Fatal(err)
	}
	if exp := "2025-03-04 05:06:07 WRN hello (a=b)\n"; buf.String() != exp {
		t.Errorf("got %q, expected %q", buf.String(), exp)
	}

	buf.Reset()
	_, _ = l.WriteTo(&buf, LineFormat{LevelSyslog: true})
	if exp := "<4>hello (a=b)\n"; buf.String() != exp {
		t.Errorf("got %q, expected %q", buf.String(), exp)
	}
}

func TestRecorderSeesAttributes(t *testing.T) {
	rec := NewRecorder(slog.LevelWarn)
	t0 := time.Now().Add(-time.Second)

	slog.Warn("Something broke", Error(errors.New("boom")), slog.Int("n", 3))
	slog.Info("Not recorded")

	lines := rec.Since(t0)
	if len(lines) != 1 {
		t.Fatalf("expected one recorded line, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0].Message, "Something broke (error=boom n=3") {
		t.Errorf("unexpected message %q", lines[0].Message)
	}
}

func TestExpensiveOnlyWhenEmitted(t *testing.T) {
	rec := NewRecorder(slog.LevelDebug)
	t0 := time.Now().Add(-time.Second)
	t.Cleanup(func() { SetPackageLevel("slogutil", slog.LevelInfo) })

	calls := 0
	val := Expensive(func() any {
		calls++
		return "computed"
	})

	SetPackageLevel("slogutil", slog.LevelInfo)
	slog.Debug("Not emitted", "v", val)
	if calls != 0 {
		t.Fatalf("value computed %d times for a suppressed line", calls)
	}

	SetPackageLevel("slogutil", slog.LevelDebug)
	slog.Debug("Emitted", "v", val)
	if calls != 1 {
		t.Errorf("value computed %d times, expected once", calls)
	}
	lines := rec.Since(t0)
	if len(lines) != 1 || !strings.HasPrefix(lines[0].Message, "Emitted (v=computed") {
		t.Errorf("unexpected lines %v", lines)
	}
}

func TestLevelOverrides(t *testing.T) {
	t.Cleanup(func() {
		SetPackageLevel("comms", slog.LevelInfo)
		SetPackageLevel("locator", slog.LevelInfo)
	})

	SetLevelOverrides("comms, locator:WARN,")
	if lvl := globalLevels.Get("comms"); lvl != slog.LevelDebug {
		t.Errorf("comms at %v, expected DEBUG", lvl)
	}
	if lvl := globalLevels.Get("locator"); lvl != slog.LevelWarn {
		t.Errorf("locator at %v, expected WARN", lvl)
	}
}
