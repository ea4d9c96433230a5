// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package testutil

import (
	"cmp"
	"testing"
	"time"
)

func AssertTrue(testFailFunc func(string, ...any), a bool, sprintfArgs ...any) {
	if !a {
		if len(sprintfArgs) == 0 {
			testFailFunc("Assertion failed", a)
		} else {
			testFailFunc("Assertion failed: "+sprintfArgs[0].(string), a, sprintfArgs[1:])
		}
	}
}

func AssertEqual[T comparable](testFailFunc func(string, ...any), a T, b T, sprintfArgs ...any) {
	if a != b {
		if len(sprintfArgs) == 0 {
			testFailFunc("Assertion failed: %v == %v", a, b)
		} else {
			testFailFunc("Assertion failed: %v == %v: "+sprintfArgs[0].(string), a, b, sprintfArgs[1:])
		}
	}
}

func AssertGreater[T cmp.Ordered](testFailFunc func(string, ...any), a T, b T, sprintfArgs ...any) {
	if a <= b {
		if len(sprintfArgs) == 0 {
			testFailFunc("Assertion failed: %v > %v", a, b)
		} else {
			testFailFunc("Assertion failed: %v > %v: "+sprintfArgs[0].(string), a, b, sprintfArgs[1:])
		}
	}
}

func FatalErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// WaitFor polls cond until it returns true or the timeout passes, in
// which case the test fails with msg.
func WaitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting:", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
