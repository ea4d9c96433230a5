// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package slogutil

import (
	"fmt"
	"log/slog"
)

// Error returns the canonical attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Address returns an attribute for a network endpoint or address.
func Address(addr fmt.Stringer) slog.Attr {
	if addr == nil {
		return slog.String("address", "<nil>")
	}
	return slog.String("address", addr.String())
}
