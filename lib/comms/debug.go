// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package comms

import (
	"github.com/syncthing/ssdp/internal/slogutil"
)

var l = slogutil.NewAdapter("SSDP socket management and message dispatch")
