// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rand provides the jitter used when scheduling SSDP traffic, drawn
// from a concurrency safe source seeded from crypto/rand.
package rand

import (
	mathRand "math/rand/v2"
)

var defaultRand = mathRand.New(newSecureSource())

// IntRange returns a random number in the closed interval [lo,hi]. When hi
// is not above lo, lo is returned.
func IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + defaultRand.IntN(hi-lo+1)
}
