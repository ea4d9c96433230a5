// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package locator

import (
	"time"

	"github.com/syncthing/ssdp/lib/ssdp"
)

// A DiscoveredDevice is a device or service seen in a search response or
// an alive notification.
type DiscoveredDevice struct {
	USN                 string
	NotificationType    string
	DescriptionLocation string
	CacheLifetime       time.Duration
	// AsAt is when the advertisement was received.
	AsAt time.Time
	// Header holds every header of the advertisement.
	Header ssdp.Header
}

// Key identifies a discovered device for de-duplication.
func (d DiscoveredDevice) Key() string {
	return d.USN + "\x00" + d.DescriptionLocation
}

// Expires returns when the advertisement runs out.
func (d DiscoveredDevice) Expires() time.Time {
	return d.AsAt.Add(d.CacheLifetime)
}

// IsExpired reports whether the advertisement has run out at now.
func (d DiscoveredDevice) IsExpired(now time.Time) bool {
	return d.CacheLifetime <= 0 || !now.Before(d.Expires())
}

type EventKind int

const (
	DeviceAvailable EventKind = iota
	DeviceUnavailable
)

func (k EventKind) String() string {
	switch k {
	case DeviceAvailable:
		return "available"
	case DeviceUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// An Event reports a device becoming available or unavailable.
type Event struct {
	Kind   EventKind
	Device DiscoveredDevice
	// Expired is set for unavailable devices whose advertisement ran out,
	// as opposed to those that said byebye.
	Expired bool
}

// deviceFromHeader builds a discovered device from an advertisement,
// taking the type from typeHeader (ST for responses, NT for
// notifications).
func deviceFromHeader(h ssdp.Header, typeHeader string, now time.Time) (DiscoveredDevice, bool) {
	usn := h.Get("USN")
	if usn == "" {
		return DiscoveredDevice{}, false
	}
	lifetime, _ := ssdp.ParseMaxAge(h.Get("CACHE-CONTROL"))
	return DiscoveredDevice{
		USN:                 usn,
		NotificationType:    h.Get(typeHeader),
		DescriptionLocation: h.Get("LOCATION"),
		CacheLifetime:       lifetime,
		AsAt:                now,
		Header:              h,
	}, true
}
