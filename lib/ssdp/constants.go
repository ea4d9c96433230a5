// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ssdp

import "time"

const (
	MulticastAddressIPv4 = "239.255.255.250"
	// Link local scope. Site local (FF05::C) is not joined.
	MulticastAddressIPv6 = "FF02::C"
	MulticastPort        = 1900
	MulticastTTL         = 4

	MethodSearch = "M-SEARCH"
	MethodNotify = "NOTIFY"

	SearchAll       = "ssdp:all"
	UpnpRootDevice  = "upnp:rootdevice"
	PnpRootDevice   = "pnp:rootdevice"
	UUIDPrefix      = "uuid:"
	ManDiscover     = `"ssdp:discover"`
	NtsAlive        = "ssdp:alive"
	NtsByeBye       = "ssdp:byebye"
	NtsUpdate       = "ssdp:update"
	DeviceTypeMark  = ":device:"
	ServiceTypeMark = ":service:"

	ServerProductToken = "UPnP/1.0 RSSDP/1.0"

	// A responder waits at least this long before answering a search.
	MinSearchResponseDelay = 16 * time.Millisecond
	// MX values above this are not honoured (UPnP 1.0, 1.3.3).
	MaxSearchMX = 120
	// Identical search requests within this window are answered once.
	DuplicateSearchWindow = 500 * time.Millisecond

	DefaultSearchWaitTime = 4 * time.Second
	DefaultUDPSendCount   = 3
	DefaultUDPSendDelay   = 100 * time.Millisecond

	// Maximum size of an SSDP datagram we will read.
	MaxDatagramSize = 8192
)

// MulticastEndpoint returns the SSDP multicast group for the given network
// type.
func MulticastEndpoint(ipv6 bool) UDPEndpoint {
	if ipv6 {
		return UDPEndpoint{IP: MulticastAddressIPv6, Port: MulticastPort}
	}
	return UDPEndpoint{IP: MulticastAddressIPv4, Port: MulticastPort}
}
