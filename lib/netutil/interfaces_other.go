// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package netutil

import "net"

// Interfaces and InterfaceAddrsByInterface are variables so that tests can
// substitute a fixed set of adapters.
var (
	Interfaces                = net.Interfaces
	InterfaceAddrsByInterface = func(intf *net.Interface) ([]net.Addr, error) {
		return intf.Addrs()
	}
)
