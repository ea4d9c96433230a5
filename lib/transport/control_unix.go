// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build unix && !solaris

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets several processes bind the SSDP port, as every UPnP
// stack on a host listens on 1900.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if opErr != nil {
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil && err != unix.ENOPROTOOPT && err != unix.EINVAL {
			opErr = err
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
