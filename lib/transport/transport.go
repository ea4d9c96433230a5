// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package transport defines the datagram socket capability the SSDP engine
// runs on, and provides an implementation over real UDP sockets.
package transport

import (
	"github.com/syncthing/ssdp/lib/ssdp"
)

// A Datagram is a single received packet.
type Datagram struct {
	Data   []byte
	Source ssdp.UDPEndpoint
}

// A Socket is a bound datagram socket. Receive blocks until a datagram
// arrives or the socket is closed, in which case the error satisfies
// errors.Is(err, net.ErrClosed). Send and Receive may be called
// concurrently.
type Socket interface {
	Send(data []byte, dst ssdp.UDPEndpoint) error
	Receive() (Datagram, error)
	LocalEndpoint() ssdp.UDPEndpoint
	Close() error
}

// A Factory creates bound sockets.
type Factory interface {
	// ListenMulticast binds the group port and joins the group on the
	// adapter owning localIP, or on every multicast capable adapter when
	// localIP is empty.
	ListenMulticast(group ssdp.UDPEndpoint, localIP string) (Socket, error)
	// ListenUnicast binds localIP:port (port zero for ephemeral). Multicast
	// sent from the socket uses the given TTL / hop limit and leaves via
	// the adapter owning localIP.
	ListenUnicast(localIP string, port int, multicastTTL int) (Socket, error)
}
