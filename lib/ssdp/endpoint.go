// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ssdp

import (
	"fmt"
	"net"
	"strconv"
)

// A UDPEndpoint is an IP address and port. It is a value type and compares
// by field values.
type UDPEndpoint struct {
	IP   string
	Port int
}

func NewUDPEndpoint(ip string, port int) (UDPEndpoint, error) {
	if port < 0 || port > 65535 {
		return UDPEndpoint{}, fmt.Errorf("port %d out of range: %w", port, ErrInvalidArgument)
	}
	return UDPEndpoint{IP: ip, Port: port}, nil
}

// EndpointFromAddr converts a net.Addr as returned by a packet connection.
func EndpointFromAddr(addr net.Addr) (UDPEndpoint, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip := a.IP.String()
		if a.Zone != "" {
			ip += "%" + a.Zone
		}
		return NewUDPEndpoint(ip, a.Port)
	case nil:
		return UDPEndpoint{}, fmt.Errorf("nil address: %w", ErrInvalidArgument)
	default:
		return EndpointFromString(addr.String())
	}
}

// UDPAddr resolves the endpoint into a net.UDPAddr.
func (e UDPEndpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", e.String())
}

func (e UDPEndpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// EndpointFromString parses a host:port string such as a HOST header.
func EndpointFromString(s string) (UDPEndpoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return UDPEndpoint{}, fmt.Errorf("%q: %w", s, ErrInvalidArgument)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return UDPEndpoint{}, fmt.Errorf("port %q: %w", port, ErrInvalidArgument)
	}
	return NewUDPEndpoint(host, p)
}
