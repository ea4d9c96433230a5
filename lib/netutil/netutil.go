// Copyright (C) 2023 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package netutil enumerates local network adapters and their unicast
// addresses, the candidates on which SSDP bindings are created.
package netutil

import (
	"fmt"
	"net"
	"runtime"
	"strings"
)

// A Filter selects adapters and addresses. The zero Filter selects every
// adapter that is up, supports multicast and is not a loopback, with IPv4
// addresses only.
type Filter struct {
	IncludeLoopback bool
	IncludeDown     bool
	// Adapters without the multicast flag are normally skipped; SSDP is
	// useless on them.
	IncludeNonMulticast bool
	IPv6                bool
	// Only adapters with these names, when non-empty.
	Names []string
}

// An Address is a local unicast address and the adapter it belongs to.
type Address struct {
	IP        net.IP
	Interface net.Interface
}

func (a Address) String() string {
	return fmt.Sprintf("%s (%s)", a.IP, a.Interface.Name)
}

// Host returns the address in a form that can be bound to. IPv6 link-local
// addresses carry the adapter name as their zone.
func (a Address) Host() string {
	if a.IP.To4() == nil && a.IP.IsLinkLocalUnicast() {
		return a.IP.String() + "%" + a.Interface.Name
	}
	return a.IP.String()
}

// ParseHost parses an IP address with an optional "%zone" suffix.
func ParseHost(host string) (net.IP, string, bool) {
	addr, zone, _ := strings.Cut(host, "%")
	ip := net.ParseIP(addr)
	if ip == nil || (zone != "" && ip.To4() != nil) {
		return nil, "", false
	}
	return ip, zone, true
}

// LocalAddresses returns the unicast addresses on adapters selected by the
// filter, in adapter order.
func LocalAddresses(f Filter) ([]Address, error) {
	intfs, err := Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	var res []Address
	for i := range intfs {
		intf := intfs[i]
		if !f.selects(intf) {
			continue
		}
		addrs, err := InterfaceAddrsByInterface(&intf)
		if err != nil {
			l.Debugln("Listing addresses for", intf.Name, "failed:", err)
			continue
		}
		for _, addr := range addrs {
			ip := addrIP(addr)
			if ip == nil {
				continue
			}
			if f.IPv6 {
				if ip.To4() != nil {
					continue
				}
			} else if ip.To4() == nil {
				continue
			}
			if ip.IsLoopback() && !f.IncludeLoopback {
				continue
			}
			if ip.IsMulticast() || ip.IsUnspecified() {
				continue
			}
			res = append(res, Address{IP: ip, Interface: intf})
		}
	}
	return res, nil
}

func (f Filter) selects(intf net.Interface) bool {
	if len(f.Names) > 0 {
		found := false
		for _, n := range f.Names {
			if n == intf.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	// Interface flags seem to always be 0 on Windows
	if runtime.GOOS == "windows" {
		return true
	}
	if intf.Flags&net.FlagUp == 0 && !f.IncludeDown {
		return false
	}
	if intf.Flags&net.FlagLoopback != 0 && !f.IncludeLoopback {
		return false
	}
	if intf.Flags&net.FlagMulticast == 0 && !f.IncludeNonMulticast {
		return false
	}
	return true
}

// InterfaceForHost returns the adapter named by the zone of host, or else
// the one owning its address.
func InterfaceForHost(host string) (*net.Interface, error) {
	ip, zone, ok := ParseHost(host)
	if !ok {
		return nil, fmt.Errorf("%q is not an IP address", host)
	}
	if zone == "" {
		return InterfaceForIP(ip)
	}
	intfs, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range intfs {
		if intfs[i].Name == zone {
			return &intfs[i], nil
		}
	}
	return nil, fmt.Errorf("no interface named %q", zone)
}

// InterfaceForIP returns the adapter that has the given address assigned.
func InterfaceForIP(ip net.IP) (*net.Interface, error) {
	intfs, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range intfs {
		addrs, err := InterfaceAddrsByInterface(&intfs[i])
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if aip := addrIP(addr); aip != nil && aip.Equal(ip) {
				return &intfs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", ip)
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPNet:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}
