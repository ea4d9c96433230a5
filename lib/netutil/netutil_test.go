// Copyright (C) 2023 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package netutil

import (
	"errors"
	"net"
	"runtime"
	"testing"
)

func withFakeInterfaces(t *testing.T, intfs []net.Interface, addrs map[string][]net.Addr) {
	t.Helper()
	oldIntfs, oldAddrs := Interfaces, InterfaceAddrsByInterface
	t.Cleanup(func() {
		Interfaces, InterfaceAddrsByInterface = oldIntfs, oldAddrs
	})
	Interfaces = func() ([]net.Interface, error) {
		return intfs, nil
	}
	InterfaceAddrsByInterface = func(intf *net.Interface) ([]net.Addr, error) {
		as, ok := addrs[intf.Name]
		if !ok {
			return nil, errors.New("no such interface")
		}
		return as, nil
	}
}

func ipnet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestLocalAddresses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interface flags are not evaluated on Windows")
	}

	withFakeInterfaces(t, []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback | net.FlagMulticast},
		{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagMulticast | net.FlagBroadcast},
		{Index: 3, Name: "eth1", Flags: net.FlagMulticast},
		{Index: 4, Name: "tun0", Flags: net.FlagUp | net.FlagPointToPoint},
		{Index: 5, Name: "wlan0", Flags: net.FlagUp | net.FlagMulticast},
	}, map[string][]net.Addr{
		"lo":    {ipnet("127.0.0.1/8"), ipnet("::1/128")},
		"eth0":  {ipnet("192.0.2.10/24"), ipnet("fe80::1/64")},
		"eth1":  {ipnet("198.51.100.1/24")},
		"tun0":  {ipnet("10.8.0.2/24")},
		"wlan0": {ipnet("203.0.113.7/24"), ipnet("2001:db8::7/64")},
	})

	addrs, err := LocalAddresses(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0].IP.String() != "192.0.2.10" || addrs[1].IP.String() != "203.0.113.7" {
		t.Errorf("unexpected default selection %v", addrs)
	}

	addrs, _ = LocalAddresses(Filter{IPv6: true})
	if len(addrs) != 2 || addrs[0].Interface.Name != "eth0" || addrs[1].IP.String() != "2001:db8::7" {
		t.Errorf("unexpected IPv6 selection %v", addrs)
	}

	addrs, _ = LocalAddresses(Filter{IncludeLoopback: true, IncludeDown: true, Names: []string{"lo", "eth1"}})
	if len(addrs) != 2 || addrs[0].IP.String() != "127.0.0.1" || addrs[1].IP.String() != "198.51.100.1" {
		t.Errorf("unexpected named selection %v", addrs)
	}

	intf, err := InterfaceForIP(net.ParseIP("203.0.113.7"))
	if err != nil || intf.Name != "wlan0" {
		t.Errorf("InterfaceForIP: %v, %v", intf, err)
	}
	if _, err := InterfaceForIP(net.ParseIP("192.0.2.99")); err == nil {
		t.Error("expected error for unassigned address")
	}
}

func TestLinkLocalHostCarriesZone(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagMulticast},
		{Index: 3, Name: "eth1", Flags: net.FlagUp | net.FlagMulticast},
	}, map[string][]net.Addr{
		"eth0": {ipnet("192.0.2.10/24"), ipnet("fe80::1/64")},
		"eth1": {ipnet("fe80::1/64"), ipnet("fd00::2/64")},
	})

	addrs, err := LocalAddresses(Filter{IPv6: true})
	if err != nil {
		t.Fatal(err)
	}
	var hosts []string
	for _, a := range addrs {
		hosts = append(hosts, a.Host())
	}
	if len(hosts) != 3 || hosts[0] != "fe80::1%eth0" || hosts[1] != "fe80::1%eth1" || hosts[2] != "fd00::2" {
		t.Fatalf("unexpected hosts %v", hosts)
	}

	intf, err := InterfaceForHost("fe80::1%eth1")
	if err != nil || intf.Name != "eth1" {
		t.Errorf("InterfaceForHost: %v, %v", intf, err)
	}
	intf, err = InterfaceForHost("192.0.2.10")
	if err != nil || intf.Name != "eth0" {
		t.Errorf("InterfaceForHost without zone: %v, %v", intf, err)
	}
	if _, err := InterfaceForHost("fe80::1%wlan9"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func TestParseHost(t *testing.T) {
	cases := []struct {
		in   string
		ip   string
		zone string
		ok   bool
	}{
		{"192.0.2.1", "192.0.2.1", "", true},
		{"fe80::1%eth0", "fe80::1", "eth0", true},
		{"2001:db8::1", "2001:db8::1", "", true},
		{"192.0.2.1%eth0", "", "", false},
		{"not-an-ip", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		ip, zone, ok := ParseHost(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseHost(%q) ok = %v, expected %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && (ip.String() != tc.ip || zone != tc.zone) {
			t.Errorf("ParseHost(%q) = %v, %q", tc.in, ip, zone)
		}
	}
}
