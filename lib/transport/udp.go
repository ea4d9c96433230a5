// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/syncthing/ssdp/lib/netutil"
	"github.com/syncthing/ssdp/lib/ssdp"
)

const writeTimeout = 10 * time.Second

// UDPFactory creates sockets on the host network stack.
type UDPFactory struct{}

var _ Factory = UDPFactory{}

func network(ip net.IP, ipv6 bool) string {
	if ipv6 || (ip != nil && ip.To4() == nil) {
		return "udp6"
	}
	return "udp4"
}

func (UDPFactory) ListenMulticast(group ssdp.UDPEndpoint, localIP string) (Socket, error) {
	gip := net.ParseIP(group.IP)
	if gip == nil || !gip.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast group: %w", group.IP, ssdp.ErrInvalidArgument)
	}
	netw := network(gip, false)

	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(context.Background(), netw, net.JoinHostPort("", strconv.Itoa(group.Port)))
	if err != nil {
		return nil, fmt.Errorf("binding multicast port: %w", err)
	}

	intfs, err := multicastInterfaces(localIP, netw == "udp6")
	if err != nil {
		pc.Close()
		return nil, err
	}

	s := &udpSocket{conn: pc}
	joined := 0
	if netw == "udp6" {
		p := ipv6.NewPacketConn(pc)
		for i := range intfs {
			if err := p.JoinGroup(&intfs[i], &net.UDPAddr{IP: gip}); err != nil {
				l.Debugln("IPv6 join", intfs[i].Name, "failed:", err)
				continue
			}
			l.Debugln("IPv6 join", intfs[i].Name, "success")
			joined++
		}
		_ = p.SetMulticastLoopback(true)
	} else {
		p := ipv4.NewPacketConn(pc)
		for i := range intfs {
			if err := p.JoinGroup(&intfs[i], &net.UDPAddr{IP: gip}); err != nil {
				l.Debugln("IPv4 join", intfs[i].Name, "failed:", err)
				continue
			}
			l.Debugln("IPv4 join", intfs[i].Name, "success")
			joined++
		}
		_ = p.SetMulticastLoopback(true)
	}

	if joined == 0 {
		pc.Close()
		return nil, errors.New("no multicast interfaces available")
	}
	return s, nil
}

func (UDPFactory) ListenUnicast(localIP string, port int, multicastTTL int) (Socket, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("port %d: %w", port, ssdp.ErrInvalidArgument)
	}
	var ip net.IP
	if localIP != "" {
		var ok bool
		if ip, _, ok = netutil.ParseHost(localIP); !ok {
			return nil, fmt.Errorf("local address %q: %w", localIP, ssdp.ErrInvalidArgument)
		}
	}
	netw := network(ip, false)

	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(context.Background(), netw, net.JoinHostPort(localIP, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("binding unicast socket: %w", err)
	}

	var intf *net.Interface
	if ip != nil && !ip.IsUnspecified() {
		if intf, err = netutil.InterfaceForHost(localIP); err != nil {
			l.Debugln("Multicast interface for", localIP, "unknown:", err)
		}
	}

	if netw == "udp6" {
		p := ipv6.NewPacketConn(pc)
		if multicastTTL > 0 {
			_ = p.SetMulticastHopLimit(multicastTTL)
		}
		if intf != nil {
			_ = p.SetMulticastInterface(intf)
		}
		_ = p.SetMulticastLoopback(true)
	} else {
		p := ipv4.NewPacketConn(pc)
		if multicastTTL > 0 {
			_ = p.SetMulticastTTL(multicastTTL)
		}
		if intf != nil {
			_ = p.SetMulticastInterface(intf)
		}
		_ = p.SetMulticastLoopback(true)
	}

	return &udpSocket{conn: pc}, nil
}

func multicastInterfaces(localIP string, ipv6 bool) ([]net.Interface, error) {
	if localIP != "" {
		if _, _, ok := netutil.ParseHost(localIP); !ok {
			return nil, fmt.Errorf("local address %q: %w", localIP, ssdp.ErrInvalidArgument)
		}
		intf, err := netutil.InterfaceForHost(localIP)
		if err != nil {
			return nil, err
		}
		return []net.Interface{*intf}, nil
	}

	addrs, err := netutil.LocalAddresses(netutil.Filter{IPv6: ipv6})
	if err != nil {
		return nil, err
	}
	var res []net.Interface
	seen := make(map[int]bool)
	for _, a := range addrs {
		if !seen[a.Interface.Index] {
			seen[a.Interface.Index] = true
			res = append(res, a.Interface)
		}
	}
	return res, nil
}

type udpSocket struct {
	conn net.PacketConn
}

func (s *udpSocket) Send(data []byte, dst ssdp.UDPEndpoint) error {
	addr, err := dst.UDPAddr()
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = s.conn.WriteTo(data, addr)
	_ = s.conn.SetWriteDeadline(time.Time{})
	return err
}

func (s *udpSocket) Receive() (Datagram, error) {
	bs := make([]byte, ssdp.MaxDatagramSize)
	n, addr, err := s.conn.ReadFrom(bs)
	if err != nil {
		return Datagram{}, err
	}
	src, err := ssdp.EndpointFromAddr(addr)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Data: bs[:n], Source: src}, nil
}

func (s *udpSocket) LocalEndpoint() ssdp.UDPEndpoint {
	ep, _ := ssdp.EndpointFromAddr(s.conn.LocalAddr())
	return ep
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}
