// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package testutil

import (
	"net"
	"slices"
	"sync"
	"time"

	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/transport"
)

// DefaultIP is the address used for sockets bound without a local IP.
const DefaultIP = "192.0.2.1"

// A Sent records one datagram handed to the network.
type Sent struct {
	From ssdp.UDPEndpoint
	To   ssdp.UDPEndpoint
	Data []byte
	At   time.Time
}

// Network is an in-memory datagram network implementing
// transport.Factory. Multicast is looped back to every member of the
// group, including the sender.
type Network struct {
	mut         sync.Mutex
	sockets     []*Socket
	sent        []Sent
	nextPort    int
	listens     int
	failListens int
	listenErr   error
	sendErr     error
}

var _ transport.Factory = (*Network)(nil)

func NewNetwork() *Network {
	return &Network{nextPort: 49152}
}

func (n *Network) ListenMulticast(group ssdp.UDPEndpoint, localIP string) (transport.Socket, error) {
	if localIP == "" {
		localIP = DefaultIP
	}
	return n.bind(ssdp.UDPEndpoint{IP: localIP, Port: group.Port}, group.IP)
}

func (n *Network) ListenUnicast(localIP string, port int, _ int) (transport.Socket, error) {
	if localIP == "" {
		localIP = DefaultIP
	}
	n.mut.Lock()
	if port == 0 {
		port = n.nextPort
		n.nextPort++
	}
	n.mut.Unlock()
	return n.bind(ssdp.UDPEndpoint{IP: localIP, Port: port}, "")
}

func (n *Network) bind(local ssdp.UDPEndpoint, group string) (*Socket, error) {
	n.mut.Lock()
	defer n.mut.Unlock()
	n.listens++
	if n.failListens > 0 {
		n.failListens--
		return nil, n.listenErr
	}
	s := &Socket{
		net:    n,
		local:  local,
		group:  group,
		in:     make(chan transport.Datagram, 256),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	n.sockets = append(n.sockets, s)
	return s, nil
}

// FailListens makes the next count bind attempts fail with err.
func (n *Network) FailListens(count int, err error) {
	n.mut.Lock()
	n.failListens = count
	n.listenErr = err
	n.mut.Unlock()
}

// FailSends makes every send fail with err until called again with nil.
func (n *Network) FailSends(err error) {
	n.mut.Lock()
	n.sendErr = err
	n.mut.Unlock()
}

// FailReceives makes the next Receive on every open socket return err.
func (n *Network) FailReceives(err error) {
	n.mut.Lock()
	socks := slices.Clone(n.sockets)
	n.mut.Unlock()
	for _, s := range socks {
		select {
		case s.errs <- err:
		default:
		}
	}
}

// Listens returns the number of bind attempts so far.
func (n *Network) Listens() int {
	n.mut.Lock()
	defer n.mut.Unlock()
	return n.listens
}

// OpenSockets returns the number of sockets not yet closed.
func (n *Network) OpenSockets() int {
	n.mut.Lock()
	defer n.mut.Unlock()
	return len(n.sockets)
}

// CloseAll closes every open socket, as when an adapter goes away.
func (n *Network) CloseAll() {
	n.mut.Lock()
	socks := slices.Clone(n.sockets)
	n.mut.Unlock()
	for _, s := range socks {
		s.Close()
	}
}

// Sent returns a copy of every datagram sent so far.
func (n *Network) Sent() []Sent {
	n.mut.Lock()
	defer n.mut.Unlock()
	return slices.Clone(n.sent)
}

// SentTo returns the datagrams sent to dst.
func (n *Network) SentTo(dst ssdp.UDPEndpoint) []Sent {
	var res []Sent
	for _, s := range n.Sent() {
		if s.To == dst {
			res = append(res, s)
		}
	}
	return res
}

// ResetSent forgets the datagrams sent so far.
func (n *Network) ResetSent() {
	n.mut.Lock()
	n.sent = nil
	n.mut.Unlock()
}

// Inject delivers data to dst as though it was sent from src, without
// recording it as sent.
func (n *Network) Inject(src, dst ssdp.UDPEndpoint, data []byte) {
	n.deliver(src, dst, data)
}

func (n *Network) send(src, dst ssdp.UDPEndpoint, data []byte) error {
	n.mut.Lock()
	if n.sendErr != nil {
		err := n.sendErr
		n.mut.Unlock()
		return err
	}
	n.sent = append(n.sent, Sent{From: src, To: dst, Data: slices.Clone(data), At: time.Now()})
	n.mut.Unlock()
	n.deliver(src, dst, data)
	return nil
}

func (n *Network) deliver(src, dst ssdp.UDPEndpoint, data []byte) {
	multicast := false
	if ip := net.ParseIP(dst.IP); ip != nil && ip.IsMulticast() {
		multicast = true
	}

	n.mut.Lock()
	var targets []*Socket
	for _, s := range n.sockets {
		switch {
		case multicast && s.group != "" && net.ParseIP(s.group).Equal(net.ParseIP(dst.IP)) && s.local.Port == dst.Port:
			targets = append(targets, s)
		case !multicast && s.group == "" && s.local == dst:
			targets = append(targets, s)
		}
	}
	n.mut.Unlock()

	for _, s := range targets {
		select {
		case s.in <- transport.Datagram{Data: slices.Clone(data), Source: src}:
		default:
		}
	}
}

func (n *Network) remove(s *Socket) {
	n.mut.Lock()
	n.sockets = slices.DeleteFunc(n.sockets, func(o *Socket) bool { return o == s })
	n.mut.Unlock()
}

// Socket is a socket on a Network.
type Socket struct {
	net       *Network
	local     ssdp.UDPEndpoint
	group     string
	in        chan transport.Datagram
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Socket) Send(data []byte, dst ssdp.UDPEndpoint) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	return s.net.send(s.local, dst, data)
}

func (s *Socket) Receive() (transport.Datagram, error) {
	select {
	case d := <-s.in:
		return d, nil
	case err := <-s.errs:
		return transport.Datagram{}, err
	case <-s.closed:
		return transport.Datagram{}, net.ErrClosed
	}
}

func (s *Socket) LocalEndpoint() ssdp.UDPEndpoint {
	return s.local
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.net.remove(s)
	})
	return nil
}
