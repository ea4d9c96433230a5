// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package comms implements the SSDP communications server: a multicast
// listen socket and a unicast send socket, each with its own receive loop,
// feeding parsed messages to request and response handlers.
package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/syncthing/ssdp/internal/slogutil"
	"github.com/syncthing/ssdp/lib/events"
	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/svcutil"
	"github.com/syncthing/ssdp/lib/transport"
)

const (
	DefaultRebindBackoff = 30 * time.Second
	DefaultMulticastTTL  = ssdp.MulticastTTL
)

// Options configure a Server. The zero value is usable.
type Options struct {
	// LocalIP is the address to bind the send socket to and whose adapter
	// joins the multicast group. Empty means all adapters.
	LocalIP string
	// LocalPort for the send socket; zero picks an ephemeral port.
	LocalPort int
	// IPv6 selects the IPv6 multicast group.
	IPv6 bool
	// MulticastTTL defaults to ssdp.MulticastTTL.
	MulticastTTL int
	// UDPSendCount is the number of times every message is sent.
	// Defaults to ssdp.DefaultUDPSendCount, values below one mean one.
	UDPSendCount int
	// UDPSendDelay between repeats, defaults to ssdp.DefaultUDPSendDelay.
	UDPSendDelay time.Duration
	// RebindBackoff is the wait between failed attempts to recreate a
	// socket that closed unexpectedly.
	RebindBackoff time.Duration
}

func (o *Options) setDefaults() {
	if o.MulticastTTL <= 0 {
		o.MulticastTTL = DefaultMulticastTTL
	}
	if o.UDPSendCount == 0 {
		o.UDPSendCount = ssdp.DefaultUDPSendCount
	} else if o.UDPSendCount < 1 {
		o.UDPSendCount = 1
	}
	if o.UDPSendDelay <= 0 {
		o.UDPSendDelay = ssdp.DefaultUDPSendDelay
	}
	if o.RebindBackoff <= 0 {
		o.RebindBackoff = DefaultRebindBackoff
	}
}

// A Received message, handed to request and response handlers.
type Received struct {
	Message *ssdp.Message
	Source  ssdp.UDPEndpoint
	// Local is the endpoint of the socket the datagram arrived on.
	Local ssdp.UDPEndpoint
}

// Server is the SSDP communications server. Its methods are safe for
// concurrent use.
type Server struct {
	factory transport.Factory
	opts    Options
	group   ssdp.UDPEndpoint

	listen *binding
	send   *binding

	requests  events.Observers[Received]
	responses events.Observers[Received]

	sup    *suture.Supervisor
	cancel context.CancelFunc
	done   <-chan error

	shared    atomic.Bool
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewServer returns a running server. Sockets are bound on first use.
func NewServer(factory transport.Factory, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		factory: factory,
		opts:    opts,
		group:   ssdp.MulticastEndpoint(opts.IPv6),
	}
	s.listen = newBinding("listen", func() (transport.Socket, error) {
		return s.factory.ListenMulticast(s.group, s.opts.LocalIP)
	})
	s.send = newBinding("send", func() (transport.Socket, error) {
		return s.factory.ListenUnicast(s.opts.LocalIP, s.opts.LocalPort, s.opts.MulticastTTL)
	})

	s.sup = suture.New(s.String(), svcutil.SpecWithDebugLogger(l))
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = s.sup.ServeBackground(ctx)
	return s
}

func (s *Server) String() string {
	ip := s.opts.LocalIP
	if ip == "" {
		ip = "*"
	}
	return fmt.Sprintf("comms.Server@%s", ip)
}

// LocalIP returns the configured local address, possibly empty.
func (s *Server) LocalIP() string {
	return s.opts.LocalIP
}

// IsIPv6 reports whether the server uses the IPv6 multicast group.
func (s *Server) IsIPv6() bool {
	return s.opts.IPv6
}

// MulticastGroup returns the multicast endpoint notifications go to.
func (s *Server) MulticastGroup() ssdp.UDPEndpoint {
	return s.group
}

// SetShared marks the server as shared between several components, which
// then leave it running when they are closed.
func (s *Server) SetShared(shared bool) {
	s.shared.Store(shared)
}

func (s *Server) IsShared() bool {
	return s.shared.Load()
}

// AddRequestHandler registers fn for requests with the target "*".
func (s *Server) AddRequestHandler(fn func(Received)) (cancel func()) {
	return s.requests.Subscribe(fn)
}

// AddResponseHandler registers fn for every parsed response.
func (s *Server) AddResponseHandler(fn func(Received)) (cancel func()) {
	return s.responses.Subscribe(fn)
}

// BeginListeningForBroadcasts binds the multicast socket, if not already
// done, and starts receiving on it.
func (s *Server) BeginListeningForBroadcasts() error {
	if s.closed.Load() {
		return ssdp.ErrDisposed
	}
	return s.ensureReceiving(s.listen)
}

// StopListeningForBroadcasts closes the multicast socket.
func (s *Server) StopListeningForBroadcasts() {
	s.stopBinding(s.listen, false)
}

// StopListeningForResponses closes the send socket. It is bound again by
// the next send.
func (s *Server) StopListeningForResponses() {
	s.stopBinding(s.send, false)
}

// IsListeningForBroadcasts reports whether the multicast socket is bound.
func (s *Server) IsListeningForBroadcasts() bool {
	return s.listen.isBound()
}

// SendMessage sends data to dst UDPSendCount times, UDPSendDelay apart.
// The context only interrupts the wait between repeats.
func (s *Server) SendMessage(ctx context.Context, data []byte, dst ssdp.UDPEndpoint) error {
	if len(data) == 0 {
		return fmt.Errorf("message: %w", ssdp.ErrInvalidArgument)
	}
	if s.closed.Load() {
		return ssdp.ErrDisposed
	}

	kind := kindUnicast
	if ip := net.ParseIP(dst.IP); ip != nil && ip.IsMulticast() {
		kind = kindMulticast
	}

	for i := 0; i < s.opts.UDPSendCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.UDPSendDelay):
			}
		}
		if err := s.sendOnce(data, dst); err != nil {
			return err
		}
		metricDatagramsSent.WithLabelValues(kind).Inc()
		metricBytesSent.Add(float64(len(data)))
	}
	return nil
}

// SendMulticastMessage sends data to the SSDP multicast group.
func (s *Server) SendMulticastMessage(ctx context.Context, data []byte) error {
	return s.SendMessage(ctx, data, s.group)
}

func (s *Server) sendOnce(data []byte, dst ssdp.UDPEndpoint) error {
	if err := s.ensureReceiving(s.send); err != nil {
		return err
	}
	sock, err := s.send.socket()
	if err != nil {
		return err
	}

	err = sock.Send(data, dst)
	if errors.Is(err, net.ErrClosed) {
		if s.closed.Load() {
			return ssdp.ErrDisposed
		}
		l.Debugln(s, "send socket closed under us, rebinding")
		if sock, err = s.send.rebind(sock); err != nil {
			return fmt.Errorf("rebinding send socket: %w", err)
		}
		err = sock.Send(data, dst)
	}
	if err != nil {
		return fmt.Errorf("sending to %v: %w", dst, err)
	}
	return nil
}

// ensureReceiving binds b if needed and makes sure its receive loop runs.
func (s *Server) ensureReceiving(b *binding) error {
	b.mut.Lock()
	defer b.mut.Unlock()

	if _, err := b.socketLocked(); err != nil {
		return err
	}
	if b.looping {
		return nil
	}
	gen := b.gen
	b.looping = true
	b.loop = s.sup.Add(svcutil.AsService(func(ctx context.Context) error {
		return s.receiveLoop(ctx, b, gen)
	}, fmt.Sprintf("%s/%s", s, b.name)))
	return nil
}

func (s *Server) stopBinding(b *binding, final bool) {
	token, running := b.stop(final)
	if running {
		if err := s.sup.Remove(token); err != nil {
			l.Debugln(s, "removing", b.name, "receive loop:", err)
		}
	}
}

func (s *Server) receiveLoop(ctx context.Context, b *binding, gen int) error {
	l.Debugln(s, b.name, "receive loop starting")
	defer l.Debugln(s, b.name, "receive loop exiting")

	if !b.isCurrent(gen) {
		return svcutil.NoRestartErr(nil)
	}
	sock, err := b.socket()
	if err != nil {
		b.loopExited(gen, nil)
		return svcutil.NoRestartErr(err)
	}

	for {
		d, err := sock.Receive()
		if err != nil {
			if ctx.Err() != nil || !b.isCurrent(gen) {
				return svcutil.NoRestartErr(nil)
			}
			if errors.Is(err, net.ErrClosed) {
				sock = s.rebindLoop(ctx, b, gen, sock)
				if sock == nil {
					return svcutil.NoRestartErr(nil)
				}
				continue
			}
			slog.Warn("Receive failed, stopping receive loop", "server", s.String(), "socket", b.name, slogutil.Address(sock.LocalEndpoint()), slogutil.Error(err))
			b.loopExited(gen, sock)
			return svcutil.NoRestartErr(err)
		}
		if len(d.Data) == 0 {
			continue
		}

		metricDatagramsReceived.WithLabelValues(b.name).Inc()
		metricBytesReceived.Add(float64(len(d.Data)))
		go s.processMessage(d.Data, d.Source, sock.LocalEndpoint())
	}
}

// rebindLoop recreates the socket of b until it succeeds, the loop is no
// longer wanted, or ctx is cancelled. It returns nil in the latter cases.
func (s *Server) rebindLoop(ctx context.Context, b *binding, gen int, old transport.Socket) transport.Socket {
	for {
		if !b.isCurrent(gen) {
			return nil
		}
		sock, err := b.rebind(old)
		if err == nil {
			metricRebinds.WithLabelValues(b.name, resultSuccess).Inc()
			l.Debugln(s, b.name, "socket rebound to", sock.LocalEndpoint())
			return sock
		}
		if errors.Is(err, ssdp.ErrDisposed) {
			return nil
		}
		metricRebinds.WithLabelValues(b.name, resultFailure).Inc()
		slog.Warn("Failed to rebind socket", "server", s.String(), "socket", b.name, "retry", s.opts.RebindBackoff, slogutil.Error(err))
		old = nil

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.RebindBackoff):
		}
	}
}

// processMessage parses a received datagram and hands it to the handlers.
// Malformed datagrams are dropped.
func (s *Server) processMessage(data []byte, src, local ssdp.UDPEndpoint) {
	msg, err := ssdp.Parse(string(data))
	if err != nil {
		metricParseFailures.Inc()
		slog.Debug("Dropping malformed datagram", "server", s.String(), "from", src.String(), slogutil.Error(err), "data", slogutil.Expensive(func() any {
			return strconv.Quote(string(data))
		}))
		return
	}

	rec := Received{Message: msg, Source: src, Local: local}
	if msg.IsResponse {
		s.responses.Publish(rec)
		return
	}
	if msg.Target != "*" {
		return
	}
	s.requests.Publish(rec)
}

// Close stops both receive loops and closes the sockets. It is
// idempotent; further sends fail with ssdp.ErrDisposed.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.stopBinding(s.listen, true)
		s.stopBinding(s.send, true)
		s.cancel()
		<-s.done
	})
	return nil
}
