// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package comms

import (
	"errors"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/transport"
)

type bindingState int

const (
	stateUnbound bindingState = iota
	stateBound
	stateClosed
)

var errStopped = errors.New("binding stopped")

// A binding is one lazily created socket plus the receive loop serving
// it. The mutex is held while a socket is created so that concurrent
// first users wait for the single attempt instead of binding twice.
type binding struct {
	name string
	open func() (transport.Socket, error)

	mut     sync.Mutex
	state   bindingState
	sock    transport.Socket
	gen     int
	looping bool
	loop    suture.ServiceToken
}

func newBinding(name string, open func() (transport.Socket, error)) *binding {
	return &binding{name: name, open: open}
}

// socket returns the bound socket, binding one if needed.
func (b *binding) socket() (transport.Socket, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.socketLocked()
}

func (b *binding) socketLocked() (transport.Socket, error) {
	switch b.state {
	case stateClosed:
		return nil, ssdp.ErrDisposed
	case stateBound:
		return b.sock, nil
	}
	sock, err := b.open()
	if err != nil {
		return nil, err
	}
	b.sock = sock
	b.state = stateBound
	return sock, nil
}

// rebind replaces old with a fresh socket. When old is no longer the
// current socket somebody else already rebound and the current socket is
// returned instead.
func (b *binding) rebind(old transport.Socket) (transport.Socket, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.state == stateBound && b.sock != old {
		return b.sock, nil
	}
	if b.state == stateBound {
		_ = b.sock.Close()
		b.sock = nil
		b.state = stateUnbound
	}
	return b.socketLocked()
}

// isCurrent reports whether a receive loop started at generation gen is
// still wanted.
func (b *binding) isCurrent(gen int) bool {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.gen == gen && b.state != stateClosed
}

// loopExited records that the receive loop of generation gen ended on its
// own, dropping sock so that the next user binds afresh.
func (b *binding) loopExited(gen int, sock transport.Socket) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.gen != gen {
		return
	}
	b.looping = false
	if b.state == stateBound && b.sock == sock {
		_ = b.sock.Close()
		b.sock = nil
		b.state = stateUnbound
	}
}

// stop closes the socket and returns the receive loop token, if one was
// running, for the caller to remove from the supervisor.
func (b *binding) stop(final bool) (suture.ServiceToken, bool) {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.sock != nil {
		if err := b.sock.Close(); err != nil {
			l.Debugln("Closing", b.name, "socket:", err)
		}
		b.sock = nil
	}
	if final {
		b.state = stateClosed
	} else if b.state != stateClosed {
		b.state = stateUnbound
	}
	b.gen++

	token, had := b.loop, b.looping
	b.looping = false
	return token, had
}

func (b *binding) isBound() bool {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.state == stateBound
}
