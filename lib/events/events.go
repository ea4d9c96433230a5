// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package events provides typed, synchronous observer lists. Handlers run
// on the publishing goroutine in subscription order; a handler that panics
// is logged and does not prevent delivery to the others.
package events

import (
	"fmt"
	"slices"
	"sync"
)

// Observers is a list of handlers for events of type T. The zero value is
// ready to use.
type Observers[T any] struct {
	mut    sync.Mutex
	nextID int
	subs   map[int]func(T)
}

// Subscribe adds fn to the list. The returned function removes it again
// and may be called any number of times.
func (o *Observers[T]) Subscribe(fn func(T)) (cancel func()) {
	o.mut.Lock()
	defer o.mut.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.mut.Lock()
		delete(o.subs, id)
		o.mut.Unlock()
	}
}

// Len returns the number of current subscribers.
func (o *Observers[T]) Len() int {
	o.mut.Lock()
	defer o.mut.Unlock()
	return len(o.subs)
}

// Publish delivers ev to every subscriber and returns how many handlers
// completed without panicking.
func (o *Observers[T]) Publish(ev T) int {
	o.mut.Lock()
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), len(ids))
	for i, id := range ids {
		fns[i] = o.subs[id]
	}
	o.mut.Unlock()

	ok := 0
	for _, fn := range fns {
		if deliver(fn, ev) {
			ok++
		}
	}
	return ok
}

func deliver[T any](fn func(T), ev T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.Warnln("Event handler panicked:", fmt.Sprint(r))
			ok = false
		}
	}()
	fn(ev)
	return true
}
