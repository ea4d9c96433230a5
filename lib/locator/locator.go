// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package locator finds SSDP devices, both by searching actively and by
// listening for their notifications, and keeps a cache of what it found
// until the advertisements expire.
package locator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/syncthing/ssdp/lib/build"
	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/events"
	"github.com/syncthing/ssdp/lib/ssdp"
)

const (
	uncachedEntries = 256
	// Repeats of an advertisement without a cache lifetime within this
	// window are not reported again.
	uncachedRepeatWindow = 30 * time.Second
)

// Options configure a Locator. The zero value is usable.
type Options struct {
	// NotificationFilter, when set, restricts notification events to
	// those with this NT, compared case-insensitively.
	NotificationFilter string
	// DefaultSearchWait is used by searches without an explicit wait.
	DefaultSearchWait time.Duration
	// OSName and OSVersion make up the USER-AGENT of searches. They
	// default to the detected host OS.
	OSName    string
	OSVersion string

	now func() time.Time
}

func (o *Options) setDefaults() {
	if o.DefaultSearchWait <= 0 {
		o.DefaultSearchWait = ssdp.DefaultSearchWaitTime
	}
	if o.OSName == "" || o.OSVersion == "" {
		name, version := build.OS()
		if o.OSName == "" {
			o.OSName = name
		}
		if o.OSVersion == "" {
			o.OSVersion = version
		}
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// Locator searches for devices through a communications server.
type Locator struct {
	server    *comms.Server
	opts      Options
	userAgent string

	cache     *xsync.MapOf[string, DiscoveredDevice]
	uncached  *lru.Cache[string, time.Time] // last seen, under mut
	observers events.Observers[Event]

	mut       sync.Mutex
	sweep     *time.Timer
	sweepAt   time.Time
	listening bool
	sessions  map[*session]struct{}
	closed    bool
	done      chan struct{}

	stopHandlers func()
}

// New returns a locator using server.
func New(server *comms.Server, opts Options) (*Locator, error) {
	if server == nil {
		return nil, fmt.Errorf("communications server: %w", ssdp.ErrInvalidArgument)
	}
	opts.setDefaults()

	uncached, err := lru.New[string, time.Time](uncachedEntries)
	if err != nil {
		return nil, err
	}
	loc := &Locator{
		server:    server,
		opts:      opts,
		userAgent: ssdp.ServerString(opts.OSName, opts.OSVersion),
		cache:     xsync.NewMapOf[string, DiscoveredDevice](),
		uncached:  uncached,
		sessions:  make(map[*session]struct{}),
		done:      make(chan struct{}),
	}
	stopResp := server.AddResponseHandler(loc.handleResponse)
	stopReq := server.AddRequestHandler(loc.handleRequest)
	loc.stopHandlers = func() {
		stopResp()
		stopReq()
	}
	return loc, nil
}

func (loc *Locator) String() string {
	return fmt.Sprintf("locator@%p", loc)
}

// Subscribe registers fn for device availability events. Handlers run on
// the receiving goroutine; a panicking handler does not affect others.
func (loc *Locator) Subscribe(fn func(Event)) (cancel func()) {
	return loc.observers.Subscribe(fn)
}

// StartListeningForNotifications begins raising events for alive and
// byebye notifications.
func (loc *Locator) StartListeningForNotifications() error {
	loc.mut.Lock()
	defer loc.mut.Unlock()
	if loc.closed {
		return ssdp.ErrDisposed
	}
	if err := loc.server.BeginListeningForBroadcasts(); err != nil {
		return err
	}
	loc.listening = true
	return nil
}

// StopListeningForNotifications stops raising events for notifications.
// The multicast socket is closed unless the server is shared.
func (loc *Locator) StopListeningForNotifications() {
	loc.mut.Lock()
	wasListening := loc.listening
	loc.listening = false
	loc.mut.Unlock()

	if wasListening && !loc.server.IsShared() {
		loc.server.StopListeningForBroadcasts()
	}
}

// IsListening reports whether notifications are being observed.
func (loc *Locator) IsListening() bool {
	loc.mut.Lock()
	defer loc.mut.Unlock()
	return loc.listening
}

// Search multicasts a search for target, ssdp:all when empty, and returns
// the devices that responded within wait, de-duplicated by USN and
// location. A zero wait means the default; otherwise it must be at least
// a second. Cancelling ctx ends the wait early and returns what was
// collected so far.
func (loc *Locator) Search(ctx context.Context, target string, wait time.Duration) ([]DiscoveredDevice, error) {
	if target == "" {
		target = ssdp.SearchAll
	}
	if wait == 0 {
		wait = loc.opts.DefaultSearchWait
	}
	if wait < time.Second {
		return nil, fmt.Errorf("search wait %v below one second: %w", wait, ssdp.ErrInvalidArgument)
	}

	s := newSession(target)
	loc.mut.Lock()
	if loc.closed {
		loc.mut.Unlock()
		return nil, ssdp.ErrDisposed
	}
	loc.sessions[s] = struct{}{}
	loc.mut.Unlock()
	defer func() {
		loc.mut.Lock()
		delete(loc.sessions, s)
		loc.mut.Unlock()
	}()

	metricSearches.Inc()
	req := ssdp.SearchRequest{
		Host:      loc.server.MulticastGroup(),
		ST:        target,
		MX:        ssdp.SearchMX(wait),
		UserAgent: loc.userAgent,
	}
	l.Debugf("%v: searching for %s, waiting %v", loc, target, wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	if err := loc.server.SendMulticastMessage(ctx, req.Bytes()); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("sending search: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-loc.done:
	}
	return s.results(), nil
}

// Devices returns the cached devices whose advertisements have not
// expired.
func (loc *Locator) Devices() []DiscoveredDevice {
	now := loc.opts.now()
	var res []DiscoveredDevice
	loc.cache.Range(func(_ string, d DiscoveredDevice) bool {
		if !d.IsExpired(now) {
			res = append(res, d)
		}
		return true
	})
	return res
}

// Close stops the locator. The communications server is closed as well
// unless it is shared.
func (loc *Locator) Close() error {
	loc.mut.Lock()
	if loc.closed {
		loc.mut.Unlock()
		return nil
	}
	loc.closed = true
	loc.listening = false
	close(loc.done)
	if loc.sweep != nil {
		loc.sweep.Stop()
		loc.sweep = nil
	}
	loc.mut.Unlock()

	loc.stopHandlers()
	metricCachedDevices.Sub(float64(loc.cache.Size()))
	loc.cache.Clear()
	loc.uncached.Purge()

	if !loc.server.IsShared() {
		return loc.server.Close()
	}
	return nil
}

func (loc *Locator) isClosed() bool {
	loc.mut.Lock()
	defer loc.mut.Unlock()
	return loc.closed
}

func (loc *Locator) handleResponse(rec comms.Received) {
	msg := rec.Message
	if msg.StatusCode < 200 || msg.StatusCode > 299 || loc.isClosed() {
		return
	}
	d, ok := deviceFromHeader(msg.Header, "ST", loc.opts.now())
	if !ok {
		l.Debugln(loc, "ignoring search response without USN from", rec.Source)
		return
	}

	loc.mut.Lock()
	for s := range loc.sessions {
		s.offer(d)
	}
	loc.mut.Unlock()

	loc.addOrUpdate(d, sourceSearch)
}

func (loc *Locator) handleRequest(rec comms.Received) {
	msg := rec.Message
	if !strings.EqualFold(msg.Method, ssdp.MethodNotify) {
		return
	}
	loc.mut.Lock()
	listening := loc.listening
	loc.mut.Unlock()
	if !listening {
		return
	}

	nt := msg.Header.Get("NT")
	if loc.opts.NotificationFilter != "" && !strings.EqualFold(nt, loc.opts.NotificationFilter) {
		return
	}

	switch nts := msg.Header.Get("NTS"); {
	case strings.EqualFold(nts, ssdp.NtsAlive), strings.EqualFold(nts, ssdp.NtsUpdate):
		if d, ok := deviceFromHeader(msg.Header, "NT", loc.opts.now()); ok {
			loc.addOrUpdate(d, sourceNotification)
		}

	case strings.EqualFold(nts, ssdp.NtsByeBye):
		if d, ok := deviceFromHeader(msg.Header, "NT", loc.opts.now()); ok {
			loc.byeBye(d)
		}

	default:
		l.Debugf("%v: ignoring notification with NTS %q from %v", loc, nts, rec.Source)
	}
}

// addOrUpdate caches d, or refreshes the cached copy, raising an
// available event for devices not seen before. Advertisements without a
// cache lifetime are reported but not cached.
func (loc *Locator) addOrUpdate(d DiscoveredDevice, source string) {
	if d.CacheLifetime <= 0 {
		loc.mut.Lock()
		last, seen := loc.uncached.Get(d.Key())
		loc.uncached.Add(d.Key(), d.AsAt)
		loc.mut.Unlock()
		if seen && d.AsAt.Sub(last) < uncachedRepeatWindow {
			return
		}
		metricDevicesDiscovered.WithLabelValues(source).Inc()
		loc.observers.Publish(Event{Kind: DeviceAvailable, Device: d})
		return
	}

	isNew, replaced := false, false
	loc.cache.Compute(d.Key(), func(old DiscoveredDevice, loaded bool) (DiscoveredDevice, bool) {
		replaced = loaded
		isNew = !loaded || old.IsExpired(d.AsAt)
		return d, false
	})
	loc.scheduleSweep(d.Expires())

	if !replaced {
		metricCachedDevices.Inc()
	}
	if isNew {
		metricDevicesDiscovered.WithLabelValues(source).Inc()
		l.Debugln(loc, "discovered", d.USN, "at", d.DescriptionLocation)
		loc.observers.Publish(Event{Kind: DeviceAvailable, Device: d})
	}
}

// byeBye removes every cached entry for the USN and raises unavailable
// events. A byebye for a device never seen is still reported.
func (loc *Locator) byeBye(d DiscoveredDevice) {
	loc.mut.Lock()
	for _, key := range loc.uncached.Keys() {
		if strings.HasPrefix(key, d.USN+"\x00") {
			loc.uncached.Remove(key)
		}
	}
	loc.mut.Unlock()

	var removed []DiscoveredDevice
	loc.cache.Range(func(key string, cached DiscoveredDevice) bool {
		if cached.USN != d.USN {
			return true
		}
		if old, ok := loc.cache.LoadAndDelete(key); ok {
			removed = append(removed, old)
		}
		return true
	})

	if len(removed) == 0 {
		loc.observers.Publish(Event{Kind: DeviceUnavailable, Device: d})
		return
	}
	for _, old := range removed {
		metricDevicesRemoved.WithLabelValues(reasonByeBye).Inc()
		metricCachedDevices.Dec()
		l.Debugln(loc, "byebye from", old.USN)
		loc.observers.Publish(Event{Kind: DeviceUnavailable, Device: old})
	}
}

// scheduleSweep makes sure the expiry sweep runs no later than at.
func (loc *Locator) scheduleSweep(at time.Time) {
	loc.mut.Lock()
	defer loc.mut.Unlock()
	if loc.closed {
		return
	}
	if loc.sweep != nil && !loc.sweepAt.After(at) {
		return
	}
	if loc.sweep != nil {
		loc.sweep.Stop()
	}
	loc.sweepAt = at
	loc.sweep = time.AfterFunc(time.Until(at), loc.sweepExpired)
}

// sweepExpired removes expired entries and reschedules itself for the
// next expiry.
func (loc *Locator) sweepExpired() {
	loc.mut.Lock()
	loc.sweep = nil
	loc.mut.Unlock()

	now := loc.opts.now()
	var expired []DiscoveredDevice
	var next time.Time

	loc.cache.Range(func(key string, _ DiscoveredDevice) bool {
		loc.cache.Compute(key, func(cur DiscoveredDevice, loaded bool) (DiscoveredDevice, bool) {
			if !loaded {
				return cur, true
			}
			if cur.IsExpired(now) {
				expired = append(expired, cur)
				return cur, true
			}
			if next.IsZero() || cur.Expires().Before(next) {
				next = cur.Expires()
			}
			return cur, false
		})
		return true
	})

	for _, d := range expired {
		metricDevicesRemoved.WithLabelValues(reasonExpired).Inc()
		metricCachedDevices.Dec()
		l.Debugln(loc, "advertisement of", d.USN, "expired")
		loc.observers.Publish(Event{Kind: DeviceUnavailable, Device: d, Expired: true})
	}
	if !next.IsZero() {
		loc.scheduleSweep(next)
	}
}

// A session collects the responses to one search.
type session struct {
	target string

	mut   sync.Mutex
	seen  map[string]struct{}
	found []DiscoveredDevice
}

func newSession(target string) *session {
	return &session{target: target, seen: make(map[string]struct{})}
}

func (s *session) offer(d DiscoveredDevice) {
	if !strings.EqualFold(s.target, ssdp.SearchAll) && !strings.EqualFold(s.target, d.NotificationType) {
		return
	}
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.seen[d.Key()]; ok {
		return
	}
	s.seen[d.Key()] = struct{}{}
	s.found = append(s.found, d)
}

func (s *session) results() []DiscoveredDevice {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]DiscoveredDevice(nil), s.found...)
}
