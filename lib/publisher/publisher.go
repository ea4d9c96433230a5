// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package publisher advertises local devices over SSDP. It sends alive
// notifications when devices are added and periodically thereafter, byebye
// notifications when they are removed, and answers matching searches.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/syncthing/ssdp/internal/slogutil"
	"github.com/syncthing/ssdp/lib/build"
	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/rand"
	"github.com/syncthing/ssdp/lib/ssdp"
)

type StandardsMode int

const (
	// StandardsRelaxed answers searches lacking MX (assumed 1) or MAN.
	StandardsRelaxed StandardsMode = iota
	// StandardsStrict ignores searches lacking MX or MAN.
	StandardsStrict
)

func (m StandardsMode) String() string {
	switch m {
	case StandardsRelaxed:
		return "relaxed"
	case StandardsStrict:
		return "strict"
	default:
		return "unknown"
	}
}

const (
	recentSearchesCapacity = 1024
	recentPruneThreshold   = 10
	closeByeByeTimeout     = 5 * time.Second
)

// Options configure a Publisher. The zero value is usable.
type Options struct {
	// OSName and OSVersion make up the first product token of the
	// SERVER header. They default to the detected host OS.
	OSName    string
	OSVersion string
	// NotificationBroadcastInterval, when non-zero, replaces the
	// randomized rebroadcast interval derived from the cache lifetimes.
	NotificationBroadcastInterval time.Duration
	StandardsMode                 StandardsMode
	// SupportPnpRootDevice also answers and advertises pnp:rootdevice,
	// for Windows Explorer.
	SupportPnpRootDevice bool
	// DuplicateWindow within which a repeated search from the same
	// endpoint for the same target is ignored.
	DuplicateWindow time.Duration
	// MinResponseDelay is the lower bound of the random delay before
	// answering a search.
	MinResponseDelay time.Duration
	// SearchRate limits the number of searches answered per second, with
	// SearchBurst. Zero means unlimited.
	SearchRate  float64
	SearchBurst int
	Validator   device.Validator

	delay func(context.Context, time.Duration) error
	now   func() time.Time
	intn  func(lo, hi int) int
}

func (o *Options) setDefaults() {
	if o.OSName == "" || o.OSVersion == "" {
		name, version := build.OS()
		if o.OSName == "" {
			o.OSName = name
		}
		if o.OSVersion == "" {
			o.OSVersion = version
		}
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = ssdp.DuplicateSearchWindow
	}
	if o.MinResponseDelay <= 0 {
		o.MinResponseDelay = ssdp.MinSearchResponseDelay
	}
	if o.SearchBurst <= 0 {
		o.SearchBurst = 1
	}
	if o.Validator == nil {
		o.Validator = device.DefaultValidator{}
	}
	if o.delay == nil {
		o.delay = sleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.intn == nil {
		o.intn = rand.IntRange
	}
}

// Publisher advertises root devices through a communications server.
type Publisher struct {
	server *comms.Server
	opts   Options
	srvStr string

	ctx    context.Context
	cancel context.CancelFunc

	mut           sync.Mutex
	devices       []*device.RootDevice
	subs          map[*device.Device]func()
	minCache      time.Duration
	timer         *time.Timer
	lastBroadcast time.Time
	closed        bool

	recentMut sync.Mutex
	recent    *lru.Cache[string, time.Time]
	pruning   bool

	limiter     *rate.Limiter
	stopHandler func()
}

// New returns a publisher sending through server, which starts listening
// for searches.
func New(server *comms.Server, opts Options) (*Publisher, error) {
	if server == nil {
		return nil, fmt.Errorf("communications server: %w", ssdp.ErrInvalidArgument)
	}
	opts.setDefaults()

	recent, err := lru.New[string, time.Time](recentSearchesCapacity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		server: server,
		opts:   opts,
		srvStr: ssdp.ServerString(opts.OSName, opts.OSVersion),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*device.Device]func()),
		recent: recent,
	}
	if opts.SearchRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.SearchRate), opts.SearchBurst)
	}

	p.stopHandler = server.AddRequestHandler(p.handleRequest)
	if err := server.BeginListeningForBroadcasts(); err != nil {
		p.stopHandler()
		cancel()
		return nil, fmt.Errorf("listening for searches: %w", err)
	}
	return p, nil
}

func (p *Publisher) String() string {
	return fmt.Sprintf("publisher@%p", p)
}

// Devices returns the currently published root devices.
func (p *Publisher) Devices() []*device.RootDevice {
	p.mut.Lock()
	defer p.mut.Unlock()
	return slices.Clone(p.devices)
}

// AddDevice validates and publishes r, sending its alive notifications
// before returning. Adding a device that is already published does
// nothing.
func (p *Publisher) AddDevice(ctx context.Context, r *device.RootDevice) error {
	if r == nil {
		return fmt.Errorf("device: %w", ssdp.ErrInvalidArgument)
	}
	if err := p.opts.Validator.Validate(r); err != nil {
		return err
	}

	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return ssdp.ErrDisposed
	}
	if slices.Contains(p.devices, r) {
		p.mut.Unlock()
		return nil
	}
	p.devices = append(p.devices, r)
	p.subscribeLocked(r, &r.Device)
	p.updateMinCacheLocked()
	p.rescheduleLocked()
	metricPublishedDevices.Inc()
	p.mut.Unlock()

	l.Debugln(p, "added device", r.UDN())
	return p.sendAlive(ctx, r, &r.Device)
}

// RemoveDevice withdraws r, sending its byebye notifications before
// returning. Removing a device that is not published does nothing.
func (p *Publisher) RemoveDevice(ctx context.Context, r *device.RootDevice) error {
	if r == nil {
		return fmt.Errorf("device: %w", ssdp.ErrInvalidArgument)
	}

	p.mut.Lock()
	idx := slices.Index(p.devices, r)
	if idx < 0 {
		p.mut.Unlock()
		return nil
	}
	p.devices = slices.Delete(p.devices, idx, idx+1)
	p.updateMinCacheLocked()
	if !p.closed {
		p.rescheduleLocked()
	}
	metricPublishedDevices.Dec()
	p.mut.Unlock()

	l.Debugln(p, "removed device", r.UDN())
	err := p.sendByeBye(ctx, r, &r.Device)

	p.mut.Lock()
	p.unsubscribeLocked(&r.Device)
	p.mut.Unlock()
	return err
}

// Close withdraws every published device and stops answering searches.
// The communications server is closed as well unless it is shared.
func (p *Publisher) Close() error {
	return p.shutdown(true)
}

func (p *Publisher) shutdown(byeBye bool) error {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	devices := p.devices
	p.devices = nil
	metricPublishedDevices.Sub(float64(len(devices)))
	p.mut.Unlock()

	p.stopHandler()

	var errs []error
	if byeBye {
		ctx, cancel := context.WithTimeout(context.Background(), closeByeByeTimeout)
		for _, r := range devices {
			if err := p.sendByeBye(ctx, r, &r.Device); err != nil {
				errs = append(errs, err)
			}
		}
		cancel()
	}

	p.mut.Lock()
	for _, r := range devices {
		p.unsubscribeLocked(&r.Device)
	}
	p.mut.Unlock()

	p.cancel()
	if !p.server.IsShared() {
		if err := p.server.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) updateMinCacheLocked() {
	var shortest time.Duration
	for _, r := range p.devices {
		if r.CacheLifetime > 0 && (shortest == 0 || r.CacheLifetime < shortest) {
			shortest = r.CacheLifetime
		}
	}
	p.minCache = shortest
}

// broadcastInterval is a random fraction, between 1% and 50%, of half
// the minimum cache lifetime.
func broadcastInterval(minCache time.Duration, intn func(lo, hi int) int) time.Duration {
	return time.Duration(intn(1, 50)) * (minCache / 2) / 100
}

// rescheduleLocked arms the rebroadcast timer, shortening the delay by the
// time already passed since the previous broadcast.
func (p *Publisher) rescheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if len(p.devices) == 0 {
		return
	}

	interval := p.opts.NotificationBroadcastInterval
	if interval <= 0 {
		if p.minCache <= 0 {
			return
		}
		interval = broadcastInterval(p.minCache, p.opts.intn)
	}

	wait := interval
	if !p.lastBroadcast.IsZero() {
		wait -= p.opts.now().Sub(p.lastBroadcast)
		if wait < 0 {
			wait = 0
		}
	}
	l.Debugln(p, "next broadcast in", wait)
	p.timer = time.AfterFunc(wait, p.broadcast)
}

// broadcast sends alive notifications for every device. Any failure
// closes the publisher.
func (p *Publisher) broadcast() {
	defer func() {
		if r := recover(); r != nil {
			l.Warnln(p, "rebroadcast panicked, closing publisher:", r)
			_ = p.shutdown(false)
		}
	}()

	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return
	}
	p.lastBroadcast = p.opts.now()
	devices := slices.Clone(p.devices)
	p.mut.Unlock()

	for _, r := range devices {
		if err := p.sendAlive(p.ctx, r, &r.Device); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			slog.Warn("Rebroadcast failed, closing publisher", "publisher", p.String(), slogutil.Error(err))
			_ = p.shutdown(false)
			return
		}
	}

	p.mut.Lock()
	if !p.closed {
		p.rescheduleLocked()
	}
	p.mut.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
