// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package aggregate runs one locator or publisher per network adapter and
// presents them as one.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/events"
	"github.com/syncthing/ssdp/lib/locator"
	"github.com/syncthing/ssdp/lib/netutil"
	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/transport"
)

// DeviceLocator is the part of *locator.Locator the aggregate uses.
type DeviceLocator interface {
	Search(ctx context.Context, target string, wait time.Duration) ([]locator.DiscoveredDevice, error)
	StartListeningForNotifications() error
	StopListeningForNotifications()
	Subscribe(fn func(locator.Event)) (cancel func())
	Devices() []locator.DiscoveredDevice
	Close() error
}

var _ DeviceLocator = (*locator.Locator)(nil)

// Locator fans searches out to every underlying locator and merges the
// results.
type Locator struct {
	locators  []DeviceLocator
	observers events.Observers[locator.Event]
	unsubs    []func()
	closeOnce sync.Once
}

// NewLocator aggregates the given locators, which are owned by the result
// from then on.
func NewLocator(locators ...DeviceLocator) (*Locator, error) {
	if len(locators) == 0 {
		return nil, fmt.Errorf("no locators: %w", ssdp.ErrInvalidArgument)
	}
	a := &Locator{locators: locators}
	for _, loc := range locators {
		a.unsubs = append(a.unsubs, loc.Subscribe(func(e locator.Event) {
			a.observers.Publish(e)
		}))
	}
	return a, nil
}

// NewLocatorForAdapters creates a locator bound to each of the given local
// addresses, or to every suitable adapter address when none are given.
func NewLocatorForAdapters(factory transport.Factory, addrs []string, copts comms.Options, lopts locator.Options) (*Locator, error) {
	addrs, err := adapterAddresses(addrs, copts.IPv6)
	if err != nil {
		return nil, err
	}

	var locs []DeviceLocator
	for _, addr := range addrs {
		o := copts
		o.LocalIP = addr
		loc, err := locator.New(comms.NewServer(factory, o), lopts)
		if err != nil {
			for _, prev := range locs {
				prev.Close()
			}
			return nil, fmt.Errorf("locator on %s: %w", addr, err)
		}
		locs = append(locs, loc)
	}
	return NewLocator(locs...)
}

// adapterAddresses returns addrs, or the enumerated multicast capable
// adapter addresses when addrs is empty.
func adapterAddresses(addrs []string, ipv6 bool) ([]string, error) {
	if len(addrs) > 0 {
		return addrs, nil
	}
	local, err := netutil.LocalAddresses(netutil.Filter{IPv6: ipv6})
	if err != nil {
		return nil, fmt.Errorf("enumerating adapters: %w", err)
	}
	for _, a := range local {
		addrs = append(addrs, a.Host())
	}
	if len(addrs) == 0 {
		return nil, errors.New("no usable network adapters")
	}
	return addrs, nil
}

// Subscribe registers fn for events from any underlying locator.
func (a *Locator) Subscribe(fn func(locator.Event)) (cancel func()) {
	return a.observers.Subscribe(fn)
}

// Search searches on every adapter concurrently. Failed adapters are
// logged and left out; only when all of them fail is an error returned,
// an *ssdp.AggregateError unwrapping to the first failure.
func (a *Locator) Search(ctx context.Context, target string, wait time.Duration) ([]locator.DiscoveredDevice, error) {
	type result struct {
		devs []locator.DiscoveredDevice
		err  error
	}
	results := make([]result, len(a.locators))

	var wg sync.WaitGroup
	for i, loc := range a.locators {
		wg.Add(1)
		go func(i int, loc DeviceLocator) {
			defer wg.Done()
			devs, err := loc.Search(ctx, target, wait)
			results[i] = result{devs, err}
		}(i, loc)
	}
	wg.Wait()

	var errs []error
	var merged []locator.DiscoveredDevice
	seen := make(map[string]struct{})
	for i, r := range results {
		if r.err != nil {
			l.Warnf("Search on adapter %d failed: %v", i, r.err)
			errs = append(errs, r.err)
			continue
		}
		for _, d := range r.devs {
			if _, ok := seen[d.Key()]; ok {
				continue
			}
			seen[d.Key()] = struct{}{}
			merged = append(merged, d)
		}
	}

	if len(errs) == len(a.locators) {
		return nil, &ssdp.AggregateError{Errs: errs}
	}
	return merged, nil
}

// Devices returns the merged, de-duplicated caches of every adapter.
func (a *Locator) Devices() []locator.DiscoveredDevice {
	var merged []locator.DiscoveredDevice
	seen := make(map[string]struct{})
	for _, loc := range a.locators {
		for _, d := range loc.Devices() {
			if _, ok := seen[d.Key()]; ok {
				continue
			}
			seen[d.Key()] = struct{}{}
			merged = append(merged, d)
		}
	}
	return merged
}

// StartListeningForNotifications starts every underlying locator. It
// fails only if every one of them fails.
func (a *Locator) StartListeningForNotifications() error {
	var errs []error
	for i, loc := range a.locators {
		if err := loc.StartListeningForNotifications(); err != nil {
			l.Warnf("Listening for notifications on adapter %d failed: %v", i, err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(a.locators) {
		return &ssdp.AggregateError{Errs: errs}
	}
	return nil
}

func (a *Locator) StopListeningForNotifications() {
	for _, loc := range a.locators {
		loc.StopListeningForNotifications()
	}
}

// Close closes every underlying locator, attempting all of them even when
// some fail.
func (a *Locator) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for _, unsub := range a.unsubs {
			unsub()
		}
		for i, loc := range a.locators {
			if err := loc.Close(); err != nil {
				l.Debugf("Closing locator on adapter %d: %v", i, err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
