// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/publisher"
	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/transport"
)

// DevicePublisher is the part of *publisher.Publisher the aggregate uses.
type DevicePublisher interface {
	AddDevice(ctx context.Context, r *device.RootDevice) error
	RemoveDevice(ctx context.Context, r *device.RootDevice) error
	Close() error
}

var _ DevicePublisher = (*publisher.Publisher)(nil)

// Publisher advertises the same devices through several publishers.
type Publisher struct {
	publishers []DevicePublisher
	closeOnce  sync.Once
}

func NewPublisher(publishers ...DevicePublisher) (*Publisher, error) {
	if len(publishers) == 0 {
		return nil, fmt.Errorf("no publishers: %w", ssdp.ErrInvalidArgument)
	}
	return &Publisher{publishers: publishers}, nil
}

// NewPublisherForAdapters creates a publisher bound to each of the given
// local addresses, or to every suitable adapter address when none are
// given.
func NewPublisherForAdapters(factory transport.Factory, addrs []string, copts comms.Options, popts publisher.Options) (*Publisher, error) {
	addrs, err := adapterAddresses(addrs, copts.IPv6)
	if err != nil {
		return nil, err
	}

	var pubs []DevicePublisher
	for _, addr := range addrs {
		o := copts
		o.LocalIP = addr
		srv := comms.NewServer(factory, o)
		pub, err := publisher.New(srv, popts)
		if err != nil {
			srv.Close()
			for _, prev := range pubs {
				prev.Close()
			}
			return nil, fmt.Errorf("publisher on %s: %w", addr, err)
		}
		pubs = append(pubs, pub)
	}
	return NewPublisher(pubs...)
}

// AddDevice adds r to every publisher, returning the joined errors of
// those that failed.
func (p *Publisher) AddDevice(ctx context.Context, r *device.RootDevice) error {
	return p.each(func(pub DevicePublisher) error { return pub.AddDevice(ctx, r) })
}

// RemoveDevice removes r from every publisher.
func (p *Publisher) RemoveDevice(ctx context.Context, r *device.RootDevice) error {
	return p.each(func(pub DevicePublisher) error { return pub.RemoveDevice(ctx, r) })
}

func (p *Publisher) each(fn func(DevicePublisher) error) error {
	errs := make([]error, len(p.publishers))
	var wg sync.WaitGroup
	for i, pub := range p.publishers {
		wg.Add(1)
		go func(i int, pub DevicePublisher) {
			defer wg.Done()
			errs[i] = fn(pub)
		}(i, pub)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every publisher, attempting all of them even when some
// fail.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.each(DevicePublisher.Close)
	})
	return err
}
