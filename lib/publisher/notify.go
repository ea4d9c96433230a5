// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package publisher

import (
	"context"
	"errors"
	"strings"

	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/ssdp"
)

// A notificationType is one NT/USN pair advertised for a device.
type notificationType struct {
	nt  string
	usn string
}

func usn(d *device.Device, nt string) string {
	return d.UDN() + "::" + nt
}

// deviceTypes returns the pairs advertising d itself, without services.
func (p *Publisher) deviceTypes(d *device.Device, isRoot bool) []notificationType {
	var res []notificationType
	if isRoot {
		res = append(res, notificationType{ssdp.UpnpRootDevice, usn(d, ssdp.UpnpRootDevice)})
		if p.opts.SupportPnpRootDevice {
			res = append(res, notificationType{ssdp.PnpRootDevice, usn(d, ssdp.PnpRootDevice)})
		}
	}
	res = append(res,
		notificationType{d.UDN(), d.UDN()},
		notificationType{d.FullDeviceType(), usn(d, d.FullDeviceType())},
	)
	return res
}

// serviceTypes returns one pair per distinct service type of d.
func serviceTypes(d *device.Device) []notificationType {
	var res []notificationType
	seen := make(map[string]bool)
	for _, s := range d.Services() {
		t := s.FullServiceType()
		if seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		res = append(res, notificationType{t, usn(d, t)})
	}
	return res
}

// treeTypes returns the pairs for d, its services and every embedded
// device below it.
func (p *Publisher) treeTypes(r *device.RootDevice, d *device.Device) []notificationType {
	res := p.deviceTypes(d, d == &r.Device)
	res = append(res, serviceTypes(d)...)
	for _, c := range d.Devices() {
		res = append(res, p.treeTypes(r, c)...)
	}
	return res
}

func (p *Publisher) sendAlive(ctx context.Context, r *device.RootDevice, d *device.Device) error {
	return p.sendNotifications(ctx, r, p.treeTypes(r, d), true)
}

func (p *Publisher) sendByeBye(ctx context.Context, r *device.RootDevice, d *device.Device) error {
	return p.sendNotifications(ctx, r, p.treeTypes(r, d), false)
}

func (p *Publisher) sendNotifications(ctx context.Context, r *device.RootDevice, types []notificationType, alive bool) error {
	var errs []error
	for _, t := range types {
		n := ssdp.Notification{
			Host:          p.server.MulticastGroup(),
			Date:          p.opts.now(),
			NT:            t.nt,
			Server:        p.srvStr,
			USN:           t.usn,
			Location:      r.Location,
			CacheLifetime: r.CacheLifetime,
			CustomHeaders: r.CustomResponseHeaders,
		}

		var data []byte
		nts := ntsAlive
		if alive {
			data = n.AliveBytes()
		} else {
			data = n.ByeByeBytes()
			nts = ntsByeBye
		}

		if err := p.server.SendMulticastMessage(ctx, data); err != nil {
			if ctx.Err() != nil || errors.Is(err, ssdp.ErrDisposed) {
				return err
			}
			errs = append(errs, err)
			continue
		}
		metricNotificationsSent.WithLabelValues(nts).Inc()
		l.Debugf("%v: sent %s for %s", p, nts, t.usn)
	}
	return errors.Join(errs...)
}

// subscribeLocked follows structural changes of d and everything embedded
// below it.
func (p *Publisher) subscribeLocked(r *device.RootDevice, d *device.Device) {
	if _, ok := p.subs[d]; ok {
		return
	}
	p.subs[d] = d.Subscribe(func(c device.Change) {
		p.handleChange(r, c)
	})
	for _, c := range d.Devices() {
		p.subscribeLocked(r, c)
	}
}

func (p *Publisher) unsubscribeLocked(d *device.Device) {
	if cancel, ok := p.subs[d]; ok {
		cancel()
		delete(p.subs, d)
	}
	for _, c := range d.Devices() {
		p.unsubscribeLocked(c)
	}
}

// handleChange announces a change to a published device tree. It runs on
// the goroutine that mutated the tree.
func (p *Publisher) handleChange(r *device.RootDevice, c device.Change) {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return
	}
	if c.Kind == device.DeviceAdded {
		p.subscribeLocked(r, c.Device)
	}
	p.mut.Unlock()

	var err error
	switch c.Kind {
	case device.DeviceAdded:
		err = p.sendAlive(p.ctx, r, c.Device)

	case device.DeviceRemoved:
		err = p.sendByeBye(p.ctx, r, c.Device)
		p.mut.Lock()
		p.unsubscribeLocked(c.Device)
		p.mut.Unlock()

	case device.ServiceAdded:
		t := c.Service.FullServiceType()
		err = p.sendNotifications(p.ctx, r, []notificationType{{t, usn(c.Parent, t)}}, true)

	case device.ServiceRemoved:
		t := c.Service.FullServiceType()
		if c.Parent.HasServiceType(t) {
			return
		}
		err = p.sendNotifications(p.ctx, r, []notificationType{{t, usn(c.Parent, t)}}, false)
	}
	if err != nil {
		l.Warnf("%v: announcing %v of %v: %v", p, c.Kind, r.UDN(), err)
	}
}
