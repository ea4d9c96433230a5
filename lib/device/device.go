// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package device is the model of locally advertised UPnP devices: a root
// device owning a tree of embedded devices, each with its own services.
// Structural changes are reported to subscribers so that a publisher can
// announce them on the network as they happen.
package device

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncthing/ssdp/lib/events"
	"github.com/syncthing/ssdp/lib/ssdp"
)

// NewUUID returns a fresh random device UUID, without the "uuid:" prefix.
func NewUUID() string {
	return uuid.NewString()
}

type ChangeKind int

const (
	DeviceAdded ChangeKind = iota
	DeviceRemoved
	ServiceAdded
	ServiceRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case DeviceAdded:
		return "device-added"
	case DeviceRemoved:
		return "device-removed"
	case ServiceAdded:
		return "service-added"
	case ServiceRemoved:
		return "service-removed"
	default:
		return "unknown"
	}
}

// A Change is delivered to subscribers of the device whose direct children
// or services changed. Exactly one of Device and Service is set.
type Change struct {
	Kind    ChangeKind
	Parent  *Device
	Device  *Device
	Service *Service
}

// Service is a service offered by a device.
type Service struct {
	ServiceTypeNamespace string
	ServiceType          string
	ServiceVersion       int
	ServiceID            string

	parent *Device
}

// FullServiceType returns the service type as used in NT and ST headers,
// "urn:<namespace>:service:<type>:<version>".
func (s *Service) FullServiceType() string {
	return fmt.Sprintf("urn:%s:service:%s:%d", namespaceOrDefault(s.ServiceTypeNamespace), s.ServiceType, s.ServiceVersion)
}

// Parent returns the device the service is attached to, or nil.
func (s *Service) Parent() *Device {
	return s.parent
}

// Device is an embedded or root device. The zero value is an empty
// device; set the exported fields before attaching it to a tree.
type Device struct {
	UUID                string
	DeviceTypeNamespace string
	DeviceType          string
	DeviceVersion       int
	FriendlyName        string
	Manufacturer        string
	ModelName           string

	mut      sync.Mutex
	parent   *Device
	root     *RootDevice
	devices  []*Device
	services []*Service
	changes  events.Observers[Change]
}

// UDN returns the unique device name, "uuid:<UUID>".
func (d *Device) UDN() string {
	if strings.HasPrefix(strings.ToLower(d.UUID), ssdp.UUIDPrefix) {
		return d.UUID
	}
	return ssdp.UUIDPrefix + d.UUID
}

// FullDeviceType returns "urn:<namespace>:device:<type>:<version>".
func (d *Device) FullDeviceType() string {
	return fmt.Sprintf("urn:%s:device:%s:%d", namespaceOrDefault(d.DeviceTypeNamespace), d.DeviceType, d.DeviceVersion)
}

func (d *Device) String() string {
	return d.UDN()
}

// Parent returns the device this device is embedded in, or nil for a root
// device or a detached device.
func (d *Device) Parent() *Device {
	d.mut.Lock()
	defer d.mut.Unlock()
	return d.parent
}

// Root returns the root device of the tree, or nil when the device is not
// attached to one.
func (d *Device) Root() *RootDevice {
	d.mut.Lock()
	defer d.mut.Unlock()
	return d.root
}

// Devices returns a snapshot of the directly embedded devices.
func (d *Device) Devices() []*Device {
	d.mut.Lock()
	defer d.mut.Unlock()
	return slices.Clone(d.devices)
}

// Services returns a snapshot of the device's own services.
func (d *Device) Services() []*Service {
	d.mut.Lock()
	defer d.mut.Unlock()
	return slices.Clone(d.services)
}

// Descendants returns every device embedded below d, depth first, not
// including d itself.
func (d *Device) Descendants() []*Device {
	var res []*Device
	for _, c := range d.Devices() {
		res = append(res, c)
		res = append(res, c.Descendants()...)
	}
	return res
}

// Subscribe registers fn for changes to d's direct children and services.
func (d *Device) Subscribe(fn func(Change)) (cancel func()) {
	return d.changes.Subscribe(fn)
}

// AddDevice embeds child in d. Adding a device that is already embedded
// here is a no-op; a device embedded elsewhere must be removed there first.
func (d *Device) AddDevice(child *Device) error {
	if child == nil || child == d {
		return fmt.Errorf("embedded device: %w", ssdp.ErrInvalidArgument)
	}

	d.mut.Lock()
	if slices.Contains(d.devices, child) {
		d.mut.Unlock()
		return nil
	}
	root := d.root
	d.mut.Unlock()

	child.mut.Lock()
	if child.parent != nil {
		child.mut.Unlock()
		return fmt.Errorf("device %s already has a parent: %w", child.UDN(), ssdp.ErrInvalidArgument)
	}
	child.parent = d
	child.mut.Unlock()
	child.setRoot(root)

	d.mut.Lock()
	d.devices = append(d.devices, child)
	d.mut.Unlock()

	d.changes.Publish(Change{Kind: DeviceAdded, Parent: d, Device: child})
	return nil
}

// RemoveDevice detaches child from d and reports whether it was present.
func (d *Device) RemoveDevice(child *Device) bool {
	d.mut.Lock()
	idx := slices.Index(d.devices, child)
	if idx < 0 {
		d.mut.Unlock()
		return false
	}
	d.devices = slices.Delete(d.devices, idx, idx+1)
	d.mut.Unlock()

	d.changes.Publish(Change{Kind: DeviceRemoved, Parent: d, Device: child})

	child.mut.Lock()
	child.parent = nil
	child.mut.Unlock()
	child.setRoot(nil)
	return true
}

// AddService attaches svc to d. Adding a service already attached here is
// a no-op.
func (d *Device) AddService(svc *Service) error {
	if svc == nil {
		return fmt.Errorf("service: %w", ssdp.ErrInvalidArgument)
	}

	d.mut.Lock()
	if slices.Contains(d.services, svc) {
		d.mut.Unlock()
		return nil
	}
	if svc.parent != nil {
		d.mut.Unlock()
		return fmt.Errorf("service %s already attached: %w", svc.ServiceID, ssdp.ErrInvalidArgument)
	}
	svc.parent = d
	d.services = append(d.services, svc)
	d.mut.Unlock()

	d.changes.Publish(Change{Kind: ServiceAdded, Parent: d, Service: svc})
	return nil
}

// RemoveService detaches svc from d and reports whether it was present.
func (d *Device) RemoveService(svc *Service) bool {
	d.mut.Lock()
	idx := slices.Index(d.services, svc)
	if idx < 0 {
		d.mut.Unlock()
		return false
	}
	d.services = slices.Delete(d.services, idx, idx+1)
	d.mut.Unlock()

	d.changes.Publish(Change{Kind: ServiceRemoved, Parent: d, Service: svc})

	d.mut.Lock()
	svc.parent = nil
	d.mut.Unlock()
	return true
}

// HasServiceType reports whether d itself offers a service of the given
// full type, compared case-insensitively.
func (d *Device) HasServiceType(fullType string) bool {
	for _, s := range d.Services() {
		if strings.EqualFold(s.FullServiceType(), fullType) {
			return true
		}
	}
	return false
}

func (d *Device) setRoot(root *RootDevice) {
	d.mut.Lock()
	d.root = root
	children := slices.Clone(d.devices)
	d.mut.Unlock()
	for _, c := range children {
		c.setRoot(root)
	}
}

// RootDevice is the top of a device tree and carries the tree wide
// advertisement properties.
type RootDevice struct {
	Device

	// Location is the URL of the device description document.
	Location string
	// CacheLifetime is advertised in CACHE-CONTROL and governs how often
	// the device is rebroadcast. Zero disables caching.
	CacheLifetime time.Duration
	// CustomResponseHeaders are appended to search responses and alive
	// notifications, in order.
	CustomResponseHeaders []ssdp.HeaderField
}

// NewRootDevice returns a root device with the given location and cache
// lifetime; the embedded Device fields are set by the caller.
func NewRootDevice(location string, cacheLifetime time.Duration) *RootDevice {
	r := &RootDevice{Location: location, CacheLifetime: cacheLifetime}
	r.Device.root = r
	return r
}

// AddDevice embeds child directly below the root device.
func (r *RootDevice) AddDevice(child *Device) error {
	r.Device.mut.Lock()
	r.Device.root = r
	r.Device.mut.Unlock()
	return r.Device.AddDevice(child)
}

// AllDevices returns the root device followed by every embedded device,
// depth first.
func (r *RootDevice) AllDevices() []*Device {
	return append([]*Device{&r.Device}, r.Descendants()...)
}

// ServiceTypes returns the distinct full service types found anywhere in
// the tree, in first-seen order, each with the first device offering it.
func (r *RootDevice) ServiceTypes() []TypedService {
	var res []TypedService
	seen := make(map[string]bool)
	for _, d := range r.AllDevices() {
		for _, s := range d.Services() {
			t := s.FullServiceType()
			key := strings.ToLower(t)
			if seen[key] {
				continue
			}
			seen[key] = true
			res = append(res, TypedService{Type: t, Device: d})
		}
	}
	return res
}

// A TypedService pairs a full service type with a device offering it.
type TypedService struct {
	Type   string
	Device *Device
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return "schemas-upnp-org"
	}
	return ns
}
