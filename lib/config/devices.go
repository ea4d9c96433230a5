// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"time"

	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/ssdp"
)

// RootDeviceConfiguration describes a device tree to advertise.
type RootDeviceConfiguration struct {
	DeviceConfiguration

	Location      string                `json:"location"`
	CacheLifetime Duration              `json:"cacheLifetime"`
	CustomHeaders []HeaderConfiguration `json:"customHeaders,omitempty"`
}

type DeviceConfiguration struct {
	// UUID is generated when left empty.
	UUID                string                 `json:"uuid,omitempty"`
	DeviceTypeNamespace string                 `json:"deviceTypeNamespace,omitempty"`
	DeviceType          string                 `json:"deviceType"`
	DeviceVersion       int                    `json:"deviceVersion"`
	FriendlyName        string                 `json:"friendlyName"`
	Manufacturer        string                 `json:"manufacturer"`
	ModelName           string                 `json:"modelName"`
	Services            []ServiceConfiguration `json:"services,omitempty"`
	Devices             []DeviceConfiguration  `json:"devices,omitempty"`
}

type ServiceConfiguration struct {
	ServiceTypeNamespace string `json:"serviceTypeNamespace,omitempty"`
	ServiceType          string `json:"serviceType"`
	ServiceVersion       int    `json:"serviceVersion"`
	ServiceID            string `json:"serviceID"`
}

type HeaderConfiguration struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (r RootDeviceConfiguration) Copy() RootDeviceConfiguration {
	c := r
	c.DeviceConfiguration = r.DeviceConfiguration.Copy()
	c.CustomHeaders = append([]HeaderConfiguration(nil), r.CustomHeaders...)
	return c
}

func (d DeviceConfiguration) Copy() DeviceConfiguration {
	c := d
	c.Services = append([]ServiceConfiguration(nil), d.Services...)
	c.Devices = make([]DeviceConfiguration, len(d.Devices))
	for i := range d.Devices {
		c.Devices[i] = d.Devices[i].Copy()
	}
	return c
}

// FillUUIDs sets a fresh UUID on every device lacking one and reports
// whether any was set, in which case the configuration should be saved
// to keep the identities stable.
func (cfg *Configuration) FillUUIDs() bool {
	changed := false
	for i := range cfg.Devices {
		if cfg.Devices[i].fillUUIDs() {
			changed = true
		}
	}
	return changed
}

func (d *DeviceConfiguration) fillUUIDs() bool {
	changed := false
	if d.UUID == "" {
		d.UUID = device.NewUUID()
		l.Debugf("Generated UUID %s for device %q", d.UUID, d.FriendlyName)
		changed = true
	}
	for i := range d.Devices {
		if d.Devices[i].fillUUIDs() {
			changed = true
		}
	}
	return changed
}

// RootDevices builds the configured device trees. Devices are not
// validated; the publisher does that when they are added.
func (cfg Configuration) RootDevices() ([]*device.RootDevice, error) {
	res := make([]*device.RootDevice, 0, len(cfg.Devices))
	for i, rc := range cfg.Devices {
		r, err := rc.RootDevice()
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		res = append(res, r)
	}
	return res, nil
}

func (r RootDeviceConfiguration) RootDevice() (*device.RootDevice, error) {
	root := device.NewRootDevice(r.Location, time.Duration(r.CacheLifetime))
	for _, h := range r.CustomHeaders {
		root.CustomResponseHeaders = append(root.CustomResponseHeaders, ssdp.HeaderField{Name: h.Name, Value: h.Value})
	}
	r.DeviceConfiguration.apply(&root.Device)
	if err := r.DeviceConfiguration.attachChildren(&root.Device); err != nil {
		return nil, err
	}
	return root, nil
}

func (d DeviceConfiguration) apply(dev *device.Device) {
	dev.UUID = d.UUID
	dev.DeviceTypeNamespace = d.DeviceTypeNamespace
	dev.DeviceType = d.DeviceType
	dev.DeviceVersion = d.DeviceVersion
	dev.FriendlyName = d.FriendlyName
	dev.Manufacturer = d.Manufacturer
	dev.ModelName = d.ModelName
}

func (d DeviceConfiguration) attachChildren(dev *device.Device) error {
	for _, sc := range d.Services {
		svc := &device.Service{
			ServiceTypeNamespace: sc.ServiceTypeNamespace,
			ServiceType:          sc.ServiceType,
			ServiceVersion:       sc.ServiceVersion,
			ServiceID:            sc.ServiceID,
		}
		if err := dev.AddService(svc); err != nil {
			return err
		}
	}
	for _, cc := range d.Devices {
		child := &device.Device{}
		cc.apply(child)
		if err := dev.AddDevice(child); err != nil {
			return err
		}
		if err := cc.attachChildren(child); err != nil {
			return err
		}
	}
	return nil
}
