// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package device

import (
	"errors"
	"testing"
	"time"

	"github.com/syncthing/ssdp/lib/ssdp"
)

func testRoot() *RootDevice {
	r := NewRootDevice("http://192.0.2.10:8080/desc.xml", 30*time.Minute)
	r.UUID = "11111111-2222-3333-4444-555555555555"
	r.DeviceType = "MediaServer"
	r.DeviceVersion = 1
	r.FriendlyName = "Test server"
	r.Manufacturer = "Syncthing"
	r.ModelName = "stssdp"
	return r
}

func testDevice(id, typ string) *Device {
	return &Device{
		UUID:          id,
		DeviceType:    typ,
		DeviceVersion: 1,
		FriendlyName:  typ,
		Manufacturer:  "Syncthing",
		ModelName:     "stssdp",
	}
}

func testService(typ string) *Service {
	return &Service{ServiceType: typ, ServiceVersion: 1, ServiceID: "urn:upnp-org:serviceId:" + typ}
}

func TestNames(t *testing.T) {
	r := testRoot()
	if udn := r.UDN(); udn != "uuid:11111111-2222-3333-4444-555555555555" {
		t.Errorf("UDN() = %q", udn)
	}
	if ft := r.FullDeviceType(); ft != "urn:schemas-upnp-org:device:MediaServer:1" {
		t.Errorf("FullDeviceType() = %q", ft)
	}

	d := testDevice("uuid:abc", "Printer")
	d.DeviceTypeNamespace = "example-com"
	d.DeviceVersion = 2
	if udn := d.UDN(); udn != "uuid:abc" {
		t.Errorf("UDN() with prefix = %q", udn)
	}
	if ft := d.FullDeviceType(); ft != "urn:example-com:device:Printer:2" {
		t.Errorf("FullDeviceType() = %q", ft)
	}

	s := testService("ContentDirectory")
	if ft := s.FullServiceType(); ft != "urn:schemas-upnp-org:service:ContentDirectory:1" {
		t.Errorf("FullServiceType() = %q", ft)
	}
}

func TestTreeMutationNotifies(t *testing.T) {
	r := testRoot()
	var changes []Change
	cancel := r.Subscribe(func(c Change) { changes = append(changes, c) })
	defer cancel()

	child := testDevice("child", "Renderer")
	grandchild := testDevice("grandchild", "Light")
	if err := child.AddDevice(grandchild); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDevice(child); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDevice(child); err != nil {
		t.Fatal("re-adding should be a no-op:", err)
	}
	svc := testService("ConnectionManager")
	if err := r.AddService(svc); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d changes, expected 2", len(changes))
	}
	if changes[0].Kind != DeviceAdded || changes[0].Device != child || changes[0].Parent != &r.Device {
		t.Errorf("unexpected first change %+v", changes[0])
	}
	if changes[1].Kind != ServiceAdded || changes[1].Service != svc {
		t.Errorf("unexpected second change %+v", changes[1])
	}

	if grandchild.Root() != r {
		t.Error("grandchild not linked to root")
	}
	if svc.Parent() != &r.Device {
		t.Error("service parent not set")
	}

	all := r.AllDevices()
	if len(all) != 3 || all[0] != &r.Device || all[1] != child || all[2] != grandchild {
		t.Errorf("unexpected AllDevices() %v", all)
	}

	if !r.RemoveDevice(child) {
		t.Fatal("RemoveDevice reported absent child")
	}
	if r.RemoveDevice(child) {
		t.Fatal("second RemoveDevice reported present child")
	}
	if changes[2].Kind != DeviceRemoved {
		t.Errorf("unexpected third change %+v", changes[2])
	}
	if grandchild.Root() != nil || child.Parent() != nil {
		t.Error("detached subtree still linked")
	}
}

func TestAddDeviceErrors(t *testing.T) {
	r := testRoot()
	if err := r.AddDevice(nil); !errors.Is(err, ssdp.ErrInvalidArgument) {
		t.Errorf("nil device: %v", err)
	}

	other := testRoot()
	child := testDevice("child", "Renderer")
	if err := other.AddDevice(child); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDevice(child); !errors.Is(err, ssdp.ErrInvalidArgument) {
		t.Errorf("device with parent: %v", err)
	}
	if err := r.AddService(nil); !errors.Is(err, ssdp.ErrInvalidArgument) {
		t.Errorf("nil service: %v", err)
	}
}

func TestServiceTypes(t *testing.T) {
	r := testRoot()
	child := testDevice("child", "Renderer")
	_ = r.AddDevice(child)
	_ = r.AddService(testService("A"))
	_ = r.AddService(testService("B"))
	_ = child.AddService(testService("B"))
	_ = child.AddService(testService("C"))

	types := r.ServiceTypes()
	if len(types) != 3 {
		t.Fatalf("got %d service types, expected 3", len(types))
	}
	if types[1].Device != &r.Device || types[2].Device != child {
		t.Error("service types not attributed to first offering device")
	}
	if !child.HasServiceType("urn:schemas-upnp-org:service:c:1") {
		t.Error("HasServiceType should compare case-insensitively")
	}
}

func TestDefaultValidator(t *testing.T) {
	r := testRoot()
	_ = r.AddService(testService("ContentDirectory"))
	if err := (DefaultValidator{}).Validate(r); err != nil {
		t.Fatal("valid device rejected:", err)
	}

	bad := NewRootDevice("not a url", 0)
	bad.UUID = "x"
	_ = bad.AddDevice(testDevice("x", "Dup"))
	_ = bad.AddService(&Service{ServiceType: "Bad:Type"})

	err := (DefaultValidator{}).Validate(bad)
	var verr *ssdp.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// location, device type, version, friendly name, manufacturer, model,
	// service type, service version, service id, duplicate UUID
	if len(verr.Problems) != 10 {
		t.Errorf("got %d problems, expected 10: %v", len(verr.Problems), verr.Problems)
	}
}
