// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package aggregate

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/events"
	"github.com/syncthing/ssdp/lib/locator"
	"github.com/syncthing/ssdp/lib/netutil"
	"github.com/syncthing/ssdp/lib/publisher"
	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/testutil"
	"github.com/syncthing/ssdp/lib/transport"
)

type fakeLocator struct {
	devs      []locator.DiscoveredDevice
	searchErr error
	startErr  error
	closeErr  error
	observers events.Observers[locator.Event]

	mut     sync.Mutex
	started bool
	closed  bool
}

func (f *fakeLocator) Search(context.Context, string, time.Duration) ([]locator.DiscoveredDevice, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.devs, nil
}

func (f *fakeLocator) StartListeningForNotifications() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeLocator) StopListeningForNotifications() {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.started = false
}

func (f *fakeLocator) Subscribe(fn func(locator.Event)) func() {
	return f.observers.Subscribe(fn)
}

func (f *fakeLocator) Devices() []locator.DiscoveredDevice {
	return f.devs
}

func (f *fakeLocator) Close() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.closed = true
	return f.closeErr
}

func dev(usn, location string) locator.DiscoveredDevice {
	return locator.DiscoveredDevice{USN: usn, DescriptionLocation: location, CacheLifetime: time.Minute}
}

func TestSearchToleratesPartialFailure(t *testing.T) {
	shared := dev("uuid:shared", "http://192.0.2.1/d.xml")
	first := shared
	first.NotificationType = "from-first"

	a, err := NewLocator(
		&fakeLocator{devs: []locator.DiscoveredDevice{first, dev("uuid:a", "http://192.0.2.1/a.xml")}},
		&fakeLocator{searchErr: errors.New("adapter 2 down")},
		&fakeLocator{devs: []locator.DiscoveredDevice{shared, dev("uuid:c", "http://192.0.2.3/c.xml")}},
	)
	testutil.FatalErr(t, err)

	devs, err := a.Search(context.Background(), "", time.Second)
	testutil.FatalErr(t, err)
	if len(devs) != 3 {
		t.Fatalf("got %d devices, expected 3: %v", len(devs), devs)
	}
	if devs[0].NotificationType != "from-first" {
		t.Error("duplicate did not keep the first-seen entry")
	}
	if devs[1].USN != "uuid:a" || devs[2].USN != "uuid:c" {
		t.Errorf("unexpected merge order %v", devs)
	}
}

func TestSearchAllFail(t *testing.T) {
	errFirst := errors.New("adapter 1 down")
	a, err := NewLocator(
		&fakeLocator{searchErr: errFirst},
		&fakeLocator{searchErr: errors.New("adapter 2 down")},
		&fakeLocator{searchErr: errors.New("adapter 3 down")},
	)
	testutil.FatalErr(t, err)

	_, err = a.Search(context.Background(), "", time.Second)
	var aerr *ssdp.AggregateError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AggregateError, got %v", err)
	}
	if len(aerr.Errs) != 3 {
		t.Errorf("got %d errors, expected 3", len(aerr.Errs))
	}
	if !errors.Is(err, errFirst) {
		t.Error("aggregate error does not unwrap to the first failure")
	}
}

func TestNewLocatorRequiresLocators(t *testing.T) {
	if _, err := NewLocator(); !errors.Is(err, ssdp.ErrInvalidArgument) {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := NewPublisher(); !errors.Is(err, ssdp.ErrInvalidArgument) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestEventsReraisedAndIsolated(t *testing.T) {
	f1, f2 := &fakeLocator{}, &fakeLocator{}
	a, err := NewLocator(f1, f2)
	testutil.FatalErr(t, err)

	var got []locator.Event
	a.Subscribe(func(locator.Event) { panic("observer failure") })
	a.Subscribe(func(e locator.Event) { got = append(got, e) })

	e1 := locator.Event{Kind: locator.DeviceAvailable, Device: dev("uuid:a", "http://192.0.2.1/a.xml")}
	e2 := locator.Event{Kind: locator.DeviceUnavailable, Device: dev("uuid:b", "http://192.0.2.2/b.xml"), Expired: true}
	f1.observers.Publish(e1)
	f2.observers.Publish(e2)

	if len(got) != 2 || got[0].Device.USN != "uuid:a" || got[1].Kind != locator.DeviceUnavailable || !got[1].Expired {
		t.Errorf("unexpected re-raised events %v", got)
	}

	testutil.FatalErr(t, a.Close())
	f1.observers.Publish(e1)
	if len(got) != 2 {
		t.Error("event re-raised after close")
	}
}

func TestStartListeningPartialFailure(t *testing.T) {
	f1 := &fakeLocator{startErr: errors.New("bind failed")}
	f2 := &fakeLocator{}
	a, err := NewLocator(f1, f2)
	testutil.FatalErr(t, err)

	testutil.FatalErr(t, a.StartListeningForNotifications())
	if !f2.started {
		t.Error("second locator not started after first failed")
	}
	a.StopListeningForNotifications()
	if f2.started {
		t.Error("second locator not stopped")
	}

	f2.startErr = errors.New("bind failed too")
	if err := a.StartListeningForNotifications(); err == nil {
		t.Error("expected error when every adapter fails")
	}
}

func TestCloseAttemptsAll(t *testing.T) {
	f1 := &fakeLocator{closeErr: errors.New("close failed")}
	f2 := &fakeLocator{}
	a, err := NewLocator(f1, f2)
	testutil.FatalErr(t, err)

	if err := a.Close(); err == nil {
		t.Error("close error swallowed")
	}
	if !f1.closed || !f2.closed {
		t.Error("not every locator closed")
	}
	testutil.FatalErr(t, a.Close())
}

func TestLocatorForAdapters(t *testing.T) {
	n := testutil.NewNetwork()
	a, err := NewLocatorForAdapters(n, []string{"192.0.2.10", "192.0.2.11"},
		comms.Options{UDPSendCount: 1}, locator.Options{OSName: "TestOS", OSVersion: "1.0"})
	testutil.FatalErr(t, err)
	defer a.Close()

	evs := make(chan locator.Event, 10)
	a.Subscribe(func(e locator.Event) { evs <- e })
	testutil.FatalErr(t, a.StartListeningForNotifications())

	alive := "NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nNT: upnp:rootdevice\r\nNTS: ssdp:alive\r\nUSN: uuid:a::upnp:rootdevice\r\nLOCATION: http://192.0.2.20/a.xml\r\nCACHE-CONTROL: max-age=60\r\n\r\n"
	n.Inject(ssdp.UDPEndpoint{IP: "192.0.2.20", Port: 1900}, ssdp.MulticastEndpoint(false), []byte(alive))

	for i := 0; i < 2; i++ {
		select {
		case e := <-evs:
			testutil.AssertEqual(t.Errorf, e.Kind, locator.DeviceAvailable)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d events, expected one per adapter", i)
		}
	}
	testutil.WaitFor(t, time.Second, "cached device", func() bool { return len(a.Devices()) == 1 })

	testutil.FatalErr(t, a.Close())
	testutil.AssertEqual(t.Errorf, n.OpenSockets(), 0)
}

type fakePublisher struct {
	err   error
	mut   sync.Mutex
	added []*device.RootDevice
}

func (f *fakePublisher) AddDevice(_ context.Context, r *device.RootDevice) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.added = append(f.added, r)
	return f.err
}

func (f *fakePublisher) RemoveDevice(context.Context, *device.RootDevice) error { return f.err }
func (f *fakePublisher) Close() error                                           { return nil }

func TestPublisherFanOut(t *testing.T) {
	boom := errors.New("publisher failed")
	f1, f2 := &fakePublisher{err: boom}, &fakePublisher{}
	p, err := NewPublisher(f1, f2)
	testutil.FatalErr(t, err)

	r := device.NewRootDevice("http://192.0.2.10/d.xml", time.Hour)
	if err := p.AddDevice(context.Background(), r); !errors.Is(err, boom) {
		t.Errorf("expected joined publisher error, got %v", err)
	}
	if len(f1.added) != 1 || len(f2.added) != 1 {
		t.Error("device not fanned out to every publisher")
	}
}

func TestPublisherForAdapters(t *testing.T) {
	n := testutil.NewNetwork()
	p, err := NewPublisherForAdapters(n, []string{"192.0.2.10", "192.0.2.11"},
		comms.Options{UDPSendCount: 1}, publisher.Options{OSName: "TestOS", OSVersion: "1.0"})
	testutil.FatalErr(t, err)

	r := device.NewRootDevice("http://192.0.2.10/d.xml", time.Hour)
	r.UUID = "root"
	r.DeviceType = "Basic"
	r.DeviceVersion = 1
	r.FriendlyName = "Root"
	r.Manufacturer = "Syncthing"
	r.ModelName = "stssdp"

	testutil.FatalErr(t, p.AddDevice(context.Background(), r))
	if sent := n.SentTo(ssdp.MulticastEndpoint(false)); len(sent) != 6 {
		t.Errorf("sent %d alive notifications, expected 3 per adapter", len(sent))
	}
	testutil.FatalErr(t, p.Close())
	testutil.AssertEqual(t.Errorf, n.OpenSockets(), 0)
}

func TestAdapterAddressesKeepZone(t *testing.T) {
	oldIntfs, oldAddrs := netutil.Interfaces, netutil.InterfaceAddrsByInterface
	t.Cleanup(func() {
		netutil.Interfaces, netutil.InterfaceAddrsByInterface = oldIntfs, oldAddrs
	})
	netutil.Interfaces = func() ([]net.Interface, error) {
		return []net.Interface{{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}}, nil
	}
	netutil.InterfaceAddrsByInterface = func(*net.Interface) ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("fd00::2"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.ParseIP("fe80::fc:ff:fe00:1"), Mask: net.CIDRMask(64, 128)},
		}, nil
	}

	addrs, err := adapterAddresses(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if expected := []string{"fd00::2", "fe80::fc:ff:fe00:1%eth0"}; !slices.Equal(addrs, expected) {
		t.Errorf("addresses %v, expected %v", addrs, expected)
	}
}

func TestAdapterAddressesBind(t *testing.T) {
	for _, ipv6 := range []bool{false, true} {
		addrs, err := adapterAddresses(nil, ipv6)
		if err != nil {
			t.Logf("IPv6=%v: %v", ipv6, err)
			continue
		}
		for _, a := range addrs {
			sock, err := transport.UDPFactory{}.ListenUnicast(a, 0, ssdp.MulticastTTL)
			if err != nil {
				t.Errorf("binding %s: %v", a, err)
				continue
			}
			sock.Close()
		}
	}
}
