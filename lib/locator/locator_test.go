// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/ssdp"
	"github.com/syncthing/ssdp/lib/testutil"
)

var (
	remote = ssdp.UDPEndpoint{IP: "192.0.2.99", Port: 40000}
	group  = ssdp.MulticastEndpoint(false)
)

func newTestLocator(t *testing.T, opts Options) (*Locator, *testutil.Network) {
	t.Helper()
	n := testutil.NewNetwork()
	srv := comms.NewServer(n, comms.Options{
		LocalIP:      "192.0.2.10",
		UDPSendCount: 1,
		UDPSendDelay: time.Millisecond,
	})
	opts.OSName = "TestOS"
	opts.OSVersion = "1.0"
	loc, err := New(srv, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loc.Close() })
	return loc, n
}

func responseText(st, usn, location string, maxAge int) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nEXT:\r\nCACHE-CONTROL: max-age=%d\r\nST: %s\r\nUSN: %s\r\nLOCATION: %s\r\n\r\n", maxAge, st, usn, location))
}

func notifyText(nts, nt, usn, location string, maxAge int) []byte {
	return []byte(fmt.Sprintf("NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nNT: %s\r\nNTS: %s\r\nUSN: %s\r\nLOCATION: %s\r\nCACHE-CONTROL: max-age=%d\r\n\r\n", nt, nts, usn, location, maxAge))
}

func collectEvents(loc *Locator) <-chan Event {
	ch := make(chan Event, 100)
	loc.Subscribe(func(e Event) { ch <- e })
	return ch
}

func expectEvent(t *testing.T, ch <-chan Event, kind EventKind, usn string) Event {
	t.Helper()
	select {
	case e := <-ch:
		if e.Kind != kind || e.Device.USN != usn {
			t.Fatalf("got %v event for %s, expected %v for %s", e.Kind, e.Device.USN, kind, usn)
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no %v event for %s", kind, usn)
	}
	return Event{}
}

func expectNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected %v event for %s", e.Kind, e.Device.USN)
	case <-time.After(50 * time.Millisecond):
	}
}

// runSearch starts a search, answers it with the given responses and
// cancels it once the locator has cached them.
func runSearch(t *testing.T, loc *Locator, n *testutil.Network, target string, cached int, answers ...[]byte) []DiscoveredDevice {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		devs []DiscoveredDevice
		err  error
	}
	res := make(chan result, 1)
	go func() {
		devs, err := loc.Search(ctx, target, 30*time.Second)
		res <- result{devs, err}
	}()

	testutil.WaitFor(t, 2*time.Second, "search request", func() bool { return len(n.SentTo(group)) > 0 })
	from := n.SentTo(group)[0].From
	for _, a := range answers {
		n.Inject(remote, from, a)
	}
	testutil.WaitFor(t, 2*time.Second, "cached responses", func() bool { return len(loc.Devices()) >= cached })
	time.Sleep(20 * time.Millisecond)
	cancel()

	r := <-res
	testutil.FatalErr(t, r.err)
	return r.devs
}

func TestSearchRequest(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	devs, err := loc.Search(ctx, "", 4*time.Second)
	testutil.FatalErr(t, err)
	if len(devs) != 0 {
		t.Errorf("got %d devices from a cancelled search", len(devs))
	}

	sent := n.SentTo(group)
	if len(sent) != 1 {
		t.Fatalf("sent %d search requests, expected 1", len(sent))
	}
	msg, err := ssdp.Parse(string(sent[0].Data))
	testutil.FatalErr(t, err)
	testutil.AssertEqual(t.Errorf, msg.Method, ssdp.MethodSearch)
	testutil.AssertEqual(t.Errorf, msg.Header.Get("ST"), "ssdp:all")
	testutil.AssertEqual(t.Errorf, msg.Header.Get("MX"), "3")
	testutil.AssertEqual(t.Errorf, msg.Header.Get("MAN"), `"ssdp:discover"`)
	testutil.AssertEqual(t.Errorf, msg.Header.Get("USER-AGENT"), "TestOS/1.0 UPnP/1.0 RSSDP/1.0")
}

func TestSearchArguments(t *testing.T) {
	loc, _ := newTestLocator(t, Options{})
	for _, wait := range []time.Duration{-time.Second, 500 * time.Millisecond} {
		if _, err := loc.Search(context.Background(), "", wait); !errors.Is(err, ssdp.ErrInvalidArgument) {
			t.Errorf("wait %v: %v", wait, err)
		}
	}

	loc.Close()
	if _, err := loc.Search(context.Background(), "", 0); !errors.Is(err, ssdp.ErrDisposed) {
		t.Errorf("search after close: %v", err)
	}
}

func TestSearchDeduplicates(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	devs := runSearch(t, loc, n, "", 2,
		responseText("upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 1800),
		responseText("upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 1800),
		responseText("upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.21/a.xml", 1800),
	)

	if len(devs) != 2 {
		t.Fatalf("got %d devices, expected 2", len(devs))
	}
	seen := make(map[string]bool)
	for _, d := range devs {
		seen[d.DescriptionLocation] = true
		testutil.AssertEqual(t.Errorf, d.CacheLifetime, 1800*time.Second)
		testutil.AssertEqual(t.Errorf, d.NotificationType, "upnp:rootdevice")
	}
	if !seen["http://192.0.2.20/a.xml"] || !seen["http://192.0.2.21/a.xml"] {
		t.Errorf("unexpected locations %v", seen)
	}
}

func TestSearchFiltersByTarget(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	devs := runSearch(t, loc, n, "urn:schemas-upnp-org:device:MediaServer:1", 2,
		responseText("urn:schemas-upnp-org:device:MediaServer:1", "uuid:a::urn:schemas-upnp-org:device:MediaServer:1", "http://192.0.2.20/a.xml", 60),
		responseText("upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60),
	)
	if len(devs) != 1 || devs[0].USN != "uuid:a::urn:schemas-upnp-org:device:MediaServer:1" {
		t.Errorf("unexpected search results %v", devs)
	}
}

func TestSearchRaisesAvailableOnce(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	events := collectEvents(loc)
	resp := responseText("upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60)

	runSearch(t, loc, n, "", 1, resp, resp)
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
	expectNoEvent(t, events)
}

func TestNotifications(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	events := collectEvents(loc)

	alive := notifyText(ssdp.NtsAlive, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60)

	// Not listening yet; a shared listen socket must not leak events.
	testutil.FatalErr(t, loc.server.BeginListeningForBroadcasts())
	n.Inject(remote, group, alive)
	expectNoEvent(t, events)

	testutil.FatalErr(t, loc.StartListeningForNotifications())
	n.Inject(remote, group, alive)
	e := expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
	testutil.AssertEqual(t.Errorf, e.Device.NotificationType, "upnp:rootdevice")

	n.Inject(remote, group, alive)
	n.Inject(remote, group, notifyText(ssdp.NtsUpdate, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60))
	expectNoEvent(t, events)
	testutil.AssertEqual(t.Errorf, len(loc.Devices()), 1)

	n.Inject(remote, group, notifyText(ssdp.NtsByeBye, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "", 0))
	e = expectEvent(t, events, DeviceUnavailable, "uuid:a::upnp:rootdevice")
	testutil.AssertEqual(t.Errorf, e.Expired, false)
	testutil.AssertEqual(t.Errorf, e.Device.DescriptionLocation, "http://192.0.2.20/a.xml")
	testutil.AssertEqual(t.Errorf, len(loc.Devices()), 0)

	// Unknown devices saying byebye are reported too.
	n.Inject(remote, group, notifyText(ssdp.NtsByeBye, "upnp:rootdevice", "uuid:b::upnp:rootdevice", "", 0))
	expectEvent(t, events, DeviceUnavailable, "uuid:b::upnp:rootdevice")

	loc.StopListeningForNotifications()
	if loc.IsListening() || loc.server.IsListeningForBroadcasts() {
		t.Error("still listening after stop")
	}
}

func TestNotificationFilter(t *testing.T) {
	loc, n := newTestLocator(t, Options{NotificationFilter: "UPNP:rootdevice"})
	events := collectEvents(loc)
	testutil.FatalErr(t, loc.StartListeningForNotifications())

	n.Inject(remote, group, notifyText(ssdp.NtsAlive, "uuid:a", "uuid:a", "http://192.0.2.20/a.xml", 60))
	expectNoEvent(t, events)
	n.Inject(remote, group, notifyText(ssdp.NtsAlive, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60))
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
}

func TestExpiry(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	events := collectEvents(loc)
	testutil.FatalErr(t, loc.StartListeningForNotifications())

	n.Inject(remote, group, notifyText(ssdp.NtsAlive, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 1))
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
	testutil.AssertEqual(t.Errorf, len(loc.Devices()), 1)

	time.Sleep(1200 * time.Millisecond)
	testutil.AssertEqual(t.Errorf, len(loc.Devices()), 0)

	e := expectEvent(t, events, DeviceUnavailable, "uuid:a::upnp:rootdevice")
	testutil.AssertEqual(t.Errorf, e.Expired, true)
	testutil.AssertEqual(t.Errorf, loc.cache.Size(), 0)
}

func TestZeroMaxAgeNotCached(t *testing.T) {
	var mut sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mut.Lock()
		defer mut.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mut.Lock()
		now = now.Add(d)
		mut.Unlock()
	}

	loc, n := newTestLocator(t, Options{now: clock})
	events := collectEvents(loc)
	testutil.FatalErr(t, loc.StartListeningForNotifications())

	alive := notifyText(ssdp.NtsAlive, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 0)
	for i := 0; i < 3; i++ {
		n.Inject(remote, group, alive)
	}
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
	expectNoEvent(t, events)
	testutil.AssertEqual(t.Errorf, len(loc.Devices()), 0)

	// Still repeating, so still the same sighting.
	advance(uncachedRepeatWindow / 2)
	n.Inject(remote, group, alive)
	expectNoEvent(t, events)

	advance(uncachedRepeatWindow)
	n.Inject(remote, group, alive)
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")

	n.Inject(remote, group, notifyText(ssdp.NtsByeBye, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "", 0))
	expectEvent(t, events, DeviceUnavailable, "uuid:a::upnp:rootdevice")
	n.Inject(remote, group, alive)
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
}

func TestPanickingObserverIsolated(t *testing.T) {
	loc, n := newTestLocator(t, Options{})
	loc.Subscribe(func(Event) { panic("observer failure") })
	events := collectEvents(loc)
	testutil.FatalErr(t, loc.StartListeningForNotifications())

	n.Inject(remote, group, notifyText(ssdp.NtsAlive, "upnp:rootdevice", "uuid:a::upnp:rootdevice", "http://192.0.2.20/a.xml", 60))
	expectEvent(t, events, DeviceAvailable, "uuid:a::upnp:rootdevice")
}

func TestSharedServerSurvivesClose(t *testing.T) {
	n := testutil.NewNetwork()
	srv := comms.NewServer(n, comms.Options{UDPSendCount: 1})
	defer srv.Close()
	srv.SetShared(true)

	loc, err := New(srv, Options{})
	testutil.FatalErr(t, err)
	testutil.FatalErr(t, loc.StartListeningForNotifications())
	loc.StopListeningForNotifications()
	testutil.FatalErr(t, loc.Close())

	if !srv.IsListeningForBroadcasts() {
		t.Error("shared server stopped by locator")
	}
}
