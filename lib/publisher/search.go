// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package publisher

import (
	"strconv"
	"strings"
	"time"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/ssdp"
)

// handleRequest answers a search after the random delay the requester
// allowed for with its MX header.
func (p *Publisher) handleRequest(rec comms.Received) {
	msg := rec.Message
	if !strings.EqualFold(msg.Method, ssdp.MethodSearch) {
		return
	}

	st := strings.TrimSpace(msg.Header.Get("ST"))
	mx, ok := p.searchMX(msg)
	if st == "" || !ok {
		metricSearches.WithLabelValues(outcomeInvalid).Inc()
		l.Debugf("%v: ignoring invalid search from %v", p, rec.Source)
		return
	}

	if p.limiter != nil && !p.limiter.Allow() {
		metricSearches.WithLabelValues(outcomeRateLimited).Inc()
		l.Debugf("%v: rate limiting search from %v", p, rec.Source)
		return
	}

	if p.isDuplicate(st+":"+rec.Source.String(), p.opts.now()) {
		metricSearches.WithLabelValues(outcomeDuplicate).Inc()
		l.Debugf("%v: ignoring duplicate search for %s from %v", p, st, rec.Source)
		return
	}

	delay := searchResponseDelay(mx, p.opts.MinResponseDelay, p.opts.intn)
	if err := p.opts.delay(p.ctx, delay); err != nil {
		metricSearches.WithLabelValues(outcomeAborted).Inc()
		return
	}

	metricSearches.WithLabelValues(outcomeAnswered).Inc()
	p.respond(st, rec.Source)
}

// searchMX returns the MX of a search, or false when the search must be
// ignored under the configured standards mode.
func (p *Publisher) searchMX(msg *ssdp.Message) (int, bool) {
	man, hasMAN := msg.Header.Lookup("MAN")
	mxStr, hasMX := msg.Header.Lookup("MX")

	if p.opts.StandardsMode == StandardsStrict {
		if !hasMAN || !strings.EqualFold(strings.Trim(strings.TrimSpace(man), `"`), strings.Trim(ssdp.ManDiscover, `"`)) {
			return 0, false
		}
		if !hasMX {
			return 0, false
		}
	}
	if !hasMX {
		return 1, true
	}

	mx, err := strconv.Atoi(strings.TrimSpace(mxStr))
	if err != nil || mx <= 0 {
		return 0, false
	}
	return mx, true
}

// searchResponseDelay returns a random delay between minDelay and the MX
// seconds the requester is prepared to wait. An MX beyond the protocol
// maximum is replaced by a random value within it.
func searchResponseDelay(mx int, minDelay time.Duration, intn func(lo, hi int) int) time.Duration {
	if mx > ssdp.MaxSearchMX {
		mx = intn(0, ssdp.MaxSearchMX)
	}
	maxMs := mx * 1000
	minMs := int(minDelay / time.Millisecond)
	if maxMs <= minMs {
		return minDelay
	}
	return time.Duration(intn(minMs, maxMs-1)) * time.Millisecond
}

// isDuplicate reports whether the same search was seen within the
// duplicate window, and records it otherwise.
func (p *Publisher) isDuplicate(key string, now time.Time) bool {
	p.recentMut.Lock()
	defer p.recentMut.Unlock()

	if last, ok := p.recent.Peek(key); ok && now.Sub(last) < p.opts.DuplicateWindow {
		return true
	}
	p.recent.Add(key, now)

	if p.recent.Len() > recentPruneThreshold && !p.pruning {
		p.pruning = true
		go p.pruneRecent(now)
	}
	return false
}

func (p *Publisher) pruneRecent(now time.Time) {
	p.recentMut.Lock()
	defer p.recentMut.Unlock()
	for _, key := range p.recent.Keys() {
		if last, ok := p.recent.Peek(key); ok && now.Sub(last) >= p.opts.DuplicateWindow {
			p.recent.Remove(key)
		}
	}
	p.pruning = false
}

// matchingResponses returns the search responses for target, compared
// case-insensitively.
func (p *Publisher) matchingResponses(target string, devices []*device.RootDevice) []ssdp.SearchResponse {
	var res []ssdp.SearchResponse
	add := func(r *device.RootDevice, st, usn string) {
		res = append(res, ssdp.SearchResponse{
			Date:          p.opts.now(),
			CacheLifetime: r.CacheLifetime,
			ST:            st,
			Server:        p.srvStr,
			USN:           usn,
			Location:      r.Location,
			CustomHeaders: r.CustomResponseHeaders,
		})
	}
	lower := strings.ToLower(target)

	for _, r := range devices {
		switch {
		case lower == ssdp.SearchAll:
			for _, d := range r.AllDevices() {
				for _, t := range p.deviceTypes(d, d == &r.Device) {
					add(r, t.nt, t.usn)
				}
			}
			for _, ts := range r.ServiceTypes() {
				add(r, ts.Type, usn(ts.Device, ts.Type))
			}

		case lower == ssdp.UpnpRootDevice:
			add(r, ssdp.UpnpRootDevice, usn(&r.Device, ssdp.UpnpRootDevice))

		case lower == ssdp.PnpRootDevice && p.opts.SupportPnpRootDevice:
			add(r, ssdp.PnpRootDevice, usn(&r.Device, ssdp.PnpRootDevice))

		case strings.HasPrefix(lower, ssdp.UUIDPrefix):
			for _, d := range r.AllDevices() {
				if strings.EqualFold(d.UDN(), target) {
					add(r, d.UDN(), d.UDN())
				}
			}

		case strings.Contains(lower, ssdp.DeviceTypeMark):
			for _, d := range r.AllDevices() {
				if strings.EqualFold(d.FullDeviceType(), target) {
					add(r, d.FullDeviceType(), usn(d, d.FullDeviceType()))
				}
			}

		case strings.Contains(lower, ssdp.ServiceTypeMark):
			for _, d := range r.AllDevices() {
				if d.HasServiceType(target) {
					add(r, target, usn(d, target))
				}
			}
		}
	}
	return res
}

func (p *Publisher) respond(target string, dst ssdp.UDPEndpoint) {
	responses := p.matchingResponses(target, p.Devices())
	if len(responses) == 0 {
		return
	}
	l.Debugf("%v: answering search for %s from %v with %d responses", p, target, dst, len(responses))
	if l.ShouldDebug() {
		for _, resp := range responses {
			l.Debugf("%v: ST %s USN %s", p, resp.ST, resp.USN)
		}
	}

	for _, resp := range responses {
		if err := p.server.SendMessage(p.ctx, resp.Bytes(), dst); err != nil {
			l.Debugf("%v: search response to %v failed: %v", p, dst, err)
			return
		}
		metricSearchResponsesSent.Inc()
	}
}
