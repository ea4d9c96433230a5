// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ssdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The header capitalization and CRLF framing below are relied upon by
// third party UPnP stacks. Do not "tidy" them.

// DateFormat is RFC 1123 with the literal GMT zone, as HTTP requires.
const DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

const searchResponseTpl = "HTTP/1.1 200 OK\r\n" +
	"EXT:\r\n" +
	"DATE: %s\r\n" +
	"%s\r\n" +
	"ST: %s\r\n" +
	"SERVER: %s\r\n" +
	"USN: %s\r\n" +
	"LOCATION: %s%s\r\n" +
	"\r\n"

const aliveTpl = "NOTIFY * HTTP/1.1\r\n" +
	"HOST: %s\r\n" +
	"DATE: %s\r\n" +
	"NT: %s\r\n" +
	"NTS: " + NtsAlive + "\r\n" +
	"SERVER: %s\r\n" +
	"USN: %s\r\n" +
	"LOCATION: %s\r\n" +
	"%s%s\r\n" +
	"\r\n"

const byeByeTpl = "NOTIFY * HTTP/1.1\r\n" +
	"HOST: %s\r\n" +
	"DATE: %s\r\n" +
	"NT: %s\r\n" +
	"NTS: " + NtsByeBye + "\r\n" +
	"SERVER: %s\r\n" +
	"USN: %s\r\n" +
	"\r\n"

const searchRequestTpl = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: %s\r\n" +
	"MAN: " + ManDiscover + "\r\n" +
	"MX: %d\r\n" +
	"ST: %s\r\n" +
	"USER-AGENT: %s\r\n" +
	"\r\n"

// ServerString returns the product tokens used in SERVER and USER-AGENT
// headers.
func ServerString(osName, osVersion string) string {
	return fmt.Sprintf("%s/%s %s", osName, osVersion, ServerProductToken)
}

// FormatDate formats t as an HTTP date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// CacheControl returns the complete CACHE-CONTROL header line for the
// given cache lifetime, without line terminator.
func CacheControl(lifetime time.Duration) string {
	if lifetime <= 0 {
		return "CACHE-CONTROL: no-cache"
	}
	return "CACHE-CONTROL: public, max-age=" + strconv.FormatInt(int64(lifetime/time.Second), 10)
}

// ParseMaxAge extracts the max-age directive from a CACHE-CONTROL value.
// The boolean is false when no usable max-age is present.
func ParseMaxAge(value string) (time.Duration, bool) {
	for _, directive := range strings.Split(value, ",") {
		name, arg, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(strings.TrimSpace(arg), `"`))
		if err != nil || secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func customHeaderLines(headers []HeaderField) string {
	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString("\r\n")
		sb.WriteString(h.Name)
		sb.WriteString(": ")
		sb.WriteString(h.Value)
	}
	return sb.String()
}

// SearchResponse holds the variable parts of a search response.
type SearchResponse struct {
	Date          time.Time
	CacheLifetime time.Duration
	ST            string
	Server        string
	USN           string
	Location      string
	CustomHeaders []HeaderField
}

func (r SearchResponse) Bytes() []byte {
	return []byte(fmt.Sprintf(searchResponseTpl,
		FormatDate(r.Date),
		CacheControl(r.CacheLifetime),
		r.ST,
		r.Server,
		r.USN,
		r.Location,
		customHeaderLines(r.CustomHeaders)))
}

// Notification holds the variable parts of an alive or byebye notification.
// Location, CacheLifetime and CustomHeaders are only used for alive.
type Notification struct {
	Host          UDPEndpoint
	Date          time.Time
	NT            string
	Server        string
	USN           string
	Location      string
	CacheLifetime time.Duration
	CustomHeaders []HeaderField
}

func (n Notification) AliveBytes() []byte {
	return []byte(fmt.Sprintf(aliveTpl,
		n.Host,
		FormatDate(n.Date),
		n.NT,
		n.Server,
		n.USN,
		n.Location,
		CacheControl(n.CacheLifetime),
		customHeaderLines(n.CustomHeaders)))
}

func (n Notification) ByeByeBytes() []byte {
	return []byte(fmt.Sprintf(byeByeTpl,
		n.Host,
		FormatDate(n.Date),
		n.NT,
		n.Server,
		n.USN))
}

// SearchRequest holds the variable parts of an M-SEARCH request.
type SearchRequest struct {
	Host      UDPEndpoint
	ST        string
	MX        int
	UserAgent string
}

func (s SearchRequest) Bytes() []byte {
	return []byte(fmt.Sprintf(searchRequestTpl, s.Host, s.MX, s.ST, s.UserAgent))
}

// SearchMX returns the MX value to use for a search that waits the given
// time for responses. Responders must be done a little before the wait
// ends, hence the second of slack.
func SearchMX(wait time.Duration) int {
	if wait < 2*time.Second {
		return 1
	}
	return int((wait - time.Second) / time.Second)
}
