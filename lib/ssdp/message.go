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
)

// A HeaderField is a single header line. Name keeps the capitalization it
// was received or added with.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered multimap of header fields. Lookups are case
// insensitive on the name.
type Header []HeaderField

// Add appends a value, keeping any existing values for the same name.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Get returns the first value for the name, or the empty string.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value for the name and whether it was present.
func (h Header) Lookup(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns all values for the name in the order they were added.
func (h Header) Values(name string) []string {
	var vals []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Names returns the distinct header names in first-seen order, as they
// were first written.
func (h Header) Names() []string {
	var names []string
next:
	for _, f := range h {
		for _, n := range names {
			if strings.EqualFold(n, f.Name) {
				continue next
			}
		}
		names = append(names, f.Name)
	}
	return names
}

// A Message is a parsed SSDP datagram, either a request (M-SEARCH, NOTIFY)
// or a response. Messages are not modified after parsing.
type Message struct {
	IsResponse bool

	// Request line, for requests.
	Method string
	Target string

	// Status line, for responses.
	StatusCode int
	Reason     string

	Proto  string
	Header Header
}

func (m *Message) String() string {
	if m.IsResponse {
		return fmt.Sprintf("%s %d %s", m.Proto, m.StatusCode, m.Reason)
	}
	return fmt.Sprintf("%s %s %s", m.Method, m.Target, m.Proto)
}

// Methods we accept on a request line. Anything else is a format error.
var knownMethods = map[string]struct{}{
	MethodSearch:  {},
	MethodNotify:  {},
	"SUBSCRIBE":   {},
	"UNSUBSCRIBE": {},
	"GET":         {},
	"HEAD":        {},
	"POST":        {},
	"PUT":         {},
	"DELETE":      {},
	"OPTIONS":     {},
}

// IsResponseText reports whether the datagram text is a response, that is
// begins with "HTTP/" in any case.
func IsResponseText(text string) bool {
	return len(text) >= 5 && strings.EqualFold(text[:5], "HTTP/")
}

// Parse parses a single SSDP datagram. Header values are trimmed and
// repeated header names accumulate. Lines after the first blank line are
// ignored.
func Parse(text string) (*Message, error) {
	if text == "" {
		return nil, fmt.Errorf("empty message: %w", ErrInvalidArgument)
	}

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	msg := &Message{}
	if err := parseFirstLine(msg, lines[0]); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			// Not a header; tolerated like most UPnP stacks do.
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		msg.Header.Add(name, strings.TrimSpace(value))
	}

	return msg, nil
}

func parseFirstLine(msg *Message, line string) error {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return formatErrorf("first line %q has %d fields, expected at least 3", line, len(fields))
	}

	if IsResponseText(fields[0]) {
		code, err := strconv.Atoi(fields[1])
		if err != nil || code < 100 || code > 999 {
			return formatErrorf("unrecognized status code %q", fields[1])
		}
		msg.IsResponse = true
		msg.Proto = fields[0]
		msg.StatusCode = code
		msg.Reason = strings.Join(fields[2:], " ")
		return nil
	}

	method := strings.ToUpper(fields[0])
	if _, ok := knownMethods[method]; !ok {
		return formatErrorf("unrecognized method %q", fields[0])
	}
	if !IsResponseText(fields[2]) {
		return formatErrorf("unrecognized protocol version %q", fields[2])
	}
	msg.Method = method
	msg.Target = fields[1]
	msg.Proto = fields[2]
	return nil
}
