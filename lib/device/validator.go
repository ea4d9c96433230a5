// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package device

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/syncthing/ssdp/lib/ssdp"
)

// A Validator checks that a device tree satisfies what is needed to
// advertise it. A non-nil error is a *ssdp.ValidationError.
type Validator interface {
	Validate(r *RootDevice) error
}

// DefaultValidator applies the minimal UPnP 1.0 rules.
type DefaultValidator struct{}

var _ Validator = DefaultValidator{}

func (DefaultValidator) Validate(r *RootDevice) error {
	if r == nil {
		return fmt.Errorf("root device: %w", ssdp.ErrInvalidArgument)
	}

	var problems []string
	if r.Location == "" {
		problems = append(problems, "location is not set")
	} else if u, err := url.Parse(r.Location); err != nil || !u.IsAbs() || u.Host == "" {
		problems = append(problems, fmt.Sprintf("location %q is not an absolute URL", r.Location))
	}
	if r.CacheLifetime < 0 {
		problems = append(problems, "cache lifetime is negative")
	}
	for _, h := range r.CustomResponseHeaders {
		if h.Name == "" || strings.ContainsAny(h.Name, ": \r\n") || strings.ContainsAny(h.Value, "\r\n") {
			problems = append(problems, fmt.Sprintf("custom header %q is malformed", h.Name))
		}
	}

	seen := make(map[string]bool)
	for _, d := range r.AllDevices() {
		problems = append(problems, deviceProblems(d, seen)...)
	}

	if len(problems) > 0 {
		return &ssdp.ValidationError{Device: r.UDN(), Problems: problems}
	}
	return nil
}

func deviceProblems(d *Device, seenUUIDs map[string]bool) []string {
	var problems []string
	name := d.UDN()
	add := func(format string, args ...any) {
		problems = append(problems, name+": "+fmt.Sprintf(format, args...))
	}

	switch {
	case strings.TrimSpace(d.UUID) == "":
		add("UUID is not set")
	case strings.ContainsAny(d.UUID, " \t\r\n"):
		add("UUID contains whitespace")
	case seenUUIDs[strings.ToLower(d.UDN())]:
		add("UUID is not unique within the tree")
	}
	seenUUIDs[strings.ToLower(d.UDN())] = true

	if !isToken(d.DeviceType) {
		add("device type %q is invalid", d.DeviceType)
	}
	if d.DeviceTypeNamespace != "" && !isToken(d.DeviceTypeNamespace) {
		add("device type namespace %q is invalid", d.DeviceTypeNamespace)
	}
	if d.DeviceVersion <= 0 {
		add("device version must be positive")
	}
	if strings.TrimSpace(d.FriendlyName) == "" {
		add("friendly name is not set")
	}
	if strings.TrimSpace(d.Manufacturer) == "" {
		add("manufacturer is not set")
	}
	if strings.TrimSpace(d.ModelName) == "" {
		add("model name is not set")
	}

	for _, s := range d.Services() {
		if !isToken(s.ServiceType) {
			add("service type %q is invalid", s.ServiceType)
		}
		if s.ServiceTypeNamespace != "" && !isToken(s.ServiceTypeNamespace) {
			add("service type namespace %q is invalid", s.ServiceTypeNamespace)
		}
		if s.ServiceVersion <= 0 {
			add("service %s version must be positive", s.ServiceType)
		}
		if strings.TrimSpace(s.ServiceID) == "" {
			add("service %s has no service ID", s.ServiceType)
		}
	}
	return problems
}

// isToken reports whether s can appear between the colons of a URN.
func isToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ": \t\r\n")
}
