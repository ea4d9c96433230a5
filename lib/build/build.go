// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package build carries version information injected at link time and the
// operating system identification used in SSDP SERVER and USER-AGENT
// headers.
package build

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/host"
)

var (
	// Injected by build script
	Version = "unknown-dev"
	Host    = "unknown" // Set by build script
	User    = "unknown" // Set by build script

	// Set by init()
	IsRelease   bool
	LongVersion string

	AllowedVersionExp = regexp.MustCompile(`^v\d+\.\d+\.\d+(-[a-z0-9]+)*(\.\d+)*(\+\d+-g[0-9a-f]+)?(-[^\s]+)?$`)
)

func init() {
	setBuildData()
}

func setBuildData() {
	exp := regexp.MustCompile(`^v\d+\.\d+\.\d+(-[a-z]+[\d\.]+)?$`)
	IsRelease = exp.MatchString(Version)
	LongVersion = fmt.Sprintf(`stssdp %s (%s %s-%s) %s@%s`, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH, User, Host)
}

var (
	osOnce    sync.Once
	osName    string
	osVersion string

	// hostInfo is swapped out in tests.
	hostInfo = host.Info
)

// OS returns the operating system name and version, as used in the
// "OS/version" part of a SERVER header. When the host cannot be
// identified the runtime's GOOS and "unknown" are returned.
func OS() (name, version string) {
	osOnce.Do(func() {
		osName, osVersion = detectOS()
	})
	return osName, osVersion
}

func detectOS() (string, string) {
	info, err := hostInfo()
	if err != nil || info == nil {
		return runtime.GOOS, "unknown"
	}
	name := info.Platform
	if name == "" {
		name = info.OS
	}
	if name == "" {
		name = runtime.GOOS
	}
	version := info.PlatformVersion
	if version == "" {
		version = info.KernelVersion
	}
	if version == "" {
		version = "unknown"
	}
	return sanitizeToken(name), sanitizeToken(version)
}

// sanitizeToken strips characters that would break a product token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\t', '\r', '\n':
			return '-'
		}
		return r
	}, strings.TrimSpace(s))
}
