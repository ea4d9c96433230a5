// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package build

import (
	"errors"
	"runtime"
	"testing"

	"github.com/shirou/gopsutil/v4/host"
)

func TestAllowedVersions(t *testing.T) {
	testcases := []struct {
		ver     string
		allowed bool
	}{
		{"v0.13.0", true},
		{"v0.12.11+22-gabcdef0", true},
		{"v0.13.0-beta47", true},
		{"v0.13.0-beta.47+1-gabcdef0", true},
		{"v0.13.0+not.allowed.to.do.this", false},
		{"v1.0.0-noupgrade", true},
		{"1.0.0", false},
	}

	for i, c := range testcases {
		if allowed := AllowedVersionExp.MatchString(c.ver); allowed != c.allowed {
			t.Errorf("%d: incorrect result %v != %v for %q", i, allowed, c.allowed, c.ver)
		}
	}
}

func TestDetectOS(t *testing.T) {
	defer func(orig func() (*host.InfoStat, error)) { hostInfo = orig }(hostInfo)

	cases := []struct {
		info    *host.InfoStat
		err     error
		name    string
		version string
	}{
		{&host.InfoStat{OS: "linux", Platform: "ubuntu", PlatformVersion: "24.04"}, nil, "ubuntu", "24.04"},
		{&host.InfoStat{OS: "linux", KernelVersion: "6.1.0"}, nil, "linux", "6.1.0"},
		{&host.InfoStat{OS: "windows", Platform: "Microsoft Windows 11 Pro", PlatformVersion: "10.0.22631 Build 22631"}, nil, "Microsoft-Windows-11-Pro", "10.0.22631-Build-22631"},
		{nil, errors.New("no host info"), runtime.GOOS, "unknown"},
	}

	for i, c := range cases {
		hostInfo = func() (*host.InfoStat, error) { return c.info, c.err }
		name, version := detectOS()
		if name != c.name || version != c.version {
			t.Errorf("%d: got %q/%q, expected %q/%q", i, name, version, c.name, c.version)
		}
	}
}
