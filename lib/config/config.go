// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements reading and writing of the SSDP configuration
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/syncthing/ssdp/lib/comms"
	"github.com/syncthing/ssdp/lib/device"
	"github.com/syncthing/ssdp/lib/locator"
	"github.com/syncthing/ssdp/lib/netutil"
	"github.com/syncthing/ssdp/lib/publisher"
	"github.com/syncthing/ssdp/lib/ssdp"
)

var ErrInvalid = errors.New("invalid configuration")

type Configuration struct {
	Network   NetworkConfiguration      `json:"network"`
	Publisher PublisherConfiguration    `json:"publisher"`
	Locator   LocatorConfiguration      `json:"locator"`
	Devices   []RootDeviceConfiguration `json:"devices,omitempty"`
}

type NetworkConfiguration struct {
	IPv6 bool `json:"ipv6"`
	// LocalAddresses to bind to, one server per address. Empty means
	// every multicast capable adapter.
	LocalAddresses []string `json:"localAddresses,omitempty"`
	LocalPort      int      `json:"localPort"`
	MulticastTTL   int      `json:"multicastTTL"`
	UDPSendCount   int      `json:"udpSendCount"`
	UDPSendDelay   Duration `json:"udpSendDelay"`
	RebindBackoff  Duration `json:"rebindBackoff"`
}

type PublisherConfiguration struct {
	OSName                        string   `json:"osName,omitempty"`
	OSVersion                     string   `json:"osVersion,omitempty"`
	NotificationBroadcastInterval Duration `json:"notificationBroadcastInterval"`
	StandardsMode                 string   `json:"standardsMode"`
	SupportPnpRootDevice          bool     `json:"supportPnpRootDevice"`
	SearchRate                    float64  `json:"searchRate"`
	SearchBurst                   int      `json:"searchBurst"`
	DuplicateWindow               Duration `json:"duplicateWindow"`
	MinResponseDelay              Duration `json:"minResponseDelay"`
}

type LocatorConfiguration struct {
	DefaultSearchWait  Duration `json:"defaultSearchWait"`
	NotificationFilter string   `json:"notificationFilter,omitempty"`
}

// New returns a configuration with every default set and no devices.
func New() Configuration {
	return Configuration{
		Network: NetworkConfiguration{
			MulticastTTL:  ssdp.MulticastTTL,
			UDPSendCount:  ssdp.DefaultUDPSendCount,
			UDPSendDelay:  Duration(ssdp.DefaultUDPSendDelay),
			RebindBackoff: Duration(30 * time.Second),
		},
		Publisher: PublisherConfiguration{
			StandardsMode:    publisher.StandardsRelaxed.String(),
			DuplicateWindow:  Duration(ssdp.DuplicateSearchWindow),
			MinResponseDelay: Duration(ssdp.MinSearchResponseDelay),
		},
		Locator: LocatorConfiguration{
			DefaultSearchWait: Duration(ssdp.DefaultSearchWaitTime),
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	l.Debugf("Loaded configuration from %s with %d root devices", path, len(cfg.Devices))
	return cfg, nil
}

// Parse reads a YAML (or JSON) configuration on top of the defaults and
// validates it. Unknown keys are an error.
func Parse(data []byte) (Configuration, error) {
	cfg := New()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Configuration{}, err
	}
	cfg.Publisher.StandardsMode = strings.ToLower(strings.TrimSpace(cfg.Publisher.StandardsMode))
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// Save writes the configuration to path, replacing any existing file
// atomically.
func (cfg Configuration) Save(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (cfg Configuration) Copy() Configuration {
	newCfg := cfg
	newCfg.Network.LocalAddresses = append([]string(nil), cfg.Network.LocalAddresses...)
	newCfg.Devices = make([]RootDeviceConfiguration, len(cfg.Devices))
	for i := range cfg.Devices {
		newCfg.Devices[i] = cfg.Devices[i].Copy()
	}
	return newCfg
}

// Validate returns an error wrapping ErrInvalid that lists every problem
// found, or nil.
func (cfg Configuration) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	n := cfg.Network
	for _, addr := range n.LocalAddresses {
		ip, _, ok := netutil.ParseHost(addr)
		switch {
		case !ok:
			add("network.localAddresses: %q is not an IP address", addr)
		case n.IPv6 && ip.To4() != nil:
			add("network.localAddresses: %s is not an IPv6 address", addr)
		case !n.IPv6 && ip.To4() == nil:
			add("network.localAddresses: %s is not an IPv4 address", addr)
		}
	}
	if n.LocalPort < 0 || n.LocalPort > 65535 {
		add("network.localPort: %d out of range", n.LocalPort)
	}
	if n.MulticastTTL < 1 || n.MulticastTTL > 255 {
		add("network.multicastTTL: %d out of range", n.MulticastTTL)
	}
	if n.UDPSendCount < 1 {
		add("network.udpSendCount: must be at least one")
	}
	if n.UDPSendDelay < 0 || n.RebindBackoff < 0 {
		add("network: durations must not be negative")
	}

	p := cfg.Publisher
	if _, err := parseStandardsMode(p.StandardsMode); err != nil {
		add("publisher.standardsMode: %v", err)
	}
	if p.NotificationBroadcastInterval < 0 || p.DuplicateWindow < 0 || p.MinResponseDelay < 0 {
		add("publisher: durations must not be negative")
	}
	if p.SearchRate < 0 || p.SearchBurst < 0 {
		add("publisher: search rate and burst must not be negative")
	}
	if p.SearchRate > 0 && p.SearchBurst == 0 {
		add("publisher.searchBurst: must be set when searchRate is")
	}

	if w := time.Duration(cfg.Locator.DefaultSearchWait); w != 0 && w < time.Second {
		add("locator.defaultSearchWait: %v is below one second", w)
	}

	// Missing UUIDs are filled in before use, so validate a copy with
	// placeholders.
	filled := cfg.Copy()
	filled.FillUUIDs()
	devs, err := filled.RootDevices()
	if err != nil {
		add("devices: %v", err)
	}
	for _, r := range devs {
		if err := (device.DefaultValidator{}).Validate(r); err != nil {
			add("devices: %v", err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// CommsOptions returns the communications server options for the given
// local address.
func (n NetworkConfiguration) CommsOptions(localIP string) comms.Options {
	return comms.Options{
		LocalIP:       localIP,
		LocalPort:     n.LocalPort,
		IPv6:          n.IPv6,
		MulticastTTL:  n.MulticastTTL,
		UDPSendCount:  n.UDPSendCount,
		UDPSendDelay:  time.Duration(n.UDPSendDelay),
		RebindBackoff: time.Duration(n.RebindBackoff),
	}
}

func (p PublisherConfiguration) PublisherOptions() publisher.Options {
	mode, _ := parseStandardsMode(p.StandardsMode)
	return publisher.Options{
		OSName:                        p.OSName,
		OSVersion:                     p.OSVersion,
		NotificationBroadcastInterval: time.Duration(p.NotificationBroadcastInterval),
		StandardsMode:                 mode,
		SupportPnpRootDevice:          p.SupportPnpRootDevice,
		DuplicateWindow:               time.Duration(p.DuplicateWindow),
		MinResponseDelay:              time.Duration(p.MinResponseDelay),
		SearchRate:                    p.SearchRate,
		SearchBurst:                   p.SearchBurst,
	}
}

func (c LocatorConfiguration) LocatorOptions() locator.Options {
	return locator.Options{
		NotificationFilter: c.NotificationFilter,
		DefaultSearchWait:  time.Duration(c.DefaultSearchWait),
	}
}

func parseStandardsMode(s string) (publisher.StandardsMode, error) {
	switch s {
	case "", publisher.StandardsRelaxed.String():
		return publisher.StandardsRelaxed, nil
	case publisher.StandardsStrict.String():
		return publisher.StandardsStrict, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
