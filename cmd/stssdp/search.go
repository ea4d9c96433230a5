// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/syncthing/ssdp/lib/aggregate"
	"github.com/syncthing/ssdp/lib/locator"
	"github.com/syncthing/ssdp/lib/ssdp"
)

type searchCmd struct {
	Target string        `arg:"" optional:"" default:"ssdp:all" help:"Search target (ssdp:all, upnp:rootdevice, uuid:..., urn:...)"`
	Wait   time.Duration `short:"w" help:"Time to wait for responses (default from configuration)"`
	JSON   bool          `name:"json" help:"Print results as JSON"`
}

type searchResult struct {
	USN              string `json:"usn"`
	NotificationType string `json:"notificationType"`
	Location         string `json:"location"`
	MaxAge           int    `json:"maxAge"`
	Server           string `json:"server,omitempty"`
}

func (c *searchCmd) Run(ctx context.Context, env *environment) error {
	loc, err := newLocator(env)
	if err != nil {
		return err
	}
	defer loc.Close()

	devs, err := loc.Search(ctx, c.Target, c.Wait)
	if err != nil {
		return err
	}
	l.Debugf("Search for %s found %d devices", c.Target, len(devs))

	if c.JSON {
		return printJSON(env.out, devs)
	}
	return printTable(env.out, devs)
}

func newLocator(env *environment) (*aggregate.Locator, error) {
	return aggregate.NewLocatorForAdapters(env.factory, env.cfg.Network.LocalAddresses,
		env.cfg.Network.CommsOptions(""), env.cfg.Locator.LocatorOptions())
}

func printJSON(w io.Writer, devs []locator.DiscoveredDevice) error {
	res := make([]searchResult, 0, len(devs))
	for _, d := range devs {
		res = append(res, searchResult{
			USN:              d.USN,
			NotificationType: d.NotificationType,
			Location:         d.DescriptionLocation,
			MaxAge:           int(d.CacheLifetime / time.Second),
			Server:           d.Header.Get("Server"),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printTable(w io.Writer, devs []locator.DiscoveredDevice) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USN\tTYPE\tLOCATION\tCACHE-CONTROL")
	for _, d := range devs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.USN, d.NotificationType, d.DescriptionLocation, strings.TrimPrefix(ssdp.CacheControl(d.CacheLifetime), "CACHE-CONTROL: "))
	}
	return tw.Flush()
}
