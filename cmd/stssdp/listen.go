// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/syncthing/ssdp/lib/locator"
)

type listenCmd struct {
	Filter string `help:"Only show advertisements with this notification type"`
}

func (c *listenCmd) Run(ctx context.Context, env *environment) error {
	if c.Filter != "" {
		env.cfg.Locator.NotificationFilter = c.Filter
	}
	loc, err := newLocator(env)
	if err != nil {
		return err
	}
	defer loc.Close()

	unsub := loc.Subscribe(func(e locator.Event) {
		printEvent(env.out, e)
	})
	defer unsub()

	if err := loc.StartListeningForNotifications(); err != nil {
		return err
	}
	l.Infoln("Listening for device advertisements")
	<-ctx.Done()
	loc.StopListeningForNotifications()
	return nil
}

func printEvent(w io.Writer, e locator.Event) {
	switch {
	case e.Kind == locator.DeviceAvailable:
		fmt.Fprintf(w, "+ %s %s\n", e.Device.USN, e.Device.DescriptionLocation)
	case e.Expired:
		fmt.Fprintf(w, "- %s (expired)\n", e.Device.USN)
	default:
		fmt.Fprintf(w, "- %s\n", e.Device.USN)
	}
}
