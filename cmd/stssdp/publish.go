// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syncthing/ssdp/lib/aggregate"
)

type publishCmd struct{}

func (c *publishCmd) Run(ctx context.Context, env *environment) error {
	cfg := env.cfg
	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}
	if cfg.FillUUIDs() && env.cfgPath != "" {
		if err := cfg.Save(env.cfgPath); err != nil {
			return fmt.Errorf("saving generated device UUIDs: %w", err)
		}
		l.Infoln("Saved generated device UUIDs to", env.cfgPath)
	}

	roots, err := cfg.RootDevices()
	if err != nil {
		return err
	}

	pub, err := aggregate.NewPublisherForAdapters(env.factory, cfg.Network.LocalAddresses,
		cfg.Network.CommsOptions(""), cfg.Publisher.PublisherOptions())
	if err != nil {
		return err
	}
	// Close says byebye for every device still published.
	defer pub.Close()

	for _, r := range roots {
		if err := pub.AddDevice(ctx, r); err != nil {
			return fmt.Errorf("publishing %s: %w", r.UDN(), err)
		}
		slog.Info("Publishing device", "udn", r.UDN(), "name", r.FriendlyName, "location", r.Location)
	}

	<-ctx.Done()
	l.Infoln("Shutting down, sending byebye")
	return nil
}
