// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package locator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDevicesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "locator_devices_discovered_total",
		Help:      "Total number of newly discovered devices, by source.",
	}, []string{"source"})
	metricDevicesRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "locator_devices_removed_total",
		Help:      "Total number of devices removed from the cache, by reason.",
	}, []string{"reason"})
	metricCachedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "locator_cached_devices",
		Help:      "Number of discovered devices currently cached.",
	})
	metricSearches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "locator_searches_total",
		Help:      "Total number of searches started.",
	})
)

const (
	sourceSearch       = "search"
	sourceNotification = "notification"

	reasonByeBye  = "byebye"
	reasonExpired = "expired"
)
