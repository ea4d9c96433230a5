// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricNotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "publisher_notifications_sent_total",
		Help:      "Total number of NOTIFY messages sent, by NTS.",
	}, []string{"nts"})
	metricSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "publisher_searches_total",
		Help:      "Total number of search requests received, by outcome.",
	}, []string{"outcome"})
	metricSearchResponsesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "publisher_search_responses_sent_total",
		Help:      "Total number of search responses sent.",
	})
	metricPublishedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "publisher_devices",
		Help:      "Number of root devices currently published.",
	})
)

const (
	ntsAlive  = "alive"
	ntsByeBye = "byebye"

	outcomeAnswered    = "answered"
	outcomeDuplicate   = "duplicate"
	outcomeInvalid     = "invalid"
	outcomeRateLimited = "rate_limited"
	outcomeAborted     = "aborted"
)
