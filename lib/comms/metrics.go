// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package comms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDatagramsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_datagrams_sent_total",
		Help:      "Total number of datagrams sent, including repeats, by destination kind.",
	}, []string{"kind"})
	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_sent_bytes_total",
		Help:      "Total number of bytes sent.",
	})
	metricDatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_datagrams_received_total",
		Help:      "Total number of datagrams received, per binding.",
	}, []string{"binding"})
	metricBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_received_bytes_total",
		Help:      "Total number of bytes received.",
	})
	metricParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_parse_failures_total",
		Help:      "Total number of received datagrams dropped as malformed.",
	})
	metricRebinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncthing",
		Subsystem: "ssdp",
		Name:      "comms_rebinds_total",
		Help:      "Total number of socket rebind attempts after an unexpected close, by result.",
	}, []string{"binding", "result"})
)

const (
	kindMulticast = "multicast"
	kindUnicast   = "unicast"

	resultSuccess = "success"
	resultFailure = "failure"
)
