// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ssdp holds the wire level pieces of the Simple Service Discovery
// Protocol: the HTTP-over-UDP message codec, the exact templates used for
// notifications and search responses, the protocol constants and the error
// values shared by the rest of the module.
//
// SSDP messages are a minimal subset of HTTP/1.1 carried in a single UDP
// datagram: a request or status line, a list of headers and a blank line.
// There is never a body.
package ssdp
