// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ssdp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned for nil or empty required parameters
	// and out of range values.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDisposed is returned for operations on a component that has been
	// closed.
	ErrDisposed = errors.New("use of closed component")
	// ErrFormat is the root of all message parsing failures.
	ErrFormat = errors.New("malformed message")
)

// A FormatError describes a datagram that could not be parsed as an SSDP
// message.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "malformed message: " + e.Reason
}

func (*FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// A ValidationError lists the ways in which a device fails the minimal
// requirements for being advertised.
type ValidationError struct {
	Device   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device %s is invalid: %s", e.Device, strings.Join(e.Problems, "; "))
}

// An AggregateError is returned when every fanned out operation failed.
// Unwrap yields the first failure.
type AggregateError struct {
	Errs []error
}

func (e *AggregateError) Error() string {
	if len(e.Errs) == 0 {
		return "all operations failed"
	}
	return fmt.Sprintf("all %d operations failed, first error: %v", len(e.Errs), e.Errs[0])
}

func (e *AggregateError) Unwrap() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e.Errs[0]
}
