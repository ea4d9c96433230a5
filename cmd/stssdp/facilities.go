// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"

	"github.com/syncthing/ssdp/internal/slogutil"
)

type facilitiesCmd struct{}

func (facilitiesCmd) Run(env *environment) error {
	return printFacilities(env.out, slogutil.PackageDescrs(), slogutil.PackageLevels())
}

func printFacilities(w io.Writer, descrs map[string]string, levels map[string]slog.Level) error {
	names := make([]string, 0, len(descrs))
	for name := range descrs {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FACILITY\tLEVEL\tDESCRIPTION")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, levels[name], descrs[name])
	}
	return tw.Flush()
}
