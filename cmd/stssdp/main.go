// Copyright (C) 2025 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command stssdp searches for, watches and advertises UPnP devices using
// SSDP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/willabides/kongplete"

	"github.com/syncthing/ssdp/internal/slogutil"
	_ "github.com/syncthing/ssdp/lib/automaxprocs"
	"github.com/syncthing/ssdp/lib/build"
	"github.com/syncthing/ssdp/lib/config"
	"github.com/syncthing/ssdp/lib/svcutil"
	"github.com/syncthing/ssdp/lib/transport"
)

type CLI struct {
	Config        string   `short:"c" placeholder:"PATH" env:"STSSDP_CONFIG" type:"path" help:"Configuration file (YAML)"`
	Address       []string `placeholder:"IP" env:"STSSDP_ADDRESS" help:"Local address to use, repeatable (default every multicast capable adapter)"`
	IPv6          bool     `name:"ipv6" help:"Use the IPv6 link local multicast group"`
	MetricsListen string   `placeholder:"ADDR" env:"STSSDP_METRICS_LISTEN" help:"Serve Prometheus metrics on this address"`
	LogLevel      string   `default:"INFO" enum:"DEBUG,INFO,WARN,ERROR" env:"STSSDP_LOG_LEVEL" help:"Default log level (${enum})"`
	LogFormat     string   `default:"default" enum:"default,plain,syslog" help:"Log line format (${enum})"`
	Trace         []string `placeholder:"FACILITY[:LEVEL]" help:"Set the log level of a facility, DEBUG when no level is given (see the facilities command)"`

	Version kong.VersionFlag `help:"Show version and exit"`

	Search             searchCmd                    `cmd:"" help:"Search for devices and print those that respond"`
	Listen             listenCmd                    `cmd:"" help:"Print device advertisements until interrupted"`
	Publish            publishCmd                   `cmd:"" help:"Advertise the configured devices until interrupted"`
	Facilities         facilitiesCmd                `cmd:"" help:"List logging facilities and their levels"`
	InstallCompletions kongplete.InstallCompletions `cmd:"" help:"Install shell completions"`
}

// environment is what every command runs with, bound into the kong
// context.
type environment struct {
	cfg     config.Configuration
	cfgPath string
	factory transport.Factory
	out     io.Writer
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("stssdp"),
		kong.Description("Simple Service Discovery Protocol client and device publisher"),
		kong.Vars{"version": build.LongVersion},
		kong.UsageOnError(),
	)
	kongplete.Complete(parser)
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	// Results go to stdout, logging to stderr.
	slogutil.SetOutput(os.Stderr)
	kctx.FatalIfErrorf(cli.setupLogging())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := cli.environment()
	kctx.FatalIfErrorf(err)

	main := suture.New("stssdp", svcutil.SpecWithInfoLogger(l))
	if cli.MetricsListen != "" {
		main.Add(metricsService(cli.MetricsListen))
	}
	main.ServeBackground(ctx)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(env)
	if err := kctx.Run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "stssdp:", err)
		cancel()
		os.Exit(svcutil.ExitError.AsInt())
	}
}

func (cli *CLI) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cli.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	slogutil.SetDefaultLevel(level)

	switch cli.LogFormat {
	case "plain":
		slogutil.SetLineFormat(slogutil.LineFormat{LevelString: true})
	case "syslog":
		slogutil.SetLineFormat(slogutil.LineFormat{LevelSyslog: true})
	default:
		slogutil.SetLineFormat(slogutil.DefaultLineFormat)
	}

	if len(cli.Trace) > 0 {
		slogutil.SetLevelOverrides(strings.Join(cli.Trace, ","))
	}
	return nil
}

func (cli *CLI) environment() (*environment, error) {
	cfg := config.New()
	if cli.Config != "" {
		var err error
		cfg, err = config.Load(cli.Config)
		if err != nil {
			return nil, err
		}
	}

	if len(cli.Address) > 0 {
		cfg.Network.LocalAddresses = cli.Address
	}
	if cli.IPv6 {
		cfg.Network.IPv6 = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &environment{
		cfg:     cfg,
		cfgPath: cli.Config,
		factory: transport.UDPFactory{},
		out:     os.Stdout,
	}, nil
}

func metricsService(addr string) suture.Service {
	return svcutil.AsService(func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		l.Infoln("Serving metrics on", addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}, fmt.Sprintf("metrics@%s", addr))
}
