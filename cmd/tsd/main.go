/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command tsd is the time-synchronization daemon: it selects a
// timecounter, runs the disciplined clock against a configured NTP
// source, answers the control protocol, and serves Prometheus metrics.
package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/openperf/timesync/clockdiscipline"
	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/ntp/exchange"
	"github.com/openperf/timesync/servo"
	"github.com/openperf/timesync/tsapi"
	"github.com/openperf/timesync/tsd/server"
	"github.com/openperf/timesync/tsdconfig"
)

var (
	configPath string
	logLevel   string
	phcDevice  string
)

func main() {
	root := &cobra.Command{
		Use:   "tsd",
		Short: "time-synchronization daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML configuration")
	root.Flags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	root.Flags().StringVar(&phcDevice, "phc", "", "PTP hardware clock device, e.g. /dev/ptp0")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}

	cfg := tsdconfig.Default()
	if configPath != "" {
		var err error
		cfg, err = tsdconfig.Read(configPath)
		if err != nil {
			return err
		}
	}

	if phcDevice == "" {
		phcDevice = cfg.PHCDevice
	}
	if phcDevice != "" {
		dev, err := counter.NewPHCCounter(phcDevice)
		if err != nil {
			log.WithError(err).WithField("device", phcDevice).Warn("tsd: failed to open PHC device, falling back to monotonic clock")
		} else {
			counter.Register(dev)
		}
	}
	tc, err := counter.Select()
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("active timecounter: %s", tc.Name())

	srv := server.New(tc, cfg.Stratum, func(node, service string) (server.PollClient, error) {
		return exchange.Dial(node, service)
	})

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	eg, ctx := errgroup.WithContext(sigCtx)

	if req, ok := cfg.AsSourceRequest(); ok {
		go func() {
			time.Sleep(10 * time.Millisecond)
			reply := srv.Control(req)
			if reply.Kind == tsapi.KindError {
				log.Errorf("initial add_source failed: %+v", reply.Error)
			}
		}()
	}

	ctl, err := server.ListenControl(cfg.ListenControl, srv)
	if err != nil {
		return err
	}
	eg.Go(func() error { return ctl.Serve(ctx) })

	ntpHost, ntpPort, err := net.SplitHostPort(cfg.ListenNTP)
	if err != nil {
		return err
	}
	ntpSrv, err := exchange.NewServer(ntpHost, ntpPort, cfg.Stratum, func() time.Time {
		return timeFromKeeper(srv)
	})
	if err != nil {
		log.WithError(err).Warn("tsd: NTP responder disabled")
	} else {
		eg.Go(func() error { return ntpSrv.Serve(ctx) })
	}

	if cfg.SteerRealtime {
		steerer := clockdiscipline.New(unix.CLOCK_REALTIME, srv.Keeper(), servo.DefaultPiServoCfg(), servo.DefaultPiServoFilterCfg())
		eg.Go(func() error { return steerer.Run(ctx, time.Second) })
	}

	if cfg.MetricsAddr != "" {
		m := server.NewMetrics()
		eg.Go(func() error { return m.Serve(ctx, cfg.MetricsAddr, srv, 15*time.Second) })
	}

	eg.Go(func() error { return srv.Run(ctx) })

	go notifyReady()

	if err := eg.Wait(); err != nil && sigCtx.Err() == nil {
		return err
	}
	return nil
}

func notifyReady() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported {
		log.Debug("tsd: sd_notify not supported")
		return
	}
	if err != nil {
		log.WithError(err).Warn("tsd: sd_notify failed")
	}
}

func timeFromKeeper(s *server.Server) time.Time {
	bt := s.Keeper().Realtime().Now()
	return time.Unix(bt.Sec, 0).Add(time.Duration(float64(bt.Frac) / (1 << 64) * float64(time.Second)))
}
