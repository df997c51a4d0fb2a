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

package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// Metrics exports the server's counter/keeper/source state and host
// process diagnostics as Prometheus gauges.
type Metrics struct {
	registry *prometheus.Registry

	synced       prometheus.Gauge
	fHatPPB      prometheus.Gauge
	rxCount      prometheus.Gauge
	txCount      prometheus.Gauge
	processRSS   prometheus.Gauge
	processCPU   prometheus.Gauge
	numGoroutine prometheus.Gauge

	proc *process.Process
}

// NewMetrics registers the gauge set against a fresh registry.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		synced: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_clock_synced", Help: "1 if the disciplined clock is currently synced",
		}),
		fHatPPB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_clock_f_hat_ppb", Help: "current absolute tick frequency error estimate, ppb",
		}),
		rxCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_source_rx_total", Help: "NTP replies received from the active source",
		}),
		txCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_source_tx_total", Help: "NTP requests sent to the active source",
		}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_process_rss_bytes", Help: "resident set size of the daemon process",
		}),
		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_process_cpu_percent", Help: "CPU percent used by the daemon process",
		}),
		numGoroutine: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_process_goroutines", Help: "number of live goroutines",
		}),
	}
	for _, c := range []prometheus.Collector{m.synced, m.fHatPPB, m.rxCount, m.txCount, m.processRSS, m.processCPU, m.numGoroutine} {
		r.MustRegister(c)
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = proc
	} else {
		log.WithError(err).Debug("metrics: process diagnostics unavailable")
	}
	return m
}

// Refresh samples the server's current state into the gauge set.
func (m *Metrics) Refresh(s *Server) {
	if s.clock.Synced() {
		m.synced.Set(1)
	} else {
		m.synced.Set(0)
	}
	if _, errPPB, ok := s.clock.Frequency(); ok {
		m.fHatPPB.Set(errPPB)
	}
	if s.src != nil {
		m.rxCount.Set(float64(s.src.rxCount))
		m.txCount.Set(float64(s.src.txCount))
	}
	if m.proc != nil {
		if pct, err := m.proc.Percent(0); err == nil {
			m.processCPU.Set(pct)
		}
		if mem, err := m.proc.MemoryInfo(); err == nil {
			m.processRSS.Set(float64(mem.RSS))
		}
	}
}

// Serve periodically refreshes the gauges from s and serves them on
// addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, s *Server, interval time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Refresh(s)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
