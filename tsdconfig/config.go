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

// Package tsdconfig reads the daemon's YAML startup configuration:
// listen addresses, polling defaults, and an optional initial NTP
// source.
package tsdconfig

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/openperf/timesync/tsapi"
)

const defaultService = "ntp"

// SourceConfig is the id + node/service pair that can be supplied at
// startup, matching the add_source configuration object.
type SourceConfig struct {
	ID      string `yaml:"id"`
	Node    string `yaml:"node"`
	Service string `yaml:"service"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	ListenControl string        `yaml:"listen_control"`
	ListenNTP     string        `yaml:"listen_ntp"`
	NTPService    string        `yaml:"ntp_service"`
	Stratum       uint8         `yaml:"stratum"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	PHCDevice     string        `yaml:"phc_device"`
	PollMin       time.Duration `yaml:"poll_min"`
	PollMax       time.Duration `yaml:"poll_max"`
	Source        *SourceConfig `yaml:"source"`
	SteerRealtime bool          `yaml:"steer_realtime"`
}

// Default returns the zero-config daemon defaults.
func Default() Config {
	return Config{
		ListenControl: "127.0.0.1:6123",
		ListenNTP:     "0.0.0.0:123",
		NTPService:    defaultService,
		Stratum:       2,
		PollMin:       time.Second,
		PollMax:       64 * time.Second,
	}
}

// Read loads and merges YAML configuration from path over the defaults.
func Read(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tsdconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("tsdconfig: parse %s: %w", path, err)
	}
	if c.Source != nil && c.Source.Service == "" {
		c.Source.Service = defaultService
	}
	return c, nil
}

// AsSourceRequest converts the configured initial source, if any, into
// an add_source request.
func (c Config) AsSourceRequest() (tsapi.Request, bool) {
	if c.Source == nil || c.Source.Node == "" {
		return tsapi.Request{}, false
	}
	return tsapi.AddSourceRequest(c.Source.ID, tsapi.SourceConfig{
		Node:    c.Source.Node,
		Service: c.Source.Service,
	}), true
}
