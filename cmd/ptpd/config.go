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

package main

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/timestamp"
)

// PortConfig configures one PTP port (one network interface). Mirrors
// the PortDS fields a deployer actually wants to vary per port; a
// Boundary Clock config lists two or more.
type PortConfig struct {
	Interface              string        `yaml:"interface"`
	DelayMechanism         string        `yaml:"delay_mechanism"` // "e2e" or "p2p"
	MasterOnly             bool          `yaml:"master_only"`
	LogAnnounceInterval    int8          `yaml:"log_announce_interval"`
	AnnounceReceiptTimeout uint8         `yaml:"announce_receipt_timeout"`
	LogSyncInterval        int8          `yaml:"log_sync_interval"`
	LogMinDelayReqInterval int8          `yaml:"log_min_delay_req_interval"`
	DelayAsymmetry         time.Duration `yaml:"delay_asymmetry"`
	AcceptableMasterList   []string      `yaml:"acceptable_master_list"`
	WindowSize             int           `yaml:"window_size"`
}

// Config is the daemon's YAML configuration, read the way ptp4u's
// server.ReadDynamicConfig reads its own: a flat struct unmarshaled
// straight off disk, validated, and otherwise left alone for the
// process lifetime (spec §6: "persisted state: none", config-supplied
// initial values only).
type Config struct {
	Domain         uint8        `yaml:"domain"`
	SdoID          uint8        `yaml:"sdo_id"`
	Priority1      uint8        `yaml:"priority1"`
	Priority2      uint8        `yaml:"priority2"`
	ClockClass     uint8        `yaml:"clock_class"`
	ClockAccuracy  uint8        `yaml:"clock_accuracy"`
	ClockVariance  uint16       `yaml:"offset_scaled_log_variance"`
	SlaveOnly      bool         `yaml:"slave_only"`
	InstanceType   string       `yaml:"instance_type"` // "oc" or "bc"
	UTCOffset      int16        `yaml:"utc_offset"`
	PTPTimescale   bool         `yaml:"ptp_timescale"`
	TimestampType  string       `yaml:"timestamp_type"`
	DSCP           int          `yaml:"dscp"`
	StepThresholdNS int64       `yaml:"step_threshold_ns"`
	MonitoringPort int          `yaml:"monitoring_port"`
	PidFile        string       `yaml:"pid_file"`
	LogLevel       string       `yaml:"log_level"`
	// Transport selects the wire binding: "udp" (default, UDP/IPv4 or
	// IPv6 per §6) or "raw" (802.3 EtherType 0x88F7, for links with no
	// IP stack between the two PTP instances).
	Transport string `yaml:"transport"`
	// PriorityPolicy, if set, is a govaluate expression recomputing this
	// instance's own priority2 on every BMCA run, see bmca.PriorityPolicy.
	PriorityPolicy string `yaml:"priority_policy"`
	// WatchLinks monitors the configured interfaces for carrier up/down
	// via netlink and faults/recovers ports immediately instead of
	// waiting out the announce-receipt timeout.
	WatchLinks bool         `yaml:"watch_links"`
	Ports      []PortConfig `yaml:"ports"`
}

// stepThreshold returns the configured step/frequency-adjust cutover,
// defaulting to a conservative 1ms (below that, the servo steers by
// frequency; at or above it, adapter.ApplyAction steps the clock).
func (c *Config) stepThreshold() time.Duration {
	if c.StepThresholdNS == 0 {
		return time.Millisecond
	}
	return time.Duration(c.StepThresholdNS)
}

// ReadConfig loads and validates a daemon config file, grounded on
// ptp4u/server.ReadDynamicConfig's "read, unmarshal, sanity-check"
// shape.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(c.Ports) == 0 {
		return nil, fmt.Errorf("config: at least one port is required")
	}
	if c.InstanceType == "" {
		c.InstanceType = "oc"
	}
	if c.InstanceType == "oc" && len(c.Ports) != 1 {
		return nil, fmt.Errorf("config: an Ordinary Clock must have exactly one port, got %d", len(c.Ports))
	}
	if c.MonitoringPort == 0 {
		c.MonitoringPort = 8888
	}
	return c, nil
}

// CreatePidFile writes the running process's pid to c.PidFile, the way
// ptp4u's server.Config.CreatePidFile does. A no-op if PidFile is unset.
func (c *Config) CreatePidFile() error {
	if c.PidFile == "" {
		return nil
	}
	return os.WriteFile(c.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// DeletePidFile removes c.PidFile, e.g. on clean shutdown.
func (c *Config) DeletePidFile() error {
	if c.PidFile == "" {
		return nil
	}
	return os.Remove(c.PidFile)
}

func (c *Config) instanceType() datasets.InstanceType {
	if c.InstanceType == "bc" {
		return datasets.BoundaryClock
	}
	return datasets.OrdinaryClock
}

func delayMechanism(s string) datasets.DelayMechanism {
	if s == "p2p" {
		return datasets.DelayMechanismP2P
	}
	return datasets.DelayMechanismE2E
}

// timestampType resolves a config string to a timestamp.Timestamp,
// defaulting to software RX/TX timestamping for deployments without a
// hardware clock to bind to.
func timestampType(s string) timestamp.Timestamp {
	switch s {
	case "hardware", "hw":
		return timestamp.HW
	case "hardware_rx", "hw_rx":
		return timestamp.HWRX
	case "software_rx", "sw_rx":
		return timestamp.SWRX
	default:
		return timestamp.SW
	}
}

func acceptableMasters(raw []string) ([]ptp.ClockIdentity, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]ptp.ClockIdentity, 0, len(raw))
	for _, s := range raw {
		var v uint64
		if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
			return nil, fmt.Errorf("parsing acceptable master identity %q: %w", s, err)
		}
		out = append(out, ptp.ClockIdentity(v))
	}
	return out, nil
}
