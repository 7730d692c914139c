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

// Package datasets holds the PTP instance's managed objects: DefaultDS,
// CurrentDS, ParentDS, TimePropertiesDS and the per-port PortDS, plus the
// bounded foreign-master table each port maintains for BMCA.
package datasets

import (
	"time"

	ptp "github.com/clockbound/ptp/protocol"
)

// InstanceType distinguishes an Ordinary Clock from a Boundary Clock.
type InstanceType uint8

const (
	// OrdinaryClock has exactly one PTP port.
	OrdinaryClock InstanceType = iota
	// BoundaryClock has two or more PTP ports.
	BoundaryClock
)

// DefaultDS holds the instance-wide, largely static configuration and
// identity described in IEEE 1588-2019 §8.2.1.
type DefaultDS struct {
	ClockIdentity  ptp.ClockIdentity
	NumberOfPorts  uint16
	ClockQuality   ptp.ClockQuality
	Priority1      uint8
	Priority2      uint8
	DomainNumber   uint8
	SlaveOnly      bool
	SdoID          uint8
	InstanceType   InstanceType
}

// CurrentDS holds the dynamic state of the servo driving the Slave port,
// per IEEE 1588-2019 §8.2.2. It is written only by the filter attached to
// whichever port is currently Slave.
type CurrentDS struct {
	StepsRemoved    uint16
	OffsetFromMaster time.Duration
	MeanDelay        time.Duration
}

// Zero resets CurrentDS, e.g. when an instance becomes its own
// grandmaster or its filter goes stale (spec §4.5).
func (c *CurrentDS) Zero() {
	c.StepsRemoved = 0
	c.OffsetFromMaster = 0
	c.MeanDelay = 0
}

// ParentDS identifies the instance's chosen parent and that parent's
// grandmaster, per IEEE 1588-2019 §8.2.3.
type ParentDS struct {
	ParentPortIdentity             ptp.PortIdentity
	GrandmasterIdentity            ptp.ClockIdentity
	GrandmasterClockQuality        ptp.ClockQuality
	GrandmasterPriority1           uint8
	GrandmasterPriority2           uint8
	PathTrace                      []ptp.ClockIdentity
}

// IsGrandmaster reports whether this instance is the grandmaster of its
// own domain (no Slave port elected).
func (p *ParentDS) IsGrandmaster(self ptp.ClockIdentity) bool {
	return p.GrandmasterIdentity == self
}

// TimePropertiesDS carries the properties of the timescale distributed by
// the grandmaster, per IEEE 1588-2019 §8.2.4.
type TimePropertiesDS struct {
	CurrentUTCOffset      int16
	CurrentUTCOffsetValid bool
	Leap59                bool
	Leap61                bool
	TimeTraceable         bool
	FrequencyTraceable    bool
	PTPTimescale          bool
	TimeSource            ptp.TimeSource
}

// DelayMechanism selects how a port measures path delay.
type DelayMechanism uint8

const (
	// DelayMechanismE2E is the end-to-end (Delay-Req/Delay-Resp) mechanism.
	DelayMechanismE2E DelayMechanism = iota
	// DelayMechanismP2P is the peer-to-peer (PDelay-Req/Resp) mechanism.
	DelayMechanismP2P
)

// PortDS holds per-port configuration and dynamic state, per IEEE
// 1588-2019 §8.2.5.
type PortDS struct {
	PortIdentity             ptp.PortIdentity
	PortState                ptp.PortState
	LogMinDelayReqInterval   ptp.LogInterval
	PeerMeanLinkDelay        time.Duration
	LogAnnounceInterval      ptp.LogInterval
	AnnounceReceiptTimeout   uint8
	LogSyncInterval          ptp.LogInterval
	DelayMechanism           DelayMechanism
	VersionNumber            uint8
	MinorVersionNumber       uint8
	DelayAsymmetry           time.Duration
	MasterOnly               bool
	AcceptableMasterList     []ptp.ClockIdentity
}

// AcceptableMaster reports whether identity may act as this port's master.
// An empty list means any clock identity is acceptable.
func (p *PortDS) AcceptableMaster(identity ptp.ClockIdentity) bool {
	if len(p.AcceptableMasterList) == 0 {
		return true
	}
	for _, id := range p.AcceptableMasterList {
		if id == identity {
			return true
		}
	}
	return false
}

// AnnounceInterval returns the configured announce period as a Duration.
func (p *PortDS) AnnounceInterval() time.Duration {
	return p.LogAnnounceInterval.Duration()
}

// AnnounceReceiptTimeoutDuration is announceReceiptTimeout expressed in
// announce intervals, converted to wall-clock time (spec §3 invariant).
func (p *PortDS) AnnounceReceiptTimeoutDuration() time.Duration {
	return time.Duration(p.AnnounceReceiptTimeout) * p.AnnounceInterval()
}

// SyncInterval returns the configured sync period as a Duration.
func (p *PortDS) SyncInterval() time.Duration {
	return p.LogSyncInterval.Duration()
}
