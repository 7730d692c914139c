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

// Package port implements the per-port PTP state machine: the
// Initializing/Listening/Master/Passive/Uncalibrated-Slave/Disabled/
// Faulty/PreMaster states, Sync/Delay-Req timestamp pairing for both
// delay mechanisms, and the action list a port's handle() call returns
// for the adapter to carry out.
package port

import (
	"time"

	ptp "github.com/clockbound/ptp/protocol"
)

// MessageClass distinguishes event messages (need TX/RX timestamps)
// from general messages.
type MessageClass uint8

const (
	// ClassEvent covers Sync, Delay-Req, PDelay-Req, PDelay-Resp.
	ClassEvent MessageClass = iota
	// ClassGeneral covers Follow-Up, Delay-Resp, Announce, Management.
	ClassGeneral
)

// TimerKind names one of the timers a port schedules on itself.
type TimerKind uint8

const (
	// TimerAnnounce fires at the announce-interval, driving Master's
	// Announce transmission.
	TimerAnnounce TimerKind = iota
	// TimerSync fires at the sync-interval, driving Master's Sync
	// transmission.
	TimerSync
	// TimerDelayReq fires (jittered) at log-min-delay-req-interval,
	// driving a Slave port's E2E Delay-Req transmission.
	TimerDelayReq
	// TimerPDelayReq drives a P2P port's PDelay-Req transmission.
	TimerPDelayReq
	// TimerAnnounceReceipt fires when no valid Announce has arrived
	// from the current master within announceReceiptTimeout intervals.
	TimerAnnounceReceipt
	// TimerSyncReceipt is not armed by any code path. A Sync whose
	// Follow-Up never arrives is dropped only when a later pairing
	// completes and the unmatched one is older than two sync intervals.
	TimerSyncReceipt
	// TimerFaultyBackoff drives Faulty re-initialization attempts.
	TimerFaultyBackoff
	// TimerPreMasterQualification fires once a port recommended Master
	// has held in PreMaster long enough to qualify, per the state
	// diagram's Listening/Slave -> PreMaster -> Master path.
	TimerPreMasterQualification
)

// Action is one side effect a port's handle() call asks the adapter to
// perform. The core never performs I/O itself (spec §4.1).
type Action struct {
	Kind ActionKind

	// SendMessage fields.
	Message ptp.Packet
	Class   MessageClass

	// ScheduleTimer fields.
	Timer    TimerKind
	Duration time.Duration

	// AdjustClock fields.
	PhaseCorrectionNS int64
	FreqPPB           float64
}

// ActionKind discriminates the union fields of Action.
type ActionKind uint8

const (
	// NoAction means nothing needs to happen.
	NoAction ActionKind = iota
	// SendMessage asks the adapter to transmit Message on Class.
	SendMessage
	// ScheduleTimer asks the adapter to (re)arm Timer after Duration.
	ScheduleTimer
	// CancelTimer asks the adapter to drop a previously scheduled timer.
	CancelTimer
	// AdjustClock asks the adapter to apply a phase/frequency correction.
	AdjustClock
)
