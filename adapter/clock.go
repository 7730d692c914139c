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

// Package adapter wires the ptp core's port.Action results into real
// OS-level effects: clock frequency/phase adjustment, message
// transmission and timer scheduling. The core never touches a clock,
// a socket or a timer directly (spec §4.1/§5) — an adapter is what
// turns its Action values into syscalls.
package adapter

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/clockbound/ptp/clock"
	"github.com/clockbound/ptp/phc"
)

// Clock is the interface a port.Action{Kind: AdjustClock} result is
// applied through. SystemClock targets CLOCK_REALTIME; PHCClock
// targets a NIC's hardware clock, for Boundary Clock deployments that
// discipline the PHC directly and let a separate daemon (not part of
// this module; spec's phc2sys non-goal) step CLOCK_REALTIME from it.
type Clock interface {
	// AdjustFrequency applies a sustained frequency correction in PPB.
	AdjustFrequency(freqPPB float64) error
	// Step jumps the clock by step, for corrections too large for a
	// frequency adjustment to converge on in reasonable time.
	Step(step time.Duration) error
	// MaxFreqPPB returns the largest frequency adjustment this clock
	// accepts, so a servo can clamp its output before applying it.
	MaxFreqPPB() (float64, error)
}

// SystemClock adjusts CLOCK_REALTIME via clock_adjtime(2).
type SystemClock struct{}

// AdjustFrequency implements Clock.
func (SystemClock) AdjustFrequency(freqPPB float64) error {
	_, err := clock.AdjFreqPPB(unix.CLOCK_REALTIME, freqPPB)
	return err
}

// Step implements Clock.
func (SystemClock) Step(step time.Duration) error {
	_, err := clock.Step(unix.CLOCK_REALTIME, step)
	return err
}

// MaxFreqPPB implements Clock.
func (SystemClock) MaxFreqPPB() (float64, error) {
	freqPPB, _, err := clock.MaxFreqPPB(unix.CLOCK_REALTIME)
	return freqPPB, err
}

// PHCClock adjusts a network interface's PTP hardware clock.
type PHCClock struct {
	device string
}

// NewPHCClock resolves iface's associated /dev/ptpN device.
func NewPHCClock(iface string) (*PHCClock, error) {
	device, err := phc.IfaceToPHCDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("adapter: resolving PHC device for %s: %w", iface, err)
	}
	return &PHCClock{device: device}, nil
}

// AdjustFrequency implements Clock.
func (c *PHCClock) AdjustFrequency(freqPPB float64) error {
	return phc.ClockAdjFreq(c.device, freqPPB)
}

// Step implements Clock.
func (c *PHCClock) Step(step time.Duration) error {
	return phc.ClockStep(c.device, step)
}

// MaxFreqPPB implements Clock.
func (c *PHCClock) MaxFreqPPB() (float64, error) {
	return phc.MaxFreqAdjPPBFromDevice(c.device)
}

// ApplyAction dispatches the clock-affecting half of a port.Action: the
// caller is responsible for SendMessage/ScheduleTimer/CancelTimer,
// which belong to the transport and timer-wheel adapters respectively.
func ApplyAction(c Clock, phaseCorrectionNS int64, freqPPB float64, stepThreshold time.Duration) error {
	phaseCorrection := time.Duration(phaseCorrectionNS) * time.Nanosecond
	if abs(phaseCorrection) >= stepThreshold {
		return c.Step(phaseCorrection)
	}
	return c.AdjustFrequency(freqPPB)
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
