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

// Package instance aggregates a set of Ports into one IEEE 1588-2019
// Ordinary or Boundary Clock instance: it owns the instance-wide
// datasets, runs BMCA across every port's foreign-master table, and
// routes inbound PTP events to the right port. Everything here runs on
// the caller's goroutine; Instance holds no locks and starts none of its
// own, so the adapter funneling I/O into it decides the concurrency
// model (spec §5's single-task discipline).
package instance

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockbound/ptp/bmca"
	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/port"
)

// Instance is one PTP clock instance: an Ordinary Clock has one Port, a
// Boundary Clock has two or more.
type Instance struct {
	DefaultDS        *datasets.DefaultDS
	CurrentDS        *datasets.CurrentDS
	ParentDS         *datasets.ParentDS
	TimePropertiesDS *datasets.TimePropertiesDS

	ports    map[ptp.PortIdentity]*port.Port
	order    []ptp.PortIdentity // stable iteration order for tests/logging
	lastBMCA time.Time

	// stepsRemoved is the winning Announce's stepsRemoved + 1, kept
	// separately from CurrentDS.StepsRemoved (which RefreshCurrentDS only
	// updates while a port is actually Slave and its filter is fresh).
	stepsRemoved uint16

	// minAnnounceInterval is the shortest LogAnnounceInterval across all
	// ports; BMCA reruns at least this often even with no new Announces
	// (spec §4.4's periodic recomputation requirement).
	minAnnounceInterval time.Duration

	// priorityPolicy, when set, recomputes this instance's own priority2
	// from its other BMCA fields on every run (see bmca.PriorityPolicy).
	priorityPolicy *bmca.PriorityPolicy
}

// SetPriorityPolicy installs (or clears, with nil) an operator-tunable
// priority2 expression applied to this instance's own BMCA candidate on
// every RunBMCA.
func (inst *Instance) SetPriorityPolicy(p *bmca.PriorityPolicy) {
	inst.priorityPolicy = p
}

// New builds an Instance from its static DefaultDS/TimePropertiesDS and
// the ports it owns. ParentDS and CurrentDS start zeroed; the first
// RunBMCA call fills them in.
func New(defaultDS *datasets.DefaultDS, tprop *datasets.TimePropertiesDS, ports ...*port.Port) *Instance {
	inst := &Instance{
		DefaultDS:        defaultDS,
		CurrentDS:        &datasets.CurrentDS{},
		ParentDS:         &datasets.ParentDS{},
		TimePropertiesDS: tprop,
		ports:            make(map[ptp.PortIdentity]*port.Port, len(ports)),
	}
	for _, p := range ports {
		id := p.DS.PortIdentity
		inst.ports[id] = p
		inst.order = append(inst.order, id)
		if interval := p.DS.AnnounceInterval(); inst.minAnnounceInterval == 0 || interval < inst.minAnnounceInterval {
			inst.minAnnounceInterval = interval
		}
	}
	defaultDS.NumberOfPorts = uint16(len(ports))
	return inst
}

// Port returns the port identified by id, or nil if this instance doesn't
// own it.
func (inst *Instance) Port(id ptp.PortIdentity) *port.Port {
	return inst.ports[id]
}

// Ports returns every port this instance owns, in a stable order.
func (inst *Instance) Ports() []*port.Port {
	out := make([]*port.Port, 0, len(inst.order))
	for _, id := range inst.order {
		out = append(out, inst.ports[id])
	}
	return out
}

// localCandidate builds this instance's own BMCA candidate from
// DefaultDS, used both as the "am I the best master" baseline and,
// unchanged, as ParentDS's content when this instance is its own
// grandmaster.
func (inst *Instance) localCandidate() bmca.Candidate {
	c := bmca.FromDefaultDS(inst.DefaultDS)
	if inst.priorityPolicy != nil {
		if adjusted, err := inst.priorityPolicy.ApplyTo(c); err != nil {
			log.Warnf("instance %s: priority policy: %v", inst.DefaultDS.ClockIdentity, err)
		} else {
			c = adjusted
		}
	}
	return c
}

// RunBMCA recomputes the best master across every port's foreign-master
// table plus this instance's own DefaultDS, applies the resulting
// recommendation to each port, and updates ParentDS/CurrentDS when the
// parent changes. Callers invoke this periodically (at least every
// minAnnounceInterval) and immediately after any event that can change
// the outcome: a new Announce, an announce-receipt timeout, or a port
// fault (spec §4.4). The result is keyed by port so a caller driving
// several ports (a Boundary Clock) knows which transport each action
// belongs to.
func (inst *Instance) RunBMCA(now time.Time) map[ptp.PortIdentity][]port.Action {
	perPort := make(map[ptp.PortIdentity][]bmca.Candidate, len(inst.ports))
	for id, p := range inst.ports {
		if s := p.State(); s == ptp.PortStateFaulty || s == ptp.PortStateDisabled {
			continue
		}
		perPort[id] = p.ForeignMasterCandidates(now)
	}

	recommendations, best := bmca.Decide(inst.localCandidate(), perPort)
	inst.applyBest(best)

	actions := make(map[ptp.PortIdentity][]port.Action, len(inst.order))
	for _, id := range inst.order {
		p := inst.ports[id]
		rec, ok := recommendations[id]
		if !ok {
			continue
		}
		if acts := p.ApplyRecommendation(rec, inst.DefaultDS.SlaveOnly); len(acts) > 0 {
			actions[id] = acts
		}
	}
	inst.lastBMCA = now
	return actions
}

// applyBest updates ParentDS and, when this instance has just become
// its own grandmaster, resets CurrentDS so stale offset/delay readings
// from a prior Slave session don't leak into the new one.
//
// Per spec §4.4 Step 5, electing a non-local parent extends the
// path-trace list with this instance's own clock identity (so the next
// hop downstream can detect a loop through us) and advances
// steps-removed one hop past what the winning Announce carried.
func (inst *Instance) applyBest(best bmca.Candidate) {
	wasGrandmaster := inst.ParentDS.IsGrandmaster(inst.DefaultDS.ClockIdentity)

	inst.ParentDS.GrandmasterIdentity = best.GrandmasterIdentity
	inst.ParentDS.GrandmasterClockQuality = best.GrandmasterClockQuality
	inst.ParentDS.GrandmasterPriority1 = best.GrandmasterPriority1
	inst.ParentDS.GrandmasterPriority2 = best.GrandmasterPriority2
	if best.IsLocal {
		inst.ParentDS.ParentPortIdentity = ptp.PortIdentity{}
		inst.ParentDS.PathTrace = nil
		inst.stepsRemoved = 0
	} else {
		inst.ParentDS.ParentPortIdentity = best.Port
		trace := make([]ptp.ClockIdentity, len(best.PathTrace), len(best.PathTrace)+1)
		copy(trace, best.PathTrace)
		inst.ParentDS.PathTrace = append(trace, inst.DefaultDS.ClockIdentity)
		inst.stepsRemoved = best.StepsRemoved + 1
	}

	isGrandmasterNow := best.IsLocal
	if isGrandmasterNow && !wasGrandmaster {
		log.Infof("instance %s: now grandmaster", inst.DefaultDS.ClockIdentity)
		inst.CurrentDS.Zero()
	}
}

// RequiresPeriodicBMCA reports whether enough time has passed since the
// last BMCA run that the caller should invoke RunBMCA again even without
// a triggering event.
func (inst *Instance) RequiresPeriodicBMCA(now time.Time) bool {
	if inst.minAnnounceInterval == 0 {
		return false
	}
	return now.Sub(inst.lastBMCA) >= inst.minAnnounceInterval
}

// HandleAnnounce routes a received Announce to the owning port and
// reports whether the caller should follow up with RunBMCA: any
// admitted Announce can change the outcome.
func (inst *Instance) HandleAnnounce(portID ptp.PortIdentity, a *ptp.Announce, receiptTime time.Time) (actions []port.Action, runBMCA bool) {
	p, ok := inst.ports[portID]
	if !ok {
		return nil, false
	}
	actions = p.HandleAnnounce(a, receiptTime)
	return actions, actions != nil
}

// HandleAnnounceReceiptTimeout routes an announce-receipt timeout (fired
// by the caller's timer adapter) to the owning port. It does not run the
// BMCA itself; the caller follows it with RunBMCA, since the timed-out
// master's candidate is about to age out of the foreign-master table.
func (inst *Instance) HandleAnnounceReceiptTimeout(portID ptp.PortIdentity) {
	if p, ok := inst.ports[portID]; ok {
		p.HandleAnnounceReceiptTimeout()
	}
}

// HandleSync routes a received Sync to the owning port.
func (inst *Instance) HandleSync(portID ptp.PortIdentity, seq uint16, receiptTime time.Time, correction time.Duration, oneStepOrigin *time.Time) {
	if p, ok := inst.ports[portID]; ok {
		p.HandleSync(seq, receiptTime, correction, oneStepOrigin)
	}
}

// HandleFollowUp routes a received Follow-Up to the owning port.
func (inst *Instance) HandleFollowUp(portID ptp.PortIdentity, seq uint16, origin time.Time) {
	if p, ok := inst.ports[portID]; ok {
		p.HandleFollowUp(seq, origin)
	}
}

// HandleDelayReqSent records a Slave port's own Delay-Req departure time.
func (inst *Instance) HandleDelayReqSent(portID ptp.PortIdentity, seq uint16, departureTime time.Time) {
	if p, ok := inst.ports[portID]; ok {
		p.HandleDelayReqSent(seq, departureTime)
	}
}

// HandleDelayResp routes a received Delay-Resp to the owning port and
// returns any resulting clock-adjustment action.
func (inst *Instance) HandleDelayResp(portID ptp.PortIdentity, seq uint16, t4 time.Time, correction time.Duration, now time.Time) []port.Action {
	p, ok := inst.ports[portID]
	if !ok {
		return nil
	}
	return p.HandleDelayResp(seq, t4, correction, now)
}

// HandlePDelayReqSent records a port's own PDelay-Req departure time.
func (inst *Instance) HandlePDelayReqSent(portID ptp.PortIdentity, seq uint16, departureTime time.Time) {
	if p, ok := inst.ports[portID]; ok {
		p.HandlePDelayReqSent(seq, departureTime)
	}
}

// HandlePDelayResp routes a received PDelay-Resp(-Follow-Up) to the
// owning port and returns any resulting clock-adjustment action.
func (inst *Instance) HandlePDelayResp(portID ptp.PortIdentity, seq uint16, peer ptp.PortIdentity, requestReceiptTime, responseDepartureTime, responseReceiptTime time.Time, correction time.Duration, now time.Time) []port.Action {
	p, ok := inst.ports[portID]
	if !ok {
		return nil
	}
	return p.HandlePDelayResp(seq, peer, requestReceiptTime, responseDepartureTime, responseReceiptTime, correction, now)
}

// HandleFault routes a port fault (e.g. a link-down notification from
// the transport adapter) to the owning port and returns the port's
// actions. It does not run the BMCA itself; the caller follows it with
// RunBMCA, which leaves Faulty ports out of the decision.
func (inst *Instance) HandleFault(portID ptp.PortIdentity) []port.Action {
	p, ok := inst.ports[portID]
	if !ok {
		return nil
	}
	return p.HandleFault()
}

// HandleFaultyBackoffExpired routes a Faulty-port backoff expiration to
// the owning port.
func (inst *Instance) HandleFaultyBackoffExpired(portID ptp.PortIdentity) []port.Action {
	p, ok := inst.ports[portID]
	if !ok {
		return nil
	}
	return p.HandleFaultyBackoffExpired()
}

// BuildAnnounce constructs the next outgoing Announce for a Master port
// from the instance's current ParentDS/TimePropertiesDS.
func (inst *Instance) BuildAnnounce(portID ptp.PortIdentity) *ptp.Announce {
	p, ok := inst.ports[portID]
	if !ok {
		return nil
	}
	return p.BuildAnnounce(inst.ParentDS, inst.TimePropertiesDS, inst.stepsRemoved)
}

// RefreshCurrentDS pulls the Slave port's live filter estimates into
// CurrentDS, called by the caller's periodic tick (spec §4.5). Ports not
// in the Slave state (including Uncalibrated) don't affect CurrentDS.
func (inst *Instance) RefreshCurrentDS(now time.Time) {
	for _, id := range inst.order {
		p := inst.ports[id]
		if p.State() != ptp.PortStateSlave {
			continue
		}
		if p.CheckStale(now) {
			inst.CurrentDS.Zero()
			continue
		}
		offset, delay := p.CurrentOffsetAndDelay()
		inst.CurrentDS.OffsetFromMaster = offset
		inst.CurrentDS.MeanDelay = delay
		inst.CurrentDS.StepsRemoved = inst.stepsRemoved
	}
}
