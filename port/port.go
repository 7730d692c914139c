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

package port

import (
	"fmt"
	"math/rand"
	"time"

	hversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/clockbound/ptp/bmca"
	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/servo"
)

// Recommendation mirrors bmca.Recommendation to keep this package's
// public surface independent of bmca's internal candidate types.
type Recommendation = bmca.Recommendation

// Config is the static, rarely-changing configuration a Port needs
// beyond its PortDS (which holds the IEEE-1588 managed-object fields).
type Config struct {
	MasterOnly     bool
	PathDelay      PathDelayConfig
	KalmanCfg      *servo.KalmanServoCfg
	VersionCheck   bool
}

// Port is one PTP port's state machine, timestamp-pairing logic and
// filter, per spec §4.3. The instance owns one Port per network
// interface and funnels every event through a single logical task
// (spec §5), so Port itself holds no locks.
type Port struct {
	DS   *datasets.PortDS
	cfg  Config

	localIdentity ptp.ClockIdentity

	foreignMasters *datasets.ForeignMasterTable
	e2e            *delayMechanismState
	p2p            *delayMechanismState
	filter         *servo.KalmanServo

	backoff *faultyBackoff

	announceSeq uint16
	syncSeq     uint16
	delayReqSeq uint16

	lastAnnounceFrom  ptp.PortIdentity
	lastAnnounceAt    time.Time
	lastFollowUpDue   time.Time
	pendingForwardTLVs []ptp.TLV

	// peerIdentity is the P2P link peer learned from the first
	// completed PDelay exchange; later responses from any other
	// sender are ignored (spec §4.3).
	peerIdentity    ptp.PortIdentity
	havePeerIdentity bool

	lastDelay time.Duration
}

// New creates a Port in the Initializing state.
func New(ds *datasets.PortDS, localIdentity ptp.ClockIdentity, cfg Config) *Port {
	if cfg.KalmanCfg == nil {
		cfg.KalmanCfg = servo.DefaultKalmanServoCfg()
	}
	ds.PortState = ptp.PortStateInitializing
	p := &Port{
		DS:             ds,
		cfg:            cfg,
		localIdentity:  localIdentity,
		foreignMasters: datasets.NewForeignMasterTable(),
		e2e:            newDelayMechanismState(cfg.PathDelay, ds.DelayAsymmetry),
		p2p:            newDelayMechanismState(cfg.PathDelay, ds.DelayAsymmetry),
		filter:         servo.NewKalmanServo(servo.DefaultServoConfig(), cfg.KalmanCfg),
		backoff:        newFaultyBackoff(),
	}
	return p
}

// State returns the port's current recommended/applied state.
func (p *Port) State() ptp.PortState {
	return p.DS.PortState
}

func (p *Port) transition(to ptp.PortState) []Action {
	from := p.DS.PortState
	if from == to {
		return nil
	}
	log.Infof("port %s: %s -> %s", p.DS.PortIdentity, from, to)
	p.DS.PortState = to

	var actions []Action
	switch to {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		p.filter.Reset()
		actions = append(actions, Action{Kind: ScheduleTimer, Timer: TimerDelayReq, Duration: p.jitteredDelayReqInterval()})
	case ptp.PortStateMaster:
		actions = append(actions,
			Action{Kind: ScheduleTimer, Timer: TimerAnnounce, Duration: p.DS.AnnounceInterval()},
			Action{Kind: ScheduleTimer, Timer: TimerSync, Duration: p.DS.SyncInterval()},
		)
	case ptp.PortStatePreMaster:
		// holds here, transmitting neither Announce nor Sync, until the
		// qualification timer fires and HandlePreMasterQualificationExpired
		// advances the port the rest of the way to Master.
		actions = append(actions, Action{Kind: ScheduleTimer, Timer: TimerPreMasterQualification, Duration: p.DS.AnnounceReceiptTimeoutDuration()})
	case ptp.PortStateFaulty:
		actions = append(actions, Action{Kind: ScheduleTimer, Timer: TimerFaultyBackoff, Duration: p.backoff.Duration()})
	case ptp.PortStateListening:
		p.backoff.Reset()
		actions = append(actions, Action{Kind: ScheduleTimer, Timer: TimerAnnounceReceipt, Duration: p.DS.AnnounceReceiptTimeoutDuration()})
	}
	return actions
}

// ApplyRecommendation translates a BMCA recommendation into a state
// transition, applying the master-only/slave-only flag overrides spec
// §4.3 requires: master-only forces Slave into Master; instance-wide
// slave-only forces Master into Passive. A fresh Master recommendation
// holds in PreMaster first (the state diagram's Listening/Slave ->
// PreMaster -> Master edge); a port already Master stays Master so a
// routine BMCA re-confirmation doesn't re-enter the qualification hold.
func (p *Port) ApplyRecommendation(rec Recommendation, instanceSlaveOnly bool) []Action {
	target := ptp.PortStateMaster
	switch rec {
	case bmca.RecommendSlave:
		if p.cfg.MasterOnly {
			target = ptp.PortStateMaster
		} else {
			target = ptp.PortStateUncalibrated
		}
	case bmca.RecommendPassive:
		target = ptp.PortStatePassive
	case bmca.RecommendMaster:
		switch {
		case instanceSlaveOnly:
			target = ptp.PortStatePassive
		case p.DS.PortState == ptp.PortStateMaster:
			target = ptp.PortStateMaster
		default:
			target = ptp.PortStatePreMaster
		}
	}
	return p.transition(target)
}

// HandlePreMasterQualificationExpired advances a port that has held in
// PreMaster long enough to Master. A no-op if BMCA has since moved the
// port out of PreMaster (e.g. a better master was heard in the
// meantime), since the qualification timer it was scheduled from is
// then stale.
func (p *Port) HandlePreMasterQualificationExpired() []Action {
	if p.DS.PortState != ptp.PortStatePreMaster {
		return nil
	}
	return p.transition(ptp.PortStateMaster)
}

// HandleFault transitions the port to Faulty, e.g. on a network
// interface error reported by the adapter.
func (p *Port) HandleFault() []Action {
	return p.transition(ptp.PortStateFaulty)
}

// HandleFaultyBackoffExpired attempts re-initialization after a Faulty
// backoff interval elapses.
func (p *Port) HandleFaultyBackoffExpired() []Action {
	return p.transition(ptp.PortStateListening)
}

func (p *Port) jitteredDelayReqInterval() time.Duration {
	interval := p.DS.LogMinDelayReqInterval.Duration()
	if interval <= 0 {
		return interval
	}
	return time.Duration(rand.Int63n(int64(2 * interval)))
}

// HandleAnnounce processes a received Announce, applying the
// acceptability, self-origination-loop, and duplicate-sequence rules
// of spec §4.3 before admitting it to the foreign-master table.
func (p *Port) HandleAnnounce(a *ptp.Announce, receiptTime time.Time) []Action {
	sender := a.SourcePortIdentity

	if p.cfg.VersionCheck && !p.versionCompatible(a.Version) {
		major, minor := a.Version&ptp.MajorVersionMask, a.Version>>4
		log.Warnf("port %s: ignoring announce from %s, incompatible PTP version %d.%d", p.DS.PortIdentity, sender, major, minor)
		return nil
	}

	if a.GrandmasterIdentity == p.localIdentity || sender.ClockIdentity == p.localIdentity {
		// self-originated: used only for loop detection, never stored.
		return nil
	}
	if !p.DS.AcceptableMaster(sender.ClockIdentity) {
		return nil
	}

	candidate := bmca.FromAnnounce(p.DS.PortIdentity, a)
	if bmca.PathTraceLoop(candidate.PathTrace, p.localIdentity) {
		log.Warnf("port %s: rejecting announce from %s, path-trace loop detected", p.DS.PortIdentity, sender)
		return nil
	}

	p.foreignMasters.Add(sender, *a, receiptTime)
	p.lastAnnounceFrom = sender
	p.lastAnnounceAt = receiptTime
	p.rememberForwardTLVs(a.TLVs)

	return []Action{{Kind: ScheduleTimer, Timer: TimerAnnounceReceipt, Duration: p.DS.AnnounceReceiptTimeoutDuration()}}
}

// ForeignMasterCandidates returns this port's live foreign-master
// Announces as BMCA candidates, evicting any that have aged out, for the
// instance's periodic and on-demand BMCA runs (spec §4.4).
func (p *Port) ForeignMasterCandidates(now time.Time) []bmca.Candidate {
	records := p.foreignMasters.Live(now, p.DS.AnnounceInterval())
	candidates := make([]bmca.Candidate, 0, len(records))
	for _, r := range records {
		a := r.Announce
		candidates = append(candidates, bmca.FromAnnounce(p.DS.PortIdentity, &a))
	}
	return candidates
}

// rememberForwardTLVs records any TLV type this port doesn't interpret
// so the next outgoing Announce this port emits as Master can forward
// it unmodified (spec's "forward TLVs" requirement), preserving order.
func (p *Port) rememberForwardTLVs(tlvs []ptp.TLV) {
	var raw []ptp.TLV
	for _, t := range tlvs {
		if _, ok := t.(*ptp.RawTLV); ok {
			raw = append(raw, t)
		}
	}
	p.pendingForwardTLVs = raw
}

// BuildAnnounce constructs the next outgoing Announce this port (as
// Master) should send, stamped from the given datasets. When parent's
// path-trace is non-empty (this instance is relaying a Boundary Clock's
// upstream parent rather than acting as its own grandmaster) it is
// carried forward as a PathTraceTLV so the next hop can detect a loop
// through this instance (spec §4.4 Step 5).
func (p *Port) BuildAnnounce(parent *datasets.ParentDS, tprop *datasets.TimePropertiesDS, stepsRemoved uint16) *ptp.Announce {
	p.announceSeq++
	a := &ptp.Announce{}
	a.SourcePortIdentity = p.DS.PortIdentity
	a.SequenceID = p.announceSeq
	a.LogMessageInterval = p.DS.LogAnnounceInterval
	a.GrandmasterIdentity = parent.GrandmasterIdentity
	a.GrandmasterClockQuality = parent.GrandmasterClockQuality
	a.GrandmasterPriority1 = parent.GrandmasterPriority1
	a.GrandmasterPriority2 = parent.GrandmasterPriority2
	a.StepsRemoved = stepsRemoved
	a.CurrentUTCOffset = tprop.CurrentUTCOffset
	a.TimeSource = tprop.TimeSource
	if len(parent.PathTrace) > 0 {
		a.TLVs = append(a.TLVs, &ptp.PathTraceTLV{PathSequence: parent.PathTrace})
	}
	a.TLVs = append(a.TLVs, p.pendingForwardTLVs...)
	return a
}

// HandleAnnounceReceiptTimeout logs that no valid Announce has arrived
// from the selected master within the configured timeout. It returns
// nothing; rerunning the BMCA is left to the caller.
func (p *Port) HandleAnnounceReceiptTimeout() {
	log.Warnf("port %s: announce receipt timeout, requesting BMCA re-run", p.DS.PortIdentity)
}

// HandleSync records the Sync's local receipt time (t2) for the E2E
// pairing and, for one-step operation, the embedded origin timestamp.
func (p *Port) HandleSync(seq uint16, receiptTime time.Time, correction time.Duration, oneStepOrigin *time.Time) {
	p.e2e.addT2(seq, receiptTime, correction)
	if oneStepOrigin != nil {
		p.e2e.addT1(seq, *oneStepOrigin)
	}
}

// HandleFollowUp records t1, the origin timestamp of a two-step Sync.
func (p *Port) HandleFollowUp(seq uint16, origin time.Time) {
	p.e2e.addT1(seq, origin)
}

// HandleDelayReqAsMaster stamps t4 is recorded by the requester; as
// Master this port just needs to timestamp receipt and hand the value
// back to the caller to place in the outgoing Delay-Resp.
func (p *Port) HandleDelayReqAsMaster(receiptTime time.Time) time.Time {
	return receiptTime
}

// HandleDelayReqSent records t3, the local departure time of this
// port's own Delay-Req as Slave.
func (p *Port) HandleDelayReqSent(seq uint16, departureTime time.Time) {
	p.e2e.addT3(seq, departureTime)
}

// HandleDelayResp records t4 from a matching Delay-Resp and, once the
// E2E pairing for seq is complete, drives the filter and returns any
// resulting clock-adjustment action.
func (p *Port) HandleDelayResp(seq uint16, t4 time.Time, correction time.Duration, now time.Time) []Action {
	p.e2e.addT4(seq, t4, correction)
	return p.consumeCompletedPairing(p.e2e, false, now)
}

// HandlePDelayReqSent/HandlePDelayResp mirror the E2E path for the
// P2P mechanism: only PDelay-Resp(-Follow-Up) from the matching link
// peer may influence mean-link-delay (spec §4.3).
func (p *Port) HandlePDelayReqSent(seq uint16, departureTime time.Time) {
	p.p2p.addT1(seq, departureTime)
}

func (p *Port) HandlePDelayResp(seq uint16, peer ptp.PortIdentity, requestReceiptTime, responseDepartureTime, responseReceiptTime time.Time, correction time.Duration, now time.Time) []Action {
	if !p.havePeerIdentity {
		p.peerIdentity = peer
		p.havePeerIdentity = true
	} else if peer != p.peerIdentity {
		// only the established link peer's PDelay-Resp may influence
		// this port's mean-link-delay estimate.
		return nil
	}
	p.p2p.addT2(seq, requestReceiptTime, 0)
	p.p2p.addT3(seq, responseDepartureTime)
	p.p2p.addT4(seq, responseReceiptTime, correction)
	return p.consumeCompletedPairing(p.p2p, true, now)
}

func (p *Port) consumeCompletedPairing(state *delayMechanismState, isP2P bool, now time.Time) []Action {
	result, err := state.latest()
	if err != nil {
		return nil
	}
	state.cleanup(now, 2*p.DS.SyncInterval())

	p.lastDelay = result.Delay
	if isP2P {
		p.DS.PeerMeanLinkDelay = result.Delay
	}

	phaseNS, freqPPB, _ := p.filter.Sample(int64(result.Offset), result.Timestamp)
	actions := []Action{{Kind: AdjustClock, PhaseCorrectionNS: phaseNS, FreqPPB: freqPPB}}

	// A completed offset/delay pairing is calibration: the port has a
	// working estimate of its offset from the selected master and can
	// advance out of Uncalibrated (spec §4.3's Uncalibrated -> Slave
	// edge). Don't route through transition(), which would reset the
	// filter we just sampled and re-schedule a Delay-Req timer already
	// running since the Uncalibrated entry.
	if p.DS.PortState == ptp.PortStateUncalibrated {
		log.Infof("port %s: calibration complete, %s -> %s", p.DS.PortIdentity, ptp.PortStateUncalibrated, ptp.PortStateSlave)
		p.DS.PortState = ptp.PortStateSlave
	}
	return actions
}

// CurrentOffsetAndDelay exposes the filter's live estimates for
// CurrentDS (spec §4.5's "exposes its running estimates").
func (p *Port) CurrentOffsetAndDelay() (offset time.Duration, delay time.Duration) {
	return time.Duration(p.filter.PhaseEstimate()), p.lastDelay
}

// CheckStale reports whether no Sync has been seen within 4x the sync
// interval; it changes no state, and the caller zeros CurrentDS on true.
func (p *Port) CheckStale(now time.Time) bool {
	return p.filter.IsStale(now, p.DS.SyncInterval())
}

// versionCompatible reports whether a peer's wire-encoded Version byte
// shares our major version. Minor version mismatches are logged but
// tolerated; PTP 2.1 ports must interoperate with 2.0 peers.
func (p *Port) versionCompatible(peerVersion uint8) bool {
	peerMajor := peerVersion & ptp.MajorVersionMask
	peerMinor := peerVersion >> 4

	ours, err := hversion.NewVersion(fmt.Sprintf("%d.%d", ptp.MajorVersion, ptp.MinorVersion))
	if err != nil {
		return peerMajor == ptp.MajorVersion
	}
	theirs, err := hversion.NewVersion(fmt.Sprintf("%d.%d", peerMajor, peerMinor))
	if err != nil {
		return peerMajor == ptp.MajorVersion
	}
	return ours.Segments()[0] == theirs.Segments()[0]
}
