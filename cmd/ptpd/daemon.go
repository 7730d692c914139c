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
	"math/rand"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clockbound/ptp/adapter"
	"github.com/clockbound/ptp/bmca"
	"github.com/clockbound/ptp/datasets"
	"github.com/clockbound/ptp/instance"
	"github.com/clockbound/ptp/port"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/stats"
	"github.com/clockbound/ptp/timestamp"
	"github.com/clockbound/ptp/transport"
)

// pendingPeerDelay buffers a two-step PDelay-Resp's fields until its
// matching PDelay-Resp-Follow-Up arrives, since port.HandlePDelayResp
// consumes t2/t3/t4 in a single call (spec §4.3's P2P pairing has no
// partial-update path the way E2E Sync/Follow-Up does).
type pendingPeerDelay struct {
	peer               ptp.PortIdentity
	requestReceiptTime time.Time
	responseReceiptTime time.Time
	correction         time.Duration
}

// portRuntime is the adapter-side state for one PTP port: its transport,
// wire-header template and the sequence counters/pairing state the core
// doesn't own.
type portRuntime struct {
	id  ptp.PortIdentity
	cfg PortConfig
	hdr headerTemplate
	net transport.Network

	syncSeq     uint16
	delayReqSeq uint16
	pdelaySeq   uint16

	pendingPeerDelay map[uint16]pendingPeerDelay
}

// Daemon wires one instance.Instance to its transports, clock and
// stats reporter, and runs the single-logical-task event loop spec §5
// requires: every Recv()-sourced message and every timer firing is
// funneled through one channel and handled on one goroutine, so the
// core never needs its own locking.
type Daemon struct {
	cfg  *Config
	inst *instance.Instance

	ports map[ptp.PortIdentity]*portRuntime
	order []ptp.PortIdentity

	clock         adapter.Clock
	stepThreshold time.Duration

	reporter *stats.Reporter
	links    *transport.LinkMonitor

	events  chan daemonEvent
	timers  map[timerKey]*time.Timer
	stopped chan struct{}
}

type timerKey struct {
	port ptp.PortIdentity
	kind port.TimerKind
}

type daemonEventKind uint8

const (
	evInbound daemonEventKind = iota
	evFault
	evTimer
	evPeriodic
	evLinkUp
)

type daemonEvent struct {
	kind    daemonEventKind
	port    ptp.PortIdentity
	inbound transport.Inbound
	timer   port.TimerKind
}

// NewDaemon builds a Daemon from cfg: one port.Port, datasets.PortDS and
// transport (UDP, or Raw when cfg.Transport is "raw") per configured
// interface, an instance.Instance tying them
// together, and a stats.Reporter exposing the result via Prometheus.
func NewDaemon(cfg *Config) (*Daemon, error) {
	identity, err := instanceClockIdentity(cfg.Ports[0].Interface)
	if err != nil {
		return nil, err
	}

	defaultDS := &datasets.DefaultDS{
		ClockIdentity: identity,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              ptp.ClockClass(cfg.ClockClass),
			ClockAccuracy:           ptp.ClockAccuracy(cfg.ClockAccuracy),
			OffsetScaledLogVariance: cfg.ClockVariance,
		},
		Priority1:    cfg.Priority1,
		Priority2:    cfg.Priority2,
		DomainNumber: cfg.Domain,
		SlaveOnly:    cfg.SlaveOnly,
		SdoID:        cfg.SdoID,
		InstanceType: cfg.instanceType(),
	}
	tprop := &datasets.TimePropertiesDS{
		CurrentUTCOffset:      cfg.UTCOffset,
		CurrentUTCOffsetValid: true,
		PTPTimescale:          cfg.PTPTimescale,
		TimeSource:            ptp.TimeSourceInternalOscillator,
	}

	d := &Daemon{
		cfg:           cfg,
		ports:         make(map[ptp.PortIdentity]*portRuntime, len(cfg.Ports)),
		clock:         adapter.SystemClock{},
		stepThreshold: cfg.stepThreshold(),
		events:        make(chan daemonEvent, 256),
		timers:        make(map[timerKey]*time.Timer),
		stopped:       make(chan struct{}),
	}

	var ports []*port.Port
	for i, pc := range cfg.Ports {
		portID := ptp.PortIdentity{ClockIdentity: identity, PortNumber: uint16(i + 1)}

		acceptable, err := acceptableMasters(pc.AcceptableMasterList)
		if err != nil {
			return nil, err
		}
		ds := &datasets.PortDS{
			PortIdentity:           portID,
			LogMinDelayReqInterval: ptp.LogInterval(pc.LogMinDelayReqInterval),
			LogAnnounceInterval:    ptp.LogInterval(pc.LogAnnounceInterval),
			AnnounceReceiptTimeout: pc.AnnounceReceiptTimeout,
			LogSyncInterval:        ptp.LogInterval(pc.LogSyncInterval),
			DelayMechanism:         delayMechanism(pc.DelayMechanism),
			VersionNumber:          ptp.MajorVersion,
			MinorVersionNumber:     ptp.MinorVersion,
			DelayAsymmetry:         pc.DelayAsymmetry,
			MasterOnly:             pc.MasterOnly,
			AcceptableMasterList:   acceptable,
		}

		p := port.New(ds, identity, port.Config{
			MasterOnly:   pc.MasterOnly,
			VersionCheck: true,
			PathDelay: port.PathDelayConfig{
				WindowSize: pc.WindowSize,
			},
		})
		ports = append(ports, p)

		tr, err := newTransport(cfg, pc)
		if err != nil {
			return nil, fmt.Errorf("daemon: starting transport on %s: %w", pc.Interface, err)
		}

		d.ports[portID] = &portRuntime{
			id:  portID,
			cfg: pc,
			hdr: headerTemplate{
				sdoID:        cfg.SdoID,
				domain:       cfg.Domain,
				version:      ptp.MajorVersion,
				minorVersion: ptp.MinorVersion,
				source:       portID,
			},
			net:              tr,
			pendingPeerDelay: make(map[uint16]pendingPeerDelay),
		}
		d.order = append(d.order, portID)
	}

	d.inst = instance.New(defaultDS, tprop, ports...)
	d.reporter = stats.New(defaultDS, d.inst.CurrentDS, d.inst.ParentDS, tprop, d.portStates)

	if cfg.PriorityPolicy != "" {
		policy, err := bmca.NewPriorityPolicy(cfg.PriorityPolicy)
		if err != nil {
			return nil, fmt.Errorf("daemon: %w", err)
		}
		d.inst.SetPriorityPolicy(policy)
	}

	if cfg.WatchLinks {
		ifaces := make([]string, 0, len(cfg.Ports))
		for _, pc := range cfg.Ports {
			ifaces = append(ifaces, pc.Interface)
		}
		links, err := transport.NewLinkMonitor(ifaces)
		if err != nil {
			return nil, fmt.Errorf("daemon: starting link monitor: %w", err)
		}
		d.links = links
	}

	return d, nil
}

func net4zero() net.IP { return net.IPv4zero }

// newTransport builds the Network adapter for one port per cfg's
// selected wire binding.
func newTransport(cfg *Config, pc PortConfig) (transport.Network, error) {
	if cfg.Transport == "raw" {
		return transport.NewRaw(pc.Interface)
	}
	return transport.NewUDP(transport.UDPConfig{
		Interface:     pc.Interface,
		IP:            net4zero(),
		TimestampType: timestampType(cfg.TimestampType),
		JoinMulticast: true,
		DSCP:          cfg.DSCP,
	})
}

// instanceClockIdentity derives a ClockIdentity from the EUI-48 address
// of iface, the way IEEE 1588-2019 Annex clause A.1 recommends.
func instanceClockIdentity(iface string) (ptp.ClockIdentity, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return 0, fmt.Errorf("daemon: resolving %s for clock identity: %w", iface, err)
	}
	id, err := ptp.NewClockIdentity(ifi.HardwareAddr)
	if err != nil {
		return 0, fmt.Errorf("daemon: deriving clock identity from %s: %w", iface, err)
	}
	return id, nil
}

// portStates is the stats.Reporter's live port-state callback.
func (d *Daemon) portStates() map[ptp.PortIdentity]ptp.PortState {
	out := make(map[ptp.PortIdentity]ptp.PortState, len(d.ports))
	for _, p := range d.inst.Ports() {
		out[p.DS.PortIdentity] = p.State()
	}
	return out
}

// Reporter exposes the daemon's Prometheus registry, e.g. for an HTTP
// /metrics handler.
func (d *Daemon) Reporter() *stats.Reporter { return d.reporter }

// Instance exposes the running instance, e.g. for a status endpoint.
func (d *Daemon) Instance() *instance.Instance { return d.inst }

// Run starts every port Listening and drives the event loop until
// Stop is called; a transport Recv error faults that port instead of
// ending the loop. Every
// goroutine it starts only ever produces daemonEvents for the single
// loop at the bottom to consume — spec §5's single-logical-task
// discipline applies to the core, and this is where that funneling
// actually happens. errgroup supervises the producers the way the
// teacher's sptp client supervises its own fan-out goroutines, without
// tying their exit to any one of them erroring: a producer that returns
// (transport closed, link monitor dialed down) just stops feeding
// events, it doesn't tear down the others.
func (d *Daemon) Run() error {
	now := time.Now()
	for _, id := range d.order {
		p := d.inst.Port(id)
		// Initializing -> Listening; HandleFaultyBackoffExpired is the
		// core's only "attempt (re)initialization" transition, used
		// here for the initial one too (spec §4.3's Initializing state
		// leaves as soon as the port's transport is ready).
		d.apply(id, now, p.HandleFaultyBackoffExpired())
	}

	var eg errgroup.Group
	for _, id := range d.order {
		id, pr := id, d.ports[id]
		eg.Go(func() error {
			d.recvLoop(id, pr.net)
			return nil
		})
	}
	if d.links != nil {
		eg.Go(func() error {
			d.linkLoop()
			return nil
		})
	}
	eg.Go(func() error {
		d.periodicLoop()
		return nil
	})

	notifyReady()
	for {
		select {
		case ev := <-d.events:
			d.handle(ev)
		case <-d.stopped:
			_ = eg.Wait()
			return nil
		}
	}
}

// periodicLoop feeds one evPeriodic event a second, driving
// RefreshCurrentDS/RunBMCA's periodic checks even on an otherwise quiet
// link.
func (d *Daemon) periodicLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case d.events <- daemonEvent{kind: evPeriodic}:
			case <-d.stopped:
				return
			}
		case <-d.stopped:
			return
		}
	}
}

// Stop ends the event loop and releases every transport.
func (d *Daemon) Stop() {
	select {
	case <-d.stopped:
		return
	default:
		notifyStopping()
		close(d.stopped)
	}
	for _, pr := range d.ports {
		_ = pr.net.Close()
	}
	if d.links != nil {
		_ = d.links.Close()
	}
}

// linkLoop translates transport.LinkMonitor carrier transitions into
// daemon events: link-down faults the owning port immediately rather
// than waiting out its announce-receipt timeout; link-up lets it
// attempt re-initialization immediately rather than waiting out the
// remainder of its Faulty backoff.
func (d *Daemon) linkLoop() {
	for ev := range d.links.Events() {
		id, ok := d.portByInterface(ev.Interface)
		if !ok {
			continue
		}
		kind := evFault
		if ev.Up {
			kind = evLinkUp
		}
		select {
		case d.events <- daemonEvent{kind: kind, port: id}:
		case <-d.stopped:
			return
		}
	}
}

func (d *Daemon) portByInterface(iface string) (ptp.PortIdentity, bool) {
	for id, pr := range d.ports {
		if pr.cfg.Interface == iface {
			return id, true
		}
	}
	return ptp.PortIdentity{}, false
}

func (d *Daemon) recvLoop(id ptp.PortIdentity, n transport.Network) {
	for {
		in, err := n.Recv()
		if err != nil {
			log.Warnf("port %s: transport error: %v", id, err)
			select {
			case d.events <- daemonEvent{kind: evFault, port: id}:
			case <-d.stopped:
			}
			return
		}
		select {
		case d.events <- daemonEvent{kind: evInbound, port: id, inbound: in}:
		case <-d.stopped:
			return
		}
	}
}

func (d *Daemon) armTimer(id ptp.PortIdentity, timer port.TimerKind, d2 time.Duration) {
	key := timerKey{port: id, kind: timer}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d2, func() {
		select {
		case d.events <- daemonEvent{kind: evTimer, port: id, timer: timer}:
		case <-d.stopped:
		}
	})
}

func (d *Daemon) cancelTimer(id ptp.PortIdentity, timer port.TimerKind) {
	key := timerKey{port: id, kind: timer}
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// apply executes a port's returned actions: scheduling/cancelling
// timers and stepping/steering the clock. SendMessage never appears
// here since the core builds no outbound messages itself (spec §4.1);
// outbound messages are built directly by the timer and inbound-message
// handlers below, the only places that know the current sequence
// numbers and wire header fields.
func (d *Daemon) apply(id ptp.PortIdentity, now time.Time, actions []port.Action) {
	for _, a := range actions {
		switch a.Kind {
		case port.ScheduleTimer:
			d.armTimer(id, a.Timer, a.Duration)
		case port.CancelTimer:
			d.cancelTimer(id, a.Timer)
		case port.AdjustClock:
			if err := adapter.ApplyAction(d.clock, a.PhaseCorrectionNS, a.FreqPPB, d.stepThreshold); err != nil {
				log.Warnf("port %s: applying clock correction: %v", id, err)
			}
		}
	}
}

func (d *Daemon) handle(ev daemonEvent) {
	now := time.Now()
	switch ev.kind {
	case evInbound:
		d.handleInbound(ev.port, ev.inbound, now)
	case evFault:
		d.handleFault(ev.port, now)
	case evTimer:
		d.handleTimer(ev.port, ev.timer, now)
	case evPeriodic:
		d.handlePeriodic(now)
	case evLinkUp:
		d.handleLinkUp(ev.port, now)
	}
}

func (d *Daemon) handleLinkUp(id ptp.PortIdentity, now time.Time) {
	p := d.inst.Port(id)
	if p == nil || p.State() != ptp.PortStateFaulty {
		return
	}
	d.apply(id, now, p.HandleFaultyBackoffExpired())
}

func (d *Daemon) handleFault(id ptp.PortIdentity, now time.Time) {
	p := d.inst.Port(id)
	if p == nil {
		return
	}
	d.reporter.IncFault()
	d.apply(id, now, p.HandleFault())
	d.runBMCA(now)
}

func (d *Daemon) handlePeriodic(now time.Time) {
	d.inst.RefreshCurrentDS(now)
	if d.inst.RequiresPeriodicBMCA(now) {
		d.runBMCA(now)
	}
}

func (d *Daemon) runBMCA(now time.Time) {
	for id, actions := range d.inst.RunBMCA(now) {
		d.apply(id, now, actions)
	}
}

func (d *Daemon) send(pr *portRuntime, class transport.Class, msgType ptp.MessageType, payload []byte) (time.Time, error) {
	var dst transport.Endpoint
	if d.cfg.Transport != "raw" {
		dst = multicastEndpoint(msgType, class)
	}
	// a zero-value Endpoint on the raw transport falls back to the
	// reserved PTP multicast MAC (transport.Raw.Send); UDP has no
	// equivalent implicit default, so it always needs an explicit
	// group:port.
	return pr.net.Send(payload, dst, class)
}

// multicastEndpoint picks the standard PTP multicast group and port for
// an outbound message on a UDP transport: the peer-delay group for the
// P2P exchange, the primary group for everything else (spec §4.2).
func multicastEndpoint(msgType ptp.MessageType, class transport.Class) transport.Endpoint {
	group := ptp.PrimaryMulticastIPv4
	switch msgType {
	case ptp.MessagePDelayReq, ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp:
		group = ptp.PDelayMulticastIPv4
	}
	port := ptp.PortGeneral
	if class == transport.Event {
		port = ptp.PortEvent
	}
	return transport.Endpoint{Addr: net.JoinHostPort(group, strconv.Itoa(port))}
}

func (d *Daemon) handleTimer(id ptp.PortIdentity, timer port.TimerKind, now time.Time) {
	pr, ok := d.ports[id]
	if !ok {
		return
	}
	p := d.inst.Port(id)
	if p == nil {
		return
	}

	switch timer {
	case port.TimerAnnounce:
		a := d.inst.BuildAnnounce(id)
		if a == nil {
			return
		}
		finishAnnounce(pr.hdr, a)
		wire, err := announceWireBytes(a)
		if err != nil {
			d.reporter.IncProtocolInconsistency()
			log.Warnf("port %s: marshaling announce: %v", id, err)
			return
		}
		if _, err := d.send(pr, transport.General, ptp.MessageAnnounce, wire); err != nil {
			log.Warnf("port %s: sending announce: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessageAnnounce)
		d.armTimer(id, port.TimerAnnounce, p.DS.AnnounceInterval())

	case port.TimerSync:
		pr.syncSeq++
		seq := pr.syncSeq
		sync := buildSync(pr.hdr, seq, p.DS.LogSyncInterval, true, time.Time{})
		wire, err := ptp.Bytes(sync)
		if err != nil {
			log.Warnf("port %s: marshaling sync: %v", id, err)
			return
		}
		txTime, err := d.send(pr, transport.Event, ptp.MessageSync, wire)
		if err != nil {
			log.Warnf("port %s: sending sync: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessageSync)

		fu := buildFollowUp(pr.hdr, seq, p.DS.LogSyncInterval, txTime)
		fuWire, err := ptp.Bytes(fu)
		if err != nil {
			log.Warnf("port %s: marshaling follow-up: %v", id, err)
			return
		}
		if _, err := d.send(pr, transport.General, ptp.MessageFollowUp, fuWire); err != nil {
			log.Warnf("port %s: sending follow-up: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessageFollowUp)
		d.armTimer(id, port.TimerSync, p.DS.SyncInterval())

	case port.TimerDelayReq:
		pr.delayReqSeq++
		seq := pr.delayReqSeq
		req := buildDelayReq(pr.hdr, seq, time.Time{})
		wire, err := ptp.Bytes(req)
		if err != nil {
			log.Warnf("port %s: marshaling delay-req: %v", id, err)
			return
		}
		txTime, err := d.send(pr, transport.Event, ptp.MessageDelayReq, wire)
		if err != nil {
			log.Warnf("port %s: sending delay-req: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessageDelayReq)
		d.inst.HandleDelayReqSent(id, seq, txTime)
		interval := p.DS.LogMinDelayReqInterval.Duration()
		if interval <= 0 {
			interval = time.Second
		}
		d.armTimer(id, port.TimerDelayReq, time.Duration(rand.Int63n(int64(2*interval))))

	case port.TimerPDelayReq:
		pr.pdelaySeq++
		seq := pr.pdelaySeq
		req := buildPDelayReq(pr.hdr, seq, time.Time{})
		wire, err := ptp.Bytes(req)
		if err != nil {
			log.Warnf("port %s: marshaling pdelay-req: %v", id, err)
			return
		}
		txTime, err := d.send(pr, transport.Event, ptp.MessagePDelayReq, wire)
		if err != nil {
			log.Warnf("port %s: sending pdelay-req: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessagePDelayReq)
		d.inst.HandlePDelayReqSent(id, seq, txTime)
		interval := p.DS.LogMinDelayReqInterval.Duration()
		if interval <= 0 {
			interval = time.Second
		}
		d.armTimer(id, port.TimerPDelayReq, interval)

	case port.TimerAnnounceReceipt:
		d.inst.HandleAnnounceReceiptTimeout(id)
		d.reporter.IncFault()
		d.runBMCA(now)

	case port.TimerSyncReceipt:
		// no dedicated core hook; a stale Sync is caught by
		// RefreshCurrentDS's CheckStale on the next periodic tick.

	case port.TimerFaultyBackoff:
		d.apply(id, now, p.HandleFaultyBackoffExpired())

	case port.TimerPreMasterQualification:
		d.apply(id, now, p.HandlePreMasterQualificationExpired())
	}
}

func (d *Daemon) handleInbound(id ptp.PortIdentity, in transport.Inbound, now time.Time) {
	pr, ok := d.ports[id]
	if !ok {
		return
	}

	pkt, err := ptp.DecodePacket(in.Payload)
	if err != nil {
		d.reporter.IncDecodeError()
		return
	}
	msgType := pkt.MessageType()

	switch msgType {
	case ptp.MessageAnnounce:
		a := pkt.(*ptp.Announce)
		actions, runBMCA := d.inst.HandleAnnounce(id, a, in.RXTime)
		d.reporter.IncRX(ptp.MessageAnnounce)
		d.apply(id, now, actions)
		if runBMCA {
			d.runBMCA(now)
		}

	case ptp.MessageSync:
		s := pkt.(*ptp.SyncDelayReq)
		d.reporter.IncRX(ptp.MessageSync)
		correction := s.CorrectionField.Duration()
		if s.FlagField&ptp.FlagTwoStep != 0 {
			d.inst.HandleSync(id, s.SequenceID, in.RXTime, correction, nil)
		} else {
			origin := s.OriginTimestamp.Time()
			d.inst.HandleSync(id, s.SequenceID, in.RXTime, correction, &origin)
		}

	case ptp.MessageFollowUp:
		f := pkt.(*ptp.FollowUp)
		d.reporter.IncRX(ptp.MessageFollowUp)
		d.inst.HandleFollowUp(id, f.SequenceID, f.PreciseOriginTimestamp.Time())

	case ptp.MessageDelayReq:
		d.reporter.IncRX(ptp.MessageDelayReq)
		p := d.inst.Port(id)
		if p.State() != ptp.PortStateMaster {
			d.reporter.IncDrop(ptp.MessageDelayReq)
			return
		}
		req := pkt.(*ptp.SyncDelayReq)
		receiptTime := p.HandleDelayReqAsMaster(in.RXTime)
		resp := buildDelayResp(pr.hdr, req.SequenceID, p.DS.LogMinDelayReqInterval, req.SourcePortIdentity, receiptTime)
		wire, err := ptp.Bytes(resp)
		if err != nil {
			log.Warnf("port %s: marshaling delay-resp: %v", id, err)
			return
		}
		if _, err := d.send(pr, transport.General, ptp.MessageDelayResp, wire); err != nil {
			log.Warnf("port %s: sending delay-resp: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessageDelayResp)

	case ptp.MessageDelayResp:
		resp := pkt.(*ptp.DelayResp)
		d.reporter.IncRX(ptp.MessageDelayResp)
		if resp.RequestingPortIdentity != id {
			d.reporter.IncDrop(ptp.MessageDelayResp)
			return
		}
		correction := resp.CorrectionField.Duration()
		actions := d.inst.HandleDelayResp(id, resp.SequenceID, in.RXTime, correction, now)
		d.apply(id, now, actions)

	case ptp.MessagePDelayReq:
		req := pkt.(*ptp.PDelayReq)
		d.reporter.IncRX(ptp.MessagePDelayReq)
		resp := buildPDelayResp(pr.hdr, req.SequenceID, req.SourcePortIdentity, in.RXTime)
		wire, err := ptp.Bytes(resp)
		if err != nil {
			log.Warnf("port %s: marshaling pdelay-resp: %v", id, err)
			return
		}
		txTime, err := d.send(pr, transport.Event, ptp.MessagePDelayResp, wire)
		if err != nil {
			log.Warnf("port %s: sending pdelay-resp: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessagePDelayResp)

		fu := buildPDelayRespFollowUp(pr.hdr, req.SequenceID, req.SourcePortIdentity, txTime)
		fuWire, err := ptp.Bytes(fu)
		if err != nil {
			log.Warnf("port %s: marshaling pdelay-resp-follow-up: %v", id, err)
			return
		}
		if _, err := d.send(pr, transport.General, ptp.MessagePDelayRespFollowUp, fuWire); err != nil {
			log.Warnf("port %s: sending pdelay-resp-follow-up: %v", id, err)
			return
		}
		d.reporter.IncTX(ptp.MessagePDelayRespFollowUp)

	case ptp.MessagePDelayResp:
		resp := pkt.(*ptp.PDelayResp)
		d.reporter.IncRX(ptp.MessagePDelayResp)
		if resp.RequestingPortIdentity != id {
			d.reporter.IncDrop(ptp.MessagePDelayResp)
			return
		}
		correction := resp.CorrectionField.Duration()
		requestReceiptTime := resp.RequestReceiptTimestamp.Time()
		if resp.FlagField&ptp.FlagTwoStep != 0 {
			pr.pendingPeerDelay[resp.SequenceID] = pendingPeerDelay{
				peer:                 resp.SourcePortIdentity,
				requestReceiptTime:   requestReceiptTime,
				responseReceiptTime:  in.RXTime,
				correction:           correction,
			}
			return
		}
		// one-step: the responder folds its turnaround time into
		// CorrectionField, so the response-departure estimate is the
		// request-receipt time plus that turnaround (spec §4.3).
		actions := d.inst.HandlePDelayResp(id, resp.SequenceID, resp.SourcePortIdentity,
			requestReceiptTime, requestReceiptTime, in.RXTime, correction, now)
		d.apply(id, now, actions)

	case ptp.MessagePDelayRespFollowUp:
		fu := pkt.(*ptp.PDelayRespFollowUp)
		d.reporter.IncRX(ptp.MessagePDelayRespFollowUp)
		pending, ok := pr.pendingPeerDelay[fu.SequenceID]
		if !ok || fu.SourcePortIdentity != pending.peer {
			d.reporter.IncDrop(ptp.MessagePDelayRespFollowUp)
			return
		}
		delete(pr.pendingPeerDelay, fu.SequenceID)
		actions := d.inst.HandlePDelayResp(id, fu.SequenceID, pending.peer,
			pending.requestReceiptTime, fu.ResponseOriginTimestamp.Time(), pending.responseReceiptTime,
			pending.correction+fu.CorrectionField.Duration(), now)
		d.apply(id, now, actions)

	default:
		d.reporter.IncDrop(msgType)
	}
}
