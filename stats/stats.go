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

// Package stats exports the instance's observability surface (spec §6):
// clock identity, port count, priority1/2, domain, clock quality,
// per-port state, steps-removed, offset-from-master, mean-delay,
// grandmaster identity/quality, UTC offset, leap flags and path-trace,
// plus the per-message-type RX/TX/drop counters a running daemon
// accumulates. Grounded on the shape of the teacher's ptp4u/stats.Stats
// interface (a counters struct behind atomics, snapshotted and reset on
// demand) and exported the way sptp's prom_exporter.go does: as
// Prometheus collectors behind promhttp, not the teacher's bespoke JSON
// endpoint, since this module already depends on client_golang for
// ptp4u/sptp-style instrumentation and a single exposition format is
// simpler for a BC/OC daemon than carrying both.
package stats

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
)

// Reporter holds the Prometheus collectors for one running instance. It
// is safe for concurrent use: counters are atomic and gauges are
// recomputed from the datasets under Collect, the same "snapshot on
// scrape" discipline the teacher's counters.toMap uses.
type Reporter struct {
	registry *prometheus.Registry

	rx   map[ptp.MessageType]*uint64
	tx   map[ptp.MessageType]*uint64
	drop map[ptp.MessageType]*uint64

	decodeErrors     uint64
	policyRejections uint64
	protocolErrors   uint64
	faults           uint64
	filterResets     uint64

	instanceInfo *instanceCollector
}

// instanceCollector recomputes the dataset-derived gauges at scrape
// time, directly off the live datasets rather than a cached copy — the
// same "read live state" approach the teacher's ptp4u stats.toMap takes
// for its counters maps.
type instanceCollector struct {
	defaultDS *datasets.DefaultDS
	currentDS *datasets.CurrentDS
	parentDS  *datasets.ParentDS
	tprop     *datasets.TimePropertiesDS
	portState func() map[ptp.PortIdentity]ptp.PortState
}

var (
	descPriority1 = prometheus.NewDesc("ptp_priority1", "DefaultDS.priority1", nil, nil)
	descPriority2 = prometheus.NewDesc("ptp_priority2", "DefaultDS.priority2", nil, nil)
	descDomain    = prometheus.NewDesc("ptp_domain_number", "DefaultDS.domainNumber", nil, nil)
	descNumPorts  = prometheus.NewDesc("ptp_number_of_ports", "DefaultDS.numberOfPorts", nil, nil)
	descClass     = prometheus.NewDesc("ptp_clock_class", "DefaultDS.clockQuality.clockClass", nil, nil)
	descAccuracy  = prometheus.NewDesc("ptp_clock_accuracy", "DefaultDS.clockQuality.clockAccuracy", nil, nil)
	descVariance  = prometheus.NewDesc("ptp_offset_scaled_log_variance", "DefaultDS.clockQuality.offsetScaledLogVariance", nil, nil)

	descStepsRemoved  = prometheus.NewDesc("ptp_steps_removed", "CurrentDS.stepsRemoved", nil, nil)
	descOffset        = prometheus.NewDesc("ptp_offset_from_master_ns", "CurrentDS.offsetFromMaster in nanoseconds", nil, nil)
	descMeanDelay      = prometheus.NewDesc("ptp_mean_delay_ns", "CurrentDS.meanDelay in nanoseconds", nil, nil)

	descGMIdentity = prometheus.NewDesc("ptp_grandmaster_identity", "ParentDS.grandmasterIdentity, as a gauge of its low 32 bits", []string{"identity"}, nil)
	descGMClass    = prometheus.NewDesc("ptp_grandmaster_clock_class", "ParentDS.grandmasterClockQuality.clockClass", nil, nil)
	descPathLen    = prometheus.NewDesc("ptp_path_trace_length", "len(ParentDS.pathTrace)", nil, nil)

	descUTCOffset  = prometheus.NewDesc("ptp_utc_offset_sec", "TimePropertiesDS.currentUtcOffset", nil, nil)
	descLeap59     = prometheus.NewDesc("ptp_leap59", "TimePropertiesDS.leap59", nil, nil)
	descLeap61     = prometheus.NewDesc("ptp_leap61", "TimePropertiesDS.leap61", nil, nil)

	descPortState = prometheus.NewDesc("ptp_port_state", "1 for the port's current ptp.PortState, labeled by port and state", []string{"port", "state"}, nil)
)

// Describe implements prometheus.Collector.
func (c *instanceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descPriority1
	ch <- descPriority2
	ch <- descDomain
	ch <- descNumPorts
	ch <- descClass
	ch <- descAccuracy
	ch <- descVariance
	ch <- descStepsRemoved
	ch <- descOffset
	ch <- descMeanDelay
	ch <- descGMIdentity
	ch <- descGMClass
	ch <- descPathLen
	ch <- descUTCOffset
	ch <- descLeap59
	ch <- descLeap61
	ch <- descPortState
}

// Collect implements prometheus.Collector.
func (c *instanceCollector) Collect(ch chan<- prometheus.Metric) {
	d := c.defaultDS
	ch <- prometheus.MustNewConstMetric(descPriority1, prometheus.GaugeValue, float64(d.Priority1))
	ch <- prometheus.MustNewConstMetric(descPriority2, prometheus.GaugeValue, float64(d.Priority2))
	ch <- prometheus.MustNewConstMetric(descDomain, prometheus.GaugeValue, float64(d.DomainNumber))
	ch <- prometheus.MustNewConstMetric(descNumPorts, prometheus.GaugeValue, float64(d.NumberOfPorts))
	ch <- prometheus.MustNewConstMetric(descClass, prometheus.GaugeValue, float64(d.ClockQuality.ClockClass))
	ch <- prometheus.MustNewConstMetric(descAccuracy, prometheus.GaugeValue, float64(d.ClockQuality.ClockAccuracy))
	ch <- prometheus.MustNewConstMetric(descVariance, prometheus.GaugeValue, float64(d.ClockQuality.OffsetScaledLogVariance))

	cur := c.currentDS
	ch <- prometheus.MustNewConstMetric(descStepsRemoved, prometheus.GaugeValue, float64(cur.StepsRemoved))
	ch <- prometheus.MustNewConstMetric(descOffset, prometheus.GaugeValue, float64(cur.OffsetFromMaster.Nanoseconds()))
	ch <- prometheus.MustNewConstMetric(descMeanDelay, prometheus.GaugeValue, float64(cur.MeanDelay.Nanoseconds()))

	p := c.parentDS
	ch <- prometheus.MustNewConstMetric(descGMIdentity, prometheus.GaugeValue, float64(uint32(p.GrandmasterIdentity)), p.GrandmasterIdentity.String())
	ch <- prometheus.MustNewConstMetric(descGMClass, prometheus.GaugeValue, float64(p.GrandmasterClockQuality.ClockClass))
	ch <- prometheus.MustNewConstMetric(descPathLen, prometheus.GaugeValue, float64(len(p.PathTrace)))

	t := c.tprop
	ch <- prometheus.MustNewConstMetric(descUTCOffset, prometheus.GaugeValue, float64(t.CurrentUTCOffset))
	ch <- prometheus.MustNewConstMetric(descLeap59, prometheus.GaugeValue, boolToFloat(t.Leap59))
	ch <- prometheus.MustNewConstMetric(descLeap61, prometheus.GaugeValue, boolToFloat(t.Leap61))

	if c.portState == nil {
		return
	}
	for port, state := range c.portState() {
		ch <- prometheus.MustNewConstMetric(descPortState, prometheus.GaugeValue, 1, port.String(), strings.ToLower(state.String()))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// New builds a Reporter wired to the given instance datasets. portState
// is called at scrape time to get the live state of every port; it is
// typically instance.Instance's own Ports() translated to a map.
func New(defaultDS *datasets.DefaultDS, currentDS *datasets.CurrentDS, parentDS *datasets.ParentDS, tprop *datasets.TimePropertiesDS, portState func() map[ptp.PortIdentity]ptp.PortState) *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		rx:       map[ptp.MessageType]*uint64{},
		tx:       map[ptp.MessageType]*uint64{},
		drop:     map[ptp.MessageType]*uint64{},
		instanceInfo: &instanceCollector{
			defaultDS: defaultDS,
			currentDS: currentDS,
			parentDS:  parentDS,
			tprop:     tprop,
			portState: portState,
		},
	}
	for _, mt := range []ptp.MessageType{
		ptp.MessageSync, ptp.MessageDelayReq, ptp.MessagePDelayReq, ptp.MessagePDelayResp,
		ptp.MessageFollowUp, ptp.MessageDelayResp, ptp.MessagePDelayRespFollowUp, ptp.MessageAnnounce,
	} {
		var rx, tx, drop uint64
		r.rx[mt] = &rx
		r.tx[mt] = &tx
		r.drop[mt] = &drop
	}
	r.registry.MustRegister(r.instanceInfo)
	r.registry.MustRegister(newSysCollector())
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ptp_decode_errors_total",
		Help: "malformed messages dropped (spec §7 error kind 1)",
	}, func() float64 { return float64(atomic.LoadUint64(&r.decodeErrors)) }))
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ptp_policy_rejections_total",
		Help: "acceptable-master-list misses, loop detections, self-originated Announces dropped (spec §7 error kind 3)",
	}, func() float64 { return float64(atomic.LoadUint64(&r.policyRejections)) }))
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ptp_protocol_inconsistencies_total",
		Help: "sequence-id mismatches, missing Follow-Up, unmatched Delay-Resp (spec §7 error kind 4)",
	}, func() float64 { return float64(atomic.LoadUint64(&r.protocolErrors)) }))
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ptp_port_faults_total",
		Help: "port transitions into Faulty (spec §7 error kind 5)",
	}, func() float64 { return float64(atomic.LoadUint64(&r.faults)) }))
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ptp_filter_resets_total",
		Help: "servo resets from repeated outlier gating or a Slave transition (spec §7 error kind 6)",
	}, func() float64 { return float64(atomic.LoadUint64(&r.filterResets)) }))
	return r
}

// Registry returns the Prometheus registry for promhttp.HandlerFor.
func (r *Reporter) Registry() *prometheus.Registry { return r.registry }

// IncRX counts one successfully decoded and dispatched message.
func (r *Reporter) IncRX(t ptp.MessageType) {
	if c, ok := r.rx[t]; ok {
		atomic.AddUint64(c, 1)
	}
}

// IncTX counts one message the adapter sent on the instance's behalf.
func (r *Reporter) IncTX(t ptp.MessageType) {
	if c, ok := r.tx[t]; ok {
		atomic.AddUint64(c, 1)
	}
}

// IncDrop counts one message of type t dropped for any reason.
func (r *Reporter) IncDrop(t ptp.MessageType) {
	if c, ok := r.drop[t]; ok {
		atomic.AddUint64(c, 1)
	}
}

// IncDecodeError counts a malformed-message drop.
func (r *Reporter) IncDecodeError() { atomic.AddUint64(&r.decodeErrors, 1) }

// IncPolicyRejection counts an acceptable-master-list/loop/self-origin drop.
func (r *Reporter) IncPolicyRejection() { atomic.AddUint64(&r.policyRejections, 1) }

// IncProtocolInconsistency counts a sequence-id/pairing mismatch drop.
func (r *Reporter) IncProtocolInconsistency() { atomic.AddUint64(&r.protocolErrors, 1) }

// IncFault counts a port's transition into Faulty.
func (r *Reporter) IncFault() { atomic.AddUint64(&r.faults, 1) }

// IncFilterReset counts a servo reset.
func (r *Reporter) IncFilterReset() { atomic.AddUint64(&r.filterResets, 1) }
