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
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

var errNotEnoughData = fmt.Errorf("not enough data")

// Supported path delay smoothing filters (spec's supplemental
// sliding-window path-delay feature).
const (
	FilterNone   = ""
	FilterMedian = "median"
	FilterMean   = "mean"
)

// pairing holds one round's worth of timestamps, named generically
// enough to serve both delay mechanisms: for E2E, t1/t2 come from
// Sync/Follow-Up and t3/t4 from Delay-Req/Delay-Resp; for P2P, t1/t2/
// t3/t4 come from the PDelay-Req/Resp/Resp-Follow-Up exchange.
type pairing struct {
	seq    uint16
	t1, t2 time.Time     // origin/receipt of the "sync-like" leg
	t3, t4 time.Time     // departure/receipt of the "delay-like" leg
	c1, c2 time.Duration // correction fields of each leg
}

func (p *pairing) complete() bool {
	return !p.t1.IsZero() && !p.t2.IsZero() && !p.t3.IsZero() && !p.t4.IsZero()
}

func (p *pairing) latestTS() time.Time {
	var res time.Time
	for _, ts := range []time.Time{p.t1, p.t2, p.t3, p.t4} {
		if ts.After(res) {
			res = ts
		}
	}
	return res
}

// syncOffsetResult is a complete (offset, delay) pairing ready for the filter.
type syncOffsetResult struct {
	Offset    time.Duration
	Delay     time.Duration
	Timestamp time.Time
}

// delayMechanismState tracks in-flight timestamp pairings for one
// port's active delay mechanism (E2E or P2P — the struct itself is
// mechanism-agnostic, per spec §4.3).
type delayMechanismState struct {
	cfg           PathDelayConfig
	delayAsymmetry time.Duration
	data          map[uint16]*pairing
	window        *slidingWindow
}

// PathDelayConfig configures path-delay smoothing.
type PathDelayConfig struct {
	Filter        string
	WindowSize    int
	DiscardBelow  time.Duration
	DiscardEnable bool
}

func newDelayMechanismState(cfg PathDelayConfig, asymmetry time.Duration) *delayMechanismState {
	size := cfg.WindowSize
	if size < 1 {
		size = 1
	}
	return &delayMechanismState{
		cfg:            cfg,
		delayAsymmetry: asymmetry,
		data:           map[uint16]*pairing{},
		window:         newSlidingWindow(size),
	}
}

func (m *delayMechanismState) entry(seq uint16) *pairing {
	p, ok := m.data[seq]
	if !ok {
		p = &pairing{seq: seq}
		m.data[seq] = p
	}
	return p
}

func (m *delayMechanismState) addT1(seq uint16, ts time.Time) {
	m.entry(seq).t1 = ts
}

func (m *delayMechanismState) addT2(seq uint16, ts time.Time, correction time.Duration) {
	p := m.entry(seq)
	p.t2 = ts
	p.c1 = correction
}

func (m *delayMechanismState) addT3(seq uint16, ts time.Time) {
	m.entry(seq).t3 = ts
}

func (m *delayMechanismState) addT4(seq uint16, ts time.Time, correction time.Duration) {
	p := m.entry(seq)
	p.t4 = ts
	p.c2 = correction
}

func (m *delayMechanismState) smoothDelay(newDelay time.Duration) time.Duration {
	last := m.window.lastSample()
	if !math.IsNaN(last) && m.cfg.DiscardEnable && newDelay < m.cfg.DiscardBelow {
		log.Warnf("bad path delay %v < %v filtered out", newDelay, m.cfg.DiscardBelow)
	} else {
		m.window.add(float64(newDelay))
	}

	switch m.cfg.Filter {
	case FilterMedian:
		return time.Duration(m.window.median())
	case FilterMean:
		return time.Duration(m.window.mean())
	default:
		return newDelay
	}
}

// latest finds the most recently completed pairing and computes
// offset/delay from it, per spec §4.3:
//
//	offset = (t2 - t1 - c1) - delay - delayAsymmetry
//	delay  = ((t2 - t1 - c1) + (t4 - t3 - c2)) / 2
func (m *delayMechanismState) latest() (*syncOffsetResult, error) {
	var best *pairing
	for _, p := range m.data {
		if !p.complete() {
			continue
		}
		if best == nil || p.t2.After(best.t2) {
			best = p
		}
	}
	if best == nil {
		return nil, errNotEnoughData
	}

	serverToClient := best.t2.Sub(best.t1) - best.c1
	clientToServer := best.t4.Sub(best.t3) - best.c2
	rawDelay := (serverToClient + clientToServer) / 2
	delay := m.smoothDelay(rawDelay)
	offset := serverToClient - delay - m.delayAsymmetry

	return &syncOffsetResult{Offset: offset, Delay: delay, Timestamp: best.t2}, nil
}

// cleanup drops completed pairings and any incomplete pairing older
// than maxAge, bounding memory for a port that never sees a matching
// Follow-Up or Delay-Resp.
func (m *delayMechanismState) cleanup(now time.Time, maxAge time.Duration) {
	for seq, p := range m.data {
		if p.complete() || now.Sub(p.latestTS()) > maxAge {
			delete(m.data, seq)
		}
	}
}
