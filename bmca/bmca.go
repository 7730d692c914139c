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

// Package bmca implements the Best Master Clock Algorithm: data-set
// comparison between two Announce-derived candidates, per-port and
// global reduction across a ptp instance's ports, and the IEEE 1588
// State Decision recommendation for each port.
package bmca

import (
	"golang.org/x/exp/slices"

	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
)

// Comparison is the outcome of comparing two candidates.
type Comparison int8

const (
	// ABetter means A outranks B.
	ABetter Comparison = 1
	// Equal means the two candidates tie on every comparison field.
	Equal Comparison = 0
	// BBetter means B outranks A.
	BBetter Comparison = -1
)

// Candidate is one contender in a BMCA comparison: either a foreign
// master's Announce or this instance's own DefaultDS acting as a
// virtual Announce (E_rbest in spec terms).
type Candidate struct {
	// Port is the port this candidate was heard on. Zero value (the
	// port-identity zero value) marks the instance's own DefaultDS
	// candidate, which is not attached to any single port.
	Port ptp.PortIdentity
	// IsLocal marks the instance's own DefaultDS candidate.
	IsLocal bool

	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
	StepsRemoved            uint16
	SenderIdentity          ptp.ClockIdentity
	PathTrace               []ptp.ClockIdentity
}

// FromAnnounce builds a Candidate from a foreign-master record's Announce.
func FromAnnounce(port ptp.PortIdentity, a *ptp.Announce) Candidate {
	c := Candidate{
		Port:                    port,
		GrandmasterIdentity:     a.GrandmasterIdentity,
		GrandmasterClockQuality: a.GrandmasterClockQuality,
		GrandmasterPriority1:    a.GrandmasterPriority1,
		GrandmasterPriority2:    a.GrandmasterPriority2,
		StepsRemoved:            a.StepsRemoved,
		SenderIdentity:          a.SourcePortIdentity.ClockIdentity,
	}
	for _, tlv := range a.TLVs {
		if pt, ok := tlv.(*ptp.PathTraceTLV); ok {
			c.PathTrace = pt.PathSequence
			break
		}
	}
	return c
}

// FromDefaultDS builds the instance's own virtual candidate.
func FromDefaultDS(d *datasets.DefaultDS) Candidate {
	return Candidate{
		IsLocal:                 true,
		GrandmasterIdentity:     d.ClockIdentity,
		GrandmasterClockQuality: d.ClockQuality,
		GrandmasterPriority1:    d.Priority1,
		GrandmasterPriority2:    d.Priority2,
		StepsRemoved:            0,
		SenderIdentity:          d.ClockIdentity,
	}
}

// stepsRemovedTolerance absorbs a 1-step difference so two announces
// from the same grandmaster that differ only by the path length last
// observed at the receiver don't flap the comparison result.
const stepsRemovedTolerance = 1

// Compare implements spec §4.4 Step 1's lexicographic dataset
// comparison between two candidates.
func Compare(a, b Candidate) Comparison {
	if a.GrandmasterIdentity == b.GrandmasterIdentity {
		switch {
		case a.StepsRemoved+stepsRemovedTolerance < b.StepsRemoved:
			return ABetter
		case b.StepsRemoved+stepsRemovedTolerance < a.StepsRemoved:
			return BBetter
		}
		// within tolerance: fall through to identity tiebreak below,
		// using sender identity so two equally-close relays don't tie
		return compareSender(a, b)
	}

	if a.GrandmasterPriority1 != b.GrandmasterPriority1 {
		return lowerWins(a.GrandmasterPriority1, b.GrandmasterPriority1)
	}
	if a.GrandmasterClockQuality.ClockClass != b.GrandmasterClockQuality.ClockClass {
		return lowerWins(uint8(a.GrandmasterClockQuality.ClockClass), uint8(b.GrandmasterClockQuality.ClockClass))
	}
	if a.GrandmasterClockQuality.ClockAccuracy != b.GrandmasterClockQuality.ClockAccuracy {
		return lowerWins(uint8(a.GrandmasterClockQuality.ClockAccuracy), uint8(b.GrandmasterClockQuality.ClockAccuracy))
	}
	if a.GrandmasterClockQuality.OffsetScaledLogVariance != b.GrandmasterClockQuality.OffsetScaledLogVariance {
		return lowerWins16(a.GrandmasterClockQuality.OffsetScaledLogVariance, b.GrandmasterClockQuality.OffsetScaledLogVariance)
	}
	if a.GrandmasterPriority2 != b.GrandmasterPriority2 {
		return lowerWins(a.GrandmasterPriority2, b.GrandmasterPriority2)
	}
	if a.GrandmasterIdentity < b.GrandmasterIdentity {
		return ABetter
	}
	return BBetter
}

func compareSender(a, b Candidate) Comparison {
	switch {
	case a.SenderIdentity < b.SenderIdentity:
		return ABetter
	case a.SenderIdentity > b.SenderIdentity:
		return BBetter
	default:
		return Equal
	}
}

func lowerWins(a, b uint8) Comparison {
	if a < b {
		return ABetter
	}
	if a > b {
		return BBetter
	}
	return Equal
}

func lowerWins16(a, b uint16) Comparison {
	if a < b {
		return ABetter
	}
	if a > b {
		return BBetter
	}
	return Equal
}

// Best reduces a slice of candidates to the single best one via
// repeated pairwise Compare calls (spec §4.4 Steps 2-3). Sorting first
// with a stable, deterministic key keeps the result reproducible across
// runs with identical inputs, per spec's determinism invariant.
func Best(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	slices.SortFunc(ordered, func(x, y Candidate) bool {
		return Compare(x, y) == ABetter
	})

	best := ordered[0]
	for _, c := range ordered[1:] {
		if Compare(c, best) == ABetter {
			best = c
		}
	}
	return best, true
}

// Recommendation is the IEEE 1588 State Decision outcome for one port.
type Recommendation uint8

const (
	// RecommendMaster (M1/M2/M3): this port should become Master.
	RecommendMaster Recommendation = iota
	// RecommendSlave (S1): this port should become Slave.
	RecommendSlave
	// RecommendPassive (P1/P2): this port should become Passive.
	RecommendPassive
)

// Decide runs spec §4.4 Steps 2-4 across every port's foreign-master
// candidates plus the instance's own DefaultDS candidate, returning the
// recommendation for each port and the global best (E_rbest).
//
// perPort maps each non-disabled port to its live foreign-master
// candidates; only ports present in the map receive a recommendation. A
// present port with no live candidates contributes no E_best and is
// recommended Master if the instance turns out to be its own grandmaster.
func Decide(local Candidate, perPort map[ptp.PortIdentity][]Candidate) (map[ptp.PortIdentity]Recommendation, Candidate) {
	portBest := make(map[ptp.PortIdentity]Candidate, len(perPort))
	globalCandidates := []Candidate{local}
	for port, candidates := range perPort {
		best, ok := Best(candidates)
		if !ok {
			continue
		}
		portBest[port] = best
		globalCandidates = append(globalCandidates, best)
	}

	rbest, _ := Best(globalCandidates)
	localIsBest := rbest.IsLocal

	recommendations := make(map[ptp.PortIdentity]Recommendation, len(perPort))
	for port := range perPort {
		best, hasBest := portBest[port]
		switch {
		case hasBest && !best.IsLocal && Compare(best, rbest) == Equal:
			recommendations[port] = RecommendSlave
		case localIsBest:
			recommendations[port] = RecommendMaster
		case hasBest && Compare(best, local) == ABetter:
			recommendations[port] = RecommendPassive
		default:
			recommendations[port] = RecommendMaster
		}
	}
	return recommendations, rbest
}

// PathTraceLoop reports whether identity already appears in trace,
// per spec §4.4 Step 5's loop-detection rule.
func PathTraceLoop(trace []ptp.ClockIdentity, identity ptp.ClockIdentity) bool {
	for _, id := range trace {
		if id == identity {
			return true
		}
	}
	return false
}
