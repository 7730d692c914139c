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

package bmca

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
)

func gmCandidate(gm ptp.ClockIdentity, prio1 uint8, class ptp.ClockClass) Candidate {
	return Candidate{
		GrandmasterIdentity:     gm,
		GrandmasterPriority1:    prio1,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: class},
		SenderIdentity:          gm,
	}
}

func TestComparePriority1Wins(t *testing.T) {
	a := gmCandidate(1, 128, 248)
	b := gmCandidate(2, 64, 6)
	require.Equal(t, BBetter, Compare(a, b))
	require.Equal(t, ABetter, Compare(b, a))
}

func TestCompareIdentityTiebreak(t *testing.T) {
	a := gmCandidate(1, 128, 248)
	b := gmCandidate(2, 128, 248)
	require.Equal(t, ABetter, Compare(a, b))
	require.Equal(t, BBetter, Compare(b, a))
}

func TestCompareStepsRemovedTolerance(t *testing.T) {
	gm := ptp.ClockIdentity(1)
	a := gmCandidate(gm, 128, 6)
	a.StepsRemoved = 2
	a.SenderIdentity = 10
	b := gmCandidate(gm, 128, 6)
	b.StepsRemoved = 3
	b.SenderIdentity = 20

	// within tolerance (diff of 1): falls through to sender tiebreak, not steps.
	require.Equal(t, ABetter, Compare(a, b))

	b.StepsRemoved = 4
	// outside tolerance: the fewer-hops candidate wins outright.
	require.Equal(t, ABetter, Compare(a, b))
	require.Equal(t, BBetter, Compare(b, a))
}

func TestBestReducesToSingleWinner(t *testing.T) {
	candidates := []Candidate{
		gmCandidate(3, 200, 248),
		gmCandidate(1, 64, 6),
		gmCandidate(2, 128, 6),
	}
	best, ok := Best(candidates)
	require.True(t, ok)
	require.Equal(t, ptp.ClockIdentity(1), best.GrandmasterIdentity)
}

func TestDecideSingleGMElection(t *testing.T) {
	portA := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 1}

	local := FromDefaultDS(&datasets.DefaultDS{
		ClockIdentity: 0xAAAA,
		Priority1:     128,
		ClockQuality:  ptp.ClockQuality{ClockClass: 248},
	})

	foreign := gmCandidate(0xBBBB, 64, 6)
	foreign.Port = portA

	recs, rbest := Decide(local, map[ptp.PortIdentity][]Candidate{portA: {foreign}})
	require.Equal(t, RecommendSlave, recs[portA])
	require.Equal(t, ptp.ClockIdentity(0xBBBB), rbest.GrandmasterIdentity)
}

func TestDecideLocalIsGrandmaster(t *testing.T) {
	portA := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 1}
	portB := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 2}

	local := FromDefaultDS(&datasets.DefaultDS{
		ClockIdentity: 0xAAAA,
		Priority1:     64,
		ClockQuality:  ptp.ClockQuality{ClockClass: 6},
	})

	worse := gmCandidate(0xBBBB, 200, 248)
	worse.Port = portA

	recs, rbest := Decide(local, map[ptp.PortIdentity][]Candidate{
		portA: {worse},
		portB: {},
	})
	require.True(t, rbest.IsLocal)
	require.Equal(t, RecommendMaster, recs[portA])
	require.Equal(t, RecommendMaster, recs[portB])
}

func TestDecideOtherPortPassiveWhenBetterRogueHeard(t *testing.T) {
	slavePort := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 1}
	rogueHeardPort := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 2}

	local := FromDefaultDS(&datasets.DefaultDS{
		ClockIdentity: 0xAAAA,
		Priority1:     200,
		ClockQuality:  ptp.ClockQuality{ClockClass: 248},
	})

	winner := gmCandidate(0xBBBB, 10, 6)
	winner.Port = slavePort

	rogue := gmCandidate(0xCCCC, 50, 6)
	rogue.Port = rogueHeardPort

	recs, _ := Decide(local, map[ptp.PortIdentity][]Candidate{
		slavePort:       {winner},
		rogueHeardPort:  {rogue},
	})
	require.Equal(t, RecommendSlave, recs[slavePort])
	require.Equal(t, RecommendPassive, recs[rogueHeardPort])
}

func TestPathTraceLoop(t *testing.T) {
	trace := []ptp.ClockIdentity{1, 2, 3}
	require.True(t, PathTraceLoop(trace, 2))
	require.False(t, PathTraceLoop(trace, 4))
}

func TestFromAnnounceExtractsPathTrace(t *testing.T) {
	a := &ptp.Announce{}
	a.GrandmasterIdentity = 7
	a.TLVs = []ptp.TLV{&ptp.PathTraceTLV{PathSequence: []ptp.ClockIdentity{1, 2}}}

	c := FromAnnounce(ptp.PortIdentity{PortNumber: 1}, a)
	require.Equal(t, []ptp.ClockIdentity{1, 2}, c.PathTrace)
	require.Equal(t, ptp.ClockIdentity(7), c.GrandmasterIdentity)
}
