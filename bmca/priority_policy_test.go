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

	ptp "github.com/clockbound/ptp/protocol"
)

func TestPriorityPolicyRejectsUnsupportedVariable(t *testing.T) {
	_, err := NewPriorityPolicy("priority1 + bogusvar")
	require.Error(t, err)
}

func TestPriorityPolicyEvaluatesSupportedVariables(t *testing.T) {
	p, err := NewPriorityPolicy("stepsremoved > 2 ? 255 : priority1")
	require.NoError(t, err)

	far := Candidate{GrandmasterPriority1: 128, StepsRemoved: 5}
	prio2, err := p.Evaluate(far)
	require.NoError(t, err)
	require.EqualValues(t, 255, prio2)

	near := Candidate{GrandmasterPriority1: 100, StepsRemoved: 1}
	prio2, err = p.Evaluate(near)
	require.NoError(t, err)
	require.EqualValues(t, 100, prio2)
}

func TestPriorityPolicyClampsToUint8Range(t *testing.T) {
	p, err := NewPriorityPolicy("-10")
	require.NoError(t, err)
	prio2, err := p.Evaluate(Candidate{})
	require.NoError(t, err)
	require.EqualValues(t, 0, prio2)

	p, err = NewPriorityPolicy("1000")
	require.NoError(t, err)
	prio2, err = p.Evaluate(Candidate{})
	require.NoError(t, err)
	require.EqualValues(t, 255, prio2)
}

func TestPriorityPolicyFunctions(t *testing.T) {
	p, err := NewPriorityPolicy("min(max(priority1, 10), 200)")
	require.NoError(t, err)
	prio2, err := p.Evaluate(Candidate{GrandmasterPriority1: 5})
	require.NoError(t, err)
	require.EqualValues(t, 10, prio2)
}

func TestNilPriorityPolicyApplyToIsNoop(t *testing.T) {
	var p *PriorityPolicy
	local := Candidate{GrandmasterPriority2: 128}
	out, err := p.ApplyTo(local)
	require.NoError(t, err)
	require.Equal(t, local, out)
}

func TestApplyToOverridesOnlyPriority2(t *testing.T) {
	p, err := NewPriorityPolicy("clockaccuracy")
	require.NoError(t, err)
	local := Candidate{
		GrandmasterIdentity:     42,
		GrandmasterPriority2:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockAccuracy: 0x21},
	}
	out, err := p.ApplyTo(local)
	require.NoError(t, err)
	require.EqualValues(t, 0x21, out.GrandmasterPriority2)
	require.Equal(t, ptp.ClockIdentity(42), out.GrandmasterIdentity)
}
