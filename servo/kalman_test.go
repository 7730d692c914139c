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

package servo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestKalman() *KalmanServo {
	cfg := DefaultKalmanServoCfg()
	cfg.MeasurementNoise = 100
	return NewKalmanServo(DefaultServoConfig(), cfg)
}

func TestKalmanFirstSampleIsInit(t *testing.T) {
	k := newTestKalman()
	now := time.Now()

	phase, _, state := k.Sample(50000, now)
	require.Equal(t, StateInit, state)
	require.Equal(t, int64(50000), phase)
}

func TestKalmanConvergesTowardSteadyOffset(t *testing.T) {
	k := newTestKalman()
	now := time.Now()
	k.Sample(1000, now)

	var lastPhase int64
	for i := 1; i <= 20; i++ {
		now = now.Add(time.Second)
		lastPhase, _, _ = k.Sample(1000, now)
	}
	require.InDelta(t, 1000, lastPhase, 50)
}

func TestKalmanLocksAfterStableRun(t *testing.T) {
	k := newTestKalman()
	now := time.Now()
	k.Sample(0, now)

	var state State
	for i := 1; i <= 10; i++ {
		now = now.Add(time.Second)
		_, _, state = k.Sample(0, now)
	}
	require.Equal(t, StateLocked, state)
}

func TestKalmanClipsOutlier(t *testing.T) {
	k := newTestKalman()
	now := time.Now()
	k.Sample(0, now)

	for i := 1; i <= 5; i++ {
		now = now.Add(time.Second)
		k.Sample(0, now)
	}

	now = now.Add(time.Second)
	phase, _, state := k.Sample(10_000_000, now)
	require.Equal(t, StateJump, state)
	// the filter must not jump all the way to the outlier value.
	require.Less(t, phase, int64(5_000_000))
}

func TestKalmanResetReturnsToPrior(t *testing.T) {
	k := newTestKalman()
	now := time.Now()
	k.Sample(5000, now)
	k.Reset()

	phase, _, state := k.Sample(5000, now.Add(time.Second))
	require.Equal(t, StateInit, state)
	require.Equal(t, int64(5000), phase)
}

func TestKalmanStaleness(t *testing.T) {
	k := newTestKalman()
	now := time.Now()
	k.Sample(0, now)

	require.False(t, k.IsStale(now.Add(time.Second), time.Second))
	require.True(t, k.IsStale(now.Add(5*time.Second), time.Second))
}

func TestKalmanStalenessBeforeFirstSample(t *testing.T) {
	k := newTestKalman()
	require.False(t, k.IsStale(time.Now(), time.Second))
}
