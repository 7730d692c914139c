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

package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeClock struct {
	steps []time.Duration
	freqs []float64
}

func (f *fakeClock) AdjustFrequency(freqPPB float64) error {
	f.freqs = append(f.freqs, freqPPB)
	return nil
}

func (f *fakeClock) Step(step time.Duration) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeClock) MaxFreqPPB() (float64, error) {
	return 500000, nil
}

func TestApplyActionBelowThresholdAdjustsFrequency(t *testing.T) {
	c := &fakeClock{}
	err := ApplyAction(c, 500, 100.0, time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, c.steps)
	require.Equal(t, []float64{100.0}, c.freqs)
}

func TestApplyActionAboveThresholdSteps(t *testing.T) {
	c := &fakeClock{}
	err := ApplyAction(c, int64(2*time.Second), 100.0, time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, c.freqs)
	require.Equal(t, []time.Duration{2 * time.Second}, c.steps)
}

func TestApplyActionNegativeStepUsesAbsoluteMagnitude(t *testing.T) {
	c := &fakeClock{}
	err := ApplyAction(c, int64(-2*time.Second), 100.0, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{-2 * time.Second}, c.steps)
}

// TestApplyActionAboveThresholdNeverAdjustsFrequency uses a mock, rather
// than the fakeClock above, so an unexpected AdjustFrequency call fails
// the test instead of silently recording it: stepping and steering are
// mutually exclusive per call, never both.
func TestApplyActionAboveThresholdNeverAdjustsFrequency(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewMockClock(ctrl)
	c.EXPECT().Step(2 * time.Second).Return(nil).Times(1)

	err := ApplyAction(c, int64(2*time.Second), 100.0, time.Millisecond)
	require.NoError(t, err)
}

func TestApplyActionPropagatesStepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewMockClock(ctrl)
	wantErr := errors.New("clock_settime: permission denied")
	c.EXPECT().Step(gomock.Any()).Return(wantErr)

	err := ApplyAction(c, int64(2*time.Second), 100.0, time.Millisecond)
	require.ErrorIs(t, err, wantErr)
}

func TestApplyActionPropagatesFrequencyError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewMockClock(ctrl)
	wantErr := errors.New("clock_adjtime: invalid argument")
	c.EXPECT().AdjustFrequency(100.0).Return(wantErr)

	err := ApplyAction(c, 500, 100.0, time.Millisecond)
	require.ErrorIs(t, err, wantErr)
}
