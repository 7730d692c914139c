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
	"math"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
)

const (
	// outlierSigmaFactor bounds how many predicted standard deviations a
	// residual may exceed before it is treated as an outlier.
	outlierSigmaFactor = 10.0

	// staleSyncFactor is how many sync-intervals may pass with no fresh
	// measurement before the filter is considered stale.
	staleSyncFactor = 4.0

	defaultProcessNoisePhase = 1e-4 // ns^2 per second of drift in phase state
	defaultProcessNoiseFreq  = 1e-8 // (ppb)^2 per second of drift in freq state
	defaultMeasurementNoise  = 1e6  // ns^2, inflated until real samples arrive
	initPhaseVariance        = 1e12
	initFreqVariance         = 1e8
)

// KalmanServoCfg configures the two-state (phase, frequency) filter.
type KalmanServoCfg struct {
	ProcessNoisePhase float64
	ProcessNoiseFreq  float64
	MeasurementNoise  float64
	MaxFreq           float64
}

// DefaultKalmanServoCfg returns defaults scaled for a ~1s sync interval,
// matching the magnitude of offsets/frequencies the PI servo config used.
func DefaultKalmanServoCfg() *KalmanServoCfg {
	return &KalmanServoCfg{
		ProcessNoisePhase: defaultProcessNoisePhase,
		ProcessNoiseFreq:  defaultProcessNoiseFreq,
		MeasurementNoise:  defaultMeasurementNoise,
		MaxFreq:           900000000,
	}
}

// kalmanState is the 2x2 covariance matrix P over (phase offset ns,
// frequency offset ppb), stored as its three distinct entries since P
// is symmetric.
type kalmanState struct {
	phase float64 // current phase offset estimate, ns
	freq  float64 // current frequency offset estimate, ppb

	pPhasePhase float64
	pPhaseFreq  float64
	pFreqFreq   float64
}

// KalmanServo is a two-state linear Kalman filter tracking phase and
// frequency offset from a stream of Sync/Delay-Resp measurements, per
// the filter this core's §4.5 describes. It plays the role the PI servo
// plays in simpler implementations, but its internal model is a proper
// state estimator rather than a proportional-integral control loop.
type KalmanServo struct {
	Servo

	cfg   *KalmanServoCfg
	state kalmanState

	residuals *welford.Stats

	lastSampleTime time.Time
	stale          bool

	count int
}

// NewKalmanServo creates a filter with a large-variance prior, matching
// the "unlocked, anything goes" initial state a fresh Slave transition
// needs.
func NewKalmanServo(s Servo, cfg *KalmanServoCfg) *KalmanServo {
	k := &KalmanServo{
		Servo:     s,
		cfg:       cfg,
		residuals: welford.New(),
	}
	k.resetState()
	return k
}

func (k *KalmanServo) resetState() {
	k.state = kalmanState{
		pPhasePhase: initPhaseVariance,
		pFreqFreq:   initFreqVariance,
	}
	k.residuals = welford.New()
	k.count = 0
	k.stale = false
}

// Reset discards the current estimate and reverts to the large-variance
// prior, used on every Slave-port transition (spec §4.5).
func (k *KalmanServo) Reset() {
	log.Debug("kalman servo reset to prior")
	k.resetState()
}

// predict propagates the state forward by dt seconds: phase advances by
// the current frequency estimate, the covariance is carried through the
// phase/frequency coupling, and both variances inflate by the process
// noise accumulated over the interval.
func (k *KalmanServo) predict(dt float64) {
	if dt <= 0 {
		return
	}
	k.state.phase += k.state.freq * dt
	k.state.pPhasePhase += 2*dt*k.state.pPhaseFreq + dt*dt*k.state.pFreqFreq + k.cfg.ProcessNoisePhase*dt
	k.state.pPhaseFreq += dt * k.state.pFreqFreq
	k.state.pFreqFreq += k.cfg.ProcessNoiseFreq * dt
}

// predictedStddev is the current predicted standard deviation of the
// phase estimate, used for outlier gating.
func (k *KalmanServo) predictedStddev() float64 {
	return math.Sqrt(k.state.pPhasePhase + k.cfg.MeasurementNoise)
}

// Sample feeds a new offset measurement (in nanoseconds, signed) taken
// at eventTime into the filter and returns the proposed phase
// correction (ns) and frequency change (ppb) to steer the clock by, and
// the resulting servo State.
func (k *KalmanServo) Sample(offsetNS int64, eventTime time.Time) (phaseCorrectionNS int64, freqPPB float64, state State) {
	offset := float64(offsetNS)

	if k.count == 0 {
		k.state.phase = offset
		k.lastSampleTime = eventTime
		k.count = 1
		k.stale = false
		return offsetNS, k.state.freq, StateInit
	}

	dt := eventTime.Sub(k.lastSampleTime).Seconds()
	k.predict(dt)

	innovation := offset - k.state.phase
	stddev := k.predictedStddev()

	outlier := stddev > 0 && math.Abs(innovation) > outlierSigmaFactor*stddev
	if outlier {
		log.Warnf("kalman servo: clipping outlier innovation %.0fns (%.1f predicted sigma)", innovation, stddev)
		clipped := outlierSigmaFactor * stddev
		if innovation < 0 {
			clipped = -clipped
		}
		innovation = clipped
		// Inflate uncertainty instead of trusting this sample fully.
		k.state.pPhasePhase *= 2
		k.state.pFreqFreq *= 2
	} else {
		k.residuals.Add(innovation)
	}

	r := k.cfg.MeasurementNoise
	s := k.state.pPhasePhase + r
	if s <= 0 {
		s = r
	}
	kPhase := k.state.pPhasePhase / s
	kFreq := k.state.pPhaseFreq / s

	k.state.phase += kPhase * innovation
	k.state.freq += kFreq * innovation

	k.state.pFreqFreq -= kFreq * k.state.pPhaseFreq
	k.state.pPhaseFreq -= kFreq * k.state.pPhasePhase
	k.state.pPhasePhase -= kPhase * k.state.pPhasePhase

	if k.state.freq > k.cfg.MaxFreq {
		k.state.freq = k.cfg.MaxFreq
	} else if k.state.freq < -k.cfg.MaxFreq {
		k.state.freq = -k.cfg.MaxFreq
	}

	k.lastSampleTime = eventTime
	k.stale = false
	k.count++

	state = StateFilter
	if outlier {
		state = StateJump
	} else if k.count > 2 && stddev < k.cfg.MeasurementNoise {
		state = StateLocked
	}

	return int64(math.Round(k.state.phase)), k.state.freq, state
}

// IsStale reports whether no Sync has been observed within 4x the
// port's sync interval, per spec §4.5. Callers should zero CurrentDS
// and suspend steering when this returns true.
func (k *KalmanServo) IsStale(now time.Time, syncInterval time.Duration) bool {
	if k.count == 0 {
		return false
	}
	if now.Sub(k.lastSampleTime) > time.Duration(staleSyncFactor*float64(syncInterval)) {
		k.stale = true
	}
	return k.stale
}

// PhaseEstimate returns the filter's current phase offset estimate, ns.
func (k *KalmanServo) PhaseEstimate() int64 {
	return int64(math.Round(k.state.phase))
}

// FreqEstimate returns the filter's current frequency offset estimate, ppb.
func (k *KalmanServo) FreqEstimate() float64 {
	return k.state.freq
}

// ResidualStddev exposes the running standard deviation of accepted
// (non-outlier) residuals, for observability.
func (k *KalmanServo) ResidualStddev() float64 {
	return k.residuals.Stddev()
}
