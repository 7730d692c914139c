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
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// priorityPolicyVars lists the candidate fields a PriorityPolicy
// expression may reference. Kept narrow and explicit the way the
// teacher's c4u/clock.prepareExpression whitelists its own variables,
// rather than reflecting over Candidate's fields.
var priorityPolicyVars = []string{
	"priority1",
	"clockclass",
	"clockaccuracy",
	"variance",
	"stepsremoved",
}

var priorityPolicyFuncs = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		return math.Abs(args[0].(float64)), nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("min: wrong number of arguments: want 2, got %d", len(args))
		}
		return math.Min(args[0].(float64), args[1].(float64)), nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("max: wrong number of arguments: want 2, got %d", len(args))
		}
		return math.Max(args[0].(float64), args[1].(float64)), nil
	},
}

// PriorityPolicy is an operator-tunable expression that recomputes a
// candidate's priority2 from its other BMCA fields, e.g. to penalize a
// degraded oscillator class without waiting for a config push. It is
// entirely optional: a nil *PriorityPolicy leaves priority2 as configured.
type PriorityPolicy struct {
	expr *govaluate.EvaluableExpression
}

// NewPriorityPolicy compiles exprStr, rejecting any variable reference
// outside priorityPolicyVars the way the teacher's c4u math.go does.
func NewPriorityPolicy(exprStr string) (*PriorityPolicy, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, priorityPolicyFuncs)
	if err != nil {
		return nil, fmt.Errorf("bmca: compiling priority policy: %w", err)
	}
	for _, v := range expr.Vars() {
		if !isPriorityPolicyVar(v) {
			return nil, fmt.Errorf("bmca: priority policy references unsupported variable %q", v)
		}
	}
	return &PriorityPolicy{expr: expr}, nil
}

func isPriorityPolicyVar(name string) bool {
	for _, v := range priorityPolicyVars {
		if v == name {
			return true
		}
	}
	return false
}

// Evaluate computes the candidate's policy-adjusted priority2, clamped
// to the valid uint8 managed-object range.
func (p *PriorityPolicy) Evaluate(c Candidate) (uint8, error) {
	params := map[string]interface{}{
		"priority1":     float64(c.GrandmasterPriority1),
		"clockclass":    float64(c.GrandmasterClockQuality.ClockClass),
		"clockaccuracy": float64(c.GrandmasterClockQuality.ClockAccuracy),
		"variance":      float64(c.GrandmasterClockQuality.OffsetScaledLogVariance),
		"stepsremoved":  float64(c.StepsRemoved),
	}
	result, err := p.expr.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("bmca: evaluating priority policy: %w", err)
	}
	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("bmca: priority policy must evaluate to a number, got %T", result)
	}
	switch {
	case f < 0:
		return 0, nil
	case f > 255:
		return 255, nil
	default:
		return uint8(f), nil
	}
}

// ApplyTo returns a copy of local with priority2 recomputed by p. Only
// ever applied to the instance's own virtual candidate: a foreign
// master's advertised priority2 is managed-object state owned by that
// remote clock, not ours to rewrite.
func (p *PriorityPolicy) ApplyTo(local Candidate) (Candidate, error) {
	if p == nil {
		return local, nil
	}
	priority2, err := p.Evaluate(local)
	if err != nil {
		return local, err
	}
	local.GrandmasterPriority2 = priority2
	return local, nil
}
