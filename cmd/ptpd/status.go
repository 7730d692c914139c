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
	"encoding/json"
	"net/http"
	"time"

	"github.com/clockbound/ptp/datasets"
)

// portStatus is one port's row in a statusSnapshot, the fields a
// deployer actually wants out of ptpcheck's "status" view: identity,
// state and the path-delay estimate.
type portStatus struct {
	Interface string        `json:"interface"`
	Identity  string        `json:"identity"`
	State     string        `json:"state"`
	MeanDelay time.Duration `json:"mean_delay_ns"`
}

// statusSnapshot is the daemon's live state, serialized over the
// monitoring HTTP port alongside /metrics for the status subcommand to
// poll the way ptpcheck polls ptp4l's management socket, except here
// it's plain JSON over the same port Prometheus already scrapes.
type statusSnapshot struct {
	ClockIdentity        string       `json:"clock_identity"`
	InstanceType         string       `json:"instance_type"`
	IsGrandmaster        bool         `json:"is_grandmaster"`
	GrandmasterIdentity  string       `json:"grandmaster_identity"`
	StepsRemoved         uint16       `json:"steps_removed"`
	OffsetFromMasterNS   int64        `json:"offset_from_master_ns"`
	MeanPathDelayNS       int64        `json:"mean_path_delay_ns"`
	Ports                []portStatus `json:"ports"`
}

func (d *Daemon) snapshot() statusSnapshot {
	defaultDS := d.inst.DefaultDS
	parent := d.inst.ParentDS
	current := d.inst.CurrentDS

	instanceType := "oc"
	if defaultDS.InstanceType == datasets.BoundaryClock {
		instanceType = "bc"
	}

	snap := statusSnapshot{
		ClockIdentity:       defaultDS.ClockIdentity.String(),
		InstanceType:        instanceType,
		IsGrandmaster:       parent.IsGrandmaster(defaultDS.ClockIdentity),
		GrandmasterIdentity: parent.GrandmasterIdentity.String(),
		StepsRemoved:        current.StepsRemoved,
		OffsetFromMasterNS:  int64(current.OffsetFromMaster),
		MeanPathDelayNS:     int64(current.MeanDelay),
	}
	for _, id := range d.order {
		p := d.inst.Port(id)
		if p == nil {
			continue
		}
		pr := d.ports[id]
		snap.Ports = append(snap.Ports, portStatus{
			Interface: pr.cfg.Interface,
			Identity:  id.String(),
			State:     p.State().String(),
			MeanDelay: p.DS.PeerMeanLinkDelay,
		})
	}
	return snap
}

// statusHandler serves the daemon's statusSnapshot as JSON, polled by
// the "status" subcommand rather than requiring its own management
// protocol client (Non-goal: spec excludes the management/signaling
// message set).
func (d *Daemon) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.snapshot())
}

// fetchStatus retrieves a running daemon's statusSnapshot over HTTP,
// used by the CLI "status" subcommand.
func fetchStatus(addr string) (*statusSnapshot, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var snap statusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
