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

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockbound/ptp/datasets"
	ptp "github.com/clockbound/ptp/protocol"
)

func testPort() ptp.PortIdentity {
	return ptp.PortIdentity{ClockIdentity: 0x001122fffe334455, PortNumber: 1}
}

func TestReporterCounters(t *testing.T) {
	defaultDS := &datasets.DefaultDS{Priority1: 128, Priority2: 128, DomainNumber: 0, NumberOfPorts: 1}
	currentDS := &datasets.CurrentDS{}
	parentDS := &datasets.ParentDS{}
	tprop := &datasets.TimePropertiesDS{}

	r := New(defaultDS, currentDS, parentDS, tprop, func() map[ptp.PortIdentity]ptp.PortState {
		return map[ptp.PortIdentity]ptp.PortState{testPort(): ptp.PortStateSlave}
	})

	r.IncRX(ptp.MessageAnnounce)
	r.IncRX(ptp.MessageAnnounce)
	r.IncTX(ptp.MessageSync)
	r.IncDrop(ptp.MessageDelayResp)
	r.IncDecodeError()
	r.IncPolicyRejection()
	r.IncProtocolInconsistency()
	r.IncFault()
	r.IncFilterReset()

	require.Equal(t, uint64(2), *r.rx[ptp.MessageAnnounce])
	require.Equal(t, uint64(1), *r.tx[ptp.MessageSync])
	require.Equal(t, uint64(1), *r.drop[ptp.MessageDelayResp])

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["ptp_priority1"])
	require.True(t, names["ptp_decode_errors_total"])
	require.True(t, names["ptp_port_state"])
}

func TestReporterUnknownMessageTypeIgnored(t *testing.T) {
	defaultDS := &datasets.DefaultDS{}
	r := New(defaultDS, &datasets.CurrentDS{}, &datasets.ParentDS{}, &datasets.TimePropertiesDS{}, nil)
	r.IncRX(ptp.MessageManagement)
	r.IncTX(ptp.MessageSignaling)
	r.IncDrop(ptp.MessageManagement)

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
