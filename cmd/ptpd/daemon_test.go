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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clockbound/ptp/datasets"
	"github.com/clockbound/ptp/instance"
	"github.com/clockbound/ptp/port"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/transport"
)

func TestMulticastEndpointUsesPDelayGroupForPeerDelayMessages(t *testing.T) {
	e := multicastEndpoint(ptp.MessagePDelayReq, transport.Event)
	require.Equal(t, net.JoinHostPort(ptp.PDelayMulticastIPv4, "319"), e.Addr)
}

func TestMulticastEndpointUsesPrimaryGroupForEverythingElse(t *testing.T) {
	e := multicastEndpoint(ptp.MessageAnnounce, transport.General)
	require.Equal(t, net.JoinHostPort(ptp.PrimaryMulticastIPv4, "320"), e.Addr)
}

func TestMulticastEndpointEventClassUsesPortEvent(t *testing.T) {
	e := multicastEndpoint(ptp.MessageSync, transport.Event)
	require.Equal(t, net.JoinHostPort(ptp.PrimaryMulticastIPv4, "319"), e.Addr)
}

func testDaemon(t *testing.T) (*Daemon, ptp.PortIdentity) {
	identity := ptp.ClockIdentity(1)
	portID := ptp.PortIdentity{ClockIdentity: identity, PortNumber: 1}
	logOne, _ := ptp.NewLogInterval(time.Second)
	ds := &datasets.PortDS{PortIdentity: portID, LogAnnounceInterval: logOne, LogSyncInterval: logOne, LogMinDelayReqInterval: logOne}
	p := port.New(ds, identity, port.Config{})
	inst := instance.New(&datasets.DefaultDS{ClockIdentity: identity}, &datasets.TimePropertiesDS{}, p)
	inst.RunBMCA(time.Now()) // elects itself grandmaster with no foreign masters heard

	d := &Daemon{
		cfg:   &Config{},
		inst:  inst,
		ports: map[ptp.PortIdentity]*portRuntime{portID: {id: portID, cfg: PortConfig{Interface: "eth0"}}},
		order: []ptp.PortIdentity{portID},
	}
	return d, portID
}

func TestPortByInterfaceFindsConfiguredPort(t *testing.T) {
	d, portID := testDaemon(t)
	id, ok := d.portByInterface("eth0")
	require.True(t, ok)
	require.Equal(t, portID, id)
}

func TestPortByInterfaceUnknownInterface(t *testing.T) {
	d, _ := testDaemon(t)
	_, ok := d.portByInterface("eth9")
	require.False(t, ok)
}

func TestSnapshotReflectsDefaultDSAndPorts(t *testing.T) {
	d, _ := testDaemon(t)
	snap := d.snapshot()

	require.Equal(t, "oc", snap.InstanceType)
	require.True(t, snap.IsGrandmaster)
	require.Len(t, snap.Ports, 1)
	require.Equal(t, "eth0", snap.Ports[0].Interface)
}

func TestNet4ZeroIsIPv4Zero(t *testing.T) {
	require.True(t, net4zero().Equal(net.IPv4zero))
}
