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

package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	ptp "github.com/clockbound/ptp/protocol"
)

// ptpMulticastMAC is the reserved destination MAC for multicast
// PTP-over-802.3 frames (IEEE 1588-2019 Annex F, "01-1B-19-00-00-00").
var ptpMulticastMAC = net.HardwareAddr{0x01, 0x1b, 0x19, 0x00, 0x00, 0x00}

// Raw is a PTP-over-802.3 transport: no IP stack, no multicast-group
// join, just an AF_PACKET socket filtered to EtherType 0x88F7. Used on
// links where IP isn't available between two PTP instances (spec's
// "raw Ethernet" non-default transport).
type Raw struct {
	fd       int
	ifIndex  int
	localMAC net.HardwareAddr
	inbound  chan Inbound
	errs     chan error
}

// NewRaw opens an AF_PACKET socket on iface filtered to EtherTypePTP.
func NewRaw(iface string) (*Raw, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("transport: looking up %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ptp.EtherTypePTP)))
	if err != nil {
		return nil, fmt.Errorf("transport: opening AF_PACKET socket: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(ptp.EtherTypePTP),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: binding to %s: %w", iface, err)
	}

	r := &Raw{
		fd:       fd,
		ifIndex:  ifi.Index,
		localMAC: ifi.HardwareAddr,
		inbound:  make(chan Inbound, 64),
		errs:     make(chan error, 1),
	}
	go r.readLoop()
	return r, nil
}

// htons converts a 16-bit value to network byte order, matching the
// AF_PACKET protocol field's big-endian convention.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func (r *Raw) readLoop() {
	buf := make([]byte, 1536)
	for {
		n, _, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			r.errs <- err
			return
		}
		rxTS := time.Now()

		packet := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		ethLayer := packet.Layer(layers.LayerTypeEthernet)
		if ethLayer == nil {
			continue
		}
		eth := ethLayer.(*layers.Ethernet)
		if eth.EthernetType != layers.EthernetType(ptp.EtherTypePTP) {
			continue
		}

		payload := make([]byte, len(eth.Payload))
		copy(payload, eth.Payload)
		r.inbound <- Inbound{
			Payload: payload,
			From:    Endpoint{HardwareAddr: append([]byte(nil), eth.SrcMAC...)},
			RXTime:  rxTS,
			Class:   classForPayload(payload),
		}
	}
}

// classForPayload probes the PTP message type embedded in payload to
// decide whether it needed RX timestamping, since raw Ethernet has no
// separate event/general "ports" the way UDP does.
func classForPayload(payload []byte) Class {
	t, err := ptp.ProbeMsgType(payload)
	if err != nil {
		return General
	}
	return eventGeneralClass(t)
}

// Send builds an Ethernet frame addressed to dst.HardwareAddr (or the
// PTP multicast MAC if unset) and writes it to the AF_PACKET socket.
func (r *Raw) Send(payload []byte, dst Endpoint, _ Class) (time.Time, error) {
	dstMAC := ptpMulticastMAC
	if len(dst.HardwareAddr) == 6 {
		dstMAC = net.HardwareAddr(dst.HardwareAddr)
	}

	eth := &layers.Ethernet{
		SrcMAC:       r.localMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetType(ptp.EtherTypePTP),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return time.Time{}, fmt.Errorf("transport: serializing frame: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(ptp.EtherTypePTP),
		Ifindex:  r.ifIndex,
		Halen:    6,
	}
	copy(addr.Addr[:], dstMAC)

	now := time.Now()
	if err := unix.Sendto(r.fd, buf.Bytes(), 0, &addr); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Recv blocks until a PTP frame arrives or the read fails.
func (r *Raw) Recv() (Inbound, error) {
	select {
	case in := <-r.inbound:
		return in, nil
	case err := <-r.errs:
		return Inbound{}, err
	}
}

// Close releases the AF_PACKET socket.
func (r *Raw) Close() error {
	return unix.Close(r.fd)
}
