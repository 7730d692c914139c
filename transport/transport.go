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

// Package transport implements the adapters that carry PTP messages over
// a wire: UDP/IPv4, UDP/IPv6 and raw Ethernet (802.3), each able to join
// the appropriate multicast group and attach RX/TX timestamps. Transport
// adapters are deliberately outside the ptp core (spec §4.1): a Network
// only ever hands the core raw bytes plus an RX timestamp, or takes bytes
// plus a destination and returns the TX timestamp it captured sending
// them.
package transport

import (
	"errors"
	"time"

	ptp "github.com/clockbound/ptp/protocol"
)

// ErrNotSupported is the error for operations a given transport doesn't
// implement. The UDP and Raw transports in this package never return it.
var ErrNotSupported = errors.New("transport: not supported")

// Class distinguishes the event (319) and general (320) PTP ports/
// multicast groups a message belongs to.
type Class uint8

const (
	// Event carries Sync, Delay-Req, PDelay-Req, PDelay-Resp — every
	// message type that needs an accurate RX/TX timestamp.
	Event Class = iota
	// General carries Announce, Follow-Up, Delay-Resp, Signaling,
	// Management and PDelay-Resp-Follow-Up.
	General
)

// Endpoint identifies a peer on whichever transport sent or should
// receive a message: a UDP transport fills Addr, a raw-Ethernet
// transport fills HardwareAddr.
type Endpoint struct {
	Addr         string // host:port for UDP transports
	HardwareAddr []byte // 6-byte MAC for the raw-Ethernet transport
}

// Inbound is one received PTP message, handed to the instance for
// decoding and dispatch.
type Inbound struct {
	Payload   []byte
	From      Endpoint
	RXTime    time.Time
	Class     Class
}

// Network is the interface every transport adapter implements. Recv
// blocks until a message arrives or ctx-equivalent cancellation isn't
// modeled here — callers run Recv on its own goroutine per spec §5 and
// feed the result back into the single-threaded core via a channel.
type Network interface {
	// Send transmits payload to dst on class, returning the send time
	// the transport recorded (UDP and Raw return time.Now() taken just
	// before the write, not a captured TX timestamp).
	Send(payload []byte, dst Endpoint, class Class) (time.Time, error)
	// Recv blocks for the next inbound message on either port.
	Recv() (Inbound, error)
	// Close releases the underlying sockets.
	Close() error
}

// eventGeneralClass maps a decoded PTP message type to its Class, used
// by transports that multiplex both ports onto one Recv call.
func eventGeneralClass(t ptp.MessageType) Class {
	switch t {
	case ptp.MessageSync, ptp.MessageDelayReq, ptp.MessagePDelayReq, ptp.MessagePDelayResp:
		return Event
	default:
		return General
	}
}
