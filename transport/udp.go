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

	"golang.org/x/net/ipv4"

	"github.com/clockbound/ptp/dscp"
	ptp "github.com/clockbound/ptp/protocol"
	"github.com/clockbound/ptp/timestamp"
)

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	Interface     string
	IP            net.IP // bind address; net.IPv4zero/net.IPv6zero for "any"
	TimestampType timestamp.Timestamp
	JoinMulticast bool
	// DSCP, if non-zero, marks outgoing packets on both sockets with this
	// code point so network devices along the path prioritize PTP
	// traffic over best-effort (spec §6's transport is silent on QoS,
	// but every deployment the teacher's sptp/ptp4u serve carries DSCP
	// marking as a day-one requirement).
	DSCP int
}

// UDP is a UDP/IPv4 or UDP/IPv6 transport binding the standard PTP event
// (319) and general (320) ports, optionally joining the primary and
// peer-delay multicast groups. Multicast join covers the IPv4 groups
// only; an IPv6 binding joins no group. Grounded on the teacher's
// startEventListener/startGeneralListener pair: one socket per port,
// timestamping enabled at bind time, Recv reading whichever socket has
// data via a shared epoll-free blocking read per goroutine.
type UDP struct {
	cfg UDPConfig

	eventConn   *net.UDPConn
	generalConn *net.UDPConn
	eventFd     int
	generalFd   int

	inbound chan Inbound
	errs    chan error
}

// NewUDP opens both PTP ports on cfg.IP, enables RX timestamping, and
// (if requested) joins the standard PTP multicast groups on cfg.Interface.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	eventConn, err := net.ListenUDP(udpNetwork(cfg.IP), &net.UDPAddr{IP: cfg.IP, Port: ptp.PortEvent})
	if err != nil {
		return nil, fmt.Errorf("transport: binding event port: %w", err)
	}
	generalConn, err := net.ListenUDP(udpNetwork(cfg.IP), &net.UDPAddr{IP: cfg.IP, Port: ptp.PortGeneral})
	if err != nil {
		eventConn.Close()
		return nil, fmt.Errorf("transport: binding general port: %w", err)
	}

	eventFd, err := timestamp.ConnFd(eventConn)
	if err != nil {
		eventConn.Close()
		generalConn.Close()
		return nil, err
	}
	generalFd, err := timestamp.ConnFd(generalConn)
	if err != nil {
		eventConn.Close()
		generalConn.Close()
		return nil, err
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("transport: looking up %s: %w", cfg.Interface, err)
		}
	}
	if err := timestamp.EnableTimestamps(cfg.TimestampType, eventFd, ifi); err != nil {
		eventConn.Close()
		generalConn.Close()
		return nil, fmt.Errorf("transport: enabling RX timestamps: %w", err)
	}

	if cfg.JoinMulticast {
		if err := joinMulticastGroups(eventConn, cfg.Interface, cfg.IP); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, err
		}
		if err := joinMulticastGroups(generalConn, cfg.Interface, cfg.IP); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, err
		}
	}

	if cfg.DSCP != 0 {
		if err := dscp.Enable(eventFd, cfg.IP, cfg.DSCP); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("transport: marking DSCP on event socket: %w", err)
		}
		if err := dscp.Enable(generalFd, cfg.IP, cfg.DSCP); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("transport: marking DSCP on general socket: %w", err)
		}
	}

	u := &UDP{
		cfg:         cfg,
		eventConn:   eventConn,
		generalConn: generalConn,
		eventFd:     eventFd,
		generalFd:   generalFd,
		inbound:     make(chan Inbound, 64),
		errs:        make(chan error, 2),
	}
	go u.readLoop(u.eventFd, Event)
	go u.readLoop(u.generalFd, General)
	return u, nil
}

func udpNetwork(ip net.IP) string {
	if ip.To4() == nil {
		return "udp6"
	}
	return "udp4"
}

func joinMulticastGroups(conn *net.UDPConn, iface string, bindIP net.IP) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("transport: looking up %s: %w", iface, err)
	}
	pc := ipv4.NewPacketConn(conn)
	groups := []string{ptp.PrimaryMulticastIPv4, ptp.PDelayMulticastIPv4}
	for _, g := range groups {
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(g)}); err != nil {
			return fmt.Errorf("transport: joining %s on %s: %w", g, iface, err)
		}
	}
	return nil
}

func (u *UDP) readLoop(fd int, class Class) {
	buf := make([]byte, timestamp.PayloadSizeBytes)
	oob := make([]byte, timestamp.ControlSizeBytes)
	for {
		n, sa, rxTS, err := timestamp.ReadPacketWithRXTimestampBuf(fd, buf, oob)
		if err != nil {
			u.errs <- err
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		from := net.JoinHostPort(timestamp.SockaddrToIP(sa).String(), fmt.Sprintf("%d", timestamp.SockaddrToPort(sa)))
		u.inbound <- Inbound{
			Payload: payload,
			From:    Endpoint{Addr: from},
			RXTime:  rxTS,
			Class:   class,
		}
	}
}

// Send transmits payload to dst's UDP address on the port matching
// class, returning time.Now() taken at syscall entry as a best-effort
// send time; no hardware TX timestamp is read. The daemon uses this value
// as the Follow-Up's origin time and as a Delay-Req's t3.
func (u *UDP) Send(payload []byte, dst Endpoint, class Class) (time.Time, error) {
	conn := u.generalConn
	if class == Event {
		conn = u.eventConn
	}
	udpAddr, err := net.ResolveUDPAddr(udpNetwork(u.cfg.IP), dst.Addr)
	if err != nil {
		return time.Time{}, fmt.Errorf("transport: resolving %s: %w", dst.Addr, err)
	}
	now := time.Now()
	if _, err := conn.WriteToUDP(payload, udpAddr); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Recv blocks until a message arrives on either port or a read fails.
func (u *UDP) Recv() (Inbound, error) {
	select {
	case in := <-u.inbound:
		return in, nil
	case err := <-u.errs:
		return Inbound{}, err
	}
}

// Close releases both UDP sockets.
func (u *UDP) Close() error {
	err1 := u.eventConn.Close()
	err2 := u.generalConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
