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

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// LinkEvent reports a network interface's carrier state changing, fed
// to the owning port's HandleFault/HandleFaultyBackoffExpired.
type LinkEvent struct {
	Interface string
	Up        bool
}

// LinkMonitor watches RTNLGRP_LINK netlink notifications for carrier
// up/down transitions on a set of interfaces, so a port can fault over
// the moment its cable (or its peer's) drops rather than waiting out a
// full announce-receipt timeout.
type LinkMonitor struct {
	conn   *rtnetlink.Conn
	ifaces map[int]string
	events chan LinkEvent
	errs   chan error
}

// NewLinkMonitor subscribes to link-state changes for the named
// interfaces.
func NewLinkMonitor(interfaces []string) (*LinkMonitor, error) {
	conn, err := rtnetlink.Dial(&netlink.Config{Groups: unix.RTMGRP_LINK})
	if err != nil {
		return nil, fmt.Errorf("transport: dialing rtnetlink: %w", err)
	}

	ifaces := make(map[int]string, len(interfaces))
	for _, name := range interfaces {
		link, err := conn.Link.Get(nameToIndex(conn, name))
		if err != nil {
			log.Warnf("link monitor: unable to resolve %s: %v", name, err)
			continue
		}
		ifaces[int(link.Index)] = name
	}

	m := &LinkMonitor{
		conn:   conn,
		ifaces: ifaces,
		events: make(chan LinkEvent, 16),
		errs:   make(chan error, 1),
	}
	go m.readLoop()
	return m, nil
}

func nameToIndex(conn *rtnetlink.Conn, name string) uint32 {
	links, err := conn.Link.List()
	if err != nil {
		return 0
	}
	for _, l := range links {
		if l.Attributes != nil && l.Attributes.Name == name {
			return l.Index
		}
	}
	return 0
}

func (m *LinkMonitor) readLoop() {
	for {
		msgs, _, err := m.conn.Receive()
		if err != nil {
			m.errs <- err
			return
		}
		for _, msg := range msgs {
			link, ok := msg.(*rtnetlink.LinkMessage)
			if !ok {
				continue
			}
			name, tracked := m.ifaces[int(link.Index)]
			if !tracked {
				continue
			}
			m.events <- LinkEvent{
				Interface: name,
				Up:        link.Flags&unix.IFF_RUNNING != 0,
			}
		}
	}
}

// Events returns the channel of link state transitions.
func (m *LinkMonitor) Events() <-chan LinkEvent {
	return m.events
}

// Close releases the netlink socket.
func (m *LinkMonitor) Close() error {
	return m.conn.Close()
}
