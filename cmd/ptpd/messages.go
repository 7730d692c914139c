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
	"time"

	ptp "github.com/clockbound/ptp/protocol"
)

// fixed on-wire sizes (header + body, excluding TLVs), used to fill
// Header.MessageLength the way a real encoder must before marshaling
// the Announce/SyncDelayReq/FollowUp/DelayResp types, since their
// MarshalBinaryTo writes whatever MessageLength already holds rather
// than computing it (spec §1 treats the wire codec as a fixed,
// opaque collaborator; filling in its one non-self-describing field is
// the adapter's job, not the core's).
const (
	headerSize            = 34
	syncDelayReqBodySize  = 10
	followUpBodySize      = 10
	delayRespBodySize     = 20
	pdelayReqBodySize     = 20
	pdelayRespBodySize    = 20
	pdelayRespFollowUpLen = 20
)

// headerTemplate is the per-port, rarely-changing half of a Header:
// everything but the message type, sequence and log-interval, which
// vary per outbound message.
type headerTemplate struct {
	sdoID        uint8
	domain       uint8
	version      uint8
	minorVersion uint8
	source       ptp.PortIdentity
}

func (t headerTemplate) header(msgType ptp.MessageType, sequence uint16, logInterval ptp.LogInterval, twoStep bool) ptp.Header {
	flags := uint16(0)
	if twoStep {
		flags |= ptp.FlagTwoStep
	}
	return ptp.Header{
		SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(msgType, t.sdoID),
		Version:            t.minorVersion<<4 | t.version&ptp.MajorVersionMask,
		DomainNumber:       t.domain,
		FlagField:          flags,
		SourcePortIdentity: t.source,
		SequenceID:         sequence,
		LogMessageInterval: logInterval,
	}
}

// buildSync builds an outbound Sync. For one-step operation origin
// carries the best departure-time estimate available; for two-step
// operation it is left zero and the precise value travels in the
// matching Follow-Up, built by buildFollowUp once the real TX
// timestamp is known.
func buildSync(t headerTemplate, seq uint16, logInterval ptp.LogInterval, twoStep bool, origin time.Time) *ptp.SyncDelayReq {
	hdr := t.header(ptp.MessageSync, seq, logInterval, twoStep)
	hdr.MessageLength = headerSize + syncDelayReqBodySize
	return &ptp.SyncDelayReq{
		Header:           hdr,
		SyncDelayReqBody: ptp.SyncDelayReqBody{OriginTimestamp: ptp.NewTimestamp(origin)},
	}
}

// buildFollowUp builds the Follow-Up carrying Sync's true TX timestamp,
// for two-step Master operation.
func buildFollowUp(t headerTemplate, seq uint16, logInterval ptp.LogInterval, preciseOrigin time.Time) *ptp.FollowUp {
	hdr := t.header(ptp.MessageFollowUp, seq, logInterval, false)
	hdr.MessageLength = headerSize + followUpBodySize
	return &ptp.FollowUp{
		Header:       hdr,
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(preciseOrigin)},
	}
}

// buildDelayReq builds an outbound Delay-Req (Slave, E2E).
func buildDelayReq(t headerTemplate, seq uint16, origin time.Time) *ptp.SyncDelayReq {
	hdr := t.header(ptp.MessageDelayReq, seq, ptp.MgmtLogMessageInterval, false)
	hdr.MessageLength = headerSize + syncDelayReqBodySize
	return &ptp.SyncDelayReq{
		Header:           hdr,
		SyncDelayReqBody: ptp.SyncDelayReqBody{OriginTimestamp: ptp.NewTimestamp(origin)},
	}
}

// buildDelayResp builds a Master's reply to a received Delay-Req,
// carrying back the recorded receipt timestamp (spec §4.3's "replies to
// Delay-Req with Delay-Resp containing the recorded receipt
// timestamp").
func buildDelayResp(t headerTemplate, requestSeq uint16, logInterval ptp.LogInterval, requester ptp.PortIdentity, receiptTime time.Time) *ptp.DelayResp {
	hdr := t.header(ptp.MessageDelayResp, requestSeq, logInterval, false)
	hdr.MessageLength = headerSize + delayRespBodySize
	return &ptp.DelayResp{
		Header: hdr,
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(receiptTime),
			RequestingPortIdentity: requester,
		},
	}
}

// buildPDelayReq builds an outbound PDelay-Req (P2P).
func buildPDelayReq(t headerTemplate, seq uint16, origin time.Time) *ptp.PDelayReq {
	hdr := t.header(ptp.MessagePDelayReq, seq, ptp.MgmtLogMessageInterval, false)
	hdr.MessageLength = headerSize + pdelayReqBodySize
	return &ptp.PDelayReq{
		Header:        hdr,
		PDelayReqBody: ptp.PDelayReqBody{OriginTimestamp: ptp.NewTimestamp(origin)},
	}
}

// buildPDelayResp replies to a received PDelay-Req with the requester's
// own identity and the local receipt timestamp.
func buildPDelayResp(t headerTemplate, requestSeq uint16, requester ptp.PortIdentity, requestReceiptTime time.Time) *ptp.PDelayResp {
	hdr := t.header(ptp.MessagePDelayResp, requestSeq, ptp.MgmtLogMessageInterval, false)
	hdr.MessageLength = headerSize + pdelayRespBodySize
	return &ptp.PDelayResp{
		Header: hdr,
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(requestReceiptTime),
			RequestingPortIdentity:  requester,
		},
	}
}

// buildPDelayRespFollowUp carries PDelayResp's true TX timestamp, for
// two-step P2P operation.
func buildPDelayRespFollowUp(t headerTemplate, requestSeq uint16, requester ptp.PortIdentity, responseOrigin time.Time) *ptp.PDelayRespFollowUp {
	hdr := t.header(ptp.MessagePDelayRespFollowUp, requestSeq, ptp.MgmtLogMessageInterval, false)
	hdr.MessageLength = headerSize + pdelayRespFollowUpLen
	return &ptp.PDelayRespFollowUp{
		Header: hdr,
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(responseOrigin),
			RequestingPortIdentity:  requester,
		},
	}
}

// finishAnnounce fills the header fields port.BuildAnnounce leaves
// untouched: it already stamps SourcePortIdentity, SequenceID and
// LogMessageInterval directly (those are IEEE-1588 managed-object
// values the core owns), but SdoIDAndMsgType/Version/DomainNumber are
// wire-codec concerns outside the core (spec §1), so the adapter fills
// them in here before marshaling. MessageLength, which depends on the
// variable-length forwarded-TLV tail, is filled by announceWireBytes.
func finishAnnounce(t headerTemplate, a *ptp.Announce) *ptp.Announce {
	a.SdoIDAndMsgType = ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, t.sdoID)
	a.Version = t.minorVersion<<4 | t.version&ptp.MajorVersionMask
	a.DomainNumber = t.domain
	return a
}

// announceWireBytes marshals a, first to discover the on-wire length of
// its (possibly TLV-bearing) tail and then again with MessageLength
// correctly filled in, since Announce.MarshalBinaryTo writes whatever
// MessageLength already holds rather than computing it.
func announceWireBytes(a *ptp.Announce) ([]byte, error) {
	buf := make([]byte, 512)
	n, err := a.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	a.MessageLength = uint16(n)
	return ptp.Bytes(a)
}
