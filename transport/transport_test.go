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
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/clockbound/ptp/protocol"
)

func TestEventGeneralClassification(t *testing.T) {
	require.Equal(t, Event, eventGeneralClass(ptp.MessageSync))
	require.Equal(t, Event, eventGeneralClass(ptp.MessageDelayReq))
	require.Equal(t, Event, eventGeneralClass(ptp.MessagePDelayReq))
	require.Equal(t, Event, eventGeneralClass(ptp.MessagePDelayResp))
	require.Equal(t, General, eventGeneralClass(ptp.MessageAnnounce))
	require.Equal(t, General, eventGeneralClass(ptp.MessageFollowUp))
}

func TestHtonsIsBigEndian(t *testing.T) {
	require.Equal(t, uint16(0xF788), htons(0x88F7))
	require.Equal(t, uint16(0x0102), htons(0x0201))
}

func TestClassForPayloadFallsBackToGeneralOnDecodeError(t *testing.T) {
	require.Equal(t, General, classForPayload([]byte{}))
}
