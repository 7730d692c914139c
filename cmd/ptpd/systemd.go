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
	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
)

// notifyReady tells systemd (when the process was started as a
// Type=notify unit) that the daemon has finished starting up: every
// port has its transport bound and the event loop is about to start
// consuming. A no-op outside systemd (NOTIFY_SOCKET unset), the same
// way sd_notify itself behaves.
func notifyReady() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("sdnotify: %v", err)
	} else if ok {
		log.Debug("sdnotify: READY=1 sent")
	}
}

// notifyStopping tells systemd the daemon is shutting down cleanly.
func notifyStopping() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warnf("sdnotify: %v", err)
	}
}
