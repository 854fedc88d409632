// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package debug provides gated diagnostic logging for the session and
// secure-channel core. It mirrors the upstream client's package of the same
// name: logging is opt-in and costs nothing when disabled.
package debug

import "log"

// Enable turns debug logging on or off. It is off by default.
var Enable = false

// Printf writes a debug message if Enable is true.
func Printf(format string, v ...interface{}) {
	if !Enable {
		return
	}
	log.Printf(format, v...)
}
