// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package loop implements a single-threaded cooperative event pump:
// the entire core runs on one service goroutine that consumes events
// from an FIFO queue, and every operation runs to completion before
// the next event is dequeued. It generalizes a
// client.go monitor(ctx) goroutine -- a single goroutine draining one
// channel and acting on tagged cases -- into a reusable pump shared
// by client.Client and server.Server.
package loop

import "context"

// Event is one unit of work the loop drains and runs to completion
// before dequeuing the next, preserving the FIFO ordering
// guarantee.
type Event func()

// Loop is a single-goroutine FIFO event pump.
type Loop struct {
	events chan Event
	done   chan struct{}
}

// New builds a Loop with the given queue depth.
func New(queueDepth int) *Loop {
	return &Loop{events: make(chan Event, queueDepth), done: make(chan struct{})}
}

// Post enqueues an event. It never blocks the caller on the event's
// own execution, only on queue capacity, matching the upstream client's
// channel-based signaling into monitor's select loop.
func (l *Loop) Post(e Event) {
	select {
	case l.events <- e:
	case <-l.done:
	}
}

// Run drains events in FIFO order until ctx is cancelled or Stop is
// called. Intended to be the body of the single service goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case e := <-l.events:
			e()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Stop signals Run to return once its current event (if any)
// finishes.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
