// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package channel implements the Channel Manager: the
// single arbitration point that owns which secure channels are
// connected, so the session layer can observe channel identity
// without touching transport internals. It mirrors the upstream client's
// client.go state-tracking fields (c.sechan, c.state atomic.Value)
// generalized to a table that also serves the server side.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/uasc"
)

// ConfigID identifies an immutable channel-endpoint descriptor.
type ConfigID uint32

// ID identifies a connected channel.
type ID uint64

// entry is the manager's bookkeeping record for one channel.
type entry struct {
	id             ID
	configIdx      ConfigID
	endpointIdx    *ConfigID // set iff server-side accepted connection
	sc             *uasc.SecureChannel
	connectedAt    time.Time
	securityPolicy string
	connecting     bool
}

// LastConnectedChannelLostFunc is invoked once when close_all is
// active and the last connected channel is lost, split clientOnly vs server by the
// clientOnly argument.
type LastConnectedChannelLostFunc func(clientOnly bool)

// Manager owns the set of connected channels and pending client-side
// connect intents. All methods are goroutine-safe.
type Manager struct {
	mu sync.Mutex

	capacity int
	byConfig map[ConfigID]*entry
	byID     map[ID]*entry

	closingAll bool
	isClient   bool

	onLastConnectedChannelLost LastConnectedChannelLostFunc
}

// NewManager builds a Manager with room for up to capacity connected
// (or connecting) channels, per invariant 5 (`card(connecting) +
// card(connected) <= card(all channels)`).
func NewManager(capacity int, isClient bool) *Manager {
	return &Manager{
		capacity: capacity,
		byConfig: make(map[ConfigID]*entry),
		byID:     make(map[ID]*entry),
		isClient: isClient,
	}
}

// OnLastConnectedChannelLost registers the one-shot notification
// callback fired by channel_lost during close_all.
func (m *Manager) OnLastConnectedChannelLost(f LastConnectedChannelLostFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLastConnectedChannelLost = f
}

// ClientOpen records a client-side connect intent for configIdx.
// Idempotent while a connect attempt is still pending; fails once the
// manager is at capacity.
func (m *Manager) ClientOpen(configIdx ConfigID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byConfig[configIdx]; ok {
		return e.connecting // idempotent true if already connecting
	}
	if len(m.byConfig) >= m.capacity {
		return false
	}
	m.byConfig[configIdx] = &entry{configIdx: configIdx, connecting: true}
	debug.Printf("channel: client_open config=%d", configIdx)
	return true
}

// ServerNew registers a server-accepted channel, succeeding only if
// neither the channel nor the config is already bound.
func (m *Manager) ServerNew(endpointIdx, configIdx ConfigID, sc *uasc.SecureChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ID(sc.ID())
	if _, ok := m.byID[id]; ok {
		return false
	}
	if _, ok := m.byConfig[configIdx]; ok {
		return false
	}
	e := &entry{
		id:             id,
		configIdx:      configIdx,
		endpointIdx:    &endpointIdx,
		sc:             sc,
		connectedAt:    time.Now(),
		securityPolicy: sc.Config().SecurityPolicyURI,
	}
	m.byConfig[configIdx] = e
	m.byID[id] = e
	debug.Printf("channel: server_new endpoint=%d config=%d channel=%d", endpointIdx, configIdx, id)
	return true
}

// ClientSetConnected promotes a pending connect intent for configIdx
// into a connected channel.
func (m *Manager) ClientSetConnected(configIdx ConfigID, sc *uasc.SecureChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byConfig[configIdx]
	if !ok || !e.connecting {
		return false
	}
	id := ID(sc.ID())
	if _, exists := m.byID[id]; exists {
		return false
	}
	e.connecting = false
	e.id = id
	e.sc = sc
	e.connectedAt = time.Now()
	e.securityPolicy = sc.Config().SecurityPolicyURI
	m.byID[id] = e
	debug.Printf("channel: client_set_connected config=%d channel=%d", configIdx, id)
	return true
}

// ClientConnectTimeout cancels a pending connect intent.
func (m *Manager) ClientConnectTimeout(configIdx ConfigID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byConfig[configIdx]
	if !ok || !e.connecting {
		return false
	}
	delete(m.byConfig, configIdx)
	return true
}

// Close marks a channel as disconnecting; the actual teardown happens
// when ChannelLost is later reported by the transport. Closing here is best-effort: state is not removed until
// ChannelLost fires.
func (m *Manager) Close(id ID) {
	m.mu.Lock()
	e, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	debug.Printf("channel: close channel=%d", id)
	_ = e.sc.Close(context.Background())
}

// CloseAll enters closing mode and asks transport to finalize every
// connected channel, returning whether any channel was closed.
func (m *Manager) CloseAll() bool {
	m.mu.Lock()
	m.closingAll = true
	ids := make([]ID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
	return len(ids) > 0
}

// ChannelLost removes all bindings for id, releases its security
// policy, and fires the one-shot last-connected notification if
// CloseAll is active and no channels remain.
func (m *Manager) ChannelLost(id ID) {
	m.mu.Lock()
	e, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		delete(m.byConfig, e.configIdx)
	}
	closingAll := m.closingAll
	remaining := len(m.byID)
	notify := m.onLastConnectedChannelLost
	clientOnly := m.isClient
	m.mu.Unlock()

	if !ok {
		return
	}
	debug.Printf("channel: channel_lost channel=%d", id)
	if closingAll && remaining == 0 && notify != nil {
		notify(clientOnly)
	}
}

// IsConnected reports whether id refers to a connected (not merely
// connecting) channel.
func (m *Manager) IsConnected(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	return ok && !e.connecting
}

// IsClient reports whether this manager was built for a client role.
func (m *Manager) IsClient() bool { return m.isClient }

// GetInfo returns the SecureChannel bound to id, if any.
func (m *Manager) GetInfo(id ID) (*uasc.SecureChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.sc, true
}

// GetEndpoint returns the endpoint index a server-side channel was
// accepted on.
func (m *Manager) GetEndpoint(id ID) (ConfigID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.endpointIdx == nil {
		return 0, false
	}
	return *e.endpointIdx, true
}

// GetConfig returns the channel-config descriptor id bound to a
// connected channel, the configIdx the session layer needs to thread
// into orphanedFromConfig on channel loss.
func (m *Manager) GetConfig(id ID) (ConfigID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return 0, false
	}
	return e.configIdx, true
}

// GetSecurityPolicy returns the negotiated security policy URI for id.
func (m *Manager) GetSecurityPolicy(id ID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return e.securityPolicy, true
}

// GetConnectionTime returns when id was promoted to connected.
func (m *Manager) GetConnectionTime(id ID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return time.Time{}, false
	}
	return e.connectedAt, true
}
