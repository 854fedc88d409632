// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package session implements the Session Core state machine, grounded
// on S2OPC's session_core_1.c/session_core_2.c for the
// state-transition shape, expressed the way the upstream client
// expresses its own Session type in client.go (a plain struct with
// explicit state, guarded by the owning manager's lock rather than
// its own).
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/wattgrid/opcua-core/auth"
	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/ua"
)

// State is one of the nine session lifecycle states.
type State int

const (
	StateInit State = iota
	StateCreating
	StateCreated
	StateUserActivating
	StateUserActivated
	StateSCActivating
	StateSCOrphaned
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateUserActivating:
		return "userActivating"
	case StateUserActivated:
		return "userActivated"
	case StateSCActivating:
		return "scActivating"
	case StateSCOrphaned:
		return "scOrphaned"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ID identifies a session.
type ID uint32

// Session is one per-session record. All field
// access must go through Manager, which owns the lock.
type Session struct {
	ID      ID
	state   State
	channel *channel.ID // absent (nil) in init, scOrphaned, closed

	orphanedFromConfig channel.ConfigID
	orphaned           bool

	User *auth.User

	Token       []byte // sessionToken: opaque, server-generated
	NonceClient []byte
	NonceServer []byte

	RequestedTimeout time.Duration
	RevisedTimeout   time.Duration
	CreatedAt        time.Time
	LastActivity     time.Time

	// stats are the per-session diagnostics counters.
	stats Stats
}

// Stats are diagnostic counters grounded on S2OPC's session_core_1
// read/write-count bookkeeping. Nothing in this module increments
// them, so every count stays zero.
type Stats struct {
	ReadCount  uint64
	WriteCount uint64
	BrowseCount uint64
}

// Stats returns a snapshot of this session's diagnostic counters.
func (s *Session) Stats() Stats { return s.stats }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Channel returns the bound channel id, if any.
func (s *Session) Channel() (channel.ID, bool) {
	if s.channel == nil {
		return 0, false
	}
	return *s.channel, true
}

// OrphanedFromConfig returns the channel-config descriptor the
// session was orphaned from, valid only while the session is in
// scOrphaned.
func (s *Session) OrphanedFromConfig() (channel.ConfigID, bool) {
	if !s.orphaned {
		return 0, false
	}
	return s.orphanedFromConfig, true
}

// Manager owns the session table and enforces the state machine. One
// Manager instance is shared by the server's session manager and
// dispatcher.
type Manager struct {
	mu sync.Mutex

	capacity int
	nextID   ID
	sessions map[ID]*Session
	byToken  map[string]ID

	defaultTimeout time.Duration
	minTimeout     time.Duration
	maxTimeout     time.Duration
}

// NewManager builds a session table with room for up to capacity
// concurrent sessions.
func NewManager(capacity int) *Manager {
	return &Manager{
		capacity:       capacity,
		sessions:       make(map[ID]*Session),
		byToken:        make(map[string]ID),
		defaultTimeout: 10 * time.Minute,
		minTimeout:     10 * time.Second,
		maxTimeout:     2 * time.Hour,
	}
}

// InitNewSession returns a fresh session in state init, or false if
// capacity is reached.
func (m *Manager) InitNewSession() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, other := range m.sessions {
		if other.state != StateClosed {
			active++
		}
	}
	if active >= m.capacity {
		return nil, false
	}
	m.nextID++
	s := &Session{ID: m.nextID, state: StateInit, CreatedAt: time.Now(), LastActivity: time.Now()}
	m.sessions[s.ID] = s
	debug.Printf("session %d: init", s.ID)
	return s, true
}

// clampTimeout bounds a requested session timeout to [minTimeout,
// maxTimeout], falling back to defaultTimeout when the client asks
// for zero.
func (m *Manager) clampTimeout(requested float64) time.Duration {
	if requested <= 0 {
		return m.defaultTimeout
	}
	d := time.Duration(requested) * time.Millisecond
	if d < m.minTimeout {
		return m.minTimeout
	}
	if d > m.maxTimeout {
		return m.maxTimeout
	}
	return d
}

// newToken generates an opaque, unguessable session token.
func newToken() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, uaerr.Wrap(err, "session: generate token")
	}
	return b, nil
}

// CreateSessionReqAndResp binds s to ch and publishes a fresh session
// token and revised timeout. Must be called on a session in state
// init/creating.
func (m *Manager) CreateSessionReqAndResp(s *Session, ch channel.ID, clientNonce []byte, requestedTimeout float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.state != StateInit && s.state != StateCreating {
		return ua.StatusBadInvalidState
	}
	token, err := newToken()
	if err != nil {
		return err
	}
	serverNonce, err := newToken()
	if err != nil {
		return err
	}

	s.state = StateCreated
	s.channel = &ch
	s.Token = token
	s.NonceClient = clientNonce
	s.NonceServer = serverNonce
	s.RequestedTimeout = time.Duration(requestedTimeout) * time.Millisecond
	s.RevisedTimeout = m.clampTimeout(requestedTimeout)
	s.LastActivity = time.Now()
	m.byToken[string(token)] = s.ID
	debug.Printf("session %d: created on channel %d, timeout=%s", s.ID, ch, s.RevisedTimeout)
	return nil
}

// LookupByToken resolves a session by its wire sessionToken, used by
// the session manager to validate incoming requests.
func (m *Manager) LookupByToken(token []byte) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[string(token)]
	if !ok {
		return nil, false
	}
	return m.sessions[id], true
}

// Get resolves a session by id.
func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// activationGuard implements the server-side activation
// guard table, returning whether the transition to userActivating (or
// scActivating) is accepted.
func activationGuard(s *Session, reqChannel channel.ID, sameUser bool) bool {
	channelMatch := s.channel != nil && *s.channel == reqChannel
	switch s.state {
	case StateCreated:
		return channelMatch
	case StateUserActivated:
		if channelMatch && !sameUser {
			return true // user change on same channel
		}
		if !channelMatch && sameUser {
			return true // channel change, orphan-less reactivation
		}
		return false
	case StateSCOrphaned:
		return !channelMatch && sameUser
	default:
		return false
	}
}

// ActivateSession validates and applies an ActivateSessionRequest
// against s arriving on reqChannel for user, per the
// server-side activation guard table. On success s moves to
// userActivated and a fresh server nonce is issued.
func (m *Manager) ActivateSession(s *Session, reqChannel channel.ID, user *auth.User) (serverNonce []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sameUser := s.User != nil && user != nil && s.User.UserID() == user.UserID()
	if s.state == StateInit || s.state == StateClosing || s.state == StateClosed {
		return nil, ua.StatusBadInvalidState
	}
	if !activationGuard(s, reqChannel, sameUser) {
		return nil, ua.StatusBadInvalidState
	}
	if s.state == StateSCOrphaned {
		debug.Printf("session %d: reactivating, orphaned from config %d", s.ID, s.orphanedFromConfig)
	}

	nonce, genErr := newToken()
	if genErr != nil {
		return nil, genErr
	}

	s.channel = &reqChannel
	s.User = user
	s.NonceServer = nonce
	s.orphaned = false
	s.state = StateUserActivated
	s.LastActivity = time.Now()
	debug.Printf("session %d: activated on channel %d", s.ID, reqChannel)
	return nonce, nil
}

// CloseSession transitions s to closed and releases its table
// entries: all resources bound to the session are released on entry
// to the closed state.
func (m *Manager) CloseSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(s)
}

func (m *Manager) closeLocked(s *Session) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.channel = nil
	delete(m.byToken, string(s.Token))
	s.Token = nil
	s.NonceClient = nil
	s.NonceServer = nil
	debug.Printf("session %d: closed", s.ID)
}

// ChannelLost implements the channel-loss handler: every
// session bound to ch moves to scOrphaned (if userActivated,
// retaining its user and the lost channel's configIdx in
// orphanedFromConfig) or closed (otherwise).
func (m *Manager) ChannelLost(ch channel.ID, cfg channel.ConfigID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.channel == nil || *s.channel != ch {
			continue
		}
		if s.state == StateUserActivated {
			s.state = StateSCOrphaned
			s.channel = nil
			s.orphaned = true
			s.orphanedFromConfig = cfg
			debug.Printf("session %d: orphaned by loss of channel %d, config %d", s.ID, ch, cfg)
		} else {
			m.closeLocked(s)
		}
	}
}

// SweepExpired closes every session whose RevisedTimeout has elapsed
// since LastActivity, grounded on S2OPC's session_core_1 timeout-check
// loop. Returns the ids closed.
func (m *Manager) SweepExpired(now time.Time) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []ID
	for id, s := range m.sessions {
		if s.state == StateClosed {
			continue
		}
		if s.RevisedTimeout <= 0 {
			continue
		}
		if now.Sub(s.LastActivity) > s.RevisedTimeout {
			m.closeLocked(s)
			closed = append(closed, id)
		}
	}
	return closed
}

// Touch refreshes a session's last-activity timestamp; callers invoke
// this whenever a request bound to the session is processed, resetting
// the timeout sweep's clock.
func (m *Manager) Touch(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.LastActivity = time.Now()
}
