// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package server wires the Channel Manager, Session Manager, Service
// Dispatcher, address-space store, and user manager into a runnable
// OPC UA server core, driven by one
// internal/loop.Loop the way the upstream client's client.go is driven by one
// monitor(ctx) goroutine.
package server

import (
	"context"
	"time"

	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/auth"
	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/continuation"
	"github.com/wattgrid/opcua-core/dispatcher"
	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/internal/loop"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/sessionmgr"
	"github.com/wattgrid/opcua-core/services"
	"github.com/wattgrid/opcua-core/ua"
	"github.com/wattgrid/opcua-core/uacp"
	"github.com/wattgrid/opcua-core/uasc"
)

// Config configures a Server.
type Config struct {
	Endpoint          string
	ChannelConfig     *uasc.Config
	ChannelCapacity   int
	SessionCapacity   int
	ContinuationQuota int

	Credentials         map[string]string
	ServerDescription   ua.ApplicationDescription
	ServerCertificate   []byte
	Endpoints           []*ua.EndpointDescription
	EndpointURLs        []string
	SessionSweepPeriod  time.Duration
}

// Server is the composed OPC UA server core. It owns no transport
// policy beyond accepting uacp connections at Config.Endpoint; the
// application supplies the address-space content via Store.
type Server struct {
	cfg *Config

	Store addrspace.Store

	channels *channel.Manager
	sessions *session.Manager
	sessmgr  *sessionmgr.Manager
	authMgr  *auth.Manager
	cps      *continuation.Registry

	loop *loop.Loop

	subs map[uint32]bool // registered subscription ids, for DeleteSubscriptions
}

// New builds a Server over store, not yet listening.
func New(cfg *Config, store addrspace.Store) *Server {
	if cfg.SessionSweepPeriod == 0 {
		cfg.SessionSweepPeriod = 30 * time.Second
	}
	sessions := session.NewManager(cfg.SessionCapacity)
	authMgr := auth.NewManager(cfg.Credentials)
	s := &Server{
		cfg:      cfg,
		Store:    store,
		channels: channel.NewManager(cfg.ChannelCapacity, false),
		sessions: sessions,
		authMgr:  authMgr,
		cps:      continuation.NewRegistry(cfg.ContinuationQuota),
		loop:     loop.New(256),
		subs:     make(map[uint32]bool),
	}
	s.sessmgr = sessionmgr.NewManager(sessions, authMgr, s.endpointURLs, cfg.ServerCertificate, cfg.Endpoints)
	return s
}

func (s *Server) endpointURLs(channel.ConfigID) []string { return s.cfg.EndpointURLs }

// Run accepts connections at cfg.Endpoint until ctx is cancelled,
// running the shared event loop and the session-timeout sweep
// (grounded on S2OPC's session_core_1 periodic sweep).
func (s *Server) Run(ctx context.Context) error {
	ln, err := uacp.Listen(s.cfg.Endpoint)
	if err != nil {
		return err
	}
	defer ln.Close()

	go s.loop.Run(ctx)
	go s.sweepLoop(ctx)

	for {
		c, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		go s.acceptChannel(ctx, c)
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.SessionSweepPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.loop.Post(func() {
				for _, id := range s.sessions.SweepExpired(now) {
					s.cps.ReleaseSession(id)
					debug.Printf("server: swept expired session %d", id)
				}
			})
		}
	}
}

func (s *Server) acceptChannel(ctx context.Context, c *uacp.Conn) {
	sc, err := uasc.AcceptSecureChannel(ctx, s.cfg.Endpoint, c, s.cfg.ChannelConfig)
	if err != nil {
		debug.Printf("server: secure channel handshake failed: %v", err)
		c.Close()
		return
	}
	id := channel.ID(sc.ID())
	if !s.channels.ServerNew(0, channel.ConfigID(id), sc) {
		sc.Close(ctx)
		return
	}
	defer s.channels.ChannelLost(id)

	for req := range sc.Requests() {
		reqID, r, ch := req.ID, req.Req, id
		s.loop.Post(func() {
			resp := s.dispatch(ch, r)
			if err := sc.SendResponse(reqID, resp); err != nil {
				debug.Printf("server %d/%d: send response failed: %v", ch, reqID, err)
			}
		})
	}
	cfg, _ := s.channels.GetConfig(id)
	s.sessions.ChannelLost(id, cfg)
}

// resolveSession maps a RequestHeader.AuthenticationToken back to the
// session it names, via the opaque sessionToken carried in the
// NodeID's string identifier -- never by the session's small,
// sequential numeric id, which a client could guess or enumerate.
func (s *Server) resolveSession(token *ua.NodeID) (*session.Session, bool) {
	if token == nil {
		return nil, false
	}
	return s.sessions.LookupByToken([]byte(token.StringID))
}

func (s *Server) dispatch(ch channel.ID, req ua.Request) ua.Response {
	return dispatcher.Dispatch(ch, req, s.resolveSession, s.handle)
}

// handle implements the per-service dispatch table dispatcher.Dispatch
// invokes after classification/validation succeed.
func (s *Server) handle(ch channel.ID, sess *session.Session, req ua.Request) (ua.Response, ua.StatusCode) {
	switch r := req.(type) {
	case *ua.CreateSessionRequest:
		return s.sessmgr.CreateSession(ch, channel.ConfigID(ch), r)
	case *ua.ActivateSessionRequest:
		resp, status := s.sessmgr.ActivateSession(sess, ch, r)
		if status == ua.StatusOK {
			s.sessions.Touch(sess)
		}
		return resp, status
	case *ua.CloseSessionRequest:
		resp := s.sessmgr.CloseSession(sess, r.DeleteSubscriptions, func() { s.releaseSubscriptions(sess) })
		s.cps.ReleaseSession(sess.ID)
		return resp, ua.StatusOK
	case *ua.CancelRequest:
		return s.sessmgr.Cancel(0), ua.StatusOK

	case *ua.ReadRequest:
		s.sessions.Touch(sess)
		return services.Read(s.Store, sess.User, r), ua.StatusOK
	case *ua.WriteRequest:
		s.sessions.Touch(sess)
		return services.Write(s.Store, sess.User, r, false, nil), ua.StatusOK
	case *ua.BrowseRequest:
		s.sessions.Touch(sess)
		return services.Browse(s.Store, s.cps, sess.ID, r), ua.StatusOK
	case *ua.BrowseNextRequest:
		s.sessions.Touch(sess)
		return services.BrowseNext(s.Store, s.cps, sess.ID, r), ua.StatusOK
	case *ua.TranslateBrowsePathsToNodeIDsRequest:
		s.sessions.Touch(sess)
		return services.TranslateBrowsePathsToNodeIDs(s.Store, r), ua.StatusOK
	case *ua.RegisterNodesRequest:
		return services.RegisterNodes(s.Store, r)
	case *ua.UnregisterNodesRequest:
		return services.UnregisterNodes(r)
	case *ua.DeleteSubscriptionsRequest:
		return services.DeleteSubscriptions(r, s.deleteSubscription)

	case *ua.FindServersRequest:
		return services.FindServers(services.ServerDescriptor{
			Application:    s.cfg.ServerDescription,
			DiscoveryURLs:  s.cfg.EndpointURLs,
			HasDiscoveryEP: true,
		}, preferredLocale(r.LocaleIDs)), ua.StatusOK
	case *ua.GetEndpointsRequest:
		return services.GetEndpoints(s.cfg.Endpoints, r), ua.StatusOK

	default:
		return nil, ua.StatusBadServiceUnsupported
	}
}

func preferredLocale(locales []string) string {
	if len(locales) == 0 {
		return ""
	}
	return locales[0]
}

// deleteSubscription reports and clears a registered subscription id.
// MonitoredItems/Subscriptions creation is out of scope, so subs is always empty here; DeleteSubscriptions
// therefore reports BadSubscriptionIdInvalid for every id, which is
// the correct behavior when no subscription can ever exist.
func (s *Server) deleteSubscription(id uint32) bool {
	if !s.subs[id] {
		return false
	}
	delete(s.subs, id)
	return true
}

func (s *Server) releaseSubscriptions(sess *session.Session) {
	s.cps.ReleaseSession(sess.ID)
}
