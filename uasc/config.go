// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uasc implements the OPC UA Secure Conversation layer
// (Part 6 §6.7): the OpenSecureChannel/CloseSecureChannel handshake
// and the request/response correlation every session-level service
// call rides on top of.
package uasc

import (
	"crypto/rsa"
	"time"

	"github.com/wattgrid/opcua-core/ua"
)

// Config configures a SecureChannel, mirroring the upstream client's
// uasc.Config built by the client's functional options.
type Config struct {
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode
	LocalKey          *rsa.PrivateKey
	RemoteCertificate []byte
	Lifetime          uint32
	RequestTimeout    time.Duration
}

// Option configures a Config, following the upstream client's functional
// options pattern used throughout client.go (Option, ApplyConfig).
type Option func(*Config)

// ApplyConfig builds a Config from a set of options, defaulting
// RequestTimeout the way the upstream client's client.go defaults
// DefaultSessionTimeout/DefaultRequestTimeout.
func ApplyConfig(opts ...Option) *Config {
	cfg := &Config{RequestTimeout: 5 * time.Second, Lifetime: 60 * 60 * 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSecurityPolicyURI sets the channel's security policy.
func WithSecurityPolicyURI(uri string) Option {
	return func(c *Config) { c.SecurityPolicyURI = uri }
}

// WithRequestTimeout sets the default per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// SessionConfig configures the session half of the handshake,
// mirroring the upstream client's uasc.SessionConfig.
type SessionConfig struct {
	SessionName             string
	ClientDescription       ua.ApplicationDescription
	ServerURI               string
	RequestedSessionTimeout float64
	LocaleIDs               []string
	UserIdentityToken       interface{}
}
