// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "time"

// NodeClass classifies a node (Part 3 §5.2.8).
type NodeClass uint32

const (
	NodeClassUnspecified NodeClass = 0
	NodeClassObject      NodeClass = 1
	NodeClassVariable    NodeClass = 2
	NodeClassMethod      NodeClass = 4
	NodeClassObjectType  NodeClass = 8
	NodeClassVariableType NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType     NodeClass = 64
	NodeClassView         NodeClass = 128
)

// AttributeID identifies a node attribute (Part 6 Table 12). Only the
// subset Read/Write actually touch is declared.
type AttributeID uint32

const (
	AttributeIDNodeID          AttributeID = 1
	AttributeIDNodeClass       AttributeID = 2
	AttributeIDBrowseName      AttributeID = 3
	AttributeIDDisplayName     AttributeID = 4
	AttributeIDDescription     AttributeID = 5
	AttributeIDValue           AttributeID = 13
	AttributeIDAccessLevel     AttributeID = 17
	AttributeIDUserAccessLevel AttributeID = 18
)

// AccessLevel is a bitmask (Part 3 §5.6.2 Table 8).
type AccessLevel byte

const (
	AccessLevelCurrentRead  AccessLevel = 1 << 0
	AccessLevelCurrentWrite AccessLevel = 1 << 1
)

// BrowseDirection filters references by direction (Part 4 §7.6).
type BrowseDirection uint32

const (
	BrowseDirectionForward BrowseDirection = 0
	BrowseDirectionInverse BrowseDirection = 1
	BrowseDirectionBoth    BrowseDirection = 2
)

// TimestampsToReturn selects which timestamps a Read response fills in.
type TimestampsToReturn uint32

const (
	TimestampsToReturnSource TimestampsToReturn = 0
	TimestampsToReturnServer TimestampsToReturn = 1
	TimestampsToReturnBoth   TimestampsToReturn = 2
	TimestampsToReturnNeither TimestampsToReturn = 3
)

// MessageSecurityMode (Part 4 §7.15).
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid MessageSecurityMode = 0
	MessageSecurityModeNone    MessageSecurityMode = 1
	MessageSecurityModeSign    MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// Security policy URIs (Part 7 Annex). Only None and Basic256Sha256
// are meaningfully distinguished by this module's crypto layer.
const (
	SecurityPolicyURINone            = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic256Sha256  = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
)

// UserTokenType (Part 4 §7.36.1).
type UserTokenType uint32

const (
	UserTokenTypeAnonymous UserTokenType = 0
	UserTokenTypeUserName  UserTokenType = 1
	UserTokenTypeCertificate UserTokenType = 2
	UserTokenTypeIssuedToken UserTokenType = 3
)

// Variant holds a single typed value (Part 6 §5.2.2.16), simplified
// to a dynamically typed Go value since the wire encoding is handled
// by the (out-of-scope) codec collaborator, not this module.
type Variant struct {
	v interface{}
}

// MustVariant wraps a Go value in a Variant. Mirrors the upstream client's
// ua.MustVariant convenience constructor used throughout uatest.
func MustVariant(v interface{}) *Variant {
	return &Variant{v: v}
}

// Value returns the underlying Go value.
func (v *Variant) Value() interface{} {
	if v == nil {
		return nil
	}
	return v.v
}

// DataValueMask bits (Part 6 §5.2.2.17), recording which optional
// fields of a DataValue are populated.
type DataValueMask byte

const (
	DataValueValue DataValueMask = 1 << iota
	DataValueStatusCode
	DataValueSourceTimestamp
	DataValueServerTimestamp
)

// DataValue is a value plus quality and timestamps.
type DataValue struct {
	EncodingMask    DataValueMask
	Value           *Variant
	Status          StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// Clone returns a deep-enough copy for subscription notification
// purposes: the Variant's underlying value is not deep-copied (Go
// values of arbitrary type cannot be generically deep-copied without
// reflection-based machinery this module does not need). The pointer
// to the DataValue is fresh, which is what matters for ordering and
// aliasing safety across goroutines.
func (d *DataValue) Clone() *DataValue {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// QualifiedName is a namespace-qualified name (Part 3 §8.3).
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText is a locale/text pair (Part 3 §8.5).
type LocalizedText struct {
	Locale string
	Text   string
}
