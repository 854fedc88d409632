// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package id holds the numeric identifiers of well-known nodes in
// namespace 0, the OPC UA "core" information model (Part 5/6). Only
// the subset the core and its tests touch is declared; the full
// namespace-0 table runs into the tens of thousands of entries and is
// explicitly out of this module's scope (it belongs to the
// address-space store collaborator, not the session/dispatcher core).
package id

// Well-known object nodes.
const (
	RootFolder    uint32 = 84
	ObjectsFolder uint32 = 85
	TypesFolder   uint32 = 86
	ViewsFolder   uint32 = 87
	Server        uint32 = 2253
)

// Server status and diagnostics.
const (
	Server_ServerStatus       uint32 = 2256
	Server_ServerStatus_State uint32 = 2259
)

// Reference types.
const (
	References          uint32 = 31
	HierarchicalRefs    uint32 = 33
	NonHierarchicalRefs uint32 = 32
	Organizes           uint32 = 35
	HasComponent        uint32 = 47
	HasProperty         uint32 = 46
	HasTypeDefinition   uint32 = 40
	HasSubtype          uint32 = 45
)

// Node classes, mirrored here as plain uint32 aliases of ua.NodeClass
// values so the constants package has no dependency on ua (keeps the
// dependency order leaves-first).
const (
	ObjectClass        uint32 = 1
	VariableClass      uint32 = 2
	MethodClass        uint32 = 4
	ObjectTypeClass    uint32 = 8
	VariableTypeClass  uint32 = 16
	ReferenceTypeClass uint32 = 32
	DataTypeClass      uint32 = 64
	ViewClass          uint32 = 128
)

// Encoding ids used by the history-read example in the upstream client.
const (
	ReadRawModifiedDetails_Encoding_DefaultBinary uint32 = 628
)
