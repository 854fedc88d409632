// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// StatusCode is an OPC UA Part 4 result code. The zero value is
// StatusOK ("Good"), following the wire convention that a Good status
// carries no error bits set.
type StatusCode uint32

// Error implements error so a StatusCode can be returned directly
// from any fallible operation, the way the upstream client returns
// ua.StatusBadServerNotConnected from Client.CreateSession.
func (s StatusCode) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08x)", uint32(s))
}

// String satisfies fmt.Stringer with the same text as Error.
func (s StatusCode) String() string { return s.Error() }

// IsGood reports whether the status represents success.
func (s StatusCode) IsGood() bool { return s == StatusOK }

// IsBad reports whether the top severity bits mark this as a failure.
// OPC UA reserves the top two bits of the 32-bit code for severity:
// 0b00 Good, 0b01 Uncertain, 0b10 Bad.
func (s StatusCode) IsBad() bool { return uint32(s)>>30 == 0b10 }

// Representative status codes. This is not the full Part 4 Appendix A
// table -- only the codes the core actually produces or consumes.
const (
	StatusOK                       StatusCode = 0x00000000
	StatusBadInternalError         StatusCode = 0x80020000
	StatusBadOutOfMemory           StatusCode = 0x80030000
	StatusBadInvalidArgument       StatusCode = 0x80AB0000
	StatusBadInvalidState          StatusCode = 0x80330000
	StatusBadNothingToDo           StatusCode = 0x80240000
	StatusBadTooManyOperations     StatusCode = 0x80250000
	StatusBadNodeIDUnknown         StatusCode = 0x80340000
	StatusBadNodeIDInvalid         StatusCode = 0x80330100
	StatusBadAttributeIDInvalid    StatusCode = 0x80350000
	StatusBadBrowseDirectionInvalid StatusCode = 0x803D0000
	StatusBadNoMatch                StatusCode = 0x80390000
	StatusBadBrowseNameInvalid      StatusCode = 0x80380000
	StatusBadNoContinuationPoints   StatusCode = 0x808A0000
	StatusBadContinuationPointInvalid StatusCode = 0x80880000
	StatusBadServiceUnsupported     StatusCode = 0x80100000
	StatusBadSessionIDInvalid       StatusCode = 0x80250100
	StatusBadSessionClosed          StatusCode = 0x80260000
	StatusBadSessionNotActivated    StatusCode = 0x80270000
	StatusBadTooManySessions        StatusCode = 0x80360000
	StatusBadIdentityTokenInvalid   StatusCode = 0x80410000
	StatusBadIdentityTokenRejected  StatusCode = 0x80420000
	StatusBadUserAccessDenied       StatusCode = 0x801F0000
	StatusBadNotWritable            StatusCode = 0x803B0000
	StatusBadSecureChannelClosed    StatusCode = 0x80560000
	StatusBadSecureChannelIDInvalid StatusCode = 0x80300000
	StatusBadTimeout                StatusCode = 0x800A0000
	StatusBadEncodingError          StatusCode = 0x80620000
	StatusBadDecodingError          StatusCode = 0x80630000
	StatusBadRequestInterrupted     StatusCode = 0x80840000
	StatusUncertainReferenceOutOfServer StatusCode = 0x406C0000
	StatusBadServerNotConnected     StatusCode = 0x809D0000
	StatusBadSubscriptionIDInvalid  StatusCode = 0x80280000
	StatusBadNoSubscription         StatusCode = 0x80610000
	StatusBadUnknownResponse        StatusCode = 0x80B60000
	StatusBadTcpEndpointURLInvalid  StatusCode = 0x80BD0000
	StatusBadCertificateInvalid     StatusCode = 0x80120000
	StatusBadDataTypeIDUnknown      StatusCode = 0x80670000
	StatusBad                       StatusCode = 0x80000000
)

var statusNames = map[StatusCode]string{
	StatusOK:                            "Good",
	StatusBadInternalError:              "BadInternalError",
	StatusBadOutOfMemory:                "BadOutOfMemory",
	StatusBadInvalidArgument:            "BadInvalidArgument",
	StatusBadInvalidState:               "BadInvalidState",
	StatusBadNothingToDo:                "BadNothingToDo",
	StatusBadTooManyOperations:          "BadTooManyOperations",
	StatusBadNodeIDUnknown:              "BadNodeIdUnknown",
	StatusBadNodeIDInvalid:              "BadNodeIdInvalid",
	StatusBadAttributeIDInvalid:         "BadAttributeIdInvalid",
	StatusBadBrowseDirectionInvalid:     "BadBrowseDirectionInvalid",
	StatusBadNoMatch:                    "BadNoMatch",
	StatusBadBrowseNameInvalid:          "BadBrowseNameInvalid",
	StatusBadNoContinuationPoints:       "BadNoContinuationPoints",
	StatusBadContinuationPointInvalid:   "BadContinuationPointInvalid",
	StatusBadServiceUnsupported:         "BadServiceUnsupported",
	StatusBadSessionIDInvalid:           "BadSessionIdInvalid",
	StatusBadSessionClosed:              "BadSessionClosed",
	StatusBadSessionNotActivated:        "BadSessionNotActivated",
	StatusBadTooManySessions:            "BadTooManySessions",
	StatusBadIdentityTokenInvalid:       "BadIdentityTokenInvalid",
	StatusBadIdentityTokenRejected:      "BadIdentityTokenRejected",
	StatusBadUserAccessDenied:           "BadUserAccessDenied",
	StatusBadNotWritable:                "BadNotWritable",
	StatusBadSecureChannelClosed:        "BadSecureChannelClosed",
	StatusBadSecureChannelIDInvalid:     "BadSecureChannelIdInvalid",
	StatusBadTimeout:                    "BadTimeout",
	StatusBadEncodingError:              "BadEncodingError",
	StatusBadDecodingError:              "BadDecodingError",
	StatusBadRequestInterrupted:         "BadRequestInterrupted",
	StatusUncertainReferenceOutOfServer: "UncertainReferenceOutOfServer",
	StatusBadServerNotConnected:         "BadServerNotConnected",
	StatusBadSubscriptionIDInvalid:      "BadSubscriptionIdInvalid",
	StatusBadNoSubscription:             "BadNoSubscription",
	StatusBadUnknownResponse:            "BadUnknownResponse",
	StatusBadTcpEndpointURLInvalid:      "BadTcpEndpointUrlInvalid",
	StatusBadCertificateInvalid:         "BadCertificateInvalid",
	StatusBadDataTypeIDUnknown:          "BadDataTypeIdUnknown",
	StatusBad:                           "Bad",
}
