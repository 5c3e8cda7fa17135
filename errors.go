// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import "fmt"

// ErrorCode is the numeric UDO error taxonomy (§3, §7 of the protocol spec).
// A value of zero means success and must never appear in an Error.
type ErrorCode uint16

// Stable error codes. Device-returned application codes share this type but
// are not enumerated here; they are opaque to the framer (§3).
const (
	ErrCodeConnection  ErrorCode = 1 // socket/serial open/send/recv failure, malformed response
	ErrCodeTimeout     ErrorCode = 2 // no reply / inter-byte timeout after all retries
	ErrCodeCRC         ErrorCode = 3 // UDO-SL CRC mismatch
	ErrCodeDataTooBig  ErrorCode = 4 // payload exceeds UDO_MAX_PAYLOAD_LEN or caller's buffer
	ErrCodeApplication ErrorCode = 5 // no transport configured / default handler
)

// Error is the UDO error value: a numeric code plus a formatted message.
// It replaces the reference implementation's EUdoAbort exception (see
// DESIGN.md, "exceptions for error propagation").
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("udo: error %d", e.Code)
	}
	return e.Msg
}

// Is lets errors.Is match against the package sentinels below by code,
// mirroring how the teacher's sentinel errors (ErrInvalidQuantity,
// ErrProtocolError, ...) are matched with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError builds an *Error the way EUdoAbort(code, fmt, ...) did in the
// reference implementation.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is convenience, one per stable code.
var (
	ErrConnection  = &Error{Code: ErrCodeConnection, Msg: "connection error"}
	ErrTimeout     = &Error{Code: ErrCodeTimeout, Msg: "timeout"}
	ErrCRC         = &Error{Code: ErrCodeCRC, Msg: "crc mismatch"}
	ErrDataTooBig  = &Error{Code: ErrCodeDataTooBig, Msg: "data too big"}
	ErrApplication = &Error{Code: ErrCodeApplication, Msg: "no comm handler configured"}
)
