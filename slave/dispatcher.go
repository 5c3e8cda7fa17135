// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package slave implements the UDO slave side: the application dispatch
// contract, the base-object (0x0000/0x0001) responder, and the UDO-SL/UDO-IP
// slave servers (§4.8–§4.10 of the protocol spec).
package slave

import (
	"encoding/binary"

	"github.com/nvitya/udo"
)

// Dispatcher answers one already-decoded UDO request, mirroring the
// reference's udoslave_app_read_write callback (original_source,
// udoslaveapp.cpp). maxAnsLen is the buffer size available for a read
// reply; it is ignored for writes.
type Dispatcher interface {
	UdoReadWrite(req *udo.Request, maxAnsLen int) *udo.Response
}

// DispatcherFunc adapts a plain function to a Dispatcher.
type DispatcherFunc func(req *udo.Request, maxAnsLen int) *udo.Response

func (f DispatcherFunc) UdoReadWrite(req *udo.Request, maxAnsLen int) *udo.Response {
	return f(req, maxAnsLen)
}

// BaseObjectDispatcher answers udo.ObjIdent and udo.ObjMaxPayload itself
// (§4.5, §6: every slave must expose these) and forwards every other index
// to Next. Writes to either base object are rejected with
// ErrCodeApplication, matching the reference's treatment of them as
// read-only identification objects.
type BaseObjectDispatcher struct {
	// MaxPayloadSize is the value returned for udo.ObjMaxPayload; it must
	// be within [udo.MinMaxPayloadSize, udo.MaxMaxPayloadSize].
	MaxPayloadSize uint32
	Next           Dispatcher
}

func (b *BaseObjectDispatcher) UdoReadWrite(req *udo.Request, maxAnsLen int) *udo.Response {
	switch req.Index {
	case udo.ObjIdent:
		if req.IsWrite {
			return &udo.Response{ECode: udo.ErrCodeApplication}
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], udo.IdentMagic)
		return &udo.Response{Data: buf[:]}
	case udo.ObjMaxPayload:
		if req.IsWrite {
			return &udo.Response{ECode: udo.ErrCodeApplication}
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], b.MaxPayloadSize)
		return &udo.Response{Data: buf[:]}
	default:
		if b.Next == nil {
			return &udo.Response{ECode: udo.ErrCodeApplication}
		}
		return b.Next.UdoReadWrite(req, maxAnsLen)
	}
}
