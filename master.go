// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"context"
	"encoding/binary"
)

// Master is a UDO master session over any CommHandler (§4.5, §4.6). It adds
// the session bootstrap, payload-size-aware blob chunking, and the typed
// convenience readers/writers on top of the raw single-request
// UdoRead/UdoWrite exchange a CommHandler provides.
type Master struct {
	Handler        CommHandler
	maxPayloadSize uint32
}

// NewMaster wraps handler in a Master. Open must be called before any
// read/write method is used.
func NewMaster(handler CommHandler) *Master {
	return &Master{Handler: handler, maxPayloadSize: MinMaxPayloadSize}
}

// Open opens the underlying handler (if not already open) and runs the
// session bootstrap against objects 0x0000 and 0x0001 (§4.5).
func (m *Master) Open(ctx context.Context) error {
	if !m.Handler.Opened() {
		if err := m.Handler.Open(ctx); err != nil {
			return err
		}
	}
	return bootstrapSession(ctx, m)
}

func (m *Master) Close() error { return m.Handler.Close() }

func (m *Master) Opened() bool { return m.Handler.Opened() }

// bootstrapSession reads IdentMagic from ObjIdent and the negotiated
// max_payload_size from ObjMaxPayload (§4.5).
func bootstrapSession(ctx context.Context, h *Master) error {
	var magic [4]byte
	n, err := h.UdoRead(ctx, ObjIdent, 0, 0, magic[:])
	if err != nil {
		h.Close()
		return err
	}
	if n != 4 || binary.LittleEndian.Uint32(magic[:]) != IdentMagic {
		h.Close()
		return NewError(ErrCodeConnection, "udo: invalid object 0x0000 response: %x", magic[:n])
	}

	var sizeBuf [4]byte
	n, err = h.UdoRead(ctx, ObjMaxPayload, 0, 0, sizeBuf[:])
	if err != nil {
		h.Close()
		return err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:n])
	if size < MinMaxPayloadSize || size > MaxMaxPayloadSize {
		h.Close()
		return NewError(ErrCodeConnection, "udo: invalid max_payload_size %d", size)
	}

	h.maxPayloadSize = size
	return nil
}

// UdoRead performs a single read, zero-padding short responses of 8 bytes
// or fewer out to maxdatalen (§4.5: "small-response zero-padding").
func (m *Master) UdoRead(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
	n, err := m.Handler.UdoRead(ctx, index, offset, metadata, buf)
	if err != nil {
		return 0, err
	}
	if n <= 8 && n < len(buf) {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	return n, nil
}

// UdoWrite performs a single write.
func (m *Master) UdoWrite(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
	return m.Handler.UdoWrite(ctx, index, offset, metadata, data)
}

// ReadBlob reads up to len(buf) bytes starting at offset, chunked by the
// negotiated max_payload_size, stopping early on a short or zero-length
// chunk response (§4.6).
func (m *Master) ReadBlob(ctx context.Context, index uint16, offset uint32, buf []byte) (int, error) {
	result := 0
	remaining := len(buf)
	offs := offset
	for remaining > 0 {
		chunkSize := int(m.maxPayloadSize)
		if chunkSize > remaining {
			chunkSize = remaining
		}
		n, err := m.Handler.UdoRead(ctx, index, offs, 0, buf[result:result+chunkSize])
		if err != nil {
			return result, err
		}
		result += n
		offs += uint32(n)
		remaining -= n
		if n < chunkSize {
			break
		}
	}
	return result, nil
}

// WriteBlob writes data in chunks of at most the negotiated
// max_payload_size (§4.6).
func (m *Master) WriteBlob(ctx context.Context, index uint16, offset uint32, data []byte) error {
	remaining := len(data)
	offs := offset
	pos := 0
	for remaining > 0 {
		chunkSize := int(m.maxPayloadSize)
		if chunkSize > remaining {
			chunkSize = remaining
		}
		if err := m.Handler.UdoWrite(ctx, index, offs, 0, data[pos:pos+chunkSize]); err != nil {
			return err
		}
		pos += chunkSize
		offs += uint32(chunkSize)
		remaining -= chunkSize
	}
	return nil
}

// ReadU32 reads a 4-byte unsigned value at index/offset.
func (m *Master) ReadU32(ctx context.Context, index uint16, offset uint32) (uint32, error) {
	var b [4]byte
	if _, err := m.UdoRead(ctx, index, offset, 0, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadU16 reads a 2-byte unsigned value at index/offset.
func (m *Master) ReadU16(ctx context.Context, index uint16, offset uint32) (uint16, error) {
	var b [2]byte
	if _, err := m.UdoRead(ctx, index, offset, 0, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// ReadU8 reads a single byte at index/offset.
func (m *Master) ReadU8(ctx context.Context, index uint16, offset uint32) (uint8, error) {
	var b [1]byte
	if _, err := m.UdoRead(ctx, index, offset, 0, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadI32 reads a signed 32-bit value, sign-extending a 2-byte reply the way
// the reference implementation does when a device stores a value in fewer
// bytes than requested (§4.5, §9).
func (m *Master) ReadI32(ctx context.Context, index uint16, offset uint32) (int32, error) {
	var b [4]byte
	n, err := m.Handler.UdoRead(ctx, index, offset, 0, b[:])
	if err != nil {
		return 0, err
	}
	if n == 2 {
		return int32(int16(binary.LittleEndian.Uint16(b[:2]))), nil
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// ReadI16 reads a signed 16-bit value at index/offset.
func (m *Master) ReadI16(ctx context.Context, index uint16, offset uint32) (int16, error) {
	var b [2]byte
	if _, err := m.UdoRead(ctx, index, offset, 0, b[:]); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b[:])), nil
}

// WriteU32 writes a 4-byte unsigned value to index/offset.
func (m *Master) WriteU32(ctx context.Context, index uint16, offset uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.UdoWrite(ctx, index, offset, 0, b[:])
}

// WriteU16 writes a 2-byte unsigned value to index/offset.
func (m *Master) WriteU16(ctx context.Context, index uint16, offset uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.UdoWrite(ctx, index, offset, 0, b[:])
}

// WriteU8 writes a single byte to index/offset.
func (m *Master) WriteU8(ctx context.Context, index uint16, offset uint32, v uint8) error {
	return m.UdoWrite(ctx, index, offset, 0, []byte{v})
}

// WriteI32 writes a signed 32-bit value to index/offset.
func (m *Master) WriteI32(ctx context.Context, index uint16, offset uint32, v int32) error {
	return m.WriteU32(ctx, index, offset, uint32(v))
}

// WriteI16 writes a signed 16-bit value to index/offset.
func (m *Master) WriteI16(ctx context.Context, index uint16, offset uint32, v int16) error {
	return m.WriteU16(ctx, index, offset, uint16(v))
}
