// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"context"
	"encoding/binary"
	"testing"
)

// fakeHandler is a function-field CommHandler fake, in the teacher's
// mockPackager/mockTransporter style (client_test.go).
type fakeHandler struct {
	openFn     func(ctx context.Context) error
	closeFn    func() error
	opened     bool
	udoReadFn  func(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error)
	udoWriteFn func(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error
}

func (f *fakeHandler) Open(ctx context.Context) error {
	if f.openFn != nil {
		if err := f.openFn(ctx); err != nil {
			return err
		}
	}
	f.opened = true
	return nil
}
func (f *fakeHandler) Close() error {
	f.opened = false
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}
func (f *fakeHandler) Opened() bool          { return f.opened }
func (f *fakeHandler) ConnString() string    { return "fake" }
func (f *fakeHandler) UdoRead(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
	return f.udoReadFn(ctx, index, offset, metadata, buf)
}
func (f *fakeHandler) UdoWrite(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
	return f.udoWriteFn(ctx, index, offset, metadata, data)
}

func objectStore(magic uint32, maxPayload uint32, objs map[uint16][]byte) *fakeHandler {
	return &fakeHandler{
		udoReadFn: func(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
			switch index {
			case ObjIdent:
				binary.LittleEndian.PutUint32(buf, magic)
				return 4, nil
			case ObjMaxPayload:
				binary.LittleEndian.PutUint32(buf, maxPayload)
				return 4, nil
			default:
				data := objs[index]
				n := copy(buf, data[offset:])
				return n, nil
			}
		},
		udoWriteFn: func(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
			existing := objs[index]
			need := int(offset) + len(data)
			if len(existing) < need {
				grown := make([]byte, need)
				copy(grown, existing)
				existing = grown
			}
			copy(existing[offset:], data)
			objs[index] = existing
			return nil
		},
	}
}

func TestMasterOpenBootstrap(t *testing.T) {
	h := objectStore(IdentMagic, 128, map[uint16][]byte{})
	m := NewMaster(h)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.maxPayloadSize != 128 {
		t.Errorf("maxPayloadSize = %d, want 128", m.maxPayloadSize)
	}
}

func TestMasterOpenRejectsBadMagic(t *testing.T) {
	h := objectStore(0xDEADBEEF, 128, map[uint16][]byte{})
	m := NewMaster(h)
	if err := m.Open(context.Background()); err == nil {
		t.Fatal("expected error for bad magic")
	}
	if h.opened {
		t.Error("handler should have been closed after bootstrap failure")
	}
}

func TestMasterOpenRejectsOutOfRangePayloadSize(t *testing.T) {
	for _, size := range []uint32{0, 63, 1025, 1 << 20} {
		h := objectStore(IdentMagic, size, map[uint16][]byte{})
		m := NewMaster(h)
		if err := m.Open(context.Background()); err == nil {
			t.Errorf("size=%d: expected error", size)
		}
	}
}

func TestMasterReadWriteU32RoundTrip(t *testing.T) {
	h := objectStore(IdentMagic, 64, map[uint16][]byte{})
	m := NewMaster(h)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.WriteU32(context.Background(), 0x10, 0, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	got, err := m.ReadU32(context.Background(), 0x10, 0)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if got != 0xCAFEBABE {
		t.Errorf("ReadU32 = %#x, want 0xCAFEBABE", got)
	}
}

func TestMasterReadI32SignExtends(t *testing.T) {
	h := &fakeHandler{
		udoReadFn: func(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
			buf[0], buf[1] = 0x00, 0x80 // little-endian int16 -0x8000
			return 2, nil
		},
	}
	m := NewMaster(h)
	got, err := m.ReadI32(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("ReadI32: %v", err)
	}
	if uint32(got) != 0xFFFF8000 {
		t.Errorf("ReadI32 = %#x, want 0xffff8000", uint32(got))
	}
}

func TestMasterReadBlobStopsOnShortChunk(t *testing.T) {
	objs := map[uint16][]byte{0x20: []byte("hello")}
	h := objectStore(IdentMagic, 64, objs)
	m := NewMaster(h)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 10)
	n, err := m.ReadBlob(context.Background(), 0x20, 0, buf)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if n != 5 || string(buf[:5]) != "hello" {
		t.Errorf("ReadBlob got %d bytes %q, want 5 bytes \"hello\"", n, buf[:n])
	}
}

func TestMasterWriteBlobChunksByMaxPayloadSize(t *testing.T) {
	var chunkSizes []int
	h := &fakeHandler{
		udoReadFn: func(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
			switch index {
			case ObjIdent:
				binary.LittleEndian.PutUint32(buf, IdentMagic)
				return 4, nil
			case ObjMaxPayload:
				binary.LittleEndian.PutUint32(buf, 64)
				return 4, nil
			}
			return 0, nil
		},
		udoWriteFn: func(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
			chunkSizes = append(chunkSizes, len(data))
			return nil
		},
	}
	m := NewMaster(h)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.WriteBlob(context.Background(), 0x30, 0, make([]byte, 150)); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	want := []int{64, 64, 22}
	if len(chunkSizes) != len(want) {
		t.Fatalf("chunks = %v, want %v", chunkSizes, want)
	}
	for i := range want {
		if chunkSizes[i] != want[i] {
			t.Errorf("chunk %d = %d, want %d", i, chunkSizes[i], want[i])
		}
	}
}
