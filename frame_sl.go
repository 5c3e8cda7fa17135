// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import "encoding/binary"

// UDO-SL frame layout (§4.2):
//
//	1. sync byte            0x55
//	2. command byte         bit7=iswrite, bits[3:2]=metalen code, bits[1:0]=offslen code, bits[6:4]=length code
//	3. extended length      2 LE bytes, present iff length code == 7
//	4. index                2 LE bytes
//	5. offset                offslen LE bytes
//	6. metadata               metalen LE bytes
//	7. payload               declared-length bytes (write request / read response / 2-byte error code)
//	8. crc                   1 byte, CRC8 over bytes 1..7 (sync folded in first)

// slFieldLenCode maps a field width in {0,1,2,4} to its 2-bit wire code.
func slFieldLenCode(n uint8) byte {
	if n == 4 {
		return 3
	}
	return n
}

// slFieldLenFromCode is the inverse of slFieldLenCode.
func slFieldLenFromCode(code byte) uint8 {
	if code == 3 {
		return 4
	}
	return code
}

func leBytes(v uint32, n uint8) []byte {
	b := make([]byte, n)
	switch n {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, v)
	}
	return b
}

func leUintN(b []byte) uint32 {
	switch len(b) {
	case 0:
		return 0
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	default:
		panic("udo: invalid field length")
	}
}

// encodeSLFrame builds the wire bytes for one UDO-SL frame (§4.2).
// declaredLen is the logical rqlen/anslen that drives the command byte's
// length code (and, for reads on the request side, conveys the desired
// answer length without any bytes actually following on the wire);
// wireData is the bytes physically appended after the header — the write
// payload on a request, the read payload on a response, or the 2-byte
// error code when isError is set.
func encodeSLFrame(isWrite bool, index uint16, offset, metadata uint32, declaredLen int, wireData []byte, isError bool) ([]byte, error) {
	if declaredLen > MaxPayloadLen {
		return nil, NewError(ErrCodeDataTooBig, "udo-sl: length %d exceeds max payload %d", declaredLen, MaxPayloadLen)
	}

	offsLen := fieldLen(offset)
	metaLen := fieldLen(metadata)

	var lenCode byte
	var extLen uint16
	useExt := false
	if isError {
		lenCode = 6
	} else {
		switch declaredLen {
		case 0:
			lenCode = 0
		case 1:
			lenCode = 1
		case 2:
			lenCode = 2
		case 4:
			lenCode = 3
		case 8:
			lenCode = 4
		case 16:
			lenCode = 5
		default:
			lenCode = 7
			useExt = true
			extLen = uint16(declaredLen)
		}
	}

	buf := make([]byte, 0, 10+len(wireData))
	buf = append(buf, slSyncByte)

	cmd := byte(0)
	if isWrite {
		cmd |= 0x80
	}
	cmd |= lenCode << 4
	cmd |= slFieldLenCode(metaLen) << 2
	cmd |= slFieldLenCode(offsLen)
	buf = append(buf, cmd)

	if useExt {
		var eb [2]byte
		binary.LittleEndian.PutUint16(eb[:], extLen)
		buf = append(buf, eb[:]...)
	}

	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], index)
	buf = append(buf, ib[:]...)

	if offsLen > 0 {
		buf = append(buf, leBytes(offset, offsLen)...)
	}
	if metaLen > 0 {
		buf = append(buf, leBytes(metadata, metaLen)...)
	}
	buf = append(buf, wireData...)

	crc := crc8Frame(buf[1:])
	buf = append(buf, crc)
	return buf, nil
}

// EncodeSLRequest encodes a master request into a UDO-SL frame. For a read
// request, maxAnsLen is the desired answer length (conveyed only in the
// command byte's length code, per §4.2/§9) and no bytes follow the header.
func EncodeSLRequest(r *Request, maxAnsLen int) ([]byte, error) {
	if r.IsWrite {
		if len(r.Data) > MaxPayloadLen {
			return nil, NewError(ErrCodeDataTooBig, "udo-sl: write length %d exceeds max payload %d", len(r.Data), MaxPayloadLen)
		}
		return encodeSLFrame(true, r.Index, r.Offset, r.Metadata, len(r.Data), r.Data, false)
	}
	return encodeSLFrame(false, r.Index, r.Offset, r.Metadata, maxAnsLen, nil, false)
}

// EncodeSLResponse encodes a slave's answer to isWrite/index/offset/metadata
// into a UDO-SL frame. Pass resp.IsError()==true to emit an error marker
// (length code 6) carrying the 2-byte little-endian error code (§4.2, §7).
func EncodeSLResponse(isWrite bool, index uint16, offset, metadata uint32, resp *Response) ([]byte, error) {
	if resp.IsError() {
		var eb [2]byte
		binary.LittleEndian.PutUint16(eb[:], uint16(resp.ECode))
		return encodeSLFrame(isWrite, index, offset, metadata, 2, eb[:], true)
	}
	if isWrite {
		// Write acknowledgement: no payload, offset/metadata not echoed.
		return encodeSLFrame(true, index, 0, 0, 0, nil, false)
	}
	return encodeSLFrame(false, index, offset, metadata, len(resp.Data), resp.Data, false)
}

// slState is a receive-state-machine state (§4.2 receive table).
type slState int

const (
	slStateSync slState = iota
	slStateCmd
	slStateExtLen
	slStateIndex
	slStateOffset
	slStateMetadata
	slStateData
	slStateCrc
)

// slDecoder runs the UDO-SL receive state machine one byte at a time. It is
// shared by the master (decoding responses) and the slave (decoding
// requests); ExpectIsWrite configures the master-only tolerance rule for a
// command byte whose iswrite bit doesn't match the outstanding request
// (§3 invariants, §4.2: "tolerates stray bytes on a shared bus").
type slDecoder struct {
	state slState
	crc   byte

	offsLen, metaLen byte
	lenCode          byte
	extLenBuf        [2]byte
	extLenPos        int
	idxBuf           [2]byte
	idxPos           int
	offsBuf          [4]byte
	offsPos          int
	metaBuf          [4]byte
	metaPos          int
	dataLen          int
	data             []byte
	dataPos          int

	ExpectIsWrite *bool

	// RequestSide, when true, decodes frames as requests rather than
	// responses: a read request's command byte conveys the desired answer
	// length in its length code, but — unlike a read response — carries no
	// payload bytes on the wire (§4.2 point 7, §9). The master never sets
	// this (it only ever decodes responses); the slave's request decoder
	// does.
	RequestSide bool

	// Decoded result, valid once Feed returns (true, nil).
	IsWrite  bool
	Index    uint16
	Offset   uint32
	Metadata uint32
	IsError  bool
	ECode    uint16
	Data     []byte

	// AnsLen is the length-code-derived value, exposed separately from
	// Data/dataLen because for a read request it is the requested answer
	// length rather than a count of bytes actually on the wire.
	AnsLen int
}

func newSLDecoder() *slDecoder {
	return &slDecoder{state: slStateSync}
}

// Reset returns the decoder to sync-hunt, discarding any partial frame.
func (d *slDecoder) Reset() {
	expect := d.ExpectIsWrite
	requestSide := d.RequestSide
	*d = slDecoder{state: slStateSync, ExpectIsWrite: expect, RequestSide: requestSide}
}

// finalizeDataLen is called once the length code (inline or extended) has
// been resolved. It records the declared length in AnsLen and, for a
// request-side read, collapses the actual wire data length to zero: a read
// request never carries payload bytes, regardless of its length code
// (§4.2 point 7).
func (d *slDecoder) finalizeDataLen() {
	d.AnsLen = d.dataLen
	if d.RequestSide && !d.IsWrite && !d.IsError {
		d.dataLen = 0
	}
	d.data = make([]byte, d.dataLen)
}

// Feed processes one received byte. It returns (true, nil) once a complete,
// CRC-valid frame has been decoded (results are in the exported fields).
// It returns (false, ErrCRC) when the trailing CRC byte doesn't match — the
// decoder has already reset to sync-hunt per §4.2's recovery rule. All other
// return values are (false, nil): more bytes are needed, or a stray
// direction-mismatched command byte caused a silent resync (§3).
func (d *slDecoder) Feed(b byte) (bool, error) {
	switch d.state {
	case slStateSync:
		if b == slSyncByte {
			d.crc = crc8Update(0, slSyncByte)
			d.state = slStateCmd
		}
		return false, nil

	case slStateCmd:
		d.crc = crc8Update(d.crc, b)
		isWrite := b&0x80 != 0
		if d.ExpectIsWrite != nil && isWrite != *d.ExpectIsWrite {
			d.Reset()
			return false, nil
		}
		d.IsWrite = isWrite
		// Clear the previous frame's results: offset and metadata are
		// absent from the wire when zero.
		d.Offset, d.Metadata = 0, 0
		d.IsError, d.ECode = false, 0
		d.offsLen = slFieldLenFromCode(b & 0x3)
		d.metaLen = slFieldLenFromCode((b >> 2) & 0x3)
		d.lenCode = (b >> 4) & 0x7

		switch d.lenCode {
		case 0, 1, 2:
			d.dataLen = int(d.lenCode)
		case 3:
			d.dataLen = 4
		case 4:
			d.dataLen = 8
		case 5:
			d.dataLen = 16
		case 6:
			d.IsError = true
			d.dataLen = 2
		case 7:
			d.state = slStateExtLen
			return false, nil
		}
		d.finalizeDataLen()
		d.state = slStateIndex
		return false, nil

	case slStateExtLen:
		d.crc = crc8Update(d.crc, b)
		d.extLenBuf[d.extLenPos] = b
		d.extLenPos++
		if d.extLenPos == 2 {
			d.dataLen = int(binary.LittleEndian.Uint16(d.extLenBuf[:]))
			d.finalizeDataLen()
			d.state = slStateIndex
		}
		return false, nil

	case slStateIndex:
		d.crc = crc8Update(d.crc, b)
		d.idxBuf[d.idxPos] = b
		d.idxPos++
		if d.idxPos == 2 {
			d.Index = binary.LittleEndian.Uint16(d.idxBuf[:])
			d.state = d.nextAfterIndex()
		}
		return false, nil

	case slStateOffset:
		d.crc = crc8Update(d.crc, b)
		d.offsBuf[d.offsPos] = b
		d.offsPos++
		if d.offsPos == int(d.offsLen) {
			d.Offset = leUintN(d.offsBuf[:d.offsLen])
			d.state = d.nextAfterOffset()
		}
		return false, nil

	case slStateMetadata:
		d.crc = crc8Update(d.crc, b)
		d.metaBuf[d.metaPos] = b
		d.metaPos++
		if d.metaPos == int(d.metaLen) {
			d.Metadata = leUintN(d.metaBuf[:d.metaLen])
			d.state = d.nextAfterMetadata()
		}
		return false, nil

	case slStateData:
		d.crc = crc8Update(d.crc, b)
		d.data[d.dataPos] = b
		d.dataPos++
		if d.dataPos == d.dataLen {
			if d.IsError {
				d.ECode = binary.LittleEndian.Uint16(d.data)
			}
			d.state = slStateCrc
		}
		return false, nil

	case slStateCrc:
		expected := d.crc
		if b != expected {
			d.Reset()
			return false, ErrCRC
		}
		d.Data = d.data
		d.prepareNextFrame()
		return true, nil
	}
	return false, nil
}

// prepareNextFrame rearms the state machine for sync-hunt after a completed
// frame, without disturbing the decoded result fields a caller reads
// immediately after Feed returns (true, nil) — unlike Reset, it leaves
// IsWrite/Index/Offset/Metadata/IsError/ECode/Data/AnsLen intact.
func (d *slDecoder) prepareNextFrame() {
	d.state = slStateSync
	d.idxPos = 0
	d.offsPos = 0
	d.metaPos = 0
	d.dataPos = 0
	d.extLenPos = 0
}

func (d *slDecoder) nextAfterIndex() slState {
	if d.offsLen > 0 {
		return slStateOffset
	}
	return d.nextAfterOffset()
}

func (d *slDecoder) nextAfterOffset() slState {
	if d.metaLen > 0 {
		return slStateMetadata
	}
	return d.nextAfterMetadata()
}

func (d *slDecoder) nextAfterMetadata() slState {
	if d.dataLen > 0 {
		return slStateData
	}
	return slStateCrc
}

// SLRequestDecoder runs the UDO-SL receive state machine (§4.2) for a slave
// decoding inbound requests, where either direction (read or write) is
// accepted — unlike the master's decoder, it never resyncs on a command
// byte's iswrite bit.
type SLRequestDecoder struct {
	d *slDecoder
}

// NewSLRequestDecoder allocates a fresh slave-side frame decoder.
func NewSLRequestDecoder() *SLRequestDecoder {
	d := newSLDecoder()
	d.RequestSide = true
	return &SLRequestDecoder{d: d}
}

// Feed processes one received byte; see slDecoder.Feed.
func (s *SLRequestDecoder) Feed(b byte) (bool, error) {
	return s.d.Feed(b)
}

// Reset discards any partially received frame and returns to sync-hunt.
func (s *SLRequestDecoder) Reset() {
	s.d.Reset()
}

// Request builds the decoded *Request once Feed has returned (true, nil).
func (s *SLRequestDecoder) Request() *Request {
	return &Request{
		IsWrite:  s.d.IsWrite,
		Index:    s.d.Index,
		Offset:   s.d.Offset,
		Metadata: s.d.Metadata,
		Data:     s.d.Data,
	}
}

// AnsLen is the requested answer length for a read request (the length
// code's declared value), needed by the dispatcher even though no payload
// bytes for it appear on the wire.
func (s *SLRequestDecoder) AnsLen() int {
	return s.d.AnsLen
}
