// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import "encoding/binary"

// IPHeaderLen is the fixed size of a UDO-IP datagram header (§4.3).
const IPHeaderLen = 16

// ipErrorMarker is the len_cmd length field value (11 bits) that flags an
// error response, mirroring the reference's `(len_cmd & 0x7FF) == 0x7FF`.
const ipErrorMarker = 0x7FF

// DefaultIPPort is the default UDO-IP UDP port (§4.3).
const DefaultIPPort = 1221

// ipHeader is the 16-byte little-endian UDO-IP datagram header (§4.3):
//
//	rqid     4 bytes  request sequence number, echoed verbatim in the reply
//	len_cmd  2 bytes  bits[10:0]=length (or 0x7FF error marker), bit15=iswrite, bits[14:13]=metalen code
//	index    2 bytes
//	offset   4 bytes
//	metadata 4 bytes
type ipHeader struct {
	Rqid     uint32
	IsWrite  bool
	IsError  bool
	MetaLen  uint8 // 0, 1, 2 or 4; derived from / encoded into bits[14:13]
	Length   int   // payload length in bytes, 0..MaxPayloadLen
	Index    uint16
	Offset   uint32
	Metadata uint32
}

// metaLenIPCode maps a metadata width in {0,1,2,4} to its 2-bit wire code,
// the same {0,1,2,3} ↔ {0,1,2,4} mapping as the UDO-SL header fields.
func metaLenIPCode(n uint8) uint16 { return uint16(slFieldLenCode(n)) }

func metaLenFromIPCode(code uint16) uint8 { return slFieldLenFromCode(byte(code)) }

// encodeIPHeader renders h into a 16-byte little-endian UDO-IP header.
func encodeIPHeader(h *ipHeader) ([]byte, error) {
	if !h.IsError && (h.Length < 0 || h.Length > MaxPayloadLen) {
		return nil, NewError(ErrCodeDataTooBig, "udo-ip: length %d exceeds max payload %d", h.Length, MaxPayloadLen)
	}

	var lenField uint16
	if h.IsError {
		lenField = ipErrorMarker
	} else {
		lenField = uint16(h.Length) & 0x7FF
	}

	lenCmd := lenField
	if h.IsWrite {
		lenCmd |= 0x8000
	}
	lenCmd |= metaLenIPCode(h.MetaLen) << 13

	buf := make([]byte, IPHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Rqid)
	binary.LittleEndian.PutUint16(buf[4:6], lenCmd)
	binary.LittleEndian.PutUint16(buf[6:8], h.Index)
	binary.LittleEndian.PutUint32(buf[8:12], h.Offset)
	binary.LittleEndian.PutUint32(buf[12:16], h.Metadata)
	return buf, nil
}

// decodeIPHeader parses the leading 16 bytes of buf as a UDO-IP header.
func decodeIPHeader(buf []byte) (*ipHeader, error) {
	if len(buf) < IPHeaderLen {
		return nil, NewError(ErrCodeConnection, "udo-ip: datagram too short for header: %d bytes", len(buf))
	}
	rqid := binary.LittleEndian.Uint32(buf[0:4])
	lenCmd := binary.LittleEndian.Uint16(buf[4:6])
	index := binary.LittleEndian.Uint16(buf[6:8])
	offset := binary.LittleEndian.Uint32(buf[8:12])
	metadata := binary.LittleEndian.Uint32(buf[12:16])

	lenField := lenCmd & 0x7FF
	h := &ipHeader{
		Rqid:     rqid,
		IsWrite:  lenCmd&0x8000 != 0,
		IsError:  lenField == ipErrorMarker,
		MetaLen:  metaLenFromIPCode((lenCmd >> 13) & 0x3),
		Index:    index,
		Offset:   offset,
		Metadata: metadata,
	}
	if !h.IsError {
		h.Length = int(lenField)
	}
	return h, nil
}

// EncodeIPRequest builds a full UDO-IP request datagram (header + payload)
// for rqid. For a read request, maxAnsLen conveys the desired answer length
// in the header's length field; no payload bytes are appended (§4.3, §9,
// mirroring the UDO-SL request/response asymmetry in §4.2).
func EncodeIPRequest(rqid uint32, r *Request, maxAnsLen int) ([]byte, error) {
	h := &ipHeader{
		Rqid:     rqid,
		IsWrite:  r.IsWrite,
		MetaLen:  r.MetadataLen(),
		Index:    r.Index,
		Offset:   r.Offset,
		Metadata: r.Metadata,
	}
	var payload []byte
	if r.IsWrite {
		h.Length = len(r.Data)
		payload = r.Data
	} else {
		h.Length = maxAnsLen
	}
	hdr, err := encodeIPHeader(h)
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// EncodeIPResponse builds a full UDO-IP response datagram echoing rqid.
func EncodeIPResponse(rqid uint32, isWrite bool, index uint16, offset, metadata uint32, resp *Response) ([]byte, error) {
	h := &ipHeader{
		Rqid:     rqid,
		IsWrite:  isWrite,
		Index:    index,
		Offset:   offset,
		Metadata: metadata,
		MetaLen:  fieldLen(metadata),
	}
	var payload []byte
	if resp.IsError() {
		h.IsError = true
		var eb [2]byte
		binary.LittleEndian.PutUint16(eb[:], uint16(resp.ECode))
		payload = eb[:]
	} else if !isWrite {
		h.Length = len(resp.Data)
		payload = resp.Data
	}
	hdr, err := encodeIPHeader(h)
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// DecodeIPDatagram splits a received UDO-IP datagram into its header and
// payload, validating that at least the declared length remains after the
// header. A read datagram with no bytes after the header is a read request
// (see EncodeIPRequest): its length field is the desired answer length and
// its body is empty.
func DecodeIPDatagram(buf []byte) (*ipHeader, []byte, error) {
	h, err := decodeIPHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	body := buf[IPHeaderLen:]
	wantLen := h.Length
	if h.IsError {
		wantLen = 2
	} else if !h.IsWrite && len(body) == 0 {
		wantLen = 0
	}
	if len(body) < wantLen {
		return nil, nil, NewError(ErrCodeConnection, "udo-ip: datagram body too short: got %d, want %d", len(body), wantLen)
	}
	return h, body[:wantLen], nil
}
