// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// IPMaster is the UDO-IP master CommHandler: one UDP socket per destination,
// a per-request sequence number (rqid) and a bounded retry loop that
// re-sends on timeout, short datagram or header mismatch (§4.3, §4.7,
// grounded directly on the reference's DoUdoReadWrite).
type IPMaster struct {
	Addr string // "host:port"
	Config

	mu   sync.Mutex
	conn *net.UDPConn
	rqid uint32
}

// NewIPMaster allocates an IPMaster targeting addr ("host:port"; Open uses
// DefaultIPPort when addr has no port).
func NewIPMaster(addr string) *IPMaster {
	return &IPMaster{Addr: addr}
}

func (m *IPMaster) ConnString() string { return fmt.Sprintf("udo-ip:%s", m.Addr) }

func (m *IPMaster) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Open resolves Addr and dials a UDP socket. It does not run the session
// bootstrap (§4.5); see Master.Open.
func (m *IPMaster) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return nil
	}
	addr := m.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultIPPort))
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return NewError(ErrCodeConnection, "udo-ip: resolving %s: %v", m.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return NewError(ErrCodeConnection, "udo-ip: dialing %s: %v", m.Addr, err)
	}
	m.conn = conn
	atomic.StoreUint32(&m.rqid, 0)
	return nil
}

func (m *IPMaster) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *IPMaster) UdoRead(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
	resp, err := m.doExchange(ctx, &Request{IsWrite: false, Index: index, Offset: offset, Metadata: metadata}, len(buf))
	if err != nil {
		return 0, err
	}
	if len(resp.Data) > len(buf) {
		return 0, NewError(ErrCodeDataTooBig, "udo-ip: response of %d bytes exceeds buffer of %d", len(resp.Data), len(buf))
	}
	return copy(buf, resp.Data), nil
}

func (m *IPMaster) UdoWrite(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
	if len(data) > MaxPayloadLen {
		return NewError(ErrCodeDataTooBig, "udo-ip: write data too big: %d", len(data))
	}
	_, err := m.doExchange(ctx, &Request{IsWrite: true, Index: index, Offset: offset, Metadata: metadata, Data: data}, 0)
	return err
}

// doExchange implements the reference's DoUdoReadWrite retry loop: increment
// rqid once, then resend up to Config.maxTries on timeout, short datagram,
// or a response whose rqid/index/offset doesn't match the outstanding
// request (§4.7).
func (m *IPMaster) doExchange(ctx context.Context, r *Request, maxAnsLen int) (*Response, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil, NewError(ErrCodeConnection, "udo-ip: not open")
	}

	rqid := atomic.AddUint32(&m.rqid, 1)
	frame, err := EncodeIPRequest(rqid, r, maxAnsLen)
	if err != nil {
		return nil, err
	}

	timeout := m.Config.timeout()
	maxTries := m.Config.maxTries()
	ansbuf := make([]byte, IPHeaderLen+MaxPayloadLen)

	var lastErr error
	for try := 0; try < maxTries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, NewError(ErrCodeTimeout, "udo-ip: %v", err)
		}
		if try > 0 {
			masterRetriesTotal.Inc()
		}

		if _, err := conn.Write(frame); err != nil {
			werr := NewError(ErrCodeConnection, "udo-ip: send: %v", err)
			observeMasterError(werr)
			return nil, werr
		}

		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		conn.SetReadDeadline(deadline)

		n, err := conn.Read(ansbuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				lastErr = NewError(ErrCodeTimeout, "udo-ip: %s timeout", describeOp(r))
				continue
			}
			return nil, NewError(ErrCodeConnection, "udo-ip: receive: %v", err)
		}

		h, body, derr := DecodeIPDatagram(ansbuf[:n])
		if derr != nil {
			lastErr = derr
			continue
		}
		if h.Rqid != rqid || h.Index != r.Index || h.Offset != r.Offset {
			lastErr = NewError(ErrCodeConnection, "udo-ip: %s unexpected response", describeOp(r))
			continue
		}
		if h.IsError {
			if len(body) < 2 {
				lastErr = NewError(ErrCodeConnection, "udo-ip: %s error response too short", describeOp(r))
				continue
			}
			ecode := ErrorCode(uint16(body[0]) | uint16(body[1])<<8)
			eerr := NewError(ecode, "udo-ip: %s device error %d", describeOp(r), ecode)
			observeMasterError(eerr)
			return nil, eerr
		}

		if !r.IsWrite && len(body) > maxAnsLen {
			return nil, NewError(ErrCodeDataTooBig, "udo-ip: %s result too big: %d", describeOp(r), len(body))
		}
		return &Response{Data: body}, nil
	}
	observeMasterError(lastErr)
	return nil, lastErr
}

func describeOp(r *Request) string {
	if r.IsWrite {
		return fmt.Sprintf("UdoWrite(%#04x,%d)[%d]", r.Index, r.Offset, len(r.Data))
	}
	return fmt.Sprintf("UdoRead(%#04x,%d)", r.Index, r.Offset)
}
