// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	slDefaultBaudRate   = 115200
	slSerialReadTimeout = 50 * time.Millisecond
	slIdleTimeout       = 60 * time.Second

	// slDefaultTimeout is the inter-byte quiescence timeout used when
	// Config.Timeout is zero — 1.0s per §4.2, twice the UDO-IP default.
	slDefaultTimeout = 1 * time.Second
)

// timeout resolves the configured exchange timeout, defaulting to
// slDefaultTimeout (not the shared Config.timeout()'s 0.5s UDO-IP default).
func (m *SLMaster) timeout() time.Duration {
	if m.Config.Timeout <= 0 {
		return slDefaultTimeout
	}
	return m.Config.Timeout
}

// SLMaster is the UDO-SL master CommHandler, a framed point-to-point link
// over a serial device (§4.1, §4.2). Unlike UDO-IP it never retries: a
// malformed or missing reply is surfaced once the configured Timeout
// elapses (§4.2, "single-threaded, one outstanding request at a time").
type SLMaster struct {
	Address  string
	BaudRate int
	Config

	mu           sync.Mutex
	port         serial.Port
	lastActivity time.Time
	closeTimer   *time.Timer
	opened       bool

	dec *slDecoder
}

// NewSLMaster allocates an SLMaster for the given serial device path.
func NewSLMaster(address string) *SLMaster {
	return &SLMaster{
		Address:  address,
		BaudRate: slDefaultBaudRate,
		dec:      newSLDecoder(),
	}
}

func (m *SLMaster) ConnString() string {
	return fmt.Sprintf("udo-sl:%s@%d", m.Address, m.BaudRate)
}

func (m *SLMaster) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Open opens the serial port. It does not run the session bootstrap (§4.5);
// that is the Master layer's responsibility, so CommHandler.Open matches
// the reference's TCommHandlerUdoSl::Open (raw link open only).
func (m *SLMaster) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port != nil {
		return nil
	}
	mode := &serial.Mode{BaudRate: m.BaudRate, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}
	port, err := serial.Open(m.Address, mode)
	if err != nil {
		return NewError(ErrCodeConnection, "udo-sl: opening %s: %v", m.Address, err)
	}
	if err := port.SetReadTimeout(slSerialReadTimeout); err != nil {
		port.Close()
		return NewError(ErrCodeConnection, "udo-sl: setting read timeout: %v", err)
	}
	m.port = port
	m.lastActivity = time.Now()
	m.startCloseTimer()
	m.opened = true
	return nil
}

func (m *SLMaster) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return m.close()
}

func (m *SLMaster) close() error {
	if m.port != nil {
		err := m.port.Close()
		m.port = nil
		return err
	}
	return nil
}

func (m *SLMaster) startCloseTimer() {
	if m.closeTimer == nil {
		m.closeTimer = time.AfterFunc(slIdleTimeout, m.closeIdle)
	} else {
		m.closeTimer.Reset(slIdleTimeout)
	}
}

func (m *SLMaster) closeIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastActivity) >= slIdleTimeout {
		m.opened = false
		m.close()
	}
}

func (m *SLMaster) UdoRead(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error) {
	resp, err := m.exchange(ctx, &Request{IsWrite: false, Index: index, Offset: offset, Metadata: metadata}, len(buf))
	if err != nil {
		return 0, err
	}
	if len(resp.Data) > len(buf) {
		return 0, NewError(ErrCodeDataTooBig, "udo-sl: response of %d bytes exceeds buffer of %d", len(resp.Data), len(buf))
	}
	n := copy(buf, resp.Data)
	return n, nil
}

func (m *SLMaster) UdoWrite(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error {
	_, err := m.exchange(ctx, &Request{IsWrite: true, Index: index, Offset: offset, Metadata: metadata, Data: data}, 0)
	return err
}

// exchange performs one request/response round trip: encode, send, then
// feed received bytes to the decoder until a full frame arrives or the
// context/timeout expires (§4.2's receive state machine, §4.1's
// single-outstanding-request model).
func (m *SLMaster) exchange(ctx context.Context, r *Request, maxAnsLen int) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return nil, NewError(ErrCodeConnection, "udo-sl: not open")
	}

	frame, err := EncodeSLRequest(r, maxAnsLen)
	if err != nil {
		return nil, err
	}
	if _, err := m.port.Write(frame); err != nil {
		return nil, NewError(ErrCodeConnection, "udo-sl: write: %v", err)
	}
	m.lastActivity = time.Now()
	m.startCloseTimer()

	// nextDeadline computes the inter-byte quiescence deadline (§4.2, §5):
	// it is recomputed from "now" every time a byte arrives, not fixed once
	// up front, so a slow-but-steady frame is never aborted mid-receive.
	nextDeadline := func() time.Time {
		d := time.Now().Add(m.timeout())
		if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
			d = dl
		}
		return d
	}
	deadline := nextDeadline()

	expectWrite := r.IsWrite
	m.dec.Reset()
	m.dec.ExpectIsWrite = &expectWrite

	one := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			terr := NewError(ErrCodeTimeout, "udo-sl: %v", err)
			observeMasterError(terr)
			return nil, terr
		}
		if time.Now().After(deadline) {
			terr := NewError(ErrCodeTimeout, "udo-sl: no byte received within %v", m.timeout())
			observeMasterError(terr)
			return nil, terr
		}
		n, err := m.port.Read(one)
		if err != nil {
			rerr := NewError(ErrCodeConnection, "udo-sl: read: %v", err)
			observeMasterError(rerr)
			return nil, rerr
		}
		if n == 0 {
			continue // read timeout tick, poll deadline/ctx again
		}
		deadline = nextDeadline()
		done, ferr := m.dec.Feed(one[0])
		if ferr != nil {
			continue // CRC mismatch: decoder already resynced, keep reading
		}
		if !done {
			continue
		}
		if m.dec.IsError {
			eerr := NewError(ErrorCode(m.dec.ECode), "udo-sl: device error %d", m.dec.ECode)
			observeMasterError(eerr)
			return nil, eerr
		}
		return &Response{Data: m.dec.Data}, nil
	}
}
