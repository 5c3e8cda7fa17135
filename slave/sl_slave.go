// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package slave

import (
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nvitya/udo"
)

// SLSlave is the UDO-SL slave binding (§4.2, §4.9): a synchronous,
// single-threaded receive-decode-dispatch-reply loop over a byte-stream
// transport (a serial port or, in tests, a PTY master end). Exactly one
// request is in flight at a time — no pipelining, mirroring §4.9's "one
// frame in flight at a time".
type SLSlave struct {
	Dispatcher Dispatcher
	Logger     *log.Logger

	port io.ReadWriter
	dec  *udo.SLRequestDecoder
}

// NewSLSlave builds an SLSlave reading/writing frames over port (already
// opened and configured by the caller — opening the transport is out of
// scope per spec.md §1).
func NewSLSlave(port io.ReadWriter, dispatcher Dispatcher) *SLSlave {
	return &SLSlave{
		Dispatcher: dispatcher,
		Logger:     log.StandardLogger(),
		port:       port,
		dec:        udo.NewSLRequestDecoder(),
	}
}

// byteReader is implemented by transports that support a read deadline
// (*os.File, the testutil PTY pair), letting Serve poll stopCh without blocking
// forever on an idle line.
type byteReader interface {
	SetReadDeadline(t time.Time) error
}

// Serve reads bytes from the transport and dispatches one frame at a time
// until stopCh is closed or the transport returns a permanent error.
func (s *SLSlave) Serve(stopCh <-chan struct{}) error {
	one := make([]byte, 1)
	for {
		select {
		case <-stopCh:
			return nil
		default:
		}
		if dl, ok := s.port.(byteReader); ok {
			dl.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		}
		n, err := s.port.Read(one)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		s.feed(one[0])
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// feed processes one received byte, dispatching and replying once a full
// frame has been decoded.
func (s *SLSlave) feed(b byte) {
	done, err := s.dec.Feed(b)
	if err != nil {
		// CRC mismatch: the decoder already resynced to SYNC (§4.2); the
		// slave sends no reply for a corrupted frame.
		s.Logger.Debug("udo-sl slave: crc mismatch, dropping frame")
		return
	}
	if !done {
		return
	}

	req := s.dec.Request()
	maxAnsLen := s.dec.AnsLen()
	resp := s.Dispatcher.UdoReadWrite(req, maxAnsLen)
	observeResult(resp)

	reply, err := udo.EncodeSLResponse(req.IsWrite, req.Index, req.Offset, req.Metadata, resp)
	if err != nil {
		s.Logger.WithError(err).Error("udo-sl slave: encoding reply")
		return
	}
	if _, err := s.port.Write(reply); err != nil {
		s.Logger.WithError(err).Warn("udo-sl slave: write failed")
	}
}
