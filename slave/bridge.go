// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package slave

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nvitya/udo"
)

// DefaultForwardTimeout bounds one forwarded request's round trip to the
// upstream master session.
const DefaultForwardTimeout = 2 * time.Second

// BridgeDispatcher forwards every decoded request to an upstream UDO master
// session, turning a slave endpoint into a protocol bridge (§1: "optionally
// acting as a bridge between bindings"; supplemented from
// original_source/cpp/udoserver/src/main_udoserver.cpp, which opens a
// UDO-SL master session and forwards every UDO-IP slave request through it
// via udocomm.UdoRead/UdoWrite). While the upstream session isn't open,
// every forwarded request fails with ErrCodeApplication — base objects
// 0x0000/0x0001 are answered locally regardless by wrapping this in a
// BaseObjectDispatcher (§4.10).
type BridgeDispatcher struct {
	Master  *udo.Master
	Timeout time.Duration
	Logger  *log.Logger
}

// NewBridgeDispatcher builds a BridgeDispatcher forwarding through master.
func NewBridgeDispatcher(master *udo.Master) *BridgeDispatcher {
	return &BridgeDispatcher{Master: master, Logger: log.StandardLogger()}
}

func (b *BridgeDispatcher) timeout() time.Duration {
	if b.Timeout <= 0 {
		return DefaultForwardTimeout
	}
	return b.Timeout
}

// UdoReadWrite implements Dispatcher by forwarding req through the upstream
// master session.
func (b *BridgeDispatcher) UdoReadWrite(req *udo.Request, maxAnsLen int) *udo.Response {
	if b.Master == nil || !b.Master.Opened() {
		return &udo.Response{ECode: udo.ErrCodeApplication}
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout())
	defer cancel()

	if req.IsWrite {
		if err := b.Master.UdoWrite(ctx, req.Index, req.Offset, req.Metadata, req.Data); err != nil {
			b.logForwardError(req, err)
			return &udo.Response{ECode: forwardErrorCode(err)}
		}
		return &udo.Response{}
	}

	buf := make([]byte, maxAnsLen)
	n, err := b.Master.UdoRead(ctx, req.Index, req.Offset, req.Metadata, buf)
	if err != nil {
		b.logForwardError(req, err)
		return &udo.Response{ECode: forwardErrorCode(err)}
	}
	return &udo.Response{Data: buf[:n]}
}

func (b *BridgeDispatcher) logForwardError(req *udo.Request, err error) {
	if b.Logger == nil {
		return
	}
	b.Logger.WithFields(log.Fields{
		"index":  req.Index,
		"offset": req.Offset,
		"write":  req.IsWrite,
	}).WithError(err).Warn("udo bridge: forwarding failed")
}

func forwardErrorCode(err error) udo.ErrorCode {
	if e, ok := err.(*udo.Error); ok {
		return e.Code
	}
	return udo.ErrCodeConnection
}

// NewBridgeBaseDispatcher wires a BridgeDispatcher behind a
// BaseObjectDispatcher: object 0x0000/0x0001 are always answered locally
// with the bridge's own identity and maxPayloadSize, and everything else is
// forwarded upstream (§4.5, §4.10).
func NewBridgeBaseDispatcher(master *udo.Master, maxPayloadSize uint32) *BaseObjectDispatcher {
	return &BaseObjectDispatcher{
		MaxPayloadSize: maxPayloadSize,
		Next:           NewBridgeDispatcher(master),
	}
}
