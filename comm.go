// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"context"
	"time"
)

// DefaultTimeout is the request/response timeout used when Config.Timeout
// is zero (§4.4).
const DefaultTimeout = 500 * time.Millisecond

// DefaultMaxTries is the number of send attempts a UDO-IP master makes
// before giving up with the last try's error: ErrTimeout after a receive
// timeout, ErrConnection after a malformed or mismatched reply (§4.7).
const DefaultMaxTries = 3

// Config holds the transport-independent knobs shared by every
// CommHandler implementation (§4.4).
type Config struct {
	// Timeout bounds how long UdoRead/UdoWrite wait for a reply. Zero
	// means the binding's default: DefaultTimeout for UDO-IP, 1s for
	// UDO-SL.
	Timeout time.Duration

	// MaxTries bounds retransmission attempts on UDO-IP (ignored by
	// UDO-SL, which is a single lockstep request/response exchange).
	// Zero means DefaultMaxTries.
	MaxTries int
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) maxTries() int {
	if c.MaxTries <= 0 {
		return DefaultMaxTries
	}
	return c.MaxTries
}

// CommHandler is the master-side transport contract implemented by both
// bindings (§4.4). Open establishes the link only; the session bootstrap
// (§4.5) is run by Master.Open. Once Opened reports true, UdoRead/UdoWrite
// exchange single requests with the slave.
type CommHandler interface {
	// Open establishes the underlying link. It does not run the session
	// bootstrap against object 0x0000/0x0001; Master.Open does.
	Open(ctx context.Context) error

	// Close releases the underlying link. It is safe to call on an
	// unopened or already-closed handler.
	Close() error

	// Opened reports whether the handler is ready to carry requests.
	Opened() bool

	// ConnString returns a human-readable description of the endpoint,
	// for logging.
	ConnString() string

	// UdoRead reads up to len(buf) bytes from index/offset/metadata into
	// buf, returning the number of bytes actually written.
	UdoRead(ctx context.Context, index uint16, offset, metadata uint32, buf []byte) (int, error)

	// UdoWrite writes data to index/offset/metadata.
	UdoWrite(ctx context.Context, index uint16, offset, metadata uint32, data []byte) error
}
