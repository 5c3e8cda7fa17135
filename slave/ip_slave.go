// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package slave

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nvitya/udo"
)

// DefaultCacheSize is the answer-cache slot count N (§4.8): also the
// practical cap on concurrently distinct clients.
const DefaultCacheSize = 4

// cacheSlot holds one remembered (client, request) -> reply mapping.
type cacheSlot struct {
	valid      bool
	addr       *net.UDPAddr
	reqHeader  [udo.IPHeaderLen]byte
	reqBodyLen int
	reply      []byte
}

func (s *cacheSlot) matches(addr *net.UDPAddr, header []byte, bodyLen int) bool {
	if !s.valid || !s.addr.IP.Equal(addr.IP) || s.addr.Port != addr.Port {
		return false
	}
	if s.reqBodyLen != bodyLen {
		return false
	}
	for i := range header {
		if s.reqHeader[i] != header[i] {
			return false
		}
	}
	return true
}

// answerCache is the slave-side LRU replay cache of §4.8: at most N entries,
// each keyed on (srcip, srcport, request header, request body length). A
// cache hit resends the stored reply bytes without invoking the
// application, giving at-most-once execution under UDP retransmission.
// Rotation follows the reference's "oldest slot moves to the tail on use"
// rule, kept here as an explicit slice of slot indices rather than the
// original's memmove over a byte array (§9, design notes).
type answerCache struct {
	slots []cacheSlot
	order []int // order[0] is least-recently-used
}

func newAnswerCache(n int) *answerCache {
	if n <= 0 {
		n = DefaultCacheSize
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &answerCache{slots: make([]cacheSlot, n), order: order}
}

// find returns the matching slot, or nil if this is a fresh request. A hit
// promotes the slot to most-recently-used, the same as allocate() does for a
// fresh one — otherwise a client that only ever retransmits (never issues a
// fresh request) would never be promoted past allocate()'s initial slot
// assignment and could be evicted by other clients' fresh requests despite
// being the most recently used.
func (c *answerCache) find(addr *net.UDPAddr, header []byte, bodyLen int) *cacheSlot {
	for i := range c.slots {
		if c.slots[i].matches(addr, header, bodyLen) {
			c.promote(i)
			return &c.slots[i]
		}
	}
	return nil
}

// allocate evicts the least-recently-used slot and returns it for a fresh
// request, promoting it to most-recently-used.
func (c *answerCache) allocate() *cacheSlot {
	idx := c.order[0]
	if c.slots[idx].valid {
		cacheEvictionsTotal.Inc()
	}
	c.promote(idx)
	return &c.slots[idx]
}

// promote moves slot index idx to the most-recently-used position.
func (c *answerCache) promote(idx int) {
	pos := -1
	for i, v := range c.order {
		if v == idx {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	copy(c.order[pos:], c.order[pos+1:])
	c.order[len(c.order)-1] = idx
}

// IPSlave is the UDO-IP slave binding: a UDP listener driving Dispatcher
// through the answer-cache dedup rule (§4.3, §4.8).
type IPSlave struct {
	Dispatcher Dispatcher
	Logger     *log.Logger

	conn  *net.UDPConn
	cache *answerCache
}

// NewIPSlave builds an IPSlave with the default cache size, answering
// through dispatcher.
func NewIPSlave(dispatcher Dispatcher) *IPSlave {
	return &IPSlave{
		Dispatcher: dispatcher,
		Logger:     log.StandardLogger(),
		cache:      newAnswerCache(DefaultCacheSize),
	}
}

// ListenAndServe opens addr (e.g. ":1221") and serves datagrams until
// stopCh is closed or a fatal socket error occurs.
func (s *IPSlave) ListenAndServe(addr string, stopCh <-chan struct{}) error {
	return s.ListenAndServeNotify(addr, stopCh, nil)
}

// ListenAndServeNotify is ListenAndServe, additionally pushing the bound
// local address to addrCh once the socket is listening — used by tests that
// bind an ephemeral port (":0") and need to learn which one was chosen.
func (s *IPSlave) ListenAndServeNotify(addr string, stopCh <-chan struct{}, addrCh chan<- string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udo-ip slave: resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("udo-ip slave: listening on %s: %w", addr, err)
	}
	s.conn = conn
	defer conn.Close()

	s.Logger.WithField("addr", conn.LocalAddr().String()).Info("udo-ip slave listening")
	if addrCh != nil {
		addrCh <- conn.LocalAddr().String()
	}

	buf := make([]byte, udo.IPHeaderLen+udo.MaxPayloadLen)
	for {
		select {
		case <-stopCh:
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return nil
			default:
			}
			return fmt.Errorf("udo-ip slave: read: %w", err)
		}
		s.handleDatagram(conn, raddr, append([]byte(nil), buf[:n]...))
	}
}

// handleDatagram implements the per-datagram algorithm of §4.8: dedup
// lookup, else decode + dispatch + cache + reply.
func (s *IPSlave) handleDatagram(conn *net.UDPConn, raddr *net.UDPAddr, datagram []byte) {
	if len(datagram) < udo.IPHeaderLen {
		s.Logger.WithField("src", raddr.String()).Warn("udo-ip slave: datagram shorter than header")
		return
	}
	header := datagram[:udo.IPHeaderLen]
	bodyLen := len(datagram) - udo.IPHeaderLen

	if slot := s.cache.find(raddr, header, bodyLen); slot != nil {
		dedupHitsTotal.Inc()
		if _, err := conn.WriteToUDP(slot.reply, raddr); err != nil {
			s.Logger.WithField("src", raddr.String()).WithError(err).Warn("udo-ip slave: resend failed")
		}
		return
	}

	h, body, err := udo.DecodeIPDatagram(datagram)
	if err != nil {
		s.Logger.WithField("src", raddr.String()).WithError(err).Warn("udo-ip slave: malformed datagram")
		return
	}

	req := &udo.Request{IsWrite: h.IsWrite, Index: h.Index, Offset: h.Offset, Metadata: h.Metadata}
	maxAnsLen := h.Length
	if h.IsWrite {
		req.Data = body
	}
	resp := s.Dispatcher.UdoReadWrite(req, maxAnsLen)
	observeResult(resp)

	reply, err := udo.EncodeIPResponse(h.Rqid, h.IsWrite, h.Index, h.Offset, h.Metadata, resp)
	if err != nil {
		s.Logger.WithField("src", raddr.String()).WithError(err).Error("udo-ip slave: encoding reply")
		return
	}

	slot := s.cache.allocate()
	slot.valid = true
	slot.addr = raddr
	copy(slot.reqHeader[:], header)
	slot.reqBodyLen = bodyLen
	slot.reply = reply

	if _, err := conn.WriteToUDP(reply, raddr); err != nil {
		s.Logger.WithField("src", raddr.String()).WithError(err).Warn("udo-ip slave: send failed")
	}
}

// Close releases the UDP socket. Safe to call on a slave that never served.
func (s *IPSlave) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
