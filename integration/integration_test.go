// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nvitya/udo"
	"github.com/nvitya/udo/internal/testutil"
	"github.com/nvitya/udo/slave"
)

// objectStoreDispatcher is a minimal in-memory application behind the base
// object responder, exercising both the session bootstrap objects and a
// user-defined object through the same path real device firmware would.
func objectStoreDispatcher(maxPayloadSize uint32) (*slave.BaseObjectDispatcher, map[uint16][]byte) {
	objs := map[uint16][]byte{}
	next := slave.DispatcherFunc(func(req *udo.Request, maxAnsLen int) *udo.Response {
		if req.IsWrite {
			existing := objs[req.Index]
			need := int(req.Offset) + len(req.Data)
			if len(existing) < need {
				grown := make([]byte, need)
				copy(grown, existing)
				existing = grown
			}
			copy(existing[req.Offset:], req.Data)
			objs[req.Index] = existing
			return &udo.Response{}
		}
		data := objs[req.Index]
		if int(req.Offset) > len(data) {
			return &udo.Response{ECode: udo.ErrCodeApplication}
		}
		avail := data[req.Offset:]
		if len(avail) > maxAnsLen {
			avail = avail[:maxAnsLen]
		}
		return &udo.Response{Data: avail}
	})
	return &slave.BaseObjectDispatcher{MaxPayloadSize: maxPayloadSize, Next: next}, objs
}

func TestSLMasterSlaveRoundTrip(t *testing.T) {
	disp, _ := objectStoreDispatcher(128)
	cleanup, devicePath := testutil.StartSLFixture(t, disp)
	defer cleanup()

	master := udo.NewMaster(udo.NewSLMaster(devicePath))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := master.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer master.Close()

	if err := master.WriteU32(ctx, 0x40, 0, 0xC0FFEE); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	got, err := master.ReadU32(ctx, 0x40, 0)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if got != 0xC0FFEE {
		t.Errorf("ReadU32 = %#x, want 0xc0ffee", got)
	}
}

func TestSLMasterSlaveBlobRoundTrip(t *testing.T) {
	disp, _ := objectStoreDispatcher(64)
	cleanup, devicePath := testutil.StartSLFixture(t, disp)
	defer cleanup()

	master := udo.NewMaster(udo.NewSLMaster(devicePath))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := master.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer master.Close()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := master.WriteBlob(ctx, 0x41, 0, payload); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	readBack := make([]byte, len(payload))
	n, err := master.ReadBlob(ctx, 0x41, 0, readBack)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("ReadBlob got %d bytes, want %d", n, len(payload))
	}
	for i := range payload {
		if readBack[i] != payload[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, readBack[i], payload[i])
		}
	}
}

// TestSLMasterSurfacesDeviceError exercises §4.7/§7's "device-returned
// error codes surface to the caller" rule end to end over a live UDO-SL
// slave: reading offset 100 of an object index the application has never
// written to returns udo.ErrCodeApplication (emitted by objectStoreDispatcher at
// line 38), not a successful zero-length read.
func TestSLMasterSurfacesDeviceError(t *testing.T) {
	disp, _ := objectStoreDispatcher(128)
	cleanup, devicePath := testutil.StartSLFixture(t, disp)
	defer cleanup()

	master := udo.NewMaster(udo.NewSLMaster(devicePath))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := master.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer master.Close()

	buf := make([]byte, 4)
	n, err := master.UdoRead(ctx, 0x60, 100, 0, buf)
	if err == nil {
		t.Fatalf("UdoRead out-of-range offset: got n=%d, err=nil, want ErrCodeApplication", n)
	}
	udoErr, ok := err.(*udo.Error)
	if !ok || udoErr.Code != udo.ErrCodeApplication {
		t.Fatalf("UdoRead error = %v, want ErrCodeApplication", err)
	}
}

func TestIPMasterSlaveRoundTrip(t *testing.T) {
	disp, _ := objectStoreDispatcher(128)
	cleanup, addr := testutil.StartIPFixture(t, disp)
	defer cleanup()

	master := udo.NewMaster(udo.NewIPMaster(addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := master.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer master.Close()

	if err := master.WriteU16(ctx, 0x50, 0, 0xBEEF); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	got, err := master.ReadU16(ctx, 0x50, 0)
	if err != nil {
		t.Fatalf("ReadU16: %v", err)
	}
	if got != 0xBEEF {
		t.Errorf("ReadU16 = %#x, want 0xbeef", got)
	}
}

// TestIPSlaveDedupAtMostOnceExecution exercises spec.md §8's testable
// property directly at the UDP layer: two identical retransmitted datagrams
// produce exactly one application-visible side effect (a single counter
// increment), even though the slave answers both.
func TestIPSlaveDedupAtMostOnceExecution(t *testing.T) {
	var applyCount int
	disp := slave.DispatcherFunc(func(req *udo.Request, maxAnsLen int) *udo.Response {
		applyCount++
		return &udo.Response{}
	})
	cleanup, addr := testutil.StartIPFixture(t, disp)
	defer cleanup()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	datagram, err := udo.EncodeIPRequest(42, &udo.Request{IsWrite: true, Index: 1, Data: []byte{1, 2}}, 0)
	if err != nil {
		t.Fatalf("EncodeIPRequest: %v", err)
	}

	buf := make([]byte, udo.IPHeaderLen+udo.MaxPayloadLen)
	for i := 0; i < 2; i++ {
		if _, err := conn.Write(datagram); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if applyCount != 1 {
		t.Errorf("application executed %d times, want 1 (retransmit must be deduped)", applyCount)
	}
}

// droppingProxy relays UDP datagrams between a single client and a real
// slave address, silently dropping the first dropFirstN request datagrams it
// forwards — standing in for a lossy link so the master's retry loop (§4.7)
// has something to retry against.
type droppingProxy struct {
	conn       *net.UDPConn
	slaveAddr  *net.UDPAddr
	dropFirstN int
	forwarded  int
	clientAddr *net.UDPAddr
}

func startDroppingProxy(t *testing.T, slaveAddr string, dropFirstN int) (proxyAddr string, stop func()) {
	t.Helper()
	slaveUDPAddr, err := net.ResolveUDPAddr("udp", slaveAddr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(slave): %v", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP(proxy): %v", err)
	}
	p := &droppingProxy{conn: conn, slaveAddr: slaveUDPAddr, dropFirstN: dropFirstN}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		p.run(stopCh)
	}()
	return conn.LocalAddr().String(), func() {
		close(stopCh)
		conn.Close()
		<-doneCh
	}
}

func (p *droppingProxy) run(stopCh <-chan struct{}) {
	buf := make([]byte, udo.IPHeaderLen+udo.MaxPayloadLen)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		p.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, raddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		if raddr.IP.Equal(p.slaveAddr.IP) && raddr.Port == p.slaveAddr.Port {
			// reply coming back from the slave: forward to the client.
			if p.clientAddr != nil {
				p.conn.WriteToUDP(datagram, p.clientAddr)
			}
			continue
		}
		// request coming from the client: maybe drop, else forward to the slave.
		p.clientAddr = raddr
		if p.forwarded < p.dropFirstN {
			p.forwarded++
			continue
		}
		p.forwarded++
		p.conn.WriteToUDP(datagram, p.slaveAddr)
	}
}

func TestIPMasterRetriesOnDroppedFirstDatagram(t *testing.T) {
	disp, _ := objectStoreDispatcher(64)
	cleanup, slaveAddr := testutil.StartIPFixture(t, disp)
	defer cleanup()

	proxyAddr, stopProxy := startDroppingProxy(t, slaveAddr, 1)
	defer stopProxy()

	ipHandler := udo.NewIPMaster(proxyAddr)
	ipHandler.Config = udo.Config{Timeout: 200 * time.Millisecond, MaxTries: 3}
	master := udo.NewMaster(ipHandler)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := master.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer master.Close()

	if err := master.WriteU8(ctx, 0x55, 0, 7); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	got, err := master.ReadU8(ctx, 0x55, 0)
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if got != 7 {
		t.Errorf("ReadU8 = %d, want 7", got)
	}
}
