// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package testutil

import (
	"testing"
	"time"

	"github.com/nvitya/udo/slave"
)

// StartIPFixture runs a UDO-IP slave on a loopback UDP socket serving
// dispatcher, returning a cleanup func and the "host:port" address a
// udo.IPMaster/udo.Master should target.
func StartIPFixture(t *testing.T, dispatcher slave.Dispatcher) (cleanup func(), addr string) {
	t.Helper()

	srv := slave.NewIPSlave(dispatcher)
	addrCh := make(chan string, 1)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		if err := srv.ListenAndServeNotify("127.0.0.1:0", stopCh, addrCh); err != nil {
			t.Logf("udo testutil: IP fixture stopped: %v", err)
		}
	}()

	select {
	case addr = <-addrCh:
	case <-time.After(time.Second):
		t.Fatal("udo testutil: IP fixture never reported its listen address")
	}

	cleanup = func() {
		close(stopCh)
		srv.Close()
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			t.Log("udo testutil: IP fixture serve goroutine did not stop in time")
		}
	}
	return cleanup, addr
}
