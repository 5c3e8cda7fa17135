// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package testutil

import (
	"testing"
	"time"

	"github.com/nvitya/udo/slave"
)

// StartSLFixture runs a UDO-SL slave over a PTY pair, serving dispatcher on
// the master (pty master fd) side and handing back the slave-side device
// path a udo.SLMaster/udo.Master should Open. Mirrors
// testutil.StartRTUSimulator's cleanup/device-path contract in the teacher
// repo, generalized from a Modbus RTU fixture to a UDO-SL one.
func StartSLFixture(t *testing.T, dispatcher slave.Dispatcher) (cleanup func(), devicePath string) {
	t.Helper()

	pair, err := newPtyPair()
	if err != nil {
		t.Fatalf("udo testutil: creating pty: %v", err)
	}

	srv := slave.NewSLSlave(pair, dispatcher)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		srv.Serve(stopCh)
	}()

	// give the kernel a moment to register the pty before a client opens it.
	time.Sleep(50 * time.Millisecond)

	cleanup = func() {
		close(stopCh)
		pair.Close()
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			t.Log("udo testutil: SL fixture serve goroutine did not stop in time")
		}
	}
	return cleanup, pair.slavePath
}
