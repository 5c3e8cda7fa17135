// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package testutil

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
)

// ptyPair is a pseudo-terminal pair: the master side is driven by a test's
// slave server, the slave-side path is handed to a real udo.SLMaster.
type ptyPair struct {
	mu         sync.Mutex
	master     *os.File
	slave      *os.File
	masterPath string
	slavePath  string
}

func newPtyPair() (*ptyPair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("udo testutil: opening pty: %w", err)
	}
	return &ptyPair{
		master:     master,
		slave:      slave,
		masterPath: master.Name(),
		slavePath:  slave.Name(),
	}, nil
}

func (p *ptyPair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.master != nil {
		if e := p.master.Close(); e != nil && err == nil {
			err = e
		}
		p.master = nil
	}
	if p.slave != nil {
		if e := p.slave.Close(); e != nil && err == nil {
			err = e
		}
		p.slave = nil
	}
	return err
}

func (p *ptyPair) Read(b []byte) (int, error) {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()
	if master == nil {
		return 0, os.ErrClosed
	}
	return master.Read(b)
}

func (p *ptyPair) Write(b []byte) (int, error) {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()
	if master == nil {
		return 0, os.ErrClosed
	}
	return master.Write(b)
}

func (p *ptyPair) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()
	if master == nil {
		return os.ErrClosed
	}
	return master.SetReadDeadline(t)
}
