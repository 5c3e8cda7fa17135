// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command udoserver bridges a UDO-SL master session (a serial link to a
// device) onto a UDO-IP slave listener, so UDO-IP clients on the network can
// reach a device that only speaks UDO-SL (§1, §6; grounded on
// original_source/cpp/udoserver/src/main_udoserver.cpp).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/nvitya/udo"
	"github.com/nvitya/udo/internal/config"
	"github.com/nvitya/udo/slave"
)

func main() {
	listenAddr := flag.String("listen", fmt.Sprintf(":%d", udo.DefaultIPPort), "UDO-IP listen address")
	baud := flag.Int("baud", 0, "serial baud rate override (0 keeps the default)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("udoserver: loading configuration")
	}

	sl := udo.NewSLMaster(cfg.DevAddr)
	if *baud > 0 {
		sl.BaudRate = *baud
	}
	master := udo.NewMaster(sl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.WithField("device", cfg.DevAddr).Info("udoserver: opening UDO-SL master session")
	if err := master.Open(ctx); err != nil {
		log.WithError(err).Fatal("udoserver: opening udo-sl session")
	}
	defer master.Close()

	maxPayloadSize := uint32(udo.MaxMaxPayloadSize)
	dispatcher := slave.NewBridgeBaseDispatcher(master, maxPayloadSize)

	srv := slave.NewIPSlave(dispatcher)
	stopCh := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("udoserver: shutting down")
		close(stopCh)
	}()

	log.WithField("addr", *listenAddr).Info("udoserver: listening for UDO-IP clients")
	if err := srv.ListenAndServe(*listenAddr, stopCh); err != nil {
		log.WithError(err).Fatal("udoserver: serving UDO-IP")
	}
}

// loadConfig reads and parses the udoserver configuration file (§6).
func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
