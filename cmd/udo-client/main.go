// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command udo-client is a diagnostic tool for talking to a UDO slave over
// either binding, modeled on the teacher repo's modbus-cli.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nvitya/udo"
)

func main() {
	app := &cli.App{
		Name:  "udo-client",
		Usage: "Command-line tool for UDO device communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "transport",
				Aliases:  []string{"t"},
				Usage:    "Transport type: sl or ip",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Connection address (ip: host:port, sl: /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate (sl only)",
				Value: 115200,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
				Value: 2 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "Read an object",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true},
					&cli.Uint64Flag{Name: "offset"},
					&cli.Uint64Flag{Name: "metadata"},
					&cli.IntFlag{Name: "length", Value: 4},
				},
				Action: readAction,
			},
			{
				Name:  "write",
				Usage: "Write an object",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true},
					&cli.Uint64Flag{Name: "offset"},
					&cli.Uint64Flag{Name: "metadata"},
					&cli.StringFlag{Name: "data", Usage: "hex-encoded payload", Required: true},
				},
				Action: writeAction,
			},
			{
				Name:  "read-blob",
				Usage: "Read a blob, chunked by the negotiated max payload size",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true},
					&cli.Uint64Flag{Name: "offset"},
					&cli.IntFlag{Name: "length", Required: true},
				},
				Action: readBlobAction,
			},
			{
				Name:  "write-blob",
				Usage: "Write a blob, chunked by the negotiated max payload size",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true},
					&cli.Uint64Flag{Name: "offset"},
					&cli.StringFlag{Name: "data", Usage: "hex-encoded payload", Required: true},
				},
				Action: writeBlobAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dial(c *cli.Context) (*udo.Master, context.Context, context.CancelFunc, error) {
	cfg := udo.Config{Timeout: c.Duration("timeout")}

	var handler udo.CommHandler
	switch c.String("transport") {
	case "sl":
		sl := udo.NewSLMaster(c.String("address"))
		if baud := c.Int("baud"); baud > 0 {
			sl.BaudRate = baud
		}
		sl.Config = cfg
		handler = sl
	case "ip":
		ip := udo.NewIPMaster(c.String("address"))
		ip.Config = cfg
		handler = ip
	default:
		return nil, nil, nil, fmt.Errorf("unknown transport %q: must be sl or ip", c.String("transport"))
	}

	master := udo.NewMaster(handler)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := master.Open(ctx); err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("opening session: %w", err)
	}
	return master, ctx, cancel, nil
}

func readAction(c *cli.Context) error {
	master, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer master.Close()

	buf := make([]byte, c.Int("length"))
	n, err := master.UdoRead(ctx, uint16(c.Uint64("index")), uint32(c.Uint64("offset")), uint32(c.Uint64("metadata")), buf)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Println(hex.EncodeToString(buf[:n]))
	return nil
}

func writeAction(c *cli.Context) error {
	master, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer master.Close()

	data, err := hex.DecodeString(c.String("data"))
	if err != nil {
		return fmt.Errorf("decoding --data: %w", err)
	}
	if err := master.UdoWrite(ctx, uint16(c.Uint64("index")), uint32(c.Uint64("offset")), uint32(c.Uint64("metadata")), data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	fmt.Println("ok")
	return nil
}

func readBlobAction(c *cli.Context) error {
	master, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer master.Close()

	buf := make([]byte, c.Int("length"))
	n, err := master.ReadBlob(ctx, uint16(c.Uint64("index")), uint32(c.Uint64("offset")), buf)
	if err != nil {
		return fmt.Errorf("read-blob: %w", err)
	}
	fmt.Println(hex.EncodeToString(buf[:n]))
	return nil
}

func writeBlobAction(c *cli.Context) error {
	master, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer master.Close()

	data, err := hex.DecodeString(c.String("data"))
	if err != nil {
		return fmt.Errorf("decoding --data: %w", err)
	}
	if err := master.WriteBlob(ctx, uint16(c.Uint64("index")), uint32(c.Uint64("offset")), data); err != nil {
		return fmt.Errorf("write-blob: %w", err)
	}
	fmt.Println("ok")
	return nil
}
